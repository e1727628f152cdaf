package runtime

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sbl8/tinygraph/core"
	"github.com/sbl8/tinygraph/model"
	"github.com/sbl8/tinygraph/model/tiny"
)

func tinyGraph(t testing.TB) *model.Graph {
	t.Helper()
	g, err := tiny.New()
	require.NoError(t, err)
	return g
}

func TestPlanTiny(t *testing.T) {
	t.Parallel()
	g := tinyGraph(t)
	p, err := PlanArena(g, 0)
	require.NoError(t, err)

	want := []struct {
		name   string
		offset int
		size   int
	}{
		{"conv0", 0, 10080},
		{"relu1", 10080, 10080},
		{"pool2", 0, 2944},
		{"conv3", 2944, 768},
		{"relu4", 0, 768},
		{"conv5", 768, 224},
		{"relu6", 0, 224},
		{"fc7", 224, 32},
		{"fc8", 0, 128},
		{"relu9", 128, 128},
		{"fc10", 0, 2},
		{"softmax", 4, 2},
	}
	require.Len(t, p.Slots, len(want))
	for i, w := range want {
		s := p.Slots[i]
		require.Equal(t, w.name, s.Tensor.Name)
		require.Equal(t, w.offset, s.Offset, w.name)
		require.Equal(t, w.size, s.Size, w.name)
		require.Equal(t, i, s.Birth, w.name)
	}
	require.Equal(t, 20160, p.Size)
	require.Equal(t, 20160, p.PeakLive())
	require.NoError(t, p.Overlaps())

	// The softmax output is kept to the end; every other tensor dies at its
	// only consumer.
	last, _ := p.Slot(g.Nodes[11].Output())
	require.Equal(t, 11, last.Death)
	first, _ := p.Slot(g.Nodes[0].Output())
	require.Equal(t, 1, first.Death)

	// Constants and inputs are never planned.
	_, ok := p.Slot(g.Nodes[0].Inputs[0])
	require.False(t, ok)
	_, ok = p.Slot(g.Nodes[0].Inputs[1])
	require.False(t, ok)

	// Planning leaves the graph untouched.
	for _, tt := range g.Tensors() {
		if tt.Role != model.RoleConstant {
			require.Nil(t, tt.Data, tt.Name)
		}
	}
}

func TestPlanBudget(t *testing.T) {
	t.Parallel()
	g := tinyGraph(t)

	_, err := PlanArena(g, 20159)
	require.ErrorIs(t, err, model.ErrCapacityExceeded)

	// The two largest simultaneously live tensors already need 20160 bytes.
	_, err = PlanArena(g, 10080+10080-1)
	require.ErrorIs(t, err, model.ErrCapacityExceeded)

	p, err := PlanArena(g, 20160)
	require.NoError(t, err)
	require.Equal(t, 20160, p.Size)

	_, err = PlanArena(g, 1<<20)
	require.NoError(t, err)

	_, err = PlanArena(g, -1)
	require.ErrorIs(t, err, model.ErrCapacityExceeded)
}

func TestPlanDeterministic(t *testing.T) {
	t.Parallel()
	g := tinyGraph(t)
	a, err := PlanArena(g, 0)
	require.NoError(t, err)
	b, err := PlanArena(g, 0)
	require.NoError(t, err)
	require.Equal(t, a.Slots, b.Slots)
	require.Equal(t, a.Size, b.Size)
}

func TestPlanOutputStaysLive(t *testing.T) {
	t.Parallel()
	in := model.NewTensor("in", model.RoleInput, 0, 1, 64)
	early := model.NewTensor("early", model.RoleOutput, 0, 1, 64)
	mid := model.NewTensor("mid", model.RoleIntermediate, 0, 1, 64)
	late := model.NewTensor("late", model.RoleOutput, 0, 1, 64)
	g, err := model.NewBuilder("outputs").
		Op("a", model.OpReLU, nil, early, in).
		Op("b", model.OpReLU, nil, mid, early).
		Op("c", model.OpReLU, nil, late, mid).
		Build()
	require.NoError(t, err)

	p, err := PlanArena(g, 0)
	require.NoError(t, err)
	s, _ := p.Slot(early)
	require.Equal(t, 2, s.Death)
	// early is live throughout, mid and late alternate beside it.
	require.Equal(t, 3*64, p.Size)
	require.NoError(t, p.Overlaps())
}

func TestPlanAlignment(t *testing.T) {
	t.Parallel()
	in := model.NewTensor("in", model.RoleInput, 0, 3)
	a := model.NewTensor("a", model.RoleIntermediate, 0, 3)
	b := model.NewTensor("b", model.RoleIntermediate, 0, 5)
	c := model.NewTensor("c", model.RoleOutput, 0, 1)
	g, err := model.NewBuilder("odd").
		Op("a", model.OpReLU, nil, a, in).
		Op("b", model.OpReLU, nil, b, a).
		Op("c", model.OpReLU, nil, c, b, a).
		Build()
	require.NoError(t, err)

	p, err := PlanArena(g, 0)
	require.NoError(t, err)
	for _, s := range p.Slots {
		require.Zero(t, s.Offset%core.ArenaAlignment, s.Tensor.Name)
	}
	require.NoError(t, p.Overlaps())
	require.Equal(t, 4+8+4, p.Size)
}

// randomGraph builds a DAG of n nodes over random-sized tensors. Each node
// reads one to three earlier tensors, so the graph has chains, diamonds and
// long-lived values.
func randomGraph(t *testing.T, r *rand.Rand, n int) *model.Graph {
	t.Helper()
	avail := []*model.Tensor{model.NewTensor("in", model.RoleInput, 0, 1, 1+r.Intn(64))}
	b := model.NewBuilder("random")
	for i := 0; i < n; i++ {
		k := 1 + r.Intn(3)
		var ins []*model.Tensor
		for j := 0; j < k; j++ {
			// Prefer recent tensors to keep lifetimes varied.
			idx := len(avail) - 1 - r.Intn(min(len(avail), 4))
			if r.Intn(5) == 0 {
				idx = r.Intn(len(avail))
			}
			ins = append(ins, avail[idx])
		}
		role := model.RoleIntermediate
		if i == n-1 || r.Intn(8) == 0 {
			role = model.RoleOutput
		}
		out := model.NewTensor(fmt.Sprintf("t%d", i), role, 0, 1+r.Intn(4), 1+r.Intn(97))
		b.Op(fmt.Sprintf("n%d", i), model.OpReLU, nil, out, ins...)
		avail = append(avail, out)
	}
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestPlanNeverOverlapsLiveTensors(t *testing.T) {
	t.Parallel()
	r := rand.New(rand.NewSource(42))
	for iter := 0; iter < 200; iter++ {
		g := randomGraph(t, r, 2+r.Intn(30))

		p, err := PlanArena(g, 0)
		require.NoError(t, err)
		require.NoError(t, p.Overlaps(), "iteration %d", iter)
		require.GreaterOrEqual(t, p.Size, p.PeakLive())
		checkLiveness(t, g, p, func(i int) int { return i })

		levels := Levels(g)
		steps := levelSteps(levels, len(g.Nodes))
		lp, err := planArena(g, 0, steps)
		require.NoError(t, err)
		require.NoError(t, lp.Overlaps(), "iteration %d", iter)
		checkLiveness(t, g, lp, func(i int) int { return steps[i] })

		_, err = PlanArena(g, p.Size-1)
		require.ErrorIs(t, err, model.ErrCapacityExceeded)
	}
}

// checkLiveness verifies that every planned tensor is live from its
// producer's step through every consumer's step.
func checkLiveness(t *testing.T, g *model.Graph, p *Plan, step func(int) int) {
	t.Helper()
	for i, n := range g.Nodes {
		for _, out := range n.Outputs {
			s, ok := p.Slot(out)
			require.True(t, ok, out.Name)
			require.Equal(t, step(i), s.Birth, out.Name)
		}
		for _, in := range n.Inputs {
			if s, ok := p.Slot(in); ok {
				require.LessOrEqual(t, s.Birth, step(i), in.Name)
				require.GreaterOrEqual(t, s.Death, step(i), in.Name)
			}
		}
	}
}

func TestOverlapsDetectsConflicts(t *testing.T) {
	t.Parallel()
	a := model.NewTensor("a", model.RoleIntermediate, 0, 8)
	b := model.NewTensor("b", model.RoleIntermediate, 0, 8)
	p := &Plan{Slots: []Slot{
		{Tensor: a, Offset: 0, Size: 8, Birth: 0, Death: 1},
		{Tensor: b, Offset: 4, Size: 8, Birth: 1, Death: 2},
	}}
	require.Error(t, p.Overlaps())

	p.Slots[1].Birth = 2
	require.NoError(t, p.Overlaps())
}
