package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/tinygraph/core"
	"github.com/sbl8/tinygraph/model"
	"github.com/sbl8/tinygraph/model/tiny"
)

func loadTiny(t *testing.T, opts ...Option) *LoadedGraph {
	t.Helper()
	lg, err := Load(context.Background(), tinyGraph(t), 0, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lg.Release() })
	return lg
}

func mod61Input() []byte {
	in := make([]byte, tiny.InputSize)
	for i := range in {
		in[i] = byte(int8((i*7)%61 - 30))
	}
	return in
}

func q7(v ...int8) []byte {
	return core.Bytes(v)
}

var goldens = []struct {
	name  string
	input func() []byte
	want  []byte
}{
	{"zeros", func() []byte { return make([]byte, tiny.InputSize) }, q7(102, 25)},
	{"row ramp", tiny.RowRamp, q7(25, 102)},
	{"mod61", mod61Input, q7(127, 0)},
}

func TestRunTinyGolden(t *testing.T) {
	t.Parallel()
	configs := map[string][]Option{
		"sequential":     nil,
		"workers":        {WithWorkers(4)},
		"parallel nodes": {WithParallelNodes(true), WithWorkers(3)},
	}
	for cname, opts := range configs {
		t.Run(cname, func(t *testing.T) {
			t.Parallel()
			lg := loadTiny(t, opts...)
			for _, tt := range goldens {
				out, err := lg.Run(context.Background(), tt.input())
				require.NoError(t, err, tt.name)
				require.Len(t, out, 1)
				require.Equal(t, tt.want, out[0], tt.name)
			}
		})
	}
}

func TestRunDeterministic(t *testing.T) {
	t.Parallel()
	lg := loadTiny(t)
	ctx := context.Background()

	first, err := lg.Run(ctx, tiny.RowRamp())
	require.NoError(t, err)
	// A run on different data in between must not leak into the next one.
	_, err = lg.Run(ctx, mod61Input())
	require.NoError(t, err)
	second, err := lg.Run(ctx, tiny.RowRamp())
	require.NoError(t, err)
	require.Equal(t, first, second)

	// Returned outputs are copies.
	first[0][0] = 0x55
	third, err := lg.Run(ctx, tiny.RowRamp())
	require.NoError(t, err)
	require.Equal(t, second, third)
}

func TestRunLeavesInputUntouched(t *testing.T) {
	t.Parallel()
	lg := loadTiny(t)
	in := tiny.RowRamp()
	_, err := lg.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, tiny.RowRamp(), in)
}

func TestRunConcurrentCallers(t *testing.T) {
	t.Parallel()
	lg := loadTiny(t, WithStats(true))

	var wg sync.WaitGroup
	results := make([][]byte, 16)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tt := goldens[i%len(goldens)]
			out, err := lg.Run(context.Background(), tt.input())
			errs[i] = err
			if err == nil {
				results[i] = out[0]
			}
		}()
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, goldens[i%len(goldens)].want, results[i])
	}
	require.Equal(t, int64(len(results)), lg.Stats().TotalRuns)
}

func TestIndependentInstancesShareGraph(t *testing.T) {
	t.Parallel()
	g := tinyGraph(t)
	a, err := Load(context.Background(), g, 0)
	require.NoError(t, err)
	b, err := Load(context.Background(), g, 0, WithParallelNodes(true))
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())
	require.Same(t, a.Graph(), b.Graph())

	var wg sync.WaitGroup
	for _, lg := range []*LoadedGraph{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 5 {
				out, err := lg.Run(context.Background(), tiny.RowRamp())
				if err != nil || out[0][0] != 25 {
					t.Errorf("instance %s: out=%v err=%v", lg.ID(), out, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.NoError(t, a.Release())
	require.NoError(t, b.Release())
}

func TestRunInputErrors(t *testing.T) {
	t.Parallel()
	lg := loadTiny(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		inputs [][]byte
	}{
		{"none", nil},
		{"too many", [][]byte{make([]byte, tiny.InputSize), make([]byte, tiny.InputSize)}},
		{"short", [][]byte{make([]byte, tiny.InputSize-1)}},
		{"long", [][]byte{make([]byte, tiny.InputSize+1)}},
	}
	for _, tt := range tests {
		out, err := lg.Run(ctx, tt.inputs...)
		require.ErrorIs(t, err, model.ErrShape, tt.name)
		require.Nil(t, out, tt.name)
	}

	// The instance is still usable.
	out, err := lg.Run(ctx, tiny.RowRamp())
	require.NoError(t, err)
	require.Equal(t, q7(25, 102), out[0])
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	for _, parallel := range []bool{false, true} {
		lg := loadTiny(t, WithParallelNodes(parallel))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		out, err := lg.Run(ctx, tiny.RowRamp())
		require.ErrorIs(t, err, context.Canceled)
		require.Nil(t, out)
	}
}

func TestRelease(t *testing.T) {
	t.Parallel()
	lg, err := Load(context.Background(), tinyGraph(t), 0, WithLogger(logr.Discard()))
	require.NoError(t, err)
	require.NoError(t, lg.Release())
	require.NoError(t, lg.Release())

	out, err := lg.Run(context.Background(), tiny.RowRamp())
	require.ErrorIs(t, err, model.ErrReleased)
	require.Nil(t, out)
}

func TestStats(t *testing.T) {
	t.Parallel()
	lg := loadTiny(t, WithStats(true))
	for range 3 {
		_, err := lg.Run(context.Background(), tiny.RowRamp())
		require.NoError(t, err)
	}
	// Failed runs are not counted.
	_, err := lg.Run(context.Background())
	require.Error(t, err)

	s := lg.Stats()
	require.Equal(t, int64(3), s.TotalRuns)
	require.Greater(t, int64(s.AverageLatency), int64(0))
	require.Equal(t, 20160, s.ArenaBytes)
	require.Equal(t, map[model.OpKind]int64{
		model.OpConv:    9,
		model.OpReLU:    12,
		model.OpPool:    3,
		model.OpFC:      9,
		model.OpSoftmax: 3,
	}, s.KernelRuns)

	// Stats is a snapshot.
	s.KernelRuns[model.OpConv] = 0
	require.Equal(t, int64(9), lg.Stats().KernelRuns[model.OpConv])

	quiet := loadTiny(t)
	_, err = quiet.Run(context.Background(), tiny.RowRamp())
	require.NoError(t, err)
	require.Zero(t, quiet.Stats().TotalRuns)
}

func TestLoadBudget(t *testing.T) {
	t.Parallel()
	_, err := Load(context.Background(), tinyGraph(t), 20159)
	require.ErrorIs(t, err, model.ErrCapacityExceeded)
	_, err = Load(context.Background(), tinyGraph(t), -20160)
	require.ErrorIs(t, err, model.ErrCapacityExceeded)

	lg, err := Load(context.Background(), tinyGraph(t), 20160)
	require.NoError(t, err)
	defer lg.Release()
	require.Equal(t, 20160, lg.Plan().Size)
	out, err := lg.Run(context.Background(), make([]byte, tiny.InputSize))
	require.NoError(t, err)
	require.Equal(t, q7(102, 25), out[0])
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	in := func() *model.Tensor { return model.NewTensor("in", model.RoleInput, 0, 1, 4) }
	out := func() *model.Tensor { return model.NewTensor("out", model.RoleOutput, 0, 1, 4) }

	tests := []struct {
		name  string
		graph func(t *testing.T) *model.Graph
		want  error
		node  int
	}{
		{
			name:  "nil graph",
			graph: func(*testing.T) *model.Graph { return nil },
			want:  model.ErrMalformedGraph,
			node:  -1,
		},
		{
			name: "overflowing dims",
			graph: func(t *testing.T) *model.Graph {
				g, err := model.NewBuilder("huge").
					Op("relu", model.OpReLU, nil, out(), in()).Build()
				require.NoError(t, err)
				// Descriptors are plain structs; Load must revalidate them.
				g.Nodes[0].Inputs[0].Dims = []int{1 << 62, 3}
				g.Nodes[0].Outputs[0].Dims = []int{1 << 62, 3}
				return g
			},
			want: model.ErrMalformedGraph,
			node: 0,
		},
		{
			name: "nchw layout",
			graph: func(t *testing.T) *model.Graph {
				g, err := model.NewBuilder("nchw").WithLayout(model.LayoutNCHW).
					Op("relu", model.OpReLU, nil, out(), in()).Build()
				require.NoError(t, err)
				return g
			},
			want: model.ErrUnsupportedOperator,
			node: -1,
		},
		{
			name: "q15 tensor",
			graph: func(t *testing.T) *model.Graph {
				mid := model.NewTensor("mid", model.RoleIntermediate, 0, 1, 4)
				wide := out()
				wide.DataType = model.Q15
				g, err := model.NewBuilder("q15").
					Op("relu", model.OpReLU, nil, mid, in()).
					Op("widen", model.OpReLU, nil, wide, mid).Build()
				require.NoError(t, err)
				return g
			},
			want: model.ErrUnsupportedType,
			node: 1,
		},
		{
			name: "unknown version",
			graph: func(t *testing.T) *model.Graph {
				g, err := model.NewBuilder("v2").Add(&model.Node{
					Name:    "relu",
					Kind:    model.OpReLU,
					Version: 2,
					Inputs:  []*model.Tensor{in()},
					Outputs: []*model.Tensor{out()},
				}).Build()
				require.NoError(t, err)
				return g
			},
			want: model.ErrUnsupportedOperator,
			node: 0,
		},
		{
			name: "fused activation",
			graph: func(t *testing.T) *model.Graph {
				x := model.NewTensor("x", model.RoleInput, 0, 1, 2, 2, 1)
				y := model.NewTensor("y", model.RoleOutput, 0, 1, 2, 2, 1)
				w := model.NewConstant("w", 0, q7(1), 1, 1, 1, 1)
				p := &model.ConvParams{KernelH: 1, KernelW: 1, StrideH: 1, StrideW: 1, Activation: 7}
				g, err := model.NewBuilder("act").Op("conv", model.OpConv, p, y, x, w).Build()
				require.NoError(t, err)
				return g
			},
			want: model.ErrUnsupportedOperator,
			node: 0,
		},
		{
			name: "weight shape",
			graph: func(t *testing.T) *model.Graph {
				mid := model.NewTensor("mid", model.RoleIntermediate, 0, 1, 4)
				w := model.NewConstant("w", 0, make([]byte, 4*5), 4, 5)
				g, err := model.NewBuilder("fc").
					Op("relu", model.OpReLU, nil, mid, in()).
					Op("fc", model.OpFC, nil, out(), mid, w).Build()
				require.NoError(t, err)
				return g
			},
			want: model.ErrShape,
			node: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lg, err := Load(context.Background(), tt.graph(t), 0)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, lg)

			var ne *model.NodeError
			if tt.node < 0 {
				require.False(t, errors.As(err, &ne))
				return
			}
			require.ErrorAs(t, err, &ne)
			require.Equal(t, tt.node, ne.Index)
		})
	}
}

func TestLoadRejectsInvalidGraph(t *testing.T) {
	t.Parallel()
	g := tinyGraph(t)
	// Break the graph after building: relu1 now reads a tensor nobody produces.
	g.Nodes[1].Inputs[0] = model.NewTensor("ghost", model.RoleIntermediate, 0, 1, 45, 7, 32)
	_, err := Load(context.Background(), g, 0)
	require.ErrorIs(t, err, model.ErrMalformedGraph)
}

func TestRunForkGraph(t *testing.T) {
	t.Parallel()
	g := forkGraph(t)

	seq, err := Load(context.Background(), g, 0)
	require.NoError(t, err)
	defer seq.Release()
	par, err := Load(context.Background(), g, 0, WithParallelNodes(true))
	require.NoError(t, err)
	defer par.Release()
	require.NoError(t, par.Plan().Overlaps())

	out, err := seq.Run(context.Background(), make([]byte, 8))
	require.NoError(t, err)
	require.Equal(t, [][]byte{q7(16, 16, 16, 16, 16, 16, 16, 16), q7(0, 0, 0, 0)}, out)

	in := q7(-3, 9, 40, 0, 7, -100, 2, 1)
	want, err := seq.Run(context.Background(), in)
	require.NoError(t, err)
	for range 10 {
		got, err := par.Run(context.Background(), in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func BenchmarkRunTiny(b *testing.B) {
	for _, bc := range []struct {
		name string
		opts []Option
	}{
		{"sequential", nil},
		{"workers", []Option{WithWorkers(0)}},
	} {
		b.Run(bc.name, func(b *testing.B) {
			lg, err := Load(context.Background(), tinyGraph(b), 0, bc.opts...)
			require.NoError(b, err)
			defer lg.Release()
			in := tiny.RowRamp()
			b.SetBytes(int64(len(in)))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := lg.Run(context.Background(), in); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
