package runtime

import (
	"fmt"
	"slices"

	"github.com/sbl8/tinygraph/core"
	"github.com/sbl8/tinygraph/model"
)

// Slot is the arena binding of one planned tensor. Birth and Death are the
// first and last execution steps during which the tensor must hold its
// value; with sequential execution a step is a node index.
type Slot struct {
	Tensor *model.Tensor
	Offset int
	Size   int
	Birth  int
	Death  int
}

// End returns the first byte after the slot's aligned extent.
func (s Slot) End() int {
	return s.Offset + core.AlignSize(s.Size, core.ArenaAlignment)
}

func (s Slot) liveWith(o Slot) bool {
	return s.Birth <= o.Death && o.Birth <= s.Death
}

// Plan is the load-time binding table from produced tensors to arena
// offsets. It never modifies the graph it was computed from.
type Plan struct {
	// Slots are in placement (birth) order.
	Slots []Slot
	// Size is the arena byte size the plan needs.
	Size  int
	index map[*model.Tensor]int
}

// Slot returns the binding of t.
func (p *Plan) Slot(t *model.Tensor) (Slot, bool) {
	i, ok := p.index[t]
	if !ok {
		return Slot{}, false
	}
	return p.Slots[i], true
}

// PeakLive returns the largest total of aligned sizes live at any single
// step, a lower bound for Size.
func (p *Plan) PeakLive() int {
	last := -1
	for _, s := range p.Slots {
		last = max(last, s.Death)
	}
	peak := 0
	for step := 0; step <= last; step++ {
		live := 0
		for _, s := range p.Slots {
			if s.Birth <= step && step <= s.Death {
				live += core.AlignSize(s.Size, core.ArenaAlignment)
			}
		}
		peak = max(peak, live)
	}
	return peak
}

// Overlaps reports the first pair of simultaneously live slots whose byte
// ranges intersect. A plan produced by PlanArena always returns nil.
func (p *Plan) Overlaps() error {
	for i, a := range p.Slots {
		for _, b := range p.Slots[i+1:] {
			if a.liveWith(b) && a.Offset < b.End() && b.Offset < a.End() {
				return fmt.Errorf("tensors %q [%d,%d) and %q [%d,%d) are live together and overlap",
					a.Tensor.Name, a.Offset, a.End(), b.Tensor.Name, b.Offset, b.End())
			}
		}
	}
	return nil
}

// PlanArena assigns arena offsets to every Intermediate and Output tensor
// of g for sequential execution. A tensor is live from the node producing
// it through its last consumer; Output tensors stay live to the end of the
// run. A budget above zero caps the arena size; zero means no limit and a
// negative budget is rejected.
func PlanArena(g *model.Graph, budget int) (*Plan, error) {
	steps := make([]int, len(g.Nodes))
	for i := range steps {
		steps[i] = i
	}
	return planArena(g, budget, steps)
}

// planArena plans with node i executing at steps[i]. Tensors touched in the
// same step are always live together, so nodes sharing a step may run
// concurrently.
func planArena(g *model.Graph, budget int, steps []int) (*Plan, error) {
	if budget < 0 {
		return nil, fmt.Errorf("%w: negative budget %d", model.ErrCapacityExceeded, budget)
	}
	last := 0
	for _, s := range steps {
		last = max(last, s)
	}

	p := &Plan{index: make(map[*model.Tensor]int)}
	for i, n := range g.Nodes {
		for _, t := range n.Outputs {
			if _, dup := p.index[t]; dup {
				return nil, fmt.Errorf("%w: tensor %q has more than one producer", model.ErrMalformedGraph, t.Name)
			}
			death := steps[i]
			if t.Role == model.RoleOutput {
				death = last
			}
			p.index[t] = len(p.Slots)
			p.Slots = append(p.Slots, Slot{Tensor: t, Size: t.ByteSize(), Birth: steps[i], Death: death})
		}
	}
	for i, n := range g.Nodes {
		for _, t := range n.Inputs {
			if j, ok := p.index[t]; ok {
				p.Slots[j].Death = max(p.Slots[j].Death, steps[i])
			}
		}
	}

	// Birth order; ties keep node order.
	order := make([]int, len(p.Slots))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return p.Slots[a].Birth - p.Slots[b].Birth
	})

	placed := make([]int, 0, len(order))
	var neighbours []Slot
	for _, i := range order {
		s := &p.Slots[i]
		neighbours = neighbours[:0]
		for _, j := range placed {
			if p.Slots[j].liveWith(*s) {
				neighbours = append(neighbours, p.Slots[j])
			}
		}
		slices.SortFunc(neighbours, func(a, b Slot) int { return a.Offset - b.Offset })

		size := core.AlignSize(s.Size, core.ArenaAlignment)
		off := 0
		for _, nb := range neighbours {
			if off+size <= nb.Offset {
				break
			}
			off = max(off, nb.End())
		}
		s.Offset = off
		p.Size = max(p.Size, off+size)
		placed = append(placed, i)
	}

	// Keep Slots in birth order so callers see placement order.
	sorted := make([]Slot, len(order))
	for k, i := range order {
		sorted[k] = p.Slots[i]
		p.index[sorted[k].Tensor] = k
	}
	p.Slots = sorted

	if budget > 0 && p.Size > budget {
		return nil, fmt.Errorf("%w: plan needs %d bytes, budget is %d", model.ErrCapacityExceeded, p.Size, budget)
	}
	return p, nil
}
