// Package runtime loads and executes tinygraph models.
//
// Load validates a graph, checks every node against its kernel, plans the
// activation arena and allocates it once. Run then walks the nodes in
// graph order (or level by level with WithParallelNodes), handing each
// kernel its bound input and output slices. Nothing is allocated per node
// at inference time; the only per-run allocations are the returned output
// copies.
//
// A LoadedGraph owns exactly one arena, so concurrent Run calls on it are
// serialized. The Graph itself is read-only and may back any number of
// LoadedGraphs for truly concurrent inference.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/sbl8/tinygraph/kernels"
	"github.com/sbl8/tinygraph/model"
)

// ExecutionStats tracks runtime performance metrics.
type ExecutionStats struct {
	TotalRuns      int64
	AverageLatency time.Duration
	KernelRuns     map[model.OpKind]int64
	ArenaBytes     int
}

// LoadedGraph is a graph bound to an arena and ready to run.
type LoadedGraph struct {
	graph  *model.Graph
	plan   *Plan
	arena  *Arena
	opts   Options
	id     uuid.UUID
	logger logr.Logger

	kernels []kernels.Kernel
	args    []kernels.Args
	// feeds[i][j] is the graph input index bound to input j of node i, or -1.
	feeds   [][]int
	inputs  []*model.Tensor
	outputs [][]byte
	levels  [][]int

	mu       sync.Mutex
	released bool
	stats    ExecutionStats
}

// Load validates g, plans its arena within budget bytes (0 means no limit)
// and allocates it. Every failure is reported before memory is committed.
func Load(ctx context.Context, g *model.Graph, budget int, opts ...Option) (*LoadedGraph, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := klog.FromContext(ctx)
	if o.Logger != nil {
		logger = *o.Logger
	}

	if g == nil {
		return nil, fmt.Errorf("%w: nil graph", model.ErrMalformedGraph)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if g.Layout != model.LayoutNHWC {
		return nil, fmt.Errorf("%w: %s layout", model.ErrUnsupportedOperator, g.Layout)
	}

	lg := &LoadedGraph{
		graph:   g,
		opts:    o,
		id:      uuid.New(),
		kernels: make([]kernels.Kernel, len(g.Nodes)),
		inputs:  g.Inputs(),
	}
	lg.logger = logger.WithValues("graph", g.Name, "instance", lg.id.String())

	for i, n := range g.Nodes {
		k, err := kernels.Check(n)
		if err != nil {
			return nil, &model.NodeError{Index: i, Name: n.Name, Kind: n.Kind, Err: err}
		}
		lg.kernels[i] = k
	}

	var err error
	if o.ParallelNodes {
		lg.levels = Levels(g)
		lg.plan, err = planArena(g, budget, levelSteps(lg.levels, len(g.Nodes)))
	} else {
		lg.plan, err = PlanArena(g, budget)
	}
	if err != nil {
		return nil, err
	}
	if lg.arena, err = NewArena(lg.plan); err != nil {
		return nil, err
	}
	if err := lg.bind(); err != nil {
		return nil, err
	}

	lg.stats = ExecutionStats{KernelRuns: make(map[model.OpKind]int64), ArenaBytes: lg.plan.Size}
	lg.logger.V(1).Info("Loaded graph",
		"nodes", len(g.Nodes), "tensors", len(lg.plan.Slots),
		"arenaBytes", lg.plan.Size, "peakLiveBytes", lg.plan.PeakLive(),
		"budget", budget, "workers", o.Workers, "parallelNodes", o.ParallelNodes)
	return lg, nil
}

// bind resolves every node reference to constant data, arena storage or a
// graph input position.
func (lg *LoadedGraph) bind() error {
	inputIndex := make(map[*model.Tensor]int, len(lg.inputs))
	for i, t := range lg.inputs {
		inputIndex[t] = i
	}
	lg.args = make([]kernels.Args, len(lg.graph.Nodes))
	lg.feeds = make([][]int, len(lg.graph.Nodes))
	for i, n := range lg.graph.Nodes {
		a := &lg.args[i]
		a.Node = n
		a.Workers = lg.opts.Workers
		a.Inputs = make([][]byte, len(n.Inputs))
		a.Outputs = make([][]byte, len(n.Outputs))
		lg.feeds[i] = make([]int, len(n.Inputs))
		for j, t := range n.Inputs {
			lg.feeds[i][j] = -1
			switch t.Role {
			case model.RoleConstant:
				a.Inputs[j] = t.Data
			case model.RoleInput:
				lg.feeds[i][j] = inputIndex[t]
			default:
				buf, ok := lg.arena.Tensor(t)
				if !ok {
					return fmt.Errorf("%w: tensor %q has no arena slot", model.ErrMalformedGraph, t.Name)
				}
				a.Inputs[j] = buf
			}
		}
		for j, t := range n.Outputs {
			buf, ok := lg.arena.Tensor(t)
			if !ok {
				return fmt.Errorf("%w: tensor %q has no arena slot", model.ErrMalformedGraph, t.Name)
			}
			a.Outputs[j] = buf
		}
	}
	for _, t := range lg.graph.Outputs() {
		buf, _ := lg.arena.Tensor(t)
		lg.outputs = append(lg.outputs, buf)
	}
	return nil
}

// Graph returns the graph the instance was loaded from.
func (lg *LoadedGraph) Graph() *model.Graph {
	return lg.graph
}

// Plan returns the arena plan.
func (lg *LoadedGraph) Plan() *Plan {
	return lg.plan
}

// ID returns the instance identifier used in log lines.
func (lg *LoadedGraph) ID() uuid.UUID {
	return lg.id
}

// Run executes the graph once. inputs are matched positionally with
// Graph().Inputs() and must have exactly the descriptor's byte size. The
// returned buffers are copies of the Output tensors in Graph().Outputs()
// order. ctx is consulted between nodes only.
func (lg *LoadedGraph) Run(ctx context.Context, inputs ...[]byte) ([][]byte, error) {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.released {
		return nil, model.ErrReleased
	}
	if len(inputs) != len(lg.inputs) {
		return nil, fmt.Errorf("%w: graph takes %d inputs, got %d", model.ErrShape, len(lg.inputs), len(inputs))
	}
	for i, t := range lg.inputs {
		if len(inputs[i]) != t.ByteSize() {
			return nil, fmt.Errorf("%w: input %d (%q) has %d bytes, want %d", model.ErrShape, i, t.Name, len(inputs[i]), t.ByteSize())
		}
	}
	for i, feed := range lg.feeds {
		for j, k := range feed {
			if k >= 0 {
				lg.args[i].Inputs[j] = inputs[k]
			}
		}
	}
	// Do not keep caller buffers reachable between runs.
	defer lg.unfeed()

	start := time.Now()
	var err error
	if lg.opts.ParallelNodes {
		err = lg.runLevels(ctx)
	} else {
		err = lg.runSequential(ctx)
	}
	if err != nil {
		lg.logger.V(1).Info("Run failed", "err", err)
		return nil, err
	}

	out := make([][]byte, len(lg.outputs))
	for i, buf := range lg.outputs {
		out[i] = append([]byte(nil), buf...)
	}
	if lg.opts.EnableStats {
		lg.updateExecutionStats(start)
	}
	return out, nil
}

func (lg *LoadedGraph) unfeed() {
	for i, feed := range lg.feeds {
		for j, k := range feed {
			if k >= 0 {
				lg.args[i].Inputs[j] = nil
			}
		}
	}
}

func (lg *LoadedGraph) runSequential(ctx context.Context) error {
	for i := range lg.graph.Nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := lg.runNode(i); err != nil {
			return err
		}
	}
	return nil
}

// runLevels runs each dependency level as a group; the group's Wait is the
// barrier before the next level.
func (lg *LoadedGraph) runLevels(ctx context.Context) error {
	for _, level := range lg.levels {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(level) == 1 {
			if err := lg.runNode(level[0]); err != nil {
				return err
			}
			continue
		}
		var g errgroup.Group
		for _, i := range level {
			g.Go(func() error {
				return lg.runNode(i)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (lg *LoadedGraph) runNode(i int) error {
	n := lg.graph.Nodes[i]
	if n.InputNum != len(n.Inputs) || n.OutputNum != len(n.Outputs) {
		return &model.NodeError{Index: i, Name: n.Name, Kind: n.Kind,
			Err: fmt.Errorf("%w: declared %d/%d references, found %d/%d", model.ErrMalformedGraph, n.InputNum, n.OutputNum, len(n.Inputs), len(n.Outputs))}
	}
	if err := lg.kernels[i].Run(&lg.args[i]); err != nil {
		return &model.NodeError{Index: i, Name: n.Name, Kind: n.Kind, Err: err}
	}
	if lg.logger.V(2).Enabled() {
		lg.logger.V(2).Info("Executed node", "index", i, "name", n.Name, "kind", n.Kind.String())
	}
	return nil
}

// updateExecutionStats folds one successful run into the running stats.
func (lg *LoadedGraph) updateExecutionStats(start time.Time) {
	duration := time.Since(start)
	lg.stats.TotalRuns++
	if lg.stats.TotalRuns == 1 {
		lg.stats.AverageLatency = duration
	} else {
		oldTotal := lg.stats.TotalRuns - 1
		lg.stats.AverageLatency = time.Duration((int64(lg.stats.AverageLatency)*oldTotal + int64(duration)) / lg.stats.TotalRuns)
	}
	for _, n := range lg.graph.Nodes {
		lg.stats.KernelRuns[n.Kind]++
	}
}

// Stats returns a copy of the execution statistics.
func (lg *LoadedGraph) Stats() ExecutionStats {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	stats := lg.stats
	stats.KernelRuns = make(map[model.OpKind]int64, len(lg.stats.KernelRuns))
	for k, v := range lg.stats.KernelRuns {
		stats.KernelRuns[k] = v
	}
	return stats
}

// Release frees the arena. It is safe to call more than once; Run fails
// with model.ErrReleased afterwards.
func (lg *LoadedGraph) Release() error {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.released {
		return nil
	}
	lg.released = true
	lg.arena.Free()
	lg.args = nil
	lg.outputs = nil
	lg.logger.V(1).Info("Released graph", "arenaBytes", lg.plan.Size)
	return nil
}
