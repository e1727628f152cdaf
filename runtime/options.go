package runtime

import (
	"github.com/go-logr/logr"

	"github.com/sbl8/tinygraph/kernels"
)

// Options configures a loaded graph.
type Options struct {
	// Workers bounds the goroutines one kernel splits its output channels
	// across. 1 runs every kernel on the calling goroutine.
	Workers int
	// ParallelNodes runs independent nodes of a dependency level
	// concurrently. The arena is planned per level, which can make it
	// larger than the sequential plan.
	ParallelNodes bool
	// EnableStats collects ExecutionStats.
	EnableStats bool
	// Logger overrides the logger taken from the Load context.
	Logger *logr.Logger
}

// Option mutates Options.
type Option func(*Options)

// DefaultOptions runs sequentially without stats.
func DefaultOptions() Options {
	return Options{Workers: 1}
}

// WithWorkers enables intra-kernel parallelism. n <= 0 uses one worker
// per physical core.
func WithWorkers(n int) Option {
	return func(o *Options) {
		if n <= 0 {
			n = kernels.DefaultWorkers()
		}
		o.Workers = n
	}
}

// WithParallelNodes toggles level-parallel node execution.
func WithParallelNodes(on bool) Option {
	return func(o *Options) {
		o.ParallelNodes = on
	}
}

// WithStats toggles execution statistics.
func WithStats(on bool) Option {
	return func(o *Options) {
		o.EnableStats = on
	}
}

// WithLogger sets the logger used for load and run tracing.
func WithLogger(l logr.Logger) Option {
	return func(o *Options) {
		o.Logger = &l
	}
}
