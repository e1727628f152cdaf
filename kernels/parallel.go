package kernels

import (
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers returns the number of physical cores, falling back to the
// logical CPU count when the CPU does not report it.
func DefaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// minChunk is the smallest per-goroutine share worth splitting for.
const minChunk = 4

// split runs fn over [0, n) in up to workers contiguous chunks. Each chunk
// must write a disjoint region of the output.
func split(workers, n int, fn func(lo, hi int)) {
	if workers > n/minChunk {
		workers = n / minChunk
	}
	if workers < 2 {
		fn(0, n)
		return
	}
	var g errgroup.Group
	g.SetLimit(workers)
	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
