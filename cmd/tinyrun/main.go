package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"k8s.io/klog/v2"

	"github.com/sbl8/tinygraph/core"
	"github.com/sbl8/tinygraph/model"
	"github.com/sbl8/tinygraph/model/tiny"
	tgruntime "github.com/sbl8/tinygraph/runtime"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		workers  = flag.Int("workers", 1, "Goroutines per kernel; 0 uses one per physical core")
		parallel = flag.Bool("parallel", false, "Run independent nodes concurrently")
		budget   = flag.Int("budget", 0, "Arena budget in bytes; 0 means no limit")
		input    = flag.String("input", "zeros", "Input: zeros, ramp, or a path to a raw Q7 file")
		repeat   = flag.Int("repeat", 1, "Number of runs")
		wire     = flag.Bool("wire", false, "Round-trip the graph through its wire encoding before loading")
		stats    = flag.Bool("stats", false, "Print execution statistics")
		version  = flag.Bool("version", false, "Show version information")
	)
	klog.InitFlags(nil)
	flag.Parse()

	if *version {
		fmt.Println("tinyrun - tinygraph runtime v1.0.0")
		fmt.Printf("Built with Go %s\n", runtime.Version())
		return nil
	}

	log := klog.FromContext(ctx)

	g, err := tiny.New()
	if err != nil {
		return fmt.Errorf("failed to build reference graph: %w", err)
	}
	if *wire {
		b, err := model.Marshal(g)
		if err != nil {
			return fmt.Errorf("failed to encode graph: %w", err)
		}
		if g, err = model.Unmarshal(b); err != nil {
			return fmt.Errorf("failed to decode graph: %w", err)
		}
		log.Info("Decoded graph", "bytes", len(b), "nodes", g.NodeCount())
	}

	data, err := readInput(*input)
	if err != nil {
		return err
	}

	lg, err := tgruntime.Load(ctx, g, *budget,
		tgruntime.WithWorkers(*workers),
		tgruntime.WithParallelNodes(*parallel),
		tgruntime.WithStats(*stats))
	if err != nil {
		return fmt.Errorf("failed to load graph %q: %w", g.Name, err)
	}
	defer lg.Release()

	log.Info("Loaded graph", "graph", g.Name, "instance", lg.ID(), "arenaBytes", lg.Plan().Size)

	var out [][]byte
	for i := 0; i < *repeat; i++ {
		if out, err = lg.Run(ctx, data); err != nil {
			return fmt.Errorf("run %d failed: %w", i, err)
		}
	}

	for i, t := range g.Outputs() {
		fmt.Printf("%s:", t.Name)
		for _, v := range core.Int8s(out[i]) {
			fmt.Printf(" %4d (%.3f)", v, float64(v)/128)
		}
		fmt.Println()
	}

	if *stats {
		s := lg.Stats()
		fmt.Printf("runs: %d, average latency: %v, arena: %d bytes\n", s.TotalRuns, s.AverageLatency, s.ArenaBytes)
		for kind, n := range s.KernelRuns {
			fmt.Printf("  %-8s %d\n", kind, n)
		}
	}
	return nil
}

func readInput(name string) ([]byte, error) {
	switch name {
	case "zeros":
		return make([]byte, tiny.InputSize), nil
	case "ramp":
		return tiny.RowRamp(), nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	if len(data) != tiny.InputSize {
		return nil, fmt.Errorf("input file %q has %d bytes, want %d", name, len(data), tiny.InputSize)
	}
	return data, nil
}
