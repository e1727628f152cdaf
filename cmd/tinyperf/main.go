package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/klauspost/cpuid/v2"
	"k8s.io/klog/v2"

	"github.com/sbl8/tinygraph/kernels"
	"github.com/sbl8/tinygraph/model"
	"github.com/sbl8/tinygraph/model/tiny"
	tgruntime "github.com/sbl8/tinygraph/runtime"
)

var (
	testType = flag.String("test", "all", "Test type: all, kernels, graph")
	iter     = flag.Int("iter", 1000, "Number of iterations")
	workers  = flag.Int("workers", 0, "Goroutines per kernel; 0 uses one per physical core")
	verbose  = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *workers <= 0 {
		*workers = kernels.DefaultWorkers()
	}

	fmt.Printf("tinygraph Performance Analysis Tool\n")
	fmt.Printf("===================================\n")
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("CPU: %s\n", cpuid.CPU.BrandName)
	fmt.Printf("Cores: %d physical, %d logical\n", cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores)
	fmt.Printf("AVX2: %t, NEON: %t\n", cpuid.CPU.Supports(cpuid.AVX2), cpuid.CPU.Supports(cpuid.ASIMD))
	fmt.Printf("Workers: %d\n", *workers)
	fmt.Printf("Iterations: %d\n", *iter)
	if *verbose {
		fmt.Printf("Features: %v\n", cpuid.CPU.FeatureSet())
	}
	fmt.Printf("\n")

	g, err := tiny.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build reference graph: %v\n", err)
		os.Exit(1)
	}

	switch *testType {
	case "all":
		err = runKernelTests(g)
		if err == nil {
			err = runGraphTests(g)
		}
	case "kernels":
		err = runKernelTests(g)
	case "graph":
		err = runGraphTests(g)
	default:
		err = fmt.Errorf("unknown test type: %s", *testType)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// runKernelTests times every node of g in isolation, once on the calling
// goroutine and once split across the configured workers.
func runKernelTests(g *model.Graph) error {
	fmt.Printf("Kernel Performance\n")
	fmt.Printf("------------------\n")

	for i, n := range g.Nodes {
		k, err := kernels.Check(n)
		if err != nil {
			return fmt.Errorf("node %d: %w", i, err)
		}
		args := kernels.Args{
			Node:    n,
			Inputs:  make([][]byte, len(n.Inputs)),
			Outputs: make([][]byte, len(n.Outputs)),
		}
		for j, t := range n.Inputs {
			if t.Role == model.RoleConstant {
				args.Inputs[j] = t.Data
			} else {
				args.Inputs[j] = randomQ7(t.ByteSize())
			}
		}
		for j, t := range n.Outputs {
			args.Outputs[j] = make([]byte, t.ByteSize())
		}

		var times [2]time.Duration
		for w, nw := range []int{1, *workers} {
			args.Workers = nw
			start := time.Now()
			for it := 0; it < *iter; it++ {
				if err := k.Run(&args); err != nil {
					return fmt.Errorf("node %d: %w", i, err)
				}
			}
			times[w] = time.Since(start)
		}

		perRun := func(d time.Duration) time.Duration { return d / time.Duration(*iter) }
		fmt.Printf("%-8s %-8s %10v/run  %10v/run with %d workers (%.2fx)\n",
			n.Name, n.Kind, perRun(times[0]), perRun(times[1]), *workers,
			float64(times[0])/float64(times[1]))
		if *verbose {
			fmt.Printf("         in %v out %v\n", n.Inputs[0].Dims, n.Outputs[0].Dims)
		}
	}
	fmt.Printf("\n")
	return nil
}

func runGraphTests(g *model.Graph) error {
	fmt.Printf("End-to-end Performance\n")
	fmt.Printf("----------------------\n")

	ctx := context.Background()
	input := tiny.RowRamp()
	configs := []struct {
		name string
		opts []tgruntime.Option
	}{
		{"sequential", nil},
		{"workers", []tgruntime.Option{tgruntime.WithWorkers(*workers)}},
		{"parallel nodes", []tgruntime.Option{tgruntime.WithWorkers(*workers), tgruntime.WithParallelNodes(true)}},
	}
	for _, c := range configs {
		opts := append(c.opts, tgruntime.WithStats(true))
		lg, err := tgruntime.Load(ctx, g, 0, opts...)
		if err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
		for it := 0; it < *iter; it++ {
			if _, err := lg.Run(ctx, input); err != nil {
				lg.Release()
				return fmt.Errorf("%s: %w", c.name, err)
			}
		}
		s := lg.Stats()
		lg.Release()

		fmt.Printf("%-15s %10v/run  (%.0f inferences/s, arena %d bytes)\n",
			c.name+":", s.AverageLatency, float64(time.Second)/float64(s.AverageLatency), s.ArenaBytes)
	}
	fmt.Printf("\n")
	return nil
}

func randomQ7(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(rand.Intn(256))
	}
	return data
}
