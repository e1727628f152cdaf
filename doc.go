// Package tinygraph is a small quantized neural-network inference runtime
// for memory-constrained targets.
//
// A model is a directed graph of operator nodes over Q7 fixed-point
// tensors. Loading a graph validates it, checks every node against its
// kernel and plans all intermediate tensors into one aligned arena whose
// size is known before anything runs. Execution then allocates nothing per
// node.
//
// # Basic Usage
//
//	g, err := tiny.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	lg, err := runtime.Load(ctx, g, 0, runtime.WithWorkers(4))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer lg.Release()
//
//	out, err := lg.Run(ctx, input)
//
// # Package Structure
//
//   - core: Q7 fixed-point arithmetic, alignment and byte views
//   - model: tensors, nodes, graph validation, builder and wire codec
//   - model/tiny: the reference conv/pool/fc classifier graph
//   - kernels: conv2d, pool, fully connected, relu and softmax kernels
//   - runtime: arena planner, loader and executor
//   - cmd: command-line tools (tinyrun, tinyperf)
package tinygraph
