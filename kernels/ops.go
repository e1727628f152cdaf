// Package kernels provides the Q7 fixed-point operator kernels.
//
// Every kernel reads signed 8-bit inputs, accumulates in int64 and writes
// its output through core.Requantize with the output tensor's shift, so the
// rescale-then-saturate policy is identical across operators. Kernels never
// allocate storage for their results: the runtime hands them the bound
// input and output buffers in an Args.
//
// Kernels are looked up by (kind, version). The built-in set registers
// version 1 of conv, pool, fc, relu and softmax; Register adds more.
package kernels

import (
	"fmt"
	"sync"

	"github.com/sbl8/tinygraph/model"
)

// Args binds a node to storage for one invocation. Inputs and Outputs are
// parallel to Node.Inputs and Node.Outputs.
type Args struct {
	Node    *model.Node
	Inputs  [][]byte
	Outputs [][]byte
	// Workers bounds the goroutines a kernel may split its output across.
	// Values below 2 run on the calling goroutine.
	Workers int
}

// CheckFn validates a node's tensors and parameters without touching data.
type CheckFn func(n *model.Node) error

// RunFn computes a node. It is only called after the node's CheckFn passed.
type RunFn func(a *Args) error

// Kernel pairs a shape validator with the compute function.
type Kernel struct {
	Check CheckFn
	Run   RunFn
}

type opKey struct {
	kind    model.OpKind
	version model.OpVersion
}

var (
	catalogMu sync.RWMutex
	catalog   = map[opKey]Kernel{}
)

func init() {
	Register(model.OpConv, model.Version1, Kernel{Check: checkConv, Run: conv})
	Register(model.OpPool, model.Version1, Kernel{Check: checkPool, Run: pool})
	Register(model.OpFC, model.Version1, Kernel{Check: checkFC, Run: fullyConnected})
	Register(model.OpReLU, model.Version1, Kernel{Check: checkReLU, Run: relu})
	Register(model.OpSoftmax, model.Version1, Kernel{Check: checkSoftmax, Run: softmax})
}

// Register installs k for (kind, version), replacing any previous kernel.
func Register(kind model.OpKind, version model.OpVersion, k Kernel) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	catalog[opKey{kind, version}] = k
}

// Lookup returns the kernel for (kind, version).
func Lookup(kind model.OpKind, version model.OpVersion) (Kernel, error) {
	catalogMu.RLock()
	k, ok := catalog[opKey{kind, version}]
	catalogMu.RUnlock()
	if !ok || k.Run == nil {
		return Kernel{}, fmt.Errorf("%w: no kernel for %s v%d", model.ErrUnsupportedOperator, kind, version)
	}
	return k, nil
}

// Check looks up the node's kernel and runs its validator.
func Check(n *model.Node) (Kernel, error) {
	k, err := Lookup(n.Kind, n.Version)
	if err != nil {
		return Kernel{}, err
	}
	if k.Check != nil {
		if err := k.Check(n); err != nil {
			return Kernel{}, err
		}
	}
	return k, nil
}

// checkArity verifies reference counts and that every tensor is Q7.
func checkArity(n *model.Node, minIn, maxIn int) error {
	if len(n.Inputs) < minIn || len(n.Inputs) > maxIn {
		return fmt.Errorf("%w: %s takes %d..%d inputs, got %d", model.ErrShape, n.Kind, minIn, maxIn, len(n.Inputs))
	}
	if len(n.Outputs) != 1 {
		return fmt.Errorf("%w: %s produces one output, got %d", model.ErrShape, n.Kind, len(n.Outputs))
	}
	for _, t := range n.Inputs {
		if t.DataType != model.Q7 {
			return fmt.Errorf("%w: %s input %q is %s", model.ErrUnsupportedType, n.Kind, t.Name, t.DataType)
		}
	}
	if t := n.Outputs[0]; t.DataType != model.Q7 {
		return fmt.Errorf("%w: %s output %q is %s", model.ErrUnsupportedType, n.Kind, t.Name, t.DataType)
	}
	return nil
}

// checkDims fails unless t has exactly the given dimensions.
func checkDims(t *model.Tensor, what string, want ...int) error {
	if len(t.Dims) != len(want) {
		return fmt.Errorf("%w: %s %q has dims %v, want %v", model.ErrShape, what, t.Name, t.Dims, want)
	}
	for i := range want {
		if t.Dims[i] != want[i] {
			return fmt.Errorf("%w: %s %q has dims %v, want %v", model.ErrShape, what, t.Name, t.Dims, want)
		}
	}
	return nil
}

// checkBias validates an optional bias input at index 2.
func checkBias(n *model.Node, channels int) error {
	if len(n.Inputs) < 3 {
		return nil
	}
	return checkDims(n.Inputs[2], "bias", channels)
}
