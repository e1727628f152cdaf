package kernels

import (
	"fmt"

	"github.com/sbl8/tinygraph/core"
	"github.com/sbl8/tinygraph/model"
)

// FullyConnected inputs: {N, ...} activations flattened per batch, {out, in}
// weight, optional {out} bias. Output is {N, out}.
func checkFC(n *model.Node) error {
	if err := checkArity(n, 2, 3); err != nil {
		return err
	}
	in, w := n.Inputs[0], n.Inputs[1]
	if len(w.Dims) != 2 {
		return fmt.Errorf("%w: weight %q has dims %v, want {out, in}", model.ErrShape, w.Name, w.Dims)
	}
	batch := in.Dims[0]
	if features := in.Elements() / batch; features != w.Dims[1] {
		return fmt.Errorf("%w: input %q has %d features, weight %q expects %d", model.ErrShape, in.Name, features, w.Name, w.Dims[1])
	}
	if err := checkBias(n, w.Dims[0]); err != nil {
		return err
	}
	return checkDims(n.Outputs[0], "output", batch, w.Dims[0])
}

func fullyConnected(a *Args) error {
	n := a.Node
	w, out := n.Inputs[1], n.Outputs[0]
	units, features := w.Dims[0], w.Dims[1]
	batch := n.Inputs[0].Dims[0]
	src := core.Int8s(a.Inputs[0])
	wt := core.Int8s(a.Inputs[1])
	dst := core.Int8s(a.Outputs[0])

	var bias []int8
	biasShift := 0
	if len(a.Inputs) > 2 {
		bias = core.Int8s(a.Inputs[2])
		biasShift = n.Inputs[2].Shift
	}

	split(a.Workers, units, func(lo, hi int) {
		for b := 0; b < batch; b++ {
			x := src[b*features : (b+1)*features]
			for o := lo; o < hi; o++ {
				acc := dotQ7(x, wt[o*features:])
				if bias != nil {
					acc += core.ShiftRound(int64(bias[o]), biasShift)
				}
				dst[b*units+o] = core.Requantize(acc, out.Shift)
			}
		}
	})
	return nil
}
