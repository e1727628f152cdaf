package kernels

import (
	"fmt"

	"github.com/sbl8/tinygraph/core"
	"github.com/sbl8/tinygraph/model"
)

func checkReLU(n *model.Node) error {
	if err := checkArity(n, 1, 1); err != nil {
		return err
	}
	return checkSameShape(n)
}

func checkSameShape(n *model.Node) error {
	in, out := n.Inputs[0], n.Outputs[0]
	if !in.SameShape(out) {
		return fmt.Errorf("%w: %s maps %v to %v", model.ErrShape, n.Kind, in.Dims, out.Dims)
	}
	return nil
}

// relu computes max(0, x) and applies the output shift, which is 0 when
// the fixed-point domain is unchanged.
func relu(a *Args) error {
	shift := a.Node.Outputs[0].Shift
	src := core.Int8s(a.Inputs[0])
	dst := core.Int8s(a.Outputs[0])
	if shift == 0 {
		for i, v := range src {
			dst[i] = max(v, 0)
		}
		return nil
	}
	for i, v := range src {
		dst[i] = core.Requantize(int64(max(v, 0)), shift)
	}
	return nil
}
