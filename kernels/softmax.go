package kernels

import (
	"github.com/sbl8/tinygraph/core"
	"github.com/sbl8/tinygraph/model"
)

func checkSoftmax(n *model.Node) error {
	if err := checkArity(n, 1, 1); err != nil {
		return err
	}
	return checkSameShape(n)
}

// Base-2 softmax parameters. Inputs more than softmaxRange below the row
// maximum contribute nothing; the result is Q0.7 with 128 as one.
const (
	softmaxRange = 8
	softmaxNum   = 1 << 20
	softmaxBase  = 13
)

// softmax normalizes each row over the last dimension with powers of two:
// 2^(x-max) is exact for integer inputs, so the approximation is monotonic
// and a row sum stays within one unit per element of 128.
func softmax(a *Args) error {
	n := a.Node
	in := n.Inputs[0]
	shift := n.Outputs[0].Shift
	width := in.Dims[len(in.Dims)-1]
	src := core.Int8s(a.Inputs[0])
	dst := core.Int8s(a.Outputs[0])

	for r := 0; r+width <= len(src); r += width {
		row := src[r : r+width]
		out := dst[r : r+width]
		hi := row[0]
		for _, v := range row[1:] {
			hi = max(hi, v)
		}
		base := int64(hi) - softmaxRange

		var sum int64
		for _, v := range row {
			if int64(v) > base {
				sum += 1 << core.ClampUnsigned(int64(v)-base, 5)
			}
		}
		scale := int64(softmaxNum) / sum
		for i, v := range row {
			if int64(v) <= base {
				out[i] = 0
				continue
			}
			y := scale >> core.ClampUnsigned(softmaxBase+base-int64(v), 5)
			out[i] = core.Requantize(y, shift)
		}
	}
	return nil
}
