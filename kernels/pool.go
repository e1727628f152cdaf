package kernels

import (
	"fmt"

	"github.com/sbl8/tinygraph/core"
	"github.com/sbl8/tinygraph/model"
)

func checkPool(n *model.Node) error {
	if err := checkArity(n, 1, 1); err != nil {
		return err
	}
	p, ok := n.Params.(*model.PoolParams)
	if !ok || p == nil {
		return fmt.Errorf("%w: pool without pooling parameters", model.ErrShape)
	}
	if p.Method != model.PoolMax && p.Method != model.PoolAverage {
		return fmt.Errorf("%w: %s pooling", model.ErrUnsupportedOperator, p.Method)
	}
	in := n.Inputs[0]
	wd, err := newWindow(in, p.KernelH, p.KernelW, p.StrideH, p.StrideW, p.PadH, p.PadW)
	if err != nil {
		return err
	}
	return checkDims(n.Outputs[0], "output", wd.n, wd.oh, wd.ow, wd.c)
}

// pool reduces each window over the real input cells only; padded cells
// take part in neither the max nor the average divisor.
func pool(a *Args) error {
	n := a.Node
	p := n.Params.(*model.PoolParams)
	wd, err := newWindow(n.Inputs[0], p.KernelH, p.KernelW, p.StrideH, p.StrideW, p.PadH, p.PadW)
	if err != nil {
		return err
	}
	shift := n.Outputs[0].Shift
	src := core.Int8s(a.Inputs[0])
	dst := core.Int8s(a.Outputs[0])
	avg := p.Method == model.PoolAverage

	split(a.Workers, wd.c, func(lo, hi int) {
		for b := 0; b < wd.n; b++ {
			for y := 0; y < wd.oh; y++ {
				ylo, yhi, _ := wd.rows(y)
				for x := 0; x < wd.ow; x++ {
					xlo, xhi, _ := wd.cols(x)
					count := int64((yhi - ylo) * (xhi - xlo))
					base := ((b*wd.oh+y)*wd.ow + x) * wd.c
					for c := lo; c < hi; c++ {
						var acc int64
						if count == 0 {
							dst[base+c] = 0
							continue
						}
						if !avg {
							acc = core.Q7Min
						}
						for iy := ylo; iy < yhi; iy++ {
							for ix := xlo; ix < xhi; ix++ {
								v := int64(src[((b*wd.h+iy)*wd.w+ix)*wd.c+c])
								if avg {
									acc += v
								} else if v > acc {
									acc = v
								}
							}
						}
						if avg {
							acc = divRound(acc, count)
						}
						dst[base+c] = core.Requantize(acc, shift)
					}
				}
			}
		}
	})
	return nil
}

// divRound divides rounding half away from zero. d must be positive.
func divRound(v, d int64) int64 {
	if v < 0 {
		return -((-v + d/2) / d)
	}
	return (v + d/2) / d
}
