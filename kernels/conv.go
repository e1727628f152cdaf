package kernels

import (
	"fmt"

	"github.com/sbl8/tinygraph/core"
	"github.com/sbl8/tinygraph/model"
)

// Conv2D inputs: NHWC input, HWIO weight, optional {outC} bias.
func checkConv(n *model.Node) error {
	if err := checkArity(n, 2, 3); err != nil {
		return err
	}
	p, ok := n.Params.(*model.ConvParams)
	if !ok || p == nil {
		return fmt.Errorf("%w: conv without convolution parameters", model.ErrShape)
	}
	switch p.Activation {
	case model.ActivationNone, model.ActivationReLU:
	default:
		return fmt.Errorf("%w: fused %s", model.ErrUnsupportedOperator, p.Activation)
	}
	in, w, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	wd, err := newWindow(in, p.KernelH, p.KernelW, p.StrideH, p.StrideW, p.PadH, p.PadW)
	if err != nil {
		return err
	}
	if len(w.Dims) != 4 {
		return fmt.Errorf("%w: weight %q has dims %v, want HWIO", model.ErrShape, w.Name, w.Dims)
	}
	if w.Dims[0] != p.KernelH || w.Dims[1] != p.KernelW {
		return fmt.Errorf("%w: weight %q is %dx%d, kernel is %dx%d", model.ErrShape, w.Name, w.Dims[0], w.Dims[1], p.KernelH, p.KernelW)
	}
	if w.Dims[2] != wd.c {
		return fmt.Errorf("%w: weight %q depth %d, input has %d channels", model.ErrShape, w.Name, w.Dims[2], wd.c)
	}
	oc := w.Dims[3]
	if err := checkBias(n, oc); err != nil {
		return err
	}
	return checkDims(out, "output", wd.n, wd.oh, wd.ow, oc)
}

func conv(a *Args) error {
	n := a.Node
	p := n.Params.(*model.ConvParams)
	in, w, out := n.Inputs[0], n.Inputs[1], n.Outputs[0]
	wd, err := newWindow(in, p.KernelH, p.KernelW, p.StrideH, p.StrideW, p.PadH, p.PadW)
	if err != nil {
		return err
	}
	oc := w.Dims[3]
	src := core.Int8s(a.Inputs[0])
	wt := core.Int8s(a.Inputs[1])
	dst := core.Int8s(a.Outputs[0])

	var bias []int8
	biasShift := 0
	if len(a.Inputs) > 2 {
		bias = core.Int8s(a.Inputs[2])
		biasShift = n.Inputs[2].Shift
	}
	relu := p.Activation == model.ActivationReLU

	split(a.Workers, oc, func(lo, hi int) {
		for b := 0; b < wd.n; b++ {
			for y := 0; y < wd.oh; y++ {
				ylo, yhi, ky0 := wd.rows(y)
				for x := 0; x < wd.ow; x++ {
					xlo, xhi, kx0 := wd.cols(x)
					base := ((b*wd.oh+y)*wd.ow + x) * oc
					for o := lo; o < hi; o++ {
						var acc int64
						if bias != nil {
							acc = core.ShiftRound(int64(bias[o]), biasShift)
						}
						for iy, ky := ylo, ky0; iy < yhi; iy, ky = iy+1, ky+1 {
							for ix, kx := xlo, kx0; ix < xhi; ix, kx = ix+1, kx+1 {
								px := src[((b*wd.h+iy)*wd.w+ix)*wd.c:][:wd.c]
								k := ((ky*wd.kw+kx)*wd.c)*oc + o
								for _, v := range px {
									acc += int64(v) * int64(wt[k])
									k += oc
								}
							}
						}
						q := core.Requantize(acc, out.Shift)
						if relu && q < 0 {
							q = 0
						}
						dst[base+o] = q
					}
				}
			}
		}
	})
	return nil
}
