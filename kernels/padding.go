package kernels

import (
	"fmt"

	"github.com/sbl8/tinygraph/model"
)

// OutSize returns the output extent of a windowed operator along one axis
// and the padding inserted before the first input cell.
//
// Valid: out = floor((in-kernel)/stride) + 1, no padding.
// Same: out = ceil(in/stride); the total padding is split evenly with the
// odd cell on the trailing edge.
func OutSize(in, kernel, stride int, pad model.Padding) (out, before int, err error) {
	if in <= 0 || kernel <= 0 || stride <= 0 {
		return 0, 0, fmt.Errorf("%w: in=%d kernel=%d stride=%d", model.ErrShape, in, kernel, stride)
	}
	switch pad {
	case model.PadValid:
		if in < kernel {
			return 0, 0, fmt.Errorf("%w: kernel %d larger than input %d with valid padding", model.ErrShape, kernel, in)
		}
		return (in-kernel)/stride + 1, 0, nil
	case model.PadSame:
		out = (in + stride - 1) / stride
		total := max((out-1)*stride+kernel-in, 0)
		return out, total / 2, nil
	default:
		return 0, 0, fmt.Errorf("%w: unknown padding %s", model.ErrShape, pad)
	}
}

// window is the precomputed geometry of a 2D windowed operator over an
// NHWC tensor.
type window struct {
	n, h, w, c     int
	oh, ow         int
	kh, kw         int
	sh, sw         int
	padTop, padLft int
}

func newWindow(in *model.Tensor, kh, kw, sh, sw int, ph, pw model.Padding) (window, error) {
	if len(in.Dims) != 4 {
		return window{}, fmt.Errorf("%w: input %q has dims %v, want NHWC", model.ErrShape, in.Name, in.Dims)
	}
	wd := window{
		n: in.Dims[0], h: in.Dims[1], w: in.Dims[2], c: in.Dims[3],
		kh: kh, kw: kw, sh: sh, sw: sw,
	}
	var err error
	if wd.oh, wd.padTop, err = OutSize(wd.h, kh, sh, ph); err != nil {
		return window{}, fmt.Errorf("height: %w", err)
	}
	if wd.ow, wd.padLft, err = OutSize(wd.w, kw, sw, pw); err != nil {
		return window{}, fmt.Errorf("width: %w", err)
	}
	return wd, nil
}

// rows returns the input row range [lo, hi) covered by output row y, with
// the kernel row offset of lo.
func (wd *window) rows(y int) (lo, hi, k0 int) {
	start := y*wd.sh - wd.padTop
	lo, hi = max(start, 0), min(start+wd.kh, wd.h)
	return lo, hi, lo - start
}

// cols is rows for the width axis.
func (wd *window) cols(x int) (lo, hi, k0 int) {
	start := x*wd.sw - wd.padLft
	lo, hi = max(start, 0), min(start+wd.kw, wd.w)
	return lo, hi, lo - start
}
