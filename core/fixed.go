// Package core provides the fixed-point primitives shared by the tinygraph
// kernels and runtime.
//
// Activations and weights are signed 8-bit Q-format values: an integer times
// 2^-f for a fractional exponent that is never stored explicitly. Layers
// accumulate in a wide integer and then requantize: the accumulator is
// rescaled by the producing tensor's signed shift (left for positive, right
// with round-half-up for negative) and saturated to the int8 range. Every
// kernel goes through Requantize so the offline quantizer's numeric contract
// is reproduced bit for bit.
//
// The package also provides zero-copy views between byte buffers and int8
// element slices, and the alignment helpers used by the arena.
package core

import "math/bits"

// Q7 value range.
const (
	Q7Min = -128
	Q7Max = 127
)

// Q7One is the fixed-point value of 1.0 in a Q7 (2^-7) tensor. It is not
// representable in int8; it is the target of a softmax row sum.
const Q7One = 1 << 7

// SaturateQ7 clamps v to [Q7Min, Q7Max].
func SaturateQ7(v int64) int8 {
	if v > Q7Max {
		return Q7Max
	}
	if v < Q7Min {
		return Q7Min
	}
	return int8(v)
}

// ShiftRound rescales v by 2^shift. A positive shift is a left shift; a
// negative shift is an arithmetic right shift rounded to nearest, ties
// toward positive infinity (the dropped half bit is added before shifting).
// Left shifts that would overflow int64 clamp to the int64 range, which
// every caller saturates further anyway.
func ShiftRound(v int64, shift int) int64 {
	switch {
	case shift > 0:
		if v == 0 {
			return 0
		}
		mag := v
		if mag < 0 {
			mag = -mag
		}
		if shift >= 63-bits.Len64(uint64(mag)) {
			if v < 0 {
				return -1 << 63
			}
			return 1<<63 - 1
		}
		return v << uint(shift)
	case shift < 0:
		n := -shift
		if n > 62 {
			return 0
		}
		return (v + 1<<uint(n-1)) >> uint(n)
	}
	return v
}

// Requantize rescales a wide accumulator by shift and saturates it to Q7.
// With shift == 0 it is exactly SaturateQ7(acc).
func Requantize(acc int64, shift int) int8 {
	return SaturateQ7(ShiftRound(acc, shift))
}

// ClampUnsigned limits v to [0, 2^width-1].
func ClampUnsigned(v int64, width uint) int64 {
	if v < 0 {
		return 0
	}
	if hi := int64(1)<<width - 1; v > hi {
		return hi
	}
	return v
}
