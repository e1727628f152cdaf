// Package tiny builds the 12-node reference network: a small keyword-
// spotting style CNN over a {1,99,10,1} feature map,
//
//	conv → relu → maxpool → conv → relu → conv → relu → fc → fc → relu → fc → softmax
//
// ending in a two-class Q7 probability vector. Weights and biases are
// deterministic pseudo-random values, so the network has no trained meaning
// but every run is reproducible bit for bit.
package tiny

import "github.com/sbl8/tinygraph/model"

// Graph metadata.
const (
	Name = "test"
	ID   = 0xdeadbeaf
)

// Input geometry.
var InputDims = []int{1, 99, 10, 1}

// InputSize is the byte size of the input tensor.
const InputSize = 99 * 10

// Per-layer fixed-point shifts. Bias shifts scale the bias into the
// accumulator domain; output shifts requantize the accumulator.
const (
	FirstConvBiasShift    = 5
	FirstConvOutputShift  = -7
	SecondConvBiasShift   = 6
	SecondConvOutputShift = -8
	ThirdConvBiasShift    = 5
	ThirdConvOutputShift  = -6
	LinearBiasShift       = 4
	LinearOutputShift     = -6
	FirstFCBiasShift      = 3
	FirstFCOutputShift    = -5
	FinalFCBiasShift      = 6
	FinalFCOutputShift    = -10
)

// fill returns n deterministic values in [-2^(bits-1), 2^(bits-1)) from a
// linear congruential generator seeded with seed.
func fill(seed uint32, n int, bits uint) []byte {
	b := make([]byte, n)
	s := seed
	for i := range b {
		s = s*1664525 + 1013904223
		b[i] = byte(int32(s) >> (32 - bits))
	}
	return b
}

func conv(kh, kw, sh, sw int) *model.ConvParams {
	return &model.ConvParams{
		KernelH: kh, KernelW: kw,
		StrideH: sh, StrideW: sw,
		PadH: model.PadValid, PadW: model.PadValid,
		Activation: model.ActivationNone,
	}
}

// New builds the reference graph. Each call returns fresh descriptors and
// weight buffers.
func New() (*model.Graph, error) {
	var (
		input = model.NewTensor("input", model.RoleInput, 0, 1, 99, 10, 1)

		conv0W = model.NewConstant("conv0_weight", 0, fill(1, 10*4*1*32, 7), 10, 4, 1, 32)
		conv0B = model.NewConstant("conv0_bias", FirstConvBiasShift, fill(2, 32, 7), 32)
		conv0  = model.NewTensor("conv0", model.RoleIntermediate, FirstConvOutputShift, 1, 45, 7, 32)
		relu1  = model.NewTensor("relu1", model.RoleIntermediate, 0, 1, 45, 7, 32)
		pool2  = model.NewTensor("pool2", model.RoleIntermediate, 0, 1, 23, 4, 32)

		conv3W = model.NewConstant("conv3_weight", 0, fill(3, 8*4*32*48, 5), 8, 4, 32, 48)
		conv3B = model.NewConstant("conv3_bias", SecondConvBiasShift, fill(4, 48, 7), 48)
		conv3  = model.NewTensor("conv3", model.RoleIntermediate, SecondConvOutputShift, 1, 16, 1, 48)
		relu4  = model.NewTensor("relu4", model.RoleIntermediate, 0, 1, 16, 1, 48)

		conv5W = model.NewConstant("conv5_weight", 0, fill(5, 4*1*48*32, 5), 4, 1, 48, 32)
		conv5B = model.NewConstant("conv5_bias", ThirdConvBiasShift, fill(6, 32, 7), 32)
		conv5  = model.NewTensor("conv5", model.RoleIntermediate, ThirdConvOutputShift, 1, 7, 1, 32)
		relu6  = model.NewTensor("relu6", model.RoleIntermediate, 0, 1, 7, 1, 32)

		fc7W = model.NewConstant("fc7_weight", 0, fill(7, 32*7*32, 5), 32, 7*32)
		fc7B = model.NewConstant("fc7_bias", LinearBiasShift, fill(8, 32, 7), 32)
		fc7  = model.NewTensor("fc7", model.RoleIntermediate, LinearOutputShift, 1, 32)

		fc8W  = model.NewConstant("fc8_weight", 0, fill(9, 128*32, 5), 128, 32)
		fc8B  = model.NewConstant("fc8_bias", FirstFCBiasShift, fill(10, 128, 7), 128)
		fc8   = model.NewTensor("fc8", model.RoleIntermediate, FirstFCOutputShift, 1, 128)
		relu9 = model.NewTensor("relu9", model.RoleIntermediate, 0, 1, 128)

		fc10W = model.NewConstant("fc10_weight", 0, fill(11, 2*128, 5), 2, 128)
		fc10B = model.NewConstant("fc10_bias", FinalFCBiasShift, fill(12, 2, 7), 2)
		fc10  = model.NewTensor("fc10", model.RoleIntermediate, FinalFCOutputShift, 1, 2)

		probs = model.NewTensor("softmax", model.RoleOutput, 0, 1, 2)
	)

	pool := &model.PoolParams{
		Method:  model.PoolMax,
		KernelH: 2, KernelW: 2,
		StrideH: 2, StrideW: 2,
		PadH: model.PadSame, PadW: model.PadSame,
	}

	return model.NewBuilder(Name).
		WithID(ID).
		WithLayout(model.LayoutNHWC).
		Op("conv0", model.OpConv, conv(10, 4, 2, 1), conv0, input, conv0W, conv0B).
		Op("relu1", model.OpReLU, nil, relu1, conv0).
		Op("pool2", model.OpPool, pool, pool2, relu1).
		Op("conv3", model.OpConv, conv(8, 4, 1, 1), conv3, pool2, conv3W, conv3B).
		Op("relu4", model.OpReLU, nil, relu4, conv3).
		Op("conv5", model.OpConv, conv(4, 1, 2, 1), conv5, relu4, conv5W, conv5B).
		Op("relu6", model.OpReLU, nil, relu6, conv5).
		Op("fc7", model.OpFC, nil, fc7, relu6, fc7W, fc7B).
		Op("fc8", model.OpFC, nil, fc8, fc7, fc8W, fc8B).
		Op("relu9", model.OpReLU, nil, relu9, fc8).
		Op("fc10", model.OpFC, nil, fc10, relu9, fc10W, fc10B).
		Op("softmax", model.OpSoftmax, nil, probs, fc10).
		Build()
}

// RowRamp returns the input whose every row h holds the value h-49.
func RowRamp() []byte {
	b := make([]byte, InputSize)
	for i := range b {
		b[i] = byte(int8(i/InputDims[2] - 49))
	}
	return b
}
