package model

import "fmt"

// OpKind identifies an operator.
type OpKind uint8

const (
	OpConv OpKind = iota + 1
	OpPool
	OpFC
	OpReLU
	OpSoftmax
)

func (k OpKind) String() string {
	switch k {
	case OpConv:
		return "conv"
	case OpPool:
		return "pool"
	case OpFC:
		return "fc"
	case OpReLU:
		return "relu"
	case OpSoftmax:
		return "softmax"
	default:
		return fmt.Sprintf("op(%d)", uint8(k))
	}
}

// OpVersion distinguishes incompatible revisions of the same operator.
type OpVersion uint8

// Version1 is the only operator revision the built-in kernels implement.
const Version1 OpVersion = 1

// Padding selects how a windowed operator treats the input border.
type Padding uint8

const (
	// PadValid uses no padding: out = floor((in-kernel)/stride) + 1.
	PadValid Padding = iota
	// PadSame pads so that out = ceil(in/stride), extra padding trailing.
	PadSame
)

func (p Padding) String() string {
	switch p {
	case PadValid:
		return "valid"
	case PadSame:
		return "same"
	default:
		return fmt.Sprintf("padding(%d)", uint8(p))
	}
}

// PoolMethod is the reduction applied by a pooling window.
type PoolMethod uint8

const (
	PoolMax PoolMethod = iota
	PoolAverage
)

func (m PoolMethod) String() string {
	switch m {
	case PoolMax:
		return "max"
	case PoolAverage:
		return "avg"
	default:
		return fmt.Sprintf("pool(%d)", uint8(m))
	}
}

// Activation is the fused activation of a convolution. The set is open:
// description codes are stored offset by one so that the zero value means
// "none" (code -1 in generated graphs) and any code the kernels do not know
// survives decoding and is rejected as an unsupported operator.
type Activation int32

const (
	ActivationNone Activation = iota // code -1
	ActivationReLU                   // code 0
)

// ActivationFromCode converts a generated-graph activation code.
func ActivationFromCode(code int32) Activation {
	return Activation(code + 1)
}

// Code returns the generated-graph activation code.
func (a Activation) Code() int32 {
	return int32(a) - 1
}

func (a Activation) String() string {
	switch a {
	case ActivationNone:
		return "none"
	case ActivationReLU:
		return "relu"
	default:
		return fmt.Sprintf("activation(%d)", a.Code())
	}
}

// Params is the operator-specific configuration of a node. Operators
// without configuration (relu, fc, softmax) carry nil.
type Params interface {
	Kind() OpKind
}

// ConvParams configures a 2D convolution.
type ConvParams struct {
	KernelH, KernelW int
	StrideH, StrideW int
	PadH, PadW       Padding
	Activation       Activation
}

func (*ConvParams) Kind() OpKind { return OpConv }

// PoolParams configures a 2D pooling window.
type PoolParams struct {
	Method           PoolMethod
	KernelH, KernelW int
	StrideH, StrideW int
	PadH, PadW       Padding
}

func (*PoolParams) Kind() OpKind { return OpPool }
