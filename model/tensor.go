package model

import (
	"fmt"
	"math"
	"strings"
)

// MaxDims is the highest tensor rank a descriptor may carry.
const MaxDims = 4

// DataType is the element encoding of a tensor.
type DataType uint8

const (
	// Q7 is signed 8-bit fixed point.
	Q7 DataType = iota
	// Q15 is signed 16-bit fixed point. It can be described and planned but
	// no kernel implements it yet.
	Q15
)

// Size returns the byte size of one element, or 0 for an unknown type.
func (dt DataType) Size() int {
	switch dt {
	case Q7:
		return 1
	case Q15:
		return 2
	default:
		return 0
	}
}

func (dt DataType) String() string {
	switch dt {
	case Q7:
		return "q7"
	case Q15:
		return "q15"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(dt))
	}
}

// Role tells the engine who owns a tensor's storage.
type Role uint8

const (
	// RoleInput tensors are supplied by the caller on every run.
	RoleInput Role = iota
	// RoleConstant tensors carry weights or biases baked into the description.
	RoleConstant
	// RoleIntermediate tensors live in the arena between producer and last consumer.
	RoleIntermediate
	// RoleOutput tensors live in the arena and are returned by a run.
	RoleOutput
)

func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleConstant:
		return "const"
	case RoleIntermediate:
		return "var"
	case RoleOutput:
		return "output"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Tensor describes the shape, encoding and role of a value flowing through
// the graph. Data is a reference, never an owned copy: for constants it
// points at the caller's weight blob, for every other role it is nil in the
// description and the runtime binds arena storage at load time.
type Tensor struct {
	Name     string
	Dims     []int
	Shift    int
	DataType DataType
	Role     Role
	Data     []byte
}

// NewTensor returns a data-less descriptor.
func NewTensor(name string, role Role, shift int, dims ...int) *Tensor {
	return &Tensor{
		Name:     name,
		Dims:     dims,
		Shift:    shift,
		DataType: Q7,
		Role:     role,
	}
}

// NewConstant returns a Q7 constant descriptor backed by data.
func NewConstant(name string, shift int, data []byte, dims ...int) *Tensor {
	return &Tensor{
		Name:     name,
		Dims:     dims,
		Shift:    shift,
		DataType: Q7,
		Role:     RoleConstant,
		Data:     data,
	}
}

// DimNum returns the tensor rank.
func (t *Tensor) DimNum() int {
	return len(t.Dims)
}

// Elements returns the product of the dimensions.
func (t *Tensor) Elements() int {
	n := 1
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// ByteSize returns the storage the tensor needs.
func (t *Tensor) ByteSize() int {
	return t.Elements() * t.DataType.Size()
}

// SameShape reports whether t and o have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Dims) != len(o.Dims) {
		return false
	}
	for i := range t.Dims {
		if t.Dims[i] != o.Dims[i] {
			return false
		}
	}
	return true
}

// MaxTensorBytes bounds the storage of a single tensor. Elements and
// ByteSize are only meaningful for descriptors that passed Validate.
const MaxTensorBytes = math.MaxInt32

// Validate checks the descriptor invariants that do not depend on the graph.
func (t *Tensor) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor reference", ErrMalformedGraph)
	}
	if len(t.Dims) == 0 || len(t.Dims) > MaxDims {
		return fmt.Errorf("%w: tensor %q has %d dims, want 1..%d", ErrMalformedGraph, t.Name, len(t.Dims), MaxDims)
	}
	elem := t.DataType.Size()
	if elem == 0 {
		return fmt.Errorf("%w: tensor %q: %s", ErrUnsupportedType, t.Name, t.DataType)
	}
	n := elem
	for _, d := range t.Dims {
		if d <= 0 {
			return fmt.Errorf("%w: tensor %q has non-positive dim in %v", ErrMalformedGraph, t.Name, t.Dims)
		}
		if n > MaxTensorBytes/d {
			return fmt.Errorf("%w: tensor %q dims %v exceed %d bytes", ErrMalformedGraph, t.Name, t.Dims, MaxTensorBytes)
		}
		n *= d
	}
	switch t.Role {
	case RoleConstant:
		if t.Data == nil {
			return fmt.Errorf("%w: constant %q has no data", ErrMalformedGraph, t.Name)
		}
		if len(t.Data) != t.ByteSize() {
			return fmt.Errorf("%w: constant %q has %d bytes, dims %v need %d", ErrMalformedGraph, t.Name, len(t.Data), t.Dims, t.ByteSize())
		}
	case RoleInput, RoleIntermediate, RoleOutput:
		if t.Data != nil {
			return fmt.Errorf("%w: %s tensor %q must not carry data in the description", ErrMalformedGraph, t.Role, t.Name)
		}
	default:
		return fmt.Errorf("%w: tensor %q: %s", ErrMalformedGraph, t.Name, t.Role)
	}
	return nil
}

func (t *Tensor) String() string {
	dims := make([]string, len(t.Dims))
	for i, d := range t.Dims {
		dims[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("%s[%s %s {%s} shift=%d]", t.Name, t.Role, t.DataType, strings.Join(dims, ","), t.Shift)
}
