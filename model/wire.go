package model

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers. The graph is a protobuf-compatible message; tensors
// are listed once and nodes refer to them by index.
const (
	fieldGraphName       protowire.Number = 1
	fieldGraphVersion    protowire.Number = 2
	fieldGraphID         protowire.Number = 3
	fieldGraphCreateTime protowire.Number = 4
	fieldGraphLayout     protowire.Number = 5
	fieldGraphTensor     protowire.Number = 6
	fieldGraphNode       protowire.Number = 7

	fieldTensorName  protowire.Number = 1
	fieldTensorDims  protowire.Number = 2
	fieldTensorShift protowire.Number = 3
	fieldTensorType  protowire.Number = 4
	fieldTensorRole  protowire.Number = 5
	fieldTensorData  protowire.Number = 6

	fieldNodeName      protowire.Number = 1
	fieldNodeKind      protowire.Number = 2
	fieldNodeVersion   protowire.Number = 3
	fieldNodeInputNum  protowire.Number = 4
	fieldNodeOutputNum protowire.Number = 5
	fieldNodeInputs    protowire.Number = 6
	fieldNodeOutputs   protowire.Number = 7
	fieldNodeConv      protowire.Number = 8
	fieldNodePool      protowire.Number = 9

	fieldConvKernelH    protowire.Number = 1
	fieldConvKernelW    protowire.Number = 2
	fieldConvStrideH    protowire.Number = 3
	fieldConvStrideW    protowire.Number = 4
	fieldConvPadH       protowire.Number = 5
	fieldConvPadW       protowire.Number = 6
	fieldConvActivation protowire.Number = 7

	fieldPoolMethod  protowire.Number = 1
	fieldPoolKernelH protowire.Number = 2
	fieldPoolKernelW protowire.Number = 3
	fieldPoolStrideH protowire.Number = 4
	fieldPoolStrideW protowire.Number = 5
	fieldPoolPadH    protowire.Number = 6
	fieldPoolPadW    protowire.Number = 7
)

// Marshal encodes g. Constant data is copied into the output.
func Marshal(g *Graph) ([]byte, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	tensors := g.Tensors()
	index := make(map[*Tensor]uint64, len(tensors))
	for i, t := range tensors {
		index[t] = uint64(i)
	}

	var b []byte
	b = appendString(b, fieldGraphName, g.Name)
	b = appendVarint(b, fieldGraphVersion, uint64(g.Version))
	b = appendVarint(b, fieldGraphID, uint64(g.ID))
	b = appendVarint(b, fieldGraphCreateTime, protowire.EncodeZigZag(g.CreateTime))
	b = appendVarint(b, fieldGraphLayout, uint64(g.Layout))
	for _, t := range tensors {
		b = protowire.AppendTag(b, fieldGraphTensor, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalTensor(t))
	}
	for _, n := range g.Nodes {
		b = protowire.AppendTag(b, fieldGraphNode, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalNode(n, index))
	}
	return b, nil
}

func marshalTensor(t *Tensor) []byte {
	var b []byte
	b = appendString(b, fieldTensorName, t.Name)
	b = appendPacked(b, fieldTensorDims, t.Dims)
	b = appendVarint(b, fieldTensorShift, protowire.EncodeZigZag(int64(t.Shift)))
	b = appendVarint(b, fieldTensorType, uint64(t.DataType))
	b = appendVarint(b, fieldTensorRole, uint64(t.Role))
	if t.Data != nil {
		b = protowire.AppendTag(b, fieldTensorData, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Data)
	}
	return b
}

func marshalNode(n *Node, index map[*Tensor]uint64) []byte {
	refs := func(ts []*Tensor) []int {
		out := make([]int, len(ts))
		for i, t := range ts {
			out[i] = int(index[t])
		}
		return out
	}
	var b []byte
	b = appendString(b, fieldNodeName, n.Name)
	b = appendVarint(b, fieldNodeKind, uint64(n.Kind))
	b = appendVarint(b, fieldNodeVersion, uint64(n.Version))
	b = appendVarint(b, fieldNodeInputNum, uint64(n.InputNum))
	b = appendVarint(b, fieldNodeOutputNum, uint64(n.OutputNum))
	b = appendPacked(b, fieldNodeInputs, refs(n.Inputs))
	b = appendPacked(b, fieldNodeOutputs, refs(n.Outputs))
	switch p := n.Params.(type) {
	case *ConvParams:
		var m []byte
		m = appendVarint(m, fieldConvKernelH, uint64(p.KernelH))
		m = appendVarint(m, fieldConvKernelW, uint64(p.KernelW))
		m = appendVarint(m, fieldConvStrideH, uint64(p.StrideH))
		m = appendVarint(m, fieldConvStrideW, uint64(p.StrideW))
		m = appendVarint(m, fieldConvPadH, uint64(p.PadH))
		m = appendVarint(m, fieldConvPadW, uint64(p.PadW))
		m = appendVarint(m, fieldConvActivation, protowire.EncodeZigZag(int64(p.Activation.Code())))
		b = protowire.AppendTag(b, fieldNodeConv, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	case *PoolParams:
		var m []byte
		m = appendVarint(m, fieldPoolMethod, uint64(p.Method))
		m = appendVarint(m, fieldPoolKernelH, uint64(p.KernelH))
		m = appendVarint(m, fieldPoolKernelW, uint64(p.KernelW))
		m = appendVarint(m, fieldPoolStrideH, uint64(p.StrideH))
		m = appendVarint(m, fieldPoolStrideW, uint64(p.StrideW))
		m = appendVarint(m, fieldPoolPadH, uint64(p.PadH))
		m = appendVarint(m, fieldPoolPadW, uint64(p.PadW))
		b = protowire.AppendTag(b, fieldNodePool, protowire.BytesType)
		b = protowire.AppendBytes(b, m)
	}
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendPacked(b []byte, num protowire.Number, vs []int) []byte {
	var p []byte
	for _, v := range vs {
		p = protowire.AppendVarint(p, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, p)
}

// Unmarshal decodes a graph written by Marshal and validates it through a
// Builder. Constant Data slices alias b; the caller must keep b unchanged
// for the lifetime of the graph.
func Unmarshal(b []byte) (*Graph, error) {
	var (
		hdr     Graph
		tensors []*Tensor
		nodes   [][]byte
	)
	hdr.Version = GraphVersion
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldGraphName:
			hdr.Name = string(raw)
		case fieldGraphVersion:
			hdr.Version = uint32(v)
		case fieldGraphID:
			hdr.ID = uint32(v)
		case fieldGraphCreateTime:
			hdr.CreateTime = protowire.DecodeZigZag(v)
		case fieldGraphLayout:
			hdr.Layout = Layout(v)
		case fieldGraphTensor:
			t, err := unmarshalTensor(raw)
			if err != nil {
				return fmt.Errorf("tensor %d: %w", len(tensors), err)
			}
			tensors = append(tensors, t)
		case fieldGraphNode:
			nodes = append(nodes, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	bld := NewBuilder(hdr.Name).
		WithVersion(hdr.Version).
		WithID(hdr.ID).
		WithLayout(hdr.Layout).
		WithCreateTime(hdr.CreateTime)
	for i, raw := range nodes {
		n, err := unmarshalNode(raw, tensors)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		bld.Add(n)
	}
	return bld.Build()
}

func unmarshalTensor(b []byte) (*Tensor, error) {
	t := &Tensor{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldTensorName:
			t.Name = string(raw)
		case fieldTensorDims:
			dims, err := unpack(raw)
			if err != nil {
				return err
			}
			t.Dims = dims
		case fieldTensorShift:
			t.Shift = int(protowire.DecodeZigZag(v))
		case fieldTensorType:
			t.DataType = DataType(v)
		case fieldTensorRole:
			t.Role = Role(v)
		case fieldTensorData:
			t.Data = raw
		}
		return nil
	})
	return t, err
}

func unmarshalNode(b []byte, tensors []*Tensor) (*Node, error) {
	n := &Node{}
	resolve := func(raw []byte) ([]*Tensor, error) {
		idx, err := unpack(raw)
		if err != nil {
			return nil, err
		}
		out := make([]*Tensor, len(idx))
		for i, j := range idx {
			if j < 0 || j >= len(tensors) {
				return nil, fmt.Errorf("%w: tensor reference %d out of range [0,%d)", ErrMalformedGraph, j, len(tensors))
			}
			out[i] = tensors[j]
		}
		return out, nil
	}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		var err error
		switch num {
		case fieldNodeName:
			n.Name = string(raw)
		case fieldNodeKind:
			n.Kind = OpKind(v)
		case fieldNodeVersion:
			n.Version = OpVersion(v)
		case fieldNodeInputNum:
			n.InputNum = int(v)
		case fieldNodeOutputNum:
			n.OutputNum = int(v)
		case fieldNodeInputs:
			n.Inputs, err = resolve(raw)
		case fieldNodeOutputs:
			n.Outputs, err = resolve(raw)
		case fieldNodeConv:
			n.Params, err = unmarshalConv(raw)
		case fieldNodePool:
			n.Params, err = unmarshalPool(raw)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	// Builder.Add fills zero counts from the references; keep the declared
	// values authoritative by rejecting zero counts here.
	if n.OutputNum == 0 {
		return nil, fmt.Errorf("%w: node %q declares no outputs", ErrMalformedGraph, n.Name)
	}
	if n.InputNum == 0 && len(n.Inputs) > 0 {
		return nil, fmt.Errorf("%w: node %q declares no inputs, references %d", ErrMalformedGraph, n.Name, len(n.Inputs))
	}
	return n, nil
}

func unmarshalConv(b []byte) (*ConvParams, error) {
	p := &ConvParams{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldConvKernelH:
			p.KernelH = int(v)
		case fieldConvKernelW:
			p.KernelW = int(v)
		case fieldConvStrideH:
			p.StrideH = int(v)
		case fieldConvStrideW:
			p.StrideW = int(v)
		case fieldConvPadH:
			p.PadH = Padding(v)
		case fieldConvPadW:
			p.PadW = Padding(v)
		case fieldConvActivation:
			p.Activation = ActivationFromCode(int32(protowire.DecodeZigZag(v)))
		}
		return nil
	})
	return p, err
}

func unmarshalPool(b []byte) (*PoolParams, error) {
	p := &PoolParams{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fieldPoolMethod:
			p.Method = PoolMethod(v)
		case fieldPoolKernelH:
			p.KernelH = int(v)
		case fieldPoolKernelW:
			p.KernelW = int(v)
		case fieldPoolStrideH:
			p.StrideH = int(v)
		case fieldPoolStrideW:
			p.StrideW = int(v)
		case fieldPoolPadH:
			p.PadH = Padding(v)
		case fieldPoolPadW:
			p.PadW = Padding(v)
		}
		return nil
	})
	return p, err
}

// walk iterates over the fields of a message. Varint fields are passed in
// v, length-delimited fields in raw; other wire types and unknown fields
// are skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformedGraph, protowire.ParseError(n))
		}
		b = b[n:]
		var (
			v   uint64
			raw []byte
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				b = b[n:]
				continue
			}
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformedGraph, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(num, typ, v, raw); err != nil {
			return err
		}
	}
	return nil
}

func unpack(b []byte) ([]int, error) {
	var out []int
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: packed field: %v", ErrMalformedGraph, protowire.ParseError(n))
		}
		out = append(out, int(v))
		b = b[n:]
	}
	return out, nil
}
