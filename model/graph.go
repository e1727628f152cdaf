// Package model defines the frozen graph description executed by the runtime.
//
// A Graph is an ordered list of operator nodes over tensor descriptors. The
// order is the execution order and must already be topological: every node
// input is a graph input, a constant, or the output of an earlier node. The
// engine never re-sorts.
//
// Graphs are assembled with a Builder (or decoded from the wire format with
// Unmarshal), validated once, and treated as immutable afterwards, so a
// single Graph can back any number of concurrently loaded instances.
package model

import "fmt"

// GraphVersion is the description format revision written by Marshal.
const GraphVersion = 1

// Layout is the channel ordering of activation tensors.
type Layout uint8

const (
	LayoutNHWC Layout = iota
	LayoutNCHW
)

func (l Layout) String() string {
	switch l {
	case LayoutNHWC:
		return "nhwc"
	case LayoutNCHW:
		return "nchw"
	default:
		return fmt.Sprintf("layout(%d)", uint8(l))
	}
}

// Node is one operator instance. InputNum and OutputNum are the counts the
// description declares; they are checked against the references.
type Node struct {
	Name      string
	Kind      OpKind
	Version   OpVersion
	Params    Params
	InputNum  int
	OutputNum int
	Inputs    []*Tensor
	Outputs   []*Tensor
}

// Output returns the node's first output.
func (n *Node) Output() *Tensor {
	if len(n.Outputs) == 0 {
		return nil
	}
	return n.Outputs[0]
}

// Graph is an ordered, already-topological sequence of nodes.
type Graph struct {
	Name       string
	Version    uint32
	ID         uint32
	CreateTime int64
	Layout     Layout
	Nodes      []*Node
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.Nodes)
}

// Tensors returns every distinct tensor in order of first reference.
func (g *Graph) Tensors() []*Tensor {
	seen := make(map[*Tensor]bool)
	var out []*Tensor
	visit := func(t *Tensor) {
		if t != nil && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, n := range g.Nodes {
		for _, t := range n.Inputs {
			visit(t)
		}
		for _, t := range n.Outputs {
			visit(t)
		}
	}
	return out
}

// Inputs returns the graph input tensors in order of first use. This is
// the order Run expects its input buffers in.
func (g *Graph) Inputs() []*Tensor {
	return g.byRole(RoleInput)
}

// Outputs returns the graph output tensors in production order.
func (g *Graph) Outputs() []*Tensor {
	return g.byRole(RoleOutput)
}

func (g *Graph) byRole(role Role) []*Tensor {
	var out []*Tensor
	for _, t := range g.Tensors() {
		if t.Role == role {
			out = append(out, t)
		}
	}
	return out
}

// Producers maps every produced tensor to the index of its producing node.
func (g *Graph) Producers() map[*Tensor]int {
	p := make(map[*Tensor]int)
	for i, n := range g.Nodes {
		for _, t := range n.Outputs {
			p[t] = i
		}
	}
	return p
}

// Validate checks the structural invariants: descriptor consistency,
// declared reference counts, and that the node order is a topological order
// of the producer/consumer relation. Shape checks against operator
// parameters belong to the kernels.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: graph %q has no nodes", ErrMalformedGraph, g.Name)
	}
	produced := make(map[*Tensor]bool)
	for i, n := range g.Nodes {
		if err := checkNode(n, produced); err != nil {
			return nodeErr(i, n, err)
		}
		for _, t := range n.Outputs {
			produced[t] = true
		}
	}
	if len(g.Outputs()) == 0 {
		return fmt.Errorf("%w: graph %q has no output tensor", ErrMalformedGraph, g.Name)
	}
	return nil
}

// checkNode validates n given the set of tensors produced before it.
func checkNode(n *Node, produced map[*Tensor]bool) error {
	if n == nil {
		return fmt.Errorf("%w: nil node", ErrMalformedGraph)
	}
	if n.InputNum != len(n.Inputs) {
		return fmt.Errorf("%w: declares %d inputs, references %d", ErrMalformedGraph, n.InputNum, len(n.Inputs))
	}
	if n.OutputNum != len(n.Outputs) || len(n.Outputs) == 0 {
		return fmt.Errorf("%w: declares %d outputs, references %d", ErrMalformedGraph, n.OutputNum, len(n.Outputs))
	}
	if n.Params != nil && n.Params.Kind() != n.Kind {
		return fmt.Errorf("%w: %s parameters on a %s node", ErrMalformedGraph, n.Params.Kind(), n.Kind)
	}
	for _, t := range n.Inputs {
		if err := t.Validate(); err != nil {
			return err
		}
		switch t.Role {
		case RoleInput, RoleConstant:
		default:
			if !produced[t] {
				return fmt.Errorf("%w: input %q is not produced by an earlier node", ErrMalformedGraph, t.Name)
			}
		}
	}
	for _, t := range n.Outputs {
		if err := t.Validate(); err != nil {
			return err
		}
		if t.Role != RoleIntermediate && t.Role != RoleOutput {
			return fmt.Errorf("%w: node writes %s tensor %q", ErrMalformedGraph, t.Role, t.Name)
		}
		if produced[t] {
			return fmt.Errorf("%w: tensor %q has more than one producer", ErrMalformedGraph, t.Name)
		}
	}
	return nil
}
