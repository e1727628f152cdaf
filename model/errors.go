package model

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedGraph reports a description the engine refuses to load:
	// dangling or non-topological references, inconsistent descriptors,
	// mismatched declared counts.
	ErrMalformedGraph = errors.New("malformed graph")
	// ErrShape reports parameters inconsistent with tensor shapes.
	ErrShape = errors.New("shape mismatch")
	// ErrUnsupportedOperator reports an operator kind, version or fused
	// activation with no registered kernel.
	ErrUnsupportedOperator = errors.New("unsupported operator")
	// ErrUnsupportedType reports a data type a kernel cannot process.
	ErrUnsupportedType = errors.New("unsupported data type")
)

// NodeError attaches the offending node to an error.
type NodeError struct {
	Index int
	Name  string
	Kind  OpKind
	Err   error
}

func (e *NodeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("node %d (%s %q): %v", e.Index, e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("node %d (%s): %v", e.Index, e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// nodeErr wraps err for the node at index i.
func nodeErr(i int, n *Node, err error) error {
	if n == nil {
		return &NodeError{Index: i, Err: err}
	}
	return &NodeError{Index: i, Name: n.Name, Kind: n.Kind, Err: err}
}

var errBuilt = fmt.Errorf("%w: builder already built", ErrMalformedGraph)

var (
	// ErrCapacityExceeded reports an arena plan larger than the memory budget.
	ErrCapacityExceeded = errors.New("arena capacity exceeded")
	// ErrReleased reports use of a loaded graph after Release.
	ErrReleased = errors.New("graph released")
)
