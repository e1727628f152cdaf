package model

// Builder assembles a Graph node by node, validating each node against the
// nodes already added. The first error sticks and is returned by Build.
type Builder struct {
	g        *Graph
	produced map[*Tensor]bool
	built    bool
	err      error
}

// NewBuilder starts an NHWC graph with the current description version.
func NewBuilder(name string) *Builder {
	return &Builder{
		g: &Graph{
			Name:    name,
			Version: GraphVersion,
			Layout:  LayoutNHWC,
		},
		produced: make(map[*Tensor]bool),
	}
}

// WithID sets the graph identifier.
func (b *Builder) WithID(id uint32) *Builder {
	b.g.ID = id
	return b
}

// WithVersion overrides the description version.
func (b *Builder) WithVersion(v uint32) *Builder {
	b.g.Version = v
	return b
}

// WithLayout sets the activation layout.
func (b *Builder) WithLayout(l Layout) *Builder {
	b.g.Layout = l
	return b
}

// WithCreateTime records the generation timestamp (unix seconds).
func (b *Builder) WithCreateTime(ts int64) *Builder {
	b.g.CreateTime = ts
	return b
}

// Add appends n. Zero InputNum/OutputNum are filled from the references;
// a zero Version means Version1.
func (b *Builder) Add(n *Node) *Builder {
	if b.err != nil {
		return b
	}
	if b.built {
		b.err = nodeErr(len(b.g.Nodes), n, errBuilt)
		return b
	}
	if n != nil {
		if n.InputNum == 0 {
			n.InputNum = len(n.Inputs)
		}
		if n.OutputNum == 0 {
			n.OutputNum = len(n.Outputs)
		}
		if n.Version == 0 {
			n.Version = Version1
		}
	}
	if err := checkNode(n, b.produced); err != nil {
		b.err = nodeErr(len(b.g.Nodes), n, err)
		return b
	}
	for _, t := range n.Outputs {
		b.produced[t] = true
	}
	b.g.Nodes = append(b.g.Nodes, n)
	return b
}

// Op is shorthand for Add with a single output.
func (b *Builder) Op(name string, kind OpKind, params Params, out *Tensor, in ...*Tensor) *Builder {
	return b.Add(&Node{
		Name:    name,
		Kind:    kind,
		Params:  params,
		Inputs:  in,
		Outputs: []*Tensor{out},
	})
}

// Build freezes the graph. The builder cannot be used afterwards.
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.g.Validate(); err != nil {
		return nil, err
	}
	b.built = true
	return b.g, nil
}
