package runtime

import (
	"fmt"

	"github.com/sbl8/tinygraph/core"
	"github.com/sbl8/tinygraph/model"
)

// Arena is the single aligned buffer that backs every planned tensor of a
// loaded graph.
type Arena struct {
	buffer []byte
	plan   *Plan
}

// NewArena allocates storage for p. A plan with no tensors allocates
// nothing.
func NewArena(p *Plan) (*Arena, error) {
	a := &Arena{plan: p}
	if p.Size == 0 {
		return a, nil
	}
	a.buffer = core.AlignedBytes(p.Size)
	if a.buffer == nil {
		return nil, fmt.Errorf("failed to allocate arena buffer of size %d", p.Size)
	}
	return a, nil
}

// Buffer returns the raw arena bytes.
func (a *Arena) Buffer() []byte {
	return a.buffer
}

// TotalSize returns the capacity of the arena's buffer.
func (a *Arena) TotalSize() int {
	return len(a.buffer)
}

// Tensor returns the arena bytes bound to t.
func (a *Arena) Tensor(t *model.Tensor) ([]byte, bool) {
	s, ok := a.plan.Slot(t)
	if !ok || a.buffer == nil {
		return nil, false
	}
	return a.buffer[s.Offset : s.Offset+s.Size : s.Offset+s.Size], true
}

// Free drops the buffer.
func (a *Arena) Free() {
	a.buffer = nil
}
