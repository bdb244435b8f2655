package probe

import (
	"sync"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// DatumBuffer accumulates observations from capture callbacks until the
// poll loop drains them. The lock is only held for the append or the swap.
type DatumBuffer struct {
	mu   sync.Mutex
	data []*domain.Observation
}

func NewDatumBuffer() *DatumBuffer {
	return &DatumBuffer{}
}

func (b *DatumBuffer) Append(obs *domain.Observation) {
	if obs == nil {
		return
	}
	b.mu.Lock()
	b.data = append(b.data, obs)
	b.mu.Unlock()
}

// Drain hands the accumulated observations to the caller in append order
// and leaves the buffer empty.
func (b *DatumBuffer) Drain() []*domain.Observation {
	b.mu.Lock()
	out := b.data
	b.data = nil
	b.mu.Unlock()
	if out == nil {
		return []*domain.Observation{}
	}
	return out
}

func (b *DatumBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

var _ ports.Emitter = (*DatumBuffer)(nil)
