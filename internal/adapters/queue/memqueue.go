package queue

import (
	"sync"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// MemQueue is a bounded FIFO ring of WAL-backed observations. Ready fires
// after an enqueue so consumers can wait instead of spinning.
type MemQueue struct {
	mu    sync.Mutex
	ring  []ports.QueuedObservation
	head  int
	size  int
	ready chan struct{}
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		ring:  make([]ports.QueuedObservation, capacity),
		ready: make(chan struct{}, 1),
	}
}

func (q *MemQueue) Enqueue(id ports.WALEntryID, obs *domain.Observation) bool {
	q.mu.Lock()
	if q.size == len(q.ring) {
		q.mu.Unlock()
		return false
	}
	q.ring[(q.head+q.size)%len(q.ring)] = ports.QueuedObservation{ID: id, Observation: obs}
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return true
}

func (q *MemQueue) DequeueBatch(max int) []ports.QueuedObservation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return nil
	}
	if max <= 0 || max > q.size {
		max = q.size
	}
	out := make([]ports.QueuedObservation, max)
	for i := range out {
		slot := (q.head + i) % len(q.ring)
		out[i] = q.ring[slot]
		q.ring[slot] = ports.QueuedObservation{}
	}
	q.head = (q.head + max) % len(q.ring)
	q.size -= max
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

func (q *MemQueue) Cap() int { return len(q.ring) }

// Ready is signalled, at most once until drained, whenever an item is enqueued.
func (q *MemQueue) Ready() <-chan struct{} { return q.ready }

var _ ports.ObservationQueue = (*MemQueue)(nil)
