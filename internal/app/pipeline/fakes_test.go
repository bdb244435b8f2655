package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghalamif/AegisProbe/internal/app/probe"
	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

type memWAL struct {
	mu        sync.Mutex
	entries   []*domain.Observation
	committed ports.WALEntryID
	sizes     []int64
	statCalls int
	appendErr error
}

func (m *memWAL) Append(o *domain.Observation) (ports.WALEntryID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, m.appendErr
	}
	m.entries = append(m.entries, o)
	return ports.WALEntryID(len(m.entries)), nil
}

func (m *memWAL) Iterate(from ports.WALEntryID, fn func(ports.WALEntryID, *domain.Observation) error) error {
	m.mu.Lock()
	entries := append([]*domain.Observation(nil), m.entries...)
	m.mu.Unlock()
	for i, o := range entries {
		id := ports.WALEntryID(i + 1)
		if id < from {
			continue
		}
		if err := fn(id, o); err != nil {
			return err
		}
	}
	return nil
}

func (m *memWAL) Commit(upto ports.WALEntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if upto > m.committed {
		m.committed = upto
	}
	return nil
}

func (m *memWAL) Stats() ports.WALStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var size int64
	if len(m.sizes) > 0 {
		idx := m.statCalls
		if idx >= len(m.sizes) {
			idx = len(m.sizes) - 1
		}
		size = m.sizes[idx]
	}
	m.statCalls++
	return ports.WALStats{
		OldestUncommitted: m.committed + 1,
		LatestAppended:    ports.WALEntryID(len(m.entries)),
		SizeBytes:         size,
	}
}

func (m *memWAL) Close() error { return nil }

func (m *memWAL) committedID() ports.WALEntryID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed
}

type mockQueue struct {
	failures   int
	failAlways bool
	calls      int
	items      []ports.QueuedObservation
}

func (m *mockQueue) Enqueue(id ports.WALEntryID, o *domain.Observation) bool {
	m.calls++
	if m.failAlways {
		return false
	}
	if m.failures > 0 {
		m.failures--
		return false
	}
	m.items = append(m.items, ports.QueuedObservation{ID: id, Observation: o})
	return true
}

func (m *mockQueue) DequeueBatch(int) []ports.QueuedObservation { return nil }
func (m *mockQueue) Len() int                                   { return len(m.items) }

type mockSink struct {
	mu       sync.Mutex
	failures int
	batches  [][]*domain.Observation
	written  chan struct{}
}

func newMockSink(failures int) *mockSink {
	return &mockSink{failures: failures, written: make(chan struct{}, 16)}
}

func (s *mockSink) Name() string { return "mock" }

func (s *mockSink) WriteBatch(batch []*domain.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.batches = append(s.batches, batch)
	s.written <- struct{}{}
	return nil
}

func (s *mockSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type mockObs struct {
	mu       sync.Mutex
	errors   []error
	infos    []string
	dlq      []ports.WALEntryID
	counters map[string]float64
}

func (m *mockObs) LogInfo(msg string, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockObs) LogError(_ string, err error, _ ...ports.Field) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, err)
}

func (m *mockObs) LogCritical(_ string, err error, _ ...ports.Field) { m.LogError("", err) }

func (m *mockObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]float64{}
	}
	m.counters[name] += v
}

func (m *mockObs) ObserveLatency(string, float64) {}
func (m *mockObs) SetGauge(string, float64)       {}

func (m *mockObs) RecordDLQ(id ports.WALEntryID, _ *domain.Observation, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dlq = append(m.dlq, id)
}

func (m *mockObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// scriptedProbe returns the given batches in order, then reports itself stopped.
type scriptedProbe struct {
	mu      sync.Mutex
	batches [][]*domain.Observation
	state   domain.ScanState
}

func (p *scriptedProbe) ID() string                       { return "scripted" }
func (p *scriptedProbe) Initialize(context.Context) error { return nil }
func (p *scriptedProbe) Start(context.Context) error      { return nil }
func (p *scriptedProbe) Stop(context.Context) error       { return nil }

func (p *scriptedProbe) State() domain.ScanState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *scriptedProbe) Poll(context.Context, time.Duration) ([]*domain.Observation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.batches) == 0 {
		p.state = domain.ScanStopped
		return nil, probe.ErrInvalidTransition
	}
	b := p.batches[0]
	p.batches = p.batches[1:]
	return b, nil
}

type countingObserver struct{ n int }

func (c *countingObserver) ObserveDatum(*domain.Observation) { c.n++ }
