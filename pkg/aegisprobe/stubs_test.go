package aegisprobe

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ghalamif/AegisProbe/internal/app/probe"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProbe returns its batches in order, then empty polls until stopped.
type stubProbe struct {
	mu      sync.Mutex
	batches [][]*Observation
	state   ScanState
}

func (p *stubProbe) ID() string                       { return "stub" }
func (p *stubProbe) Initialize(context.Context) error { return p.set(ScanInitialized) }
func (p *stubProbe) Start(context.Context) error      { return p.set(ScanScanning) }
func (p *stubProbe) Stop(context.Context) error       { return p.set(ScanStopped) }

func (p *stubProbe) set(s ScanState) error {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	return nil
}

func (p *stubProbe) State() ScanState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *stubProbe) Poll(ctx context.Context, _ time.Duration) ([]*Observation, error) {
	p.mu.Lock()
	if p.state == ScanStopped {
		p.mu.Unlock()
		return nil, probe.ErrInvalidTransition
	}
	if len(p.batches) > 0 {
		b := p.batches[0]
		p.batches = p.batches[1:]
		p.mu.Unlock()
		return b, nil
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Millisecond):
	}
	return []*Observation{nil}, nil
}

type stubCapture struct{}

func (stubCapture) Bind(Emitter)                         {}
func (stubCapture) StartScan(context.Context) error      { return nil }
func (stubCapture) StopScan(context.Context) error       { return nil }
func (stubCapture) StartAdvertise(context.Context) error { return nil }
func (stubCapture) StopAdvertise(context.Context) error  { return nil }

type stubListener struct{}

func (stubListener) Start(context.Context, Emitter) error { return nil }
func (stubListener) Stop() error                          { return nil }

type stubSink struct{}

func (s *stubSink) WriteBatch([]*Observation) error { return nil }
func (s *stubSink) Name() string                    { return "stub" }

type stubQueue struct{}

func (s *stubQueue) Enqueue(WALEntryID, *Observation) bool { return true }
func (s *stubQueue) DequeueBatch(int) []QueuedObservation  { return nil }
func (s *stubQueue) Len() int                              { return 0 }

type stubWAL struct{}

func (s *stubWAL) Append(*Observation) (WALEntryID, error) { return 0, nil }
func (s *stubWAL) Iterate(WALEntryID, func(id WALEntryID, obs *Observation) error) error {
	return nil
}
func (s *stubWAL) Commit(WALEntryID) error { return nil }
func (s *stubWAL) Stats() WALStats         { return WALStats{} }
func (s *stubWAL) Close() error            { return nil }

type stubObservability struct{}

func (s *stubObservability) LogInfo(string, ...Field)                  {}
func (s *stubObservability) LogError(string, error, ...Field)          {}
func (s *stubObservability) LogCritical(string, error, ...Field)       {}
func (s *stubObservability) IncCounter(string, float64)                {}
func (s *stubObservability) ObserveLatency(string, float64)            {}
func (s *stubObservability) SetGauge(string, float64)                  {}
func (s *stubObservability) RecordDLQ(WALEntryID, *Observation, error) {}

type stubStore struct {
	mu       sync.Mutex
	saved    map[string]DeliveryPolicy
	outcomes []OutcomeEvent
}

func newStubStore() *stubStore { return &stubStore{saved: map[string]DeliveryPolicy{}} }

func (s *stubStore) SavePolicy(_ context.Context, id string, p DeliveryPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[id] = p
	return nil
}

func (s *stubStore) LoadPolicy(_ context.Context, id string) (DeliveryPolicy, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.saved[id]
	return p, ok, nil
}

func (s *stubStore) RecordOutcome(_ context.Context, ev OutcomeEvent, _ DeliveryPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, ev)
	return nil
}

type stubOutbox struct {
	mu   sync.Mutex
	reqs []DeliveryRequest
}

func (o *stubOutbox) Enqueue(_ context.Context, req DeliveryRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reqs = append(o.reqs, req)
	return nil
}

type stubOutcomes struct {
	ch   chan OutcomeEvent
	once sync.Once
}

func newStubOutcomes() *stubOutcomes { return &stubOutcomes{ch: make(chan OutcomeEvent, 4)} }

func (s *stubOutcomes) Outcomes(context.Context) (<-chan OutcomeEvent, error) { return s.ch, nil }

func (s *stubOutcomes) Close() error {
	s.once.Do(func() { close(s.ch) })
	return nil
}

type fixedRandom float64

func (f fixedRandom) Float64() float64 { return float64(f) }
