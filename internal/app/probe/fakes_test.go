package probe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

type fakeCapture struct {
	mu    sync.Mutex
	out   ports.Emitter
	calls []string

	startScanErr error
	stopScanErr  error
	startAdvErr  error
	stopAdvErr   error

	// onStartScan runs after a successful StartScan, e.g. to emit encounters.
	onStartScan func(out ports.Emitter)
}

func (f *fakeCapture) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeCapture) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCapture) Bind(out ports.Emitter) { f.out = out }

func (f *fakeCapture) StartScan(context.Context) error {
	f.record("start_scan")
	if f.startScanErr != nil {
		return f.startScanErr
	}
	if f.onStartScan != nil {
		f.onStartScan(f.out)
	}
	return nil
}

func (f *fakeCapture) StopScan(context.Context) error {
	f.record("stop_scan")
	return f.stopScanErr
}

func (f *fakeCapture) StartAdvertise(context.Context) error {
	f.record("start_advertise")
	return f.startAdvErr
}

func (f *fakeCapture) StopAdvertise(context.Context) error {
	f.record("stop_advertise")
	return f.stopAdvErr
}

type fakeEnablerCapture struct {
	fakeCapture
	enabled     bool
	enableWorks bool
	enableErr   error
	enableCalls int
}

func (f *fakeEnablerCapture) Enabled(context.Context) bool { return f.enabled }

func (f *fakeEnablerCapture) Enable(context.Context) error {
	f.enableCalls++
	if f.enableErr != nil {
		return f.enableErr
	}
	if f.enableWorks {
		f.enabled = true
	}
	return nil
}

type fakeListener struct {
	mu      sync.Mutex
	out     ports.Emitter
	started bool
	stopped bool
}

func (l *fakeListener) Start(_ context.Context, out ports.Emitter) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = out
	l.started = true
	return nil
}

func (l *fakeListener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopped = true
	return nil
}

func (l *fakeListener) emit(o *domain.Observation) {
	l.mu.Lock()
	out := l.out
	l.mu.Unlock()
	out.Append(o)
}

type recordingObs struct {
	ports.NopObservability
	mu       sync.Mutex
	errors   []string
	critical []error
	counters map[string]float64
}

func (r *recordingObs) LogError(msg string, _ error, _ ...ports.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recordingObs) LogCritical(_ string, err error, _ ...ports.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.critical = append(r.critical, err)
}

func (r *recordingObs) IncCounter(name string, v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = make(map[string]float64)
	}
	r.counters[name] += v
}

func (r *recordingObs) counter(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// immediate makes scan waits return at once and records the requested durations.
type immediate struct {
	mu        sync.Mutex
	durations []time.Duration
}

func (i *immediate) after(d time.Duration) <-chan time.Time {
	i.mu.Lock()
	i.durations = append(i.durations, d)
	i.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func never(time.Duration) <-chan time.Time { return nil }

func startedController(t *testing.T, capture ports.Capture, opts ...ControllerOption) *ScanController {
	t.Helper()
	c, err := NewScanController("bluetooth", capture, opts...)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	ctx := context.Background()
	if err := c.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	return c
}
