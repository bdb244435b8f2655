package probe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

const (
	// MinScanDuration is the shortest scan worth running; shorter scans
	// systematically miss nearby devices.
	MinScanDuration     = 5 * time.Second
	DefaultScanDuration = 20 * time.Second
)

var (
	ErrCaptureUnavailable = errors.New("probe: capture unavailable")
	ErrPollInFlight       = errors.New("probe: poll already in flight")
	ErrInvalidTransition  = errors.New("probe: invalid state transition")
)

// ControllerOption customizes a ScanController.
type ControllerOption func(*ScanController)

func WithObservability(obs ports.Observability) ControllerOption {
	return func(c *ScanController) {
		if obs != nil {
			c.obs = obs
		}
	}
}

// WithScanDuration sets the wait used when Poll is called without a timeout.
func WithScanDuration(d time.Duration) ControllerOption {
	return func(c *ScanController) {
		c.scanDuration = ClampScanDuration(d)
	}
}

// WithBuffer shares an existing buffer instead of allocating one.
func WithBuffer(b *DatumBuffer) ControllerOption {
	return func(c *ScanController) {
		if b != nil {
			c.buffer = b
		}
	}
}

// ScanController runs the scan/poll cycle for one radio probe. Captured
// observations land in the buffer; each Poll restarts the scan, waits, and
// drains whatever accumulated since the previous drain.
type ScanController struct {
	id           string
	capture      ports.Capture
	buffer       *DatumBuffer
	obs          ports.Observability
	scanDuration time.Duration
	after        func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	state    domain.ScanState
	stopCh   chan struct{}
	haltedCh chan struct{}
	stopOnce sync.Once
	polling  atomic.Bool
}

func NewScanController(id string, capture ports.Capture, opts ...ControllerOption) (*ScanController, error) {
	if id == "" {
		return nil, fmt.Errorf("probe id is required")
	}
	if capture == nil {
		return nil, fmt.Errorf("probe %s: capture is required", id)
	}
	c := &ScanController{
		id:           id,
		capture:      capture,
		buffer:       NewDatumBuffer(),
		obs:          ports.NopObservability{},
		scanDuration: DefaultScanDuration,
		after:        time.After,
		stopCh:       make(chan struct{}),
		haltedCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// ClampScanDuration raises d to MinScanDuration.
func ClampScanDuration(d time.Duration) time.Duration {
	if d < MinScanDuration {
		return MinScanDuration
	}
	return d
}

func (c *ScanController) ID() string                  { return c.id }
func (c *ScanController) Buffer() *DatumBuffer        { return c.buffer }
func (c *ScanController) ScanDuration() time.Duration { return c.scanDuration }

// Halted is closed once Stop has stopped the capture. Nothing is appended to
// the buffer after that.
func (c *ScanController) Halted() <-chan struct{} { return c.haltedCh }

func (c *ScanController) State() domain.ScanState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Initialize verifies the capture service is enabled, trying to enable it
// once. A capture that stays disabled aborts activation.
func (c *ScanController) Initialize(ctx context.Context) error {
	if s := c.State(); s != domain.ScanUninitialized {
		return fmt.Errorf("%w: initialize from %s", ErrInvalidTransition, s)
	}

	if en, ok := c.capture.(ports.Enabler); ok && !en.Enabled(ctx) {
		enableErr := en.Enable(ctx)
		if enableErr != nil || !en.Enabled(ctx) {
			err := fmt.Errorf("%w: probe %s", ErrCaptureUnavailable, c.id)
			if enableErr != nil {
				err = fmt.Errorf("%w: %w", err, enableErr)
			}
			c.obs.LogCritical("probe_activation_failed", err, ports.F("probe", c.id))
			return err
		}
	}

	c.capture.Bind(c.buffer)
	return c.transition(domain.ScanInitialized)
}

// Start begins advertising and returns immediately. Scanning itself starts
// with the first poll.
func (c *ScanController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != domain.ScanInitialized {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s)
	}
	c.state = domain.ScanScanning
	c.mu.Unlock()

	c.obs.LogInfo("advertise_start", ports.F("probe", c.id))
	if err := c.capture.StartAdvertise(ctx); err != nil {
		c.obs.LogError("advertise_start_failed", err, ports.F("probe", c.id))
	}
	return nil
}

// Poll restarts the scan, waits up to timeout (never less than
// MinScanDuration) and drains the buffer. Cancellation, Stop and capture
// errors only cut the wait short; the drain always happens. The scan is left
// running so that late arrivals are kept for the next poll.
func (c *ScanController) Poll(ctx context.Context, timeout time.Duration) ([]*domain.Observation, error) {
	if !c.polling.CompareAndSwap(false, true) {
		return nil, ErrPollInFlight
	}
	defer c.polling.Store(false)

	c.mu.Lock()
	if c.state != domain.ScanScanning && c.state != domain.ScanIdle {
		s := c.state
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: poll from %s", ErrInvalidTransition, s)
	}
	c.state = domain.ScanScanning
	c.mu.Unlock()

	if timeout <= 0 {
		timeout = c.scanDuration
	}
	c.scan(ctx, ClampScanDuration(timeout))

	batch := c.buffer.Drain()

	c.mu.Lock()
	if c.state == domain.ScanScanning {
		c.state = domain.ScanIdle
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return []*domain.Observation{nil}, nil
	}
	return batch, nil
}

func (c *ScanController) scan(ctx context.Context, timeout time.Duration) {
	if err := c.capture.StopScan(ctx); err != nil {
		c.obs.LogError("scan_stop_failed", err, ports.F("probe", c.id))
	}
	if err := c.capture.StartScan(ctx); err != nil {
		c.obs.LogError("scan_start_failed", err, ports.F("probe", c.id))
		return
	}

	select {
	case <-c.after(timeout):
	case <-ctx.Done():
		c.obs.LogInfo("scan_cancelled", ports.F("probe", c.id))
	case <-c.stopCh:
	}
}

// Stop halts scanning and advertising. Both steps always run; their errors
// are logged, never returned. Observations still in the buffer stay there
// for a final Buffer().Drain().
func (c *ScanController) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == domain.ScanStopped {
		c.mu.Unlock()
		return nil
	}
	c.state = domain.ScanStopped
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.obs.LogInfo("scan_stop", ports.F("probe", c.id))
	if err := c.capture.StopScan(ctx); err != nil {
		c.obs.LogError("scan_stop_failed", err, ports.F("probe", c.id))
	}

	c.obs.LogInfo("advertise_stop", ports.F("probe", c.id))
	if err := c.capture.StopAdvertise(ctx); err != nil {
		c.obs.LogError("advertise_stop_failed", err, ports.F("probe", c.id))
	}
	close(c.haltedCh)
	return nil
}

func (c *ScanController) transition(next domain.ScanState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, next)
	}
	c.state = next
	return nil
}

var _ ports.Probe = (*ScanController)(nil)
