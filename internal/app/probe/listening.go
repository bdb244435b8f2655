package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// ListeningProbe wraps a continuously running source. There is no scan to
// restart; Poll only hands off what the listener produced since last time.
type ListeningProbe struct {
	id       string
	listener ports.Listener
	buffer   *DatumBuffer
	obs      ports.Observability

	mu     sync.Mutex
	state  domain.ScanState
	halted chan struct{}
}

func NewListeningProbe(id string, listener ports.Listener, obs ports.Observability) (*ListeningProbe, error) {
	if id == "" {
		return nil, fmt.Errorf("probe id is required")
	}
	if listener == nil {
		return nil, fmt.Errorf("probe %s: listener is required", id)
	}
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &ListeningProbe{
		id:       id,
		listener: listener,
		buffer:   NewDatumBuffer(),
		obs:      obs,
		halted:   make(chan struct{}),
	}, nil
}

func (p *ListeningProbe) ID() string              { return p.id }
func (p *ListeningProbe) Buffer() *DatumBuffer    { return p.buffer }
func (p *ListeningProbe) Halted() <-chan struct{} { return p.halted }

func (p *ListeningProbe) State() domain.ScanState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *ListeningProbe) Initialize(ctx context.Context) error {
	return p.transition(domain.ScanInitialized)
}

func (p *ListeningProbe) Start(ctx context.Context) error {
	if s := p.State(); s != domain.ScanInitialized {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s)
	}
	if err := p.listener.Start(ctx, p.buffer); err != nil {
		return fmt.Errorf("probe %s: start listening: %w", p.id, err)
	}
	p.obs.LogInfo("listening_start", ports.F("probe", p.id))
	return p.transition(domain.ScanScanning)
}

// Poll drains immediately; timeout is ignored because listening never pauses.
// Pacing is left to the Scheduler.
func (p *ListeningProbe) Poll(ctx context.Context, _ time.Duration) ([]*domain.Observation, error) {
	s := p.State()
	if s != domain.ScanScanning && s != domain.ScanIdle {
		return nil, fmt.Errorf("%w: poll from %s", ErrInvalidTransition, s)
	}
	batch := p.buffer.Drain()
	if len(batch) == 0 {
		return []*domain.Observation{nil}, nil
	}
	return batch, nil
}

func (p *ListeningProbe) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.state == domain.ScanStopped {
		p.mu.Unlock()
		return nil
	}
	wasListening := p.state == domain.ScanScanning
	p.state = domain.ScanStopped
	p.mu.Unlock()

	if wasListening {
		if err := p.listener.Stop(); err != nil {
			p.obs.LogError("listening_stop_failed", err, ports.F("probe", p.id))
		}
	}
	close(p.halted)
	return nil
}

func (p *ListeningProbe) transition(next domain.ScanState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.state, next)
	}
	p.state = next
	return nil
}

var _ ports.Probe = (*ListeningProbe)(nil)
