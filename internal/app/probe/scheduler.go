package probe

import (
	"context"
	"errors"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// BatchHandler receives every polled batch, including the nil sentinel.
type BatchHandler func(ctx context.Context, probeID string, batch []*domain.Observation)

// Scheduler polls one probe on a fixed interval. Polls never overlap: the
// next cycle starts only after the previous batch was handed to the handler.
type Scheduler struct {
	probe    ports.Probe
	interval time.Duration
	timeout  time.Duration
	obs      ports.Observability
}

func NewScheduler(p ports.Probe, interval, timeout time.Duration, obs ports.Observability) *Scheduler {
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &Scheduler{probe: p, interval: interval, timeout: timeout, obs: obs}
}

// Run blocks until ctx is cancelled or the probe is stopped. A cancellation
// arriving mid-scan still drains and hands off the buffered observations. A
// stop, whether it lands mid-scan or between polls, is followed by one last
// drain of the probe's buffer once the capture has halted.
//
// With a zero interval polls run back to back, but two polls never start
// less than one minimum scan apart.
func (s *Scheduler) Run(ctx context.Context, handle BatchHandler) error {
	for {
		start := time.Now()
		batch, err := s.probe.Poll(ctx, s.timeout)
		switch {
		case errors.Is(err, ErrInvalidTransition):
			if s.stopped() {
				s.drainStopped(ctx, handle)
				return nil
			}
			return err
		case err != nil:
			s.obs.LogError("probe_poll_failed", err, ports.F("probe", s.probe.ID()))
		default:
			s.obs.IncCounter("aegis_probe_polls_total", 1)
			s.obs.ObserveLatency("aegis_probe_poll_seconds", time.Since(start).Seconds())
			if domain.IsEmptyPoll(batch) {
				s.obs.IncCounter("aegis_probe_empty_polls_total", 1)
			}
			handle(ctx, s.probe.ID(), batch)
		}

		if s.stopped() {
			s.drainStopped(ctx, handle)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if !s.pause(ctx, start) {
			if s.stopped() {
				s.drainStopped(ctx, handle)
			}
			return nil
		}
	}
}

// pause waits out the rest of the cycle that began at start. It reports
// false when ctx is done or the probe halted first.
func (s *Scheduler) pause(ctx context.Context, start time.Time) bool {
	wait := s.interval
	if wait <= 0 {
		wait = ClampScanDuration(s.timeout) - time.Since(start)
		if wait <= 0 {
			return true
		}
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-s.halted():
		return false
	case <-t.C:
		return true
	}
}

func (s *Scheduler) drainStopped(ctx context.Context, handle BatchHandler) {
	if h := s.halted(); h != nil {
		select {
		case <-h:
		case <-ctx.Done():
		}
	}
	b, ok := s.probe.(interface{ Buffer() *DatumBuffer })
	if !ok {
		return
	}
	batch := b.Buffer().Drain()
	if len(batch) == 0 {
		return
	}
	s.obs.LogInfo("probe_final_drain", ports.F("probe", s.probe.ID()), ports.F("observations", len(batch)))
	handle(ctx, s.probe.ID(), batch)
}

// halted is nil for probes that do not signal their stop; a nil channel
// never fires in a select.
func (s *Scheduler) halted() <-chan struct{} {
	if h, ok := s.probe.(interface{ Halted() <-chan struct{} }); ok {
		return h.Halted()
	}
	return nil
}

func (s *Scheduler) stopped() bool {
	type stater interface{ State() domain.ScanState }
	st, ok := s.probe.(stater)
	return ok && st.State() == domain.ScanStopped
}
