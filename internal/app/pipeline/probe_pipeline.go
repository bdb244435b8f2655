package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/AegisProbe/internal/app/probe"
	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

var (
	ErrWALFull   = errors.New("pipeline: wal full")
	ErrQueueFull = errors.New("pipeline: queue full")
)

// DatumObserver sees every captured observation before it is spooled.
type DatumObserver interface {
	ObserveDatum(obs *domain.Observation)
}

// RunProbePipeline polls through sched and spools every observation to the
// WAL and then the queue. It blocks until ctx is done or the probe stops.
func RunProbePipeline(ctx context.Context, sched *probe.Scheduler, wal ports.WAL, q ports.ObservationQueue, pol ports.IngestPolicy, obs ports.Observability, observers ...DatumObserver) error {
	return sched.Run(ctx, func(ctx context.Context, probeID string, batch []*domain.Observation) {
		if domain.IsEmptyPoll(batch) {
			return
		}
		for _, o := range batch {
			if o == nil {
				continue
			}
			if o.ProbeID == "" {
				o.ProbeID = probeID
			}
			for _, ob := range observers {
				ob.ObserveDatum(o)
			}
			_ = Spool(ctx, wal, q, o, pol, obs)
		}
		obs.SetGauge("aegis_queue_length", float64(q.Len()))
		obs.SetGauge("aegis_wal_size_bytes", float64(wal.Stats().SizeBytes))
	})
}

// Spool writes o to the WAL and enqueues it under the overflow policy. An
// observation that made it into the WAL but not the queue is replayed on the
// next start.
func Spool(ctx context.Context, wal ports.WAL, q ports.ObservationQueue, o *domain.Observation, pol ports.IngestPolicy, obs ports.Observability) error {
	if err := waitForWALCapacity(ctx, wal, pol, obs); err != nil {
		obs.IncCounter("aegis_queue_dropped_total", 1)
		return err
	}

	id, err := wal.Append(o)
	if err != nil {
		obs.LogCritical("wal_append_failed", err, ports.F("probe", o.ProbeID))
		return err
	}

	if err := enqueueWithPolicy(ctx, q, id, o, pol, obs); err != nil {
		obs.IncCounter("aegis_queue_dropped_total", 1)
		return err
	}
	return nil
}

func waitForWALCapacity(ctx context.Context, wal ports.WAL, pol ports.IngestPolicy, obs ports.Observability) error {
	if pol.MaxWALSizeBytes <= 0 {
		return nil
	}
	for {
		stats := wal.Stats()
		if stats.SizeBytes < pol.MaxWALSizeBytes {
			return nil
		}

		switch pol.OnWALFull {
		case "block":
			if err := sleepCtx(ctx, idleSleep(pol)); err != nil {
				return err
			}
		case "drop":
			err := fmt.Errorf("%w: size=%d limit=%d", ErrWALFull, stats.SizeBytes, pol.MaxWALSizeBytes)
			obs.LogError("wal_full_drop", err)
			return err
		default:
			err := fmt.Errorf("%w: unknown policy %q", ErrWALFull, pol.OnWALFull)
			obs.LogError("wal_policy_invalid", err)
			return err
		}
	}
}

func enqueueWithPolicy(ctx context.Context, q ports.ObservationQueue, id ports.WALEntryID, o *domain.Observation, pol ports.IngestPolicy, obs ports.Observability) error {
	for {
		if q.Enqueue(id, o) {
			return nil
		}

		switch pol.OnQueueFull {
		case "block":
			if err := sleepCtx(ctx, idleSleep(pol)); err != nil {
				return err
			}
		case "drop", "reject":
			err := fmt.Errorf("%w: capacity %d", ErrQueueFull, pol.MaxQueueLen)
			obs.LogError("queue_full_drop", err, ports.F("wal_id", uint64(id)))
			return err
		default:
			err := fmt.Errorf("%w: unknown policy %q", ErrQueueFull, pol.OnQueueFull)
			obs.LogError("queue_policy_invalid", err)
			return err
		}
	}
}

func idleSleep(pol ports.IngestPolicy) time.Duration {
	if pol.IdleSleep <= 0 {
		return 5 * time.Millisecond
	}
	return pol.IdleSleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
