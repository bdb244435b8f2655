package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

const maxSinkBackoff = 5 * time.Second

var errIncomplete = errors.New("observation missing probe, sensor or timestamp")

// Notifier is implemented by queues that can wake a consumer on enqueue.
type Notifier interface {
	Ready() <-chan struct{}
}

// RunIngestPipeline moves queued observations to the sink and commits the
// WAL behind them. A failing sink is retried with backoff; the batch stays
// uncommitted so nothing is lost if the process exits first.
func RunIngestPipeline(ctx context.Context, wal ports.WAL, q ports.ObservationQueue, sink ports.Sink, pol ports.IngestPolicy, obs ports.Observability) error {
	var ready <-chan struct{}
	if n, ok := q.(Notifier); ok {
		ready = n.Ready()
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		batch := q.DequeueBatch(pol.MaxBatchSize)
		if len(batch) == 0 {
			if err := waitForWork(ctx, ready, idleSleep(pol)); err != nil {
				return nil
			}
			continue
		}

		var (
			out   = make([]*domain.Observation, 0, len(batch))
			maxID ports.WALEntryID
		)
		for _, item := range batch {
			if item.ID > maxID {
				maxID = item.ID
			}
			if !complete(item.Observation) {
				obs.RecordDLQ(item.ID, item.Observation, errIncomplete)
				continue
			}
			out = append(out, item.Observation)
		}

		if len(out) > 0 {
			start := time.Now()
			if err := writeWithRetry(ctx, sink, out, idleSleep(pol), obs); err != nil {
				return nil
			}
			obs.ObserveLatency("ingest_sink_latency_seconds", time.Since(start).Seconds())
			obs.IncCounter("aegis_observations_ingested_total", float64(len(out)))
		}

		if err := wal.Commit(maxID); err != nil {
			obs.LogError("wal_commit_failed", err)
		}
		obs.SetGauge("aegis_queue_length", float64(q.Len()))
	}
}

// writeWithRetry returns only on success or when ctx is done.
func writeWithRetry(ctx context.Context, sink ports.Sink, out []*domain.Observation, backoff time.Duration, obs ports.Observability) error {
	for {
		err := sink.WriteBatch(out)
		if err == nil {
			return nil
		}
		obs.LogError("sink_write_failed", err, ports.F("sink", sink.Name()), ports.F("batch", len(out)))
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > maxSinkBackoff {
			backoff = maxSinkBackoff
		}
	}
}

func waitForWork(ctx context.Context, ready <-chan struct{}, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ready:
	case <-t.C:
	}
	return nil
}

func complete(o *domain.Observation) bool {
	return o != nil && o.ProbeID != "" && o.SensorID != "" && !o.Timestamp.IsZero()
}

// ReplayWAL enqueues every uncommitted WAL record. Run it before the probe
// pipeline so replayed observations keep their original order.
func ReplayWAL(ctx context.Context, wal ports.WAL, q ports.ObservationQueue, pol ports.IngestPolicy, obs ports.Observability) (int, error) {
	from := wal.Stats().OldestUncommitted
	n := 0
	err := wal.Iterate(from, func(id ports.WALEntryID, o *domain.Observation) error {
		if err := enqueueWithPolicy(ctx, q, id, o, pol, obs); err != nil {
			return err
		}
		n++
		return nil
	})
	if n > 0 {
		obs.LogInfo("wal_replayed", ports.F("records", n), ports.F("from", uint64(from)))
	}
	return n, err
}
