package aegisprobe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisProbe/internal/adapters/queue"
	"github.com/ghalamif/AegisProbe/internal/adapters/wal"
	"github.com/ghalamif/AegisProbe/internal/app/pipeline"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

var (
	// ErrQueueFull indicates the in-memory queue rejected the observation according to policy.
	ErrQueueFull = pipeline.ErrQueueFull
	// ErrWALFull indicates the WAL is at capacity and on_wal_full is not "block".
	ErrWALFull = pipeline.ErrWALFull
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	Policy IngestPolicy
	WAL    WALConfig
	// Observability defaults to a no-op backend.
	Observability Observability
}

func (c *PublisherConfig) applyDefaults() {
	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 10 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 100_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 5_000
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = "block"
	}
	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/aegisprobe-wal"
	}
	if c.Observability == nil {
		c.Observability = ports.NopObservability{}
	}
}

func (c *PublisherConfig) validate() error {
	if c.Policy.MaxQueueLen <= 0 {
		return fmt.Errorf("policy.max_queue_len must be > 0")
	}
	if c.Policy.MaxBatchSize <= 0 {
		return fmt.Errorf("policy.max_batch_size must be > 0")
	}
	return nil
}

// Publisher exposes the WAL→queue→sink pipeline to producers that are not
// probes, such as an app pushing observations it captured itself.
type Publisher struct {
	policy IngestPolicy
	wal    ports.WAL
	queue  ports.ObservationQueue
	obs    ports.Observability

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewPublisher replays anything left uncommitted in the WAL and starts
// delivering batches to sink.
func NewPublisher(cfg PublisherConfig, sink Sink) (*Publisher, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	w, err := wal.NewFileWAL(cfg.WAL.Dir)
	if err != nil {
		return nil, err
	}
	q := queue.NewMemQueue(cfg.Policy.MaxQueueLen)

	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		policy: cfg.Policy,
		wal:    w,
		queue:  q,
		obs:    cfg.Observability,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(p.done)
		_ = pipeline.RunIngestPipeline(ctx, p.wal, p.queue, sink, p.policy, p.obs)
	}()

	if _, err := pipeline.ReplayWAL(ctx, p.wal, p.queue, p.policy, p.obs); err != nil {
		cancel()
		<-p.done
		_ = w.Close()
		return nil, err
	}
	return p, nil
}

// Publish appends o to the WAL and enqueues it according to policy.
func (p *Publisher) Publish(ctx context.Context, o Observation) error {
	c := o
	return pipeline.Spool(ctx, p.wal, p.queue, &c, p.policy, p.obs)
}

// Close stops the ingest loop and closes the WAL. Observations still queued
// stay in the WAL and are replayed by the next publisher on the same dir.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.cancel()
		select {
		case <-p.done:
			p.closeErr = p.wal.Close()
		case <-ctx.Done():
			p.closeErr = ctx.Err()
		}
	})
	return p.closeErr
}
