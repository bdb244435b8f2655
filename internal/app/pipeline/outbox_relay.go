package pipeline

import (
	"context"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// DueOutbox is the read side of a persistent request outbox.
type DueOutbox interface {
	Due(ctx context.Context, now time.Time, limit int) ([]domain.WireRequest, error)
	MarkSent(ctx context.Context, id string) error
}

// WireSender hands one request to the transport.
type WireSender interface {
	Send(ctx context.Context, w domain.WireRequest) error
}

// RunOutboxRelay sends every request whose scheduled time has passed, so
// deferred surveys go out when their deferral expires. A request that fails
// to send stays pending and is retried on the next tick.
func RunOutboxRelay(ctx context.Context, outbox DueOutbox, sender WireSender, interval time.Duration, batch int, obs ports.Observability) error {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		relayDue(ctx, outbox, sender, batch, obs)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func relayDue(ctx context.Context, outbox DueOutbox, sender WireSender, batch int, obs ports.Observability) {
	due, err := outbox.Due(ctx, time.Now(), batch)
	if err != nil {
		obs.LogError("outbox_read_failed", err)
		return
	}
	for _, w := range due {
		if err := sender.Send(ctx, w); err != nil {
			obs.LogError("request_send_failed", err, ports.F("id", w.ID), ports.F("device", w.Device))
			return
		}
		if err := outbox.MarkSent(ctx, w.ID); err != nil {
			obs.LogError("outbox_mark_failed", err, ports.F("id", w.ID))
			continue
		}
		obs.IncCounter("aegis_requests_relayed_total", 1)
	}
}
