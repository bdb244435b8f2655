package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// Decider answers whether a candidate survey goes out now.
type Decider interface {
	Decide(now time.Time) domain.DeliveryDecision
}

// Candidate is a survey waiting to be offered to one device.
type Candidate struct {
	Target  string
	Format  domain.Format
	Payload domain.SurveyPayload
}

// Offer is the outcome of offering one candidate.
type Offer struct {
	Decision domain.DeliveryDecision
	Request  domain.DeliveryRequest
}

// Dispatcher turns candidates into scheduled requests: delivered ones are
// scheduled now, deferred ones at the deferral time.
type Dispatcher struct {
	decider       Decider
	builder       *Builder
	outbox        ports.RequestOutbox
	defaultTarget string
	defaultFormat domain.Format
	obs           ports.Observability
}

type DispatcherConfig struct {
	DefaultTarget string
	DefaultFormat domain.Format
}

func NewDispatcher(decider Decider, builder *Builder, outbox ports.RequestOutbox, cfg DispatcherConfig, obs ports.Observability) (*Dispatcher, error) {
	if decider == nil {
		return nil, fmt.Errorf("decider is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("builder is required")
	}
	if obs == nil {
		obs = ports.NopObservability{}
	}
	return &Dispatcher{
		decider:       decider,
		builder:       builder,
		outbox:        outbox,
		defaultTarget: cfg.DefaultTarget,
		defaultFormat: cfg.DefaultFormat,
		obs:           obs,
	}, nil
}

// Offer asks the decider, builds the request and hands it to the outbox.
// A build error means nothing was scheduled.
func (d *Dispatcher) Offer(ctx context.Context, c Candidate) (Offer, error) {
	target := c.Target
	if target == "" {
		target = d.defaultTarget
	}
	format := c.Format
	if format == domain.FormatUnspecified {
		format = d.defaultFormat
	}
	if err := validateTarget(target, format); err != nil {
		return Offer{}, err
	}

	now := d.builder.now()
	decision := d.decider.Decide(now)
	at := now
	if !decision.Deliver {
		at = *decision.DeferUntil
	}

	req, err := d.builder.Build(target, c.Payload.Title, c.Payload.Body, c.Payload.Sound, c.Payload.Command, at, format)
	if err != nil {
		return Offer{}, err
	}

	if d.outbox != nil {
		if err := d.outbox.Enqueue(ctx, req); err != nil {
			return Offer{}, fmt.Errorf("enqueue delivery %s: %w", req.ID(), err)
		}
	}

	d.obs.LogInfo("delivery_offered",
		ports.F("id", req.ID()),
		ports.F("deliver", decision.Deliver),
		ports.F("scheduled_at", req.ScheduledAt()))
	return Offer{Decision: decision, Request: req}, nil
}
