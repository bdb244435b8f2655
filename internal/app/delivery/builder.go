package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/AegisProbe/internal/domain"
)

// Builder creates delivery requests for one study protocol.
type Builder struct {
	protocolID string
	now        func() time.Time
	newID      func() string
}

type BuilderOption func(*Builder)

func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

func WithIDGenerator(gen func() string) BuilderOption {
	return func(b *Builder) {
		if gen != nil {
			b.newID = gen
		}
	}
}

func NewBuilder(protocolID string, opts ...BuilderOption) (*Builder, error) {
	if strings.TrimSpace(protocolID) == "" {
		return nil, fmt.Errorf("%w: protocol id is required", domain.ErrInvalidRequest)
	}
	b := &Builder{
		protocolID: protocolID,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Build validates the inputs and returns a request with a fresh id and the
// creation time stamped now. Nothing is returned on validation failure.
func (b *Builder) Build(target, title, body, sound, command string, scheduledAt time.Time, format domain.Format) (domain.DeliveryRequest, error) {
	if err := validateTarget(target, format); err != nil {
		return domain.DeliveryRequest{}, err
	}
	if scheduledAt.IsZero() {
		return domain.DeliveryRequest{}, fmt.Errorf("%w: scheduled time is required", domain.ErrInvalidRequest)
	}

	payload := domain.SurveyPayload{Title: title, Body: body, Sound: sound, Command: command}
	return domain.NewDeliveryRequest(b.newID(), target, b.protocolID, payload, format, b.now().UTC(), scheduledAt.UTC()), nil
}

func validateTarget(target string, format domain.Format) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("%w: target is required", domain.ErrInvalidRequest)
	}
	if _, err := format.WireName(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return nil
}
