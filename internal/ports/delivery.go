package ports

import (
	"context"

	"github.com/ghalamif/AegisProbe/internal/domain"
)

// OutcomeSource delivers outcome events until ctx is done or the source closes.
type OutcomeSource interface {
	Outcomes(ctx context.Context) (<-chan domain.OutcomeEvent, error)
	Close() error
}

// PolicyStore persists the agent's policy across restarts.
type PolicyStore interface {
	SavePolicy(ctx context.Context, agentID string, p domain.DeliveryPolicy) error
	LoadPolicy(ctx context.Context, agentID string) (domain.DeliveryPolicy, bool, error)
	RecordOutcome(ctx context.Context, ev domain.OutcomeEvent, after domain.DeliveryPolicy) error
}

// RequestOutbox hands built requests to the transport boundary.
type RequestOutbox interface {
	Enqueue(ctx context.Context, req domain.DeliveryRequest) error
}
