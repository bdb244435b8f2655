package ports

import (
	"context"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
)

type Initializable interface {
	Initialize(ctx context.Context) error
}

type Startable interface {
	Start(ctx context.Context) error
}

type Stoppable interface {
	Stop(ctx context.Context) error
}

// Pollable returns the observations gathered by one poll cycle. An empty
// cycle yields a single nil element.
type Pollable interface {
	Poll(ctx context.Context, timeout time.Duration) ([]*domain.Observation, error)
}

// Probe is the full capability set the runtime schedules.
type Probe interface {
	Initializable
	Startable
	Stoppable
	Pollable
	ID() string
}
