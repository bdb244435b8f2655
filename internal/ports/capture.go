package ports

import (
	"context"

	"github.com/ghalamif/AegisProbe/internal/domain"
)

// Emitter is the single asynchronous emission point capture callbacks write into.
type Emitter interface {
	Append(obs *domain.Observation)
}

// Capture drives a scanning radio. Implementations deliver whatever they
// detect to the Emitter handed to Bind, from any goroutine.
type Capture interface {
	Bind(out Emitter)
	StartScan(ctx context.Context) error
	StopScan(ctx context.Context) error
	StartAdvertise(ctx context.Context) error
	StopAdvertise(ctx context.Context) error
}

// Enabler is implemented by captures whose underlying service can be switched off.
type Enabler interface {
	Enabled(ctx context.Context) bool
	Enable(ctx context.Context) error
}

// Listener is a continuously running source (ambient sensors, beacon proximity).
type Listener interface {
	Start(ctx context.Context, out Emitter) error
	Stop() error
}
