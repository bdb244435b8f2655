package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/ghalamif/AegisProbe/internal/domain"
)

func TestListeningProbeDrainsListenerOutput(t *testing.T) {
	l := &fakeListener{}
	p, err := NewListeningProbe("ambient-temperature", l, nil)
	if err != nil {
		t.Fatalf("new probe: %v", err)
	}
	ctx := context.Background()

	if err := p.Start(ctx); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("start before initialize should fail, got %v", err)
	}
	if err := p.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	batch, err := p.Poll(ctx, 0)
	if err != nil || !domain.IsEmptyPoll(batch) {
		t.Fatalf("expected empty poll sentinel, got %+v err=%v", batch, err)
	}

	reading := &domain.Observation{SensorID: "temp", Values: map[string]float64{"celsius": 21.5}}
	l.emit(reading)

	batch, err = p.Poll(ctx, 0)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(batch) != 1 || batch[0] != reading {
		t.Fatalf("unexpected batch %+v", batch)
	}

	if err := p.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !l.stopped {
		t.Fatalf("listener should be stopped")
	}
	if _, err := p.Poll(ctx, 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("poll after stop should fail, got %v", err)
	}
}
