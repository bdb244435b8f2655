package pipeline

import (
	"context"
	"fmt"

	"github.com/ghalamif/AegisProbe/internal/ports"
)

// RunOutcomePipeline feeds every outcome through keeper, which updates the
// agent and persists the result. Store errors are logged; the in-memory
// policy is authoritative until the next save succeeds.
func RunOutcomePipeline(ctx context.Context, src ports.OutcomeSource, keeper *PolicyKeeper, obs ports.Observability) error {
	events, err := src.Outcomes(ctx)
	if err != nil {
		return fmt.Errorf("outcome source: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			after, err := keeper.Observe(ctx, ev)
			obs.LogInfo("policy_updated",
				ports.F("delivery", ev.DeliveryID),
				ports.F("outcome", ev.Kind.String()),
				ports.F("p", after.Probability))
			if err != nil {
				obs.LogError("policy_persist_failed", err, ports.F("agent", keeper.Agent().ID()))
			}
		}
	}
}
