package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// PolicyAgent is the agent side of the outcome loop.
type PolicyAgent interface {
	ID() string
	Observe(ev domain.OutcomeEvent) domain.DeliveryPolicy
	SetPolicy(p domain.DeliveryPolicy)
	Reset()
	Policy() domain.DeliveryPolicy
}

// PolicyKeeper applies policy changes and persists them under one lock, so
// the stored policy is always the one from the latest change. Every writer of
// the agent's policy must go through the same keeper.
type PolicyKeeper struct {
	mu    sync.Mutex
	agent PolicyAgent
	store ports.PolicyStore
}

// NewPolicyKeeper returns a keeper; a nil store keeps the policy in memory only.
func NewPolicyKeeper(agent PolicyAgent, store ports.PolicyStore) *PolicyKeeper {
	return &PolicyKeeper{agent: agent, store: store}
}

func (k *PolicyKeeper) Agent() PolicyAgent { return k.agent }

// Observe feeds ev to the agent, logs it and saves the resulting policy. The
// returned policy is the in-memory one even when persisting failed.
func (k *PolicyKeeper) Observe(ctx context.Context, ev domain.OutcomeEvent) (domain.DeliveryPolicy, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	after := k.agent.Observe(ev)
	if k.store == nil {
		return after, nil
	}
	var errs []error
	if err := k.store.RecordOutcome(ctx, ev, after); err != nil {
		errs = append(errs, fmt.Errorf("record outcome: %w", err))
	}
	if err := k.store.SavePolicy(ctx, k.agent.ID(), after); err != nil {
		errs = append(errs, fmt.Errorf("save policy: %w", err))
	}
	return after, errors.Join(errs...)
}

// Set installs p verbatim and persists it.
func (k *PolicyKeeper) Set(ctx context.Context, p domain.DeliveryPolicy) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.agent.SetPolicy(p)
	return k.save(ctx)
}

// Reset returns the agent to the default probability and persists it.
func (k *PolicyKeeper) Reset(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.agent.Reset()
	return k.save(ctx)
}

// Restore installs the stored policy, if any.
func (k *PolicyKeeper) Restore(ctx context.Context) (domain.DeliveryPolicy, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.store == nil {
		return domain.DeliveryPolicy{}, false, nil
	}
	p, found, err := k.store.LoadPolicy(ctx, k.agent.ID())
	if err != nil || !found {
		return p, false, err
	}
	k.agent.SetPolicy(p)
	return p, true, nil
}

func (k *PolicyKeeper) save(ctx context.Context) error {
	if k.store == nil {
		return nil
	}
	return k.store.SavePolicy(ctx, k.agent.ID(), k.agent.Policy())
}
