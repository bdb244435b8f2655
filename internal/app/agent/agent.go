// Package agent adapts survey delivery to how users respond to it. Each
// outcome nudges the delivery probability; each candidate delivery is a
// single weighted coin flip against that probability.
package agent

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

const (
	ID             = "Adaptive"
	MinProbability = 0.1
	MaxProbability = 1.0
)

// Rewards are the probability deltas applied per outcome. Positive values
// raise the probability for opened/submitted and lower it for the rest.
type Rewards struct {
	OpenCancel         float64 `yaml:"open_cancel"`
	SubmitDeleteExpire float64 `yaml:"submit_delete_expire"`
}

func DefaultRewards() Rewards {
	return Rewards{OpenCancel: 0.1, SubmitDeleteExpire: 0.2}
}

// Config seeds a new agent.
type Config struct {
	Policy  domain.DeliveryPolicy
	Rewards Rewards
}

func DefaultConfig() Config {
	return Config{Policy: domain.DefaultDeliveryPolicy(), Rewards: DefaultRewards()}
}

type Option func(*Agent)

// WithRandomSource replaces the process-wide generator, e.g. with a
// deterministic sequence in tests.
func WithRandomSource(src ports.RandomSource) Option {
	return func(a *Agent) {
		if src != nil {
			a.rand = src
		}
	}
}

func WithObservability(obs ports.Observability) Option {
	return func(a *Agent) {
		if obs != nil {
			a.obs = obs
		}
	}
}

// Stats are diagnostic counters; Reset zeroes them.
type Stats struct {
	DataObserved     int64
	OutcomesObserved int64
	Decisions        int64
	Deliveries       int64
}

// Agent is safe for concurrent use. Observe and Decide are serialized on one
// mutex so no update is lost to a racing read-modify-write.
type Agent struct {
	rewards Rewards
	rand    ports.RandomSource
	obs     ports.Observability

	mu     sync.Mutex
	policy domain.DeliveryPolicy
	stats  Stats
}

func New(cfg Config, opts ...Option) *Agent {
	a := &Agent{
		rewards: cfg.Rewards,
		rand:    globalRand{},
		obs:     ports.NopObservability{},
		policy:  cfg.Policy,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.obs.SetGauge("aegis_delivery_probability", a.policy.Probability)
	return a
}

// Observe applies the reward for ev and clamps the result to
// [MinProbability, MaxProbability]. Unknown kinds are ignored.
func (a *Agent) Observe(ev domain.OutcomeEvent) domain.DeliveryPolicy {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.OutcomesObserved++
	p := a.policy.Probability
	switch ev.Kind {
	case domain.OutcomeOpened:
		p += a.rewards.OpenCancel
	case domain.OutcomeCancelled:
		p -= a.rewards.OpenCancel
	case domain.OutcomeSubmitted:
		p += a.rewards.SubmitDeleteExpire
	case domain.OutcomeDeleted, domain.OutcomeExpired:
		p -= a.rewards.SubmitDeleteExpire
	default:
		return a.policy
	}
	if math.IsNaN(p) {
		p = MinProbability
	}
	p = math.Min(MaxProbability, math.Max(MinProbability, p))
	a.policy.Probability = roundProbability(p)

	a.obs.IncCounter("aegis_outcomes_total", 1)
	a.obs.SetGauge("aegis_delivery_probability", a.policy.Probability)
	return a.policy
}

// ObserveDatum counts sensor data seen by the agent. It does not influence
// the policy.
func (a *Agent) ObserveDatum(*domain.Observation) {
	a.mu.Lock()
	a.stats.DataObserved++
	a.mu.Unlock()
}

// Decide delivers with the current probability; otherwise the survey is
// deferred by exactly the configured interval.
func (a *Agent) Decide(now time.Time) domain.DeliveryDecision {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Decisions++
	if a.rand.Float64() < sanitize(a.policy.Probability) {
		a.stats.Deliveries++
		a.obs.IncCounter("aegis_deliveries_total", 1)
		return domain.DeliverNow()
	}
	a.obs.IncCounter("aegis_deferrals_total", 1)
	return domain.DeferUntil(now.Add(a.policy.Deferral))
}

// Reset returns the probability to the default midpoint and clears counters.
// The deferral interval is kept.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policy.Probability = domain.DefaultProbability
	a.stats = Stats{}
	a.obs.SetGauge("aegis_delivery_probability", a.policy.Probability)
}

// SetPolicy installs p verbatim, bypassing the adaptive clamp.
func (a *Agent) SetPolicy(p domain.DeliveryPolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.policy = p
	a.obs.SetGauge("aegis_delivery_probability", p.Probability)
}

// LoadPolicy parses a serialized policy and installs it verbatim.
func (a *Agent) LoadPolicy(data []byte) error {
	p, err := domain.LoadDeliveryPolicy(data)
	if err != nil {
		return err
	}
	a.SetPolicy(p)
	return nil
}

func (a *Agent) Policy() domain.DeliveryPolicy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.policy
}

func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Agent) ID() string { return ID }

// Describe is for diagnostics only.
func (a *Agent) Describe() string {
	return a.Policy().String()
}

func (a *Agent) String() string {
	return fmt.Sprintf("%s:  %s", ID, a.Describe())
}

// sanitize keeps a corrupt probability from breaking the comparison.
func sanitize(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return MinProbability
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

// roundProbability strips the float error accumulated by repeated decimal steps.
func roundProbability(p float64) float64 {
	return math.Round(p*1e9) / 1e9
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
