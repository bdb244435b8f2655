package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidPolicy is returned when a serialized delivery policy cannot be loaded.
var ErrInvalidPolicy = errors.New("invalid delivery policy")

const (
	DefaultProbability = 0.5
	DefaultDeferral    = 30 * time.Second
)

// DeliveryPolicy is the probability of delivering a survey immediately plus
// the delay applied when it is not.
type DeliveryPolicy struct {
	Probability float64
	Deferral    time.Duration
}

func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{Probability: DefaultProbability, Deferral: DefaultDeferral}
}

type policyWire struct {
	P        *float64     `json:"p"`
	Deferral *json.Number `json:"deferral"`
}

// LoadDeliveryPolicy parses {"p": <float>, "deferral": <integer seconds>}.
// The probability is taken verbatim; only adaptive updates clamp it.
func LoadDeliveryPolicy(data []byte) (DeliveryPolicy, error) {
	var w policyWire
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return DeliveryPolicy{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if w.P == nil {
		return DeliveryPolicy{}, fmt.Errorf("%w: missing field \"p\"", ErrInvalidPolicy)
	}
	if w.Deferral == nil {
		return DeliveryPolicy{}, fmt.Errorf("%w: missing field \"deferral\"", ErrInvalidPolicy)
	}
	secs, err := strconv.ParseInt(w.Deferral.String(), 10, 64)
	if err != nil {
		return DeliveryPolicy{}, fmt.Errorf("%w: deferral must be integer seconds, got %s", ErrInvalidPolicy, w.Deferral.String())
	}
	if secs < 0 {
		return DeliveryPolicy{}, fmt.Errorf("%w: deferral must be >= 0, got %d", ErrInvalidPolicy, secs)
	}
	return DeliveryPolicy{
		Probability: *w.P,
		Deferral:    time.Duration(secs) * time.Second,
	}, nil
}

// Serialize renders the policy in the same format LoadDeliveryPolicy reads.
// Sub-second deferral is truncated. Only finite probabilities round-trip:
// JSON has no NaN or Inf, so those are written as 0.
func (p DeliveryPolicy) Serialize() string {
	b, err := json.Marshal(struct {
		P        float64 `json:"p"`
		Deferral int64   `json:"deferral"`
	}{
		P:        p.Probability,
		Deferral: int64(p.Deferral / time.Second),
	})
	if err != nil {
		return fmt.Sprintf(`{"p":0,"deferral":%d}`, int64(p.Deferral/time.Second))
	}
	return string(b)
}

func (p DeliveryPolicy) String() string {
	return "p=" + strconv.FormatFloat(p.Probability, 'g', -1, 64) + "; deferral=" + p.Deferral.String()
}
