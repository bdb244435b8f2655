package domain

import "time"

// DeliveryDecision answers "deliver now or defer". DeferUntil is set iff
// Deliver is false.
type DeliveryDecision struct {
	Deliver    bool
	DeferUntil *time.Time
}

func DeliverNow() DeliveryDecision {
	return DeliveryDecision{Deliver: true}
}

func DeferUntil(t time.Time) DeliveryDecision {
	return DeliveryDecision{DeferUntil: &t}
}
