package domain

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeKind is a user action on a previously delivered survey.
type OutcomeKind int

const (
	OutcomeUnknown OutcomeKind = iota
	OutcomeOpened
	OutcomeCancelled
	OutcomeSubmitted
	OutcomeDeleted
	OutcomeExpired
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOpened:
		return "opened"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// ParseOutcomeKind accepts the lower-case names produced by String.
func ParseOutcomeKind(s string) (OutcomeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "opened":
		return OutcomeOpened, nil
	case "cancelled", "canceled":
		return OutcomeCancelled, nil
	case "submitted":
		return OutcomeSubmitted, nil
	case "deleted":
		return OutcomeDeleted, nil
	case "expired":
		return OutcomeExpired, nil
	default:
		return OutcomeUnknown, fmt.Errorf("unknown outcome kind %q", s)
	}
}

// OutcomeEvent ties an outcome to the delivery instance it happened on.
type OutcomeEvent struct {
	DeliveryID string
	Kind       OutcomeKind
	At         time.Time
}
