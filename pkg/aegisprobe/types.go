package aegisprobe

import (
	"github.com/ghalamif/AegisProbe/internal/app/delivery"
	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// Observation is what probes capture and the WAL→queue→sink pipeline moves.
type Observation = domain.Observation

// QueuedObservation is an item buffered in the bounded queue.
type QueuedObservation = ports.QueuedObservation

// ObservationQueue decouples probe polling from the sink.
type ObservationQueue = ports.ObservationQueue

// Capture drives a scanning radio on behalf of the scan cycle controller.
type Capture = ports.Capture

// Listener is a continuously running source such as an ambient sensor.
type Listener = ports.Listener

// Emitter is where captures deliver observations.
type Emitter = ports.Emitter

// Probe is a pollable source with an Initialize/Start/Stop lifecycle.
type Probe = ports.Probe

// Sink persists batches of observations.
type Sink = ports.Sink

// Observability emits logs and metrics.
type Observability = ports.Observability

// Field is a structured log field.
type Field = ports.Field

// WAL is the observation write-ahead log.
type WAL = ports.WAL

type WALStats = ports.WALStats

type WALEntryID = ports.WALEntryID

// PolicyStore keeps the agent's policy across restarts.
type PolicyStore = ports.PolicyStore

// OutcomeSource streams user responses to delivered surveys.
type OutcomeSource = ports.OutcomeSource

// RequestOutbox receives built delivery requests.
type RequestOutbox = ports.RequestOutbox

// RandomSource yields uniform values in [0,1).
type RandomSource = ports.RandomSource

type (
	ScanState        = domain.ScanState
	DeliveryPolicy   = domain.DeliveryPolicy
	DeliveryDecision = domain.DeliveryDecision
	DeliveryRequest  = domain.DeliveryRequest
	WireRequest      = domain.WireRequest
	SurveyPayload    = domain.SurveyPayload
	Format           = domain.Format
	OutcomeEvent     = domain.OutcomeEvent
	OutcomeKind      = domain.OutcomeKind
	Candidate        = delivery.Candidate
	Offer            = delivery.Offer
)

const (
	ScanUninitialized = domain.ScanUninitialized
	ScanInitialized   = domain.ScanInitialized
	ScanScanning      = domain.ScanScanning
	ScanIdle          = domain.ScanIdle
	ScanStopped       = domain.ScanStopped

	FormatFirebase = domain.FormatFirebase
	FormatApple    = domain.FormatApple

	OutcomeOpened    = domain.OutcomeOpened
	OutcomeCancelled = domain.OutcomeCancelled
	OutcomeSubmitted = domain.OutcomeSubmitted
	OutcomeDeleted   = domain.OutcomeDeleted
	OutcomeExpired   = domain.OutcomeExpired
)

// LoadDeliveryPolicy parses the {"p": ..., "deferral": ...} policy format.
func LoadDeliveryPolicy(data []byte) (DeliveryPolicy, error) {
	return domain.LoadDeliveryPolicy(data)
}
