package ports

import "github.com/ghalamif/AegisProbe/internal/domain"

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)

	RecordDLQ(id WALEntryID, obs *domain.Observation, err error)
}

type Field struct {
	Key   string
	Value any
}

// F is shorthand for building a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// NopObservability discards everything. Useful as a default in tests and
// for components constructed without a telemetry backend.
type NopObservability struct{}

func (NopObservability) LogInfo(string, ...Field)                         {}
func (NopObservability) LogError(string, error, ...Field)                 {}
func (NopObservability) LogCritical(string, error, ...Field)              {}
func (NopObservability) IncCounter(string, float64)                       {}
func (NopObservability) ObserveLatency(string, float64)                   {}
func (NopObservability) SetGauge(string, float64)                         {}
func (NopObservability) RecordDLQ(WALEntryID, *domain.Observation, error) {}

var _ Observability = NopObservability{}
