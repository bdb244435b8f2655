package domain

import "time"

// Observation is the canonical unit a probe produces. Payload semantics belong
// to the probe that captured it; the scheduling core only moves it around.
type Observation struct {
	ProbeID   string             `json:"probe_id" msgpack:"probe_id"`
	SensorID  string             `json:"sensor_id" msgpack:"sensor_id"`
	Timestamp time.Time          `json:"ts" msgpack:"ts"`
	Seq       uint64             `json:"seq" msgpack:"seq"`
	Values    map[string]float64 `json:"values,omitempty" msgpack:"values,omitempty"`
	Tags      map[string]string  `json:"tags,omitempty" msgpack:"tags,omitempty"`
}

// IsEmptyPoll reports whether a polled batch is the single nil sentinel that
// marks "polled, nothing found".
func IsEmptyPoll(batch []*Observation) bool {
	return len(batch) == 1 && batch[0] == nil
}
