package ports

import "github.com/ghalamif/AegisProbe/internal/domain"

type QueuedObservation struct {
	ID          WALEntryID
	Observation *domain.Observation
}

type ObservationQueue interface {
	Enqueue(id WALEntryID, obs *domain.Observation) bool
	DequeueBatch(max int) []QueuedObservation
	Len() int
}
