package ports

import "github.com/ghalamif/AegisProbe/internal/domain"

type Sink interface {
	WriteBatch(obs []*domain.Observation) error
	Name() string
}
