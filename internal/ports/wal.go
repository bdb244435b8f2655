package ports

import "github.com/ghalamif/AegisProbe/internal/domain"

type WALEntryID uint64

type WAL interface {
	Append(obs *domain.Observation) (WALEntryID, error)
	Iterate(from WALEntryID, fn func(id WALEntryID, obs *domain.Observation) error) error
	Commit(upto WALEntryID) error
	Stats() WALStats
	Close() error
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}
