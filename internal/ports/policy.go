package ports

import "time"

// IngestPolicy bounds the WAL and queue between the poll loop and the sink.
type IngestPolicy struct {
	MaxWALSizeBytes int64         `yaml:"max_wal_size_bytes"`
	MaxQueueLen     int           `yaml:"max_queue_len"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
	IdleSleep       time.Duration `yaml:"idle_sleep"`

	OnWALFull   string `yaml:"on_wal_full"`   // "block", "drop"
	OnQueueFull string `yaml:"on_queue_full"` // "block", "drop", "reject"
}

// RandomSource yields uniform values in [0,1).
type RandomSource interface {
	Float64() float64
}
