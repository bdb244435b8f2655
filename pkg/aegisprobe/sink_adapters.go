package aegisprobe

import (
	"errors"
	"fmt"
	"maps"
	"sync"
)

// ErrChannelSinkClosed is returned when a channel sink is written to after being closed.
var ErrChannelSinkClosed = errors.New("aegisprobe: channel sink closed")

// BatchFunc receives ordered copies of the batches dequeued from the pipeline.
type BatchFunc func([]Observation) error

// NewCallbackSink adapts fn into a Sink so callers can plug plain functions.
func NewCallbackSink(name string, fn BatchFunc) Sink {
	if name == "" {
		name = "callback"
	}
	return &callbackSink{name: name, fn: fn}
}

// NewChannelSink exposes batches via a channel. The returned func closes it
// and must be called during shutdown.
func NewChannelSink(name string, buffer int) (Sink, <-chan []Observation, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []Observation, buffer)
	s := &channelSink{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return s, ch, func() { s.close() }
}

type callbackSink struct {
	name string
	fn   BatchFunc
}

func (s *callbackSink) WriteBatch(batch []*Observation) error {
	if s.fn == nil {
		return fmt.Errorf("callback sink %q: nil handler", s.name)
	}
	out := copyBatch(batch)
	if len(out) == 0 {
		return nil
	}
	return s.fn(out)
}

func (s *callbackSink) Name() string { return s.name }

type channelSink struct {
	name   string
	ch     chan []Observation
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (s *channelSink) WriteBatch(batch []*Observation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	default:
	}

	out := copyBatch(batch)
	if len(out) == 0 {
		return nil
	}

	select {
	case <-s.closed:
		return ErrChannelSinkClosed
	case s.ch <- out:
		return nil
	}
}

func (s *channelSink) Name() string { return s.name }

func (s *channelSink) close() {
	s.once.Do(func() {
		close(s.closed)
		// writers hold the read lock while sending
		s.mu.Lock()
		close(s.ch)
		s.mu.Unlock()
	})
}

// copyBatch skips nil entries and detaches the maps from pipeline-owned data.
func copyBatch(batch []*Observation) []Observation {
	out := make([]Observation, 0, len(batch))
	for _, o := range batch {
		if o == nil {
			continue
		}
		c := *o
		c.Values = maps.Clone(o.Values)
		c.Tags = maps.Clone(o.Tags)
		out = append(out, c)
	}
	return out
}
