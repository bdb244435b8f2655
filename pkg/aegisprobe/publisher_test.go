package aegisprobe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []Observation
	fail bool
}

func (s *recordingSink) WriteBatch(batch []*Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	for _, o := range batch {
		s.got = append(s.got, *o)
	}
	return nil
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func TestPublisherDeliversToSink(t *testing.T) {
	sink := &recordingSink{}
	pub, err := NewPublisher(PublisherConfig{WAL: WALConfig{Dir: t.TempDir()}}, sink)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close(context.Background())

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		o := Observation{ProbeID: "app", SensorID: "mood", Timestamp: time.Unix(int64(i+1), 0), Seq: uint64(i)}
		if err := pub.Publish(ctx, o); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}
	waitFor(t, "sink writes", func() bool { return sink.count() == 3 })
}

func TestPublisherReplaysUncommittedOnRestart(t *testing.T) {
	dir := t.TempDir()
	down := &recordingSink{fail: true}
	pub, err := NewPublisher(PublisherConfig{WAL: WALConfig{Dir: dir}}, down)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	o := Observation{ProbeID: "app", SensorID: "mood", Timestamp: time.Unix(5, 0)}
	if err := pub.Publish(context.Background(), o); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pub.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if down.count() != 0 {
		t.Fatalf("failing sink must not receive anything")
	}

	up := &recordingSink{}
	pub2, err := NewPublisher(PublisherConfig{WAL: WALConfig{Dir: dir}}, up)
	if err != nil {
		t.Fatalf("NewPublisher (restart): %v", err)
	}
	defer pub2.Close(context.Background())
	waitFor(t, "replayed write", func() bool { return up.count() == 1 })
	if up.got[0].SensorID != "mood" {
		t.Fatalf("unexpected replayed observation %+v", up.got[0])
	}
}

func TestNewPublisherRequiresSink(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{WAL: WALConfig{Dir: t.TempDir()}}, nil); err == nil {
		t.Fatalf("expected error without sink")
	}
}
