package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ghalamif/AegisProbe/internal/adapters/queue"
	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestIngestCommitsAfterSinkWrite(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	wal := &memWAL{}
	q := queue.NewMemQueue(10)
	for _, o := range []*domain.Observation{
		{ProbeID: "ble", SensorID: "a", Timestamp: ts},
		{ProbeID: "ble", SensorID: "", Timestamp: ts},
		{ProbeID: "ble", SensorID: "c", Timestamp: ts},
	} {
		id, _ := wal.Append(o)
		q.Enqueue(id, o)
	}

	sink := newMockSink(0)
	obs := &mockObs{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunIngestPipeline(ctx, wal, q, sink, ports.IngestPolicy{MaxBatchSize: 10, IdleSleep: time.Millisecond}, obs)
	}()

	waitFor(t, "commit", func() bool { return wal.committedID() == 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if sink.total() != 2 {
		t.Fatalf("expected 2 observations written, got %d", sink.total())
	}
	if len(obs.dlq) != 1 || obs.dlq[0] != 2 {
		t.Fatalf("expected incomplete observation 2 in DLQ, got %v", obs.dlq)
	}
	if got := obs.counter("aegis_observations_ingested_total"); got != 2 {
		t.Fatalf("expected ingested counter 2, got %v", got)
	}
}

func TestIngestRetriesFailingSinkWithoutCommitting(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	wal := &memWAL{}
	q := queue.NewMemQueue(10)
	o := &domain.Observation{ProbeID: "ble", SensorID: "a", Timestamp: ts}
	id, _ := wal.Append(o)
	q.Enqueue(id, o)

	sink := newMockSink(2)
	obs := &mockObs{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunIngestPipeline(ctx, wal, q, sink, ports.IngestPolicy{IdleSleep: time.Millisecond}, obs)

	select {
	case <-sink.written:
	case <-time.After(2 * time.Second):
		t.Fatalf("sink never succeeded")
	}
	waitFor(t, "commit", func() bool { return wal.committedID() == 1 })

	obs.mu.Lock()
	failures := len(obs.errors)
	obs.mu.Unlock()
	if failures != 2 {
		t.Fatalf("expected 2 logged sink failures, got %d", failures)
	}
}

func TestIngestStopsOnCancelWithUncommittedBatch(t *testing.T) {
	wal := &memWAL{}
	q := queue.NewMemQueue(10)
	o := &domain.Observation{ProbeID: "ble", SensorID: "a", Timestamp: time.Now()}
	id, _ := wal.Append(o)
	q.Enqueue(id, o)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunIngestPipeline(ctx, wal, q, newMockSink(1000), ports.IngestPolicy{IdleSleep: time.Millisecond}, &mockObs{})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("ingest did not stop")
	}
	if wal.committedID() != 0 {
		t.Fatalf("failed batch must stay uncommitted")
	}
}

func TestReplayWALEnqueuesUncommitted(t *testing.T) {
	wal := &memWAL{}
	for _, s := range []string{"a", "b", "c"} {
		wal.Append(&domain.Observation{SensorID: s})
	}
	wal.Commit(1)

	q := queue.NewMemQueue(10)
	obs := &mockObs{}
	n, err := ReplayWAL(context.Background(), wal, q, ports.IngestPolicy{OnQueueFull: "drop"}, obs)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 replayed, got %d err=%v", n, err)
	}
	items := q.DequeueBatch(0)
	if items[0].ID != 2 || items[0].Observation.SensorID != "b" || items[1].ID != 3 {
		t.Fatalf("unexpected replay order %+v", items)
	}
	if len(obs.infos) != 1 || obs.infos[0] != "wal_replayed" {
		t.Fatalf("expected replay log, got %v", obs.infos)
	}
}
