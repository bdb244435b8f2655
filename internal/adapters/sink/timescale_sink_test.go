package sink

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ghalamif/AegisProbe/internal/domain"
)

func TestTimescaleSinkWriteBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink, err := NewTimescaleSink(db, "observations")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	ts := time.Now()

	batch := []*domain.Observation{
		{ProbeID: "ble", SensorID: "aa:bb", Timestamp: ts, Seq: 1, Values: map[string]float64{"rssi": -60}},
		nil,
		{ProbeID: "ble", SensorID: "cc:dd", Timestamp: ts, Seq: 2, Tags: map[string]string{"name": "watch"}},
	}

	expectedQuery := regexp.QuoteMeta("INSERT INTO observations (probe_id, sensor_id, ts, seq, values, tags) VALUES ($1,$2,$3,$4,$5,$6),($7,$8,$9,$10,$11,$12) ON CONFLICT (probe_id, sensor_id, ts, seq) DO NOTHING")
	mock.ExpectExec(expectedQuery).
		WithArgs("ble", "aa:bb", ts, int64(1), []byte(`{"rssi":-60}`), []byte("null"),
			"ble", "cc:dd", ts, int64(2), []byte("null"), []byte(`{"name":"watch"}`)).
		WillReturnResult(sqlmock.NewResult(2, 2))

	if err := sink.WriteBatch(batch); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkSkipsEmptyPoll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	sink, _ := NewTimescaleSink(db, "observations")
	if err := sink.WriteBatch(nil); err != nil {
		t.Fatalf("expected nil error for empty batch, got %v", err)
	}
	if err := sink.WriteBatch([]*domain.Observation{nil}); err != nil {
		t.Fatalf("expected nil error for sentinel batch, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkPropagatesExecError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	sink, _ := NewTimescaleSink(db, "observations")
	mock.ExpectExec("INSERT INTO observations").WillReturnError(errors.New("connection reset"))

	err := sink.WriteBatch([]*domain.Observation{{ProbeID: "ble", SensorID: "x", Timestamp: time.Now()}})
	if err == nil {
		t.Fatalf("expected exec error")
	}
}

func TestTimescaleSinkEnsureSchema(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	sink, _ := NewTimescaleSink(db, "edge.observations")
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS edge.observations")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := sink.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimescaleSinkRejectsBadTable(t *testing.T) {
	db, _, _ := sqlmock.New()
	defer db.Close()

	if _, err := NewTimescaleSink(db, "obs; DROP TABLE x"); err == nil {
		t.Fatalf("expected invalid table name error")
	}
	sink, _ := NewTimescaleSink(db, "observations")
	if sink.Name() != "timescaledb" {
		t.Fatalf("expected sink name timescaledb, got %s", sink.Name())
	}
}
