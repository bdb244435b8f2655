package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// TimescaleSink writes observations into a Postgres/Timescale table keyed by
// (probe_id, sensor_id, ts, seq). Re-delivered rows are ignored.
type TimescaleSink struct {
	db    *sql.DB
	table string
}

func NewTimescaleSink(db *sql.DB, table string) (*TimescaleSink, error) {
	if db == nil {
		return nil, fmt.Errorf("timescale sink: db is required")
	}
	if !tableNameRe.MatchString(table) {
		return nil, fmt.Errorf("timescale sink: invalid table name %q", table)
	}
	return &TimescaleSink{db: db, table: table}, nil
}

func (t *TimescaleSink) Name() string { return "timescaledb" }

// EnsureSchema creates the observation table when missing.
func (t *TimescaleSink) EnsureSchema(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+t.table+` (
	probe_id  TEXT        NOT NULL,
	sensor_id TEXT        NOT NULL,
	ts        TIMESTAMPTZ NOT NULL,
	seq       BIGINT      NOT NULL,
	values    JSONB,
	tags      JSONB,
	PRIMARY KEY (probe_id, sensor_id, ts, seq)
)`)
	return err
}

func (t *TimescaleSink) WriteBatch(batch []*domain.Observation) error {
	rows := make([]*domain.Observation, 0, len(batch))
	for _, o := range batch {
		if o != nil {
			rows = append(rows, o)
		}
	}
	if len(rows) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.table)
	b.WriteString(" (probe_id, sensor_id, ts, seq, values, tags) VALUES ")

	const cols = 6
	args := make([]any, 0, len(rows)*cols)
	for i, o := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for c := 1; c <= cols; c++ {
			if c > 1 {
				b.WriteByte(',')
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(len(args) + c))
		}
		b.WriteByte(')')

		vals, err := json.Marshal(o.Values)
		if err != nil {
			return fmt.Errorf("marshal values: %w", err)
		}
		tags, err := json.Marshal(o.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}
		args = append(args, o.ProbeID, o.SensorID, o.Timestamp, int64(o.Seq), vals, tags)
	}
	b.WriteString(" ON CONFLICT (probe_id, sensor_id, ts, seq) DO NOTHING")

	_, err := t.db.Exec(b.String(), args...)
	return err
}

var _ ports.Sink = (*TimescaleSink)(nil)
