package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ghalamif/AegisProbe/internal/domain"
	"github.com/ghalamif/AegisProbe/internal/ports"
)

// Store implements ports.PolicyStore and ports.RequestOutbox.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{DB: db, Now: time.Now}
}

func (s *Store) SavePolicy(ctx context.Context, agentID string, p domain.DeliveryPolicy) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO policies (agent_id, policy, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   policy = excluded.policy,
		   updated_at = excluded.updated_at`,
		agentID, p.Serialize(), s.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}

// LoadPolicy reports false when no policy has been saved for agentID.
func (s *Store) LoadPolicy(ctx context.Context, agentID string) (domain.DeliveryPolicy, bool, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx, `SELECT policy FROM policies WHERE agent_id = ?`, agentID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryPolicy{}, false, nil
	}
	if err != nil {
		return domain.DeliveryPolicy{}, false, fmt.Errorf("load policy: %w", err)
	}
	p, err := domain.LoadDeliveryPolicy([]byte(raw))
	if err != nil {
		return domain.DeliveryPolicy{}, false, err
	}
	return p, true, nil
}

func (s *Store) RecordOutcome(ctx context.Context, ev domain.OutcomeEvent, after domain.DeliveryPolicy) error {
	at := ev.At
	if at.IsZero() {
		at = s.Now()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO outcomes (delivery_id, kind, at, probability) VALUES (?, ?, ?, ?)`,
		ev.DeliveryID, ev.Kind.String(), at.UTC().Format(time.RFC3339Nano), after.Probability,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// OutcomeRecord is one row of the outcome log.
type OutcomeRecord struct {
	Event       domain.OutcomeEvent
	Probability float64
}

// RecentOutcomes returns up to limit outcomes, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT delivery_id, kind, at, probability FROM outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeRecord
	for rows.Next() {
		var (
			rec      OutcomeRecord
			kind, at string
		)
		if err := rows.Scan(&rec.Event.DeliveryID, &kind, &at, &rec.Probability); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		rec.Event.Kind, _ = domain.ParseOutcomeKind(kind)
		if rec.Event.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse outcome time: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Enqueue stores the wire form of req until it is marked sent.
func (s *Store) Enqueue(ctx context.Context, req domain.DeliveryRequest) error {
	w, err := req.ToWire()
	if err != nil {
		return err
	}
	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO outbox (id, device, request, scheduled_at, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		w.ID, w.Device, string(body), w.Time, w.CreationTime,
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

// Due returns unsent requests scheduled at or before now, oldest first.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]domain.WireRequest, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT request FROM outbox
		 WHERE sent_at IS NULL AND scheduled_at <= ?
		 ORDER BY scheduled_at, created_at LIMIT ?`,
		now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	var out []domain.WireRequest
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		var w domain.WireRequest
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			return nil, fmt.Errorf("decode outbox request: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE outbox SET sent_at = ? WHERE id = ? AND sent_at IS NULL`, s.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark sent: request %s not pending", id)
	}
	return nil
}

var (
	_ ports.PolicyStore   = (*Store)(nil)
	_ ports.RequestOutbox = (*Store)(nil)
)
