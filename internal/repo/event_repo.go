package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/entanglekey/server/internal/model"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventRepo is the append-only audit trail. One row per state-changing or
// state-querying pair operation, successful or not.
type EventRepo interface {
	Append(ctx context.Context, e model.SyncEvent) error
	ListByPair(ctx context.Context, pairID uuid.UUID, limit int) ([]model.SyncEvent, error)
	// LastTimestamp returns the creation time of the most recent event of
	// any of the given types, or nil if none exists.
	LastTimestamp(ctx context.Context, pairID uuid.UUID, eventTypes []string) (*time.Time, error)
}

type eventRepo struct {
	db *sql.DB
}

// NewEventRepo creates a Postgres-backed EventRepo.
func NewEventRepo(db *sql.DB) EventRepo {
	return &eventRepo{db: db}
}

func (r *eventRepo) Append(ctx context.Context, e model.SyncEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_events (id, pair_id, event_type, initiated_by_device, success, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.PairID, e.EventType, e.InitiatedByDevice, e.Success, e.Details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("append sync event: %w", err)
	}
	return nil
}

func (r *eventRepo) ListByPair(ctx context.Context, pairID uuid.UUID, limit int) ([]model.SyncEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, pair_id, event_type, initiated_by_device, success, details, created_at
		FROM sync_events
		WHERE pair_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, pairID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync events: %w", err)
	}
	defer rows.Close()

	var events []model.SyncEvent
	for rows.Next() {
		var e model.SyncEvent
		var idStr, pairStr, devStr string
		if err := rows.Scan(&idStr, &pairStr, &e.EventType, &devStr, &e.Success, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sync event: %w", err)
		}
		if e.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse event ID: %w", err)
		}
		if e.PairID, err = uuid.Parse(pairStr); err != nil {
			return nil, fmt.Errorf("parse pair ID: %w", err)
		}
		if e.InitiatedByDevice, err = uuid.Parse(devStr); err != nil {
			return nil, fmt.Errorf("parse device ID: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *eventRepo) LastTimestamp(ctx context.Context, pairID uuid.UUID, eventTypes []string) (*time.Time, error) {
	var ts time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT created_at FROM sync_events
		WHERE pair_id = $1 AND event_type = ANY($2) AND success
		ORDER BY created_at DESC
		LIMIT 1
	`, pairID, pq.Array(eventTypes)).Scan(&ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query last event timestamp: %w", err)
	}
	return &ts, nil
}
