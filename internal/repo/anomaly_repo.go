package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/entanglekey/server/internal/model"
	"github.com/google/uuid"
)

// AnomalyRepo stores detected divergence events. Resolution is an explicit
// operator action, never automatic.
type AnomalyRepo interface {
	Create(ctx context.Context, a model.AnomalyEvent) error
	Resolve(ctx context.Context, id uuid.UUID, at time.Time) error
	ListOpen(ctx context.Context, pairID uuid.UUID) ([]model.AnomalyEvent, error)
}

type anomalyRepo struct {
	db *sql.DB
}

// NewAnomalyRepo creates a Postgres-backed AnomalyRepo.
func NewAnomalyRepo(db *sql.DB) AnomalyRepo {
	return &anomalyRepo{db: db}
}

func (r *anomalyRepo) Create(ctx context.Context, a model.AnomalyEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO anomaly_events (id, pair_id, device_id, anomaly_type, severity, kl_divergence, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.PairID, a.DeviceID, a.AnomalyType, a.Severity, a.KLDivergence, a.Resolved, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert anomaly event: %w", err)
	}
	return nil
}

func (r *anomalyRepo) Resolve(ctx context.Context, id uuid.UUID, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE anomaly_events SET resolved = TRUE, resolved_at = $2
		WHERE id = $1 AND NOT resolved
	`, id, at)
	if err != nil {
		return fmt.Errorf("resolve anomaly: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *anomalyRepo) ListOpen(ctx context.Context, pairID uuid.UUID) ([]model.AnomalyEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, pair_id, device_id, anomaly_type, severity, kl_divergence, resolved, resolved_at, created_at
		FROM anomaly_events
		WHERE pair_id = $1 AND NOT resolved
		ORDER BY created_at DESC
	`, pairID)
	if err != nil {
		return nil, fmt.Errorf("list open anomalies: %w", err)
	}
	defer rows.Close()

	var out []model.AnomalyEvent
	for rows.Next() {
		var a model.AnomalyEvent
		var idStr, pairStr string
		var devStr sql.NullString
		if err := rows.Scan(&idStr, &pairStr, &devStr, &a.AnomalyType, &a.Severity, &a.KLDivergence, &a.Resolved, &a.ResolvedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		if a.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse anomaly ID: %w", err)
		}
		if a.PairID, err = uuid.Parse(pairStr); err != nil {
			return nil, fmt.Errorf("parse pair ID: %w", err)
		}
		if devStr.Valid {
			dev, err := uuid.Parse(devStr.String)
			if err != nil {
				return nil, fmt.Errorf("parse device ID: %w", err)
			}
			a.DeviceID = &dev
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
