package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/entanglekey/server/internal/model"
	"github.com/google/uuid"
)

// EntropyRepo stores historical entropy samples per (pair, device).
// Histograms are byte-value counts only; they contain no pool material.
type EntropyRepo interface {
	Record(ctx context.Context, m model.EntropyMeasurement) error
	LatestForDevice(ctx context.Context, pairID, deviceID uuid.UUID) (model.EntropyMeasurement, error)
	ListRecent(ctx context.Context, pairID uuid.UUID, limit int) ([]model.EntropyMeasurement, error)
}

type entropyRepo struct {
	db *sql.DB
}

// NewEntropyRepo creates a Postgres-backed EntropyRepo.
func NewEntropyRepo(db *sql.DB) EntropyRepo {
	return &entropyRepo{db: db}
}

func (r *entropyRepo) Record(ctx context.Context, m model.EntropyMeasurement) error {
	var hist []byte
	if m.Histogram != nil {
		var err error
		if hist, err = json.Marshal(m.Histogram); err != nil {
			return fmt.Errorf("marshal histogram: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entropy_measurements (id, pair_id, device_id, entropy_value, histogram, is_warning, is_critical, measured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.PairID, m.DeviceID, m.Entropy, hist, m.IsWarning, m.IsCritical, m.MeasuredAt)
	if err != nil {
		return fmt.Errorf("insert entropy measurement: %w", err)
	}
	return nil
}

func (r *entropyRepo) LatestForDevice(ctx context.Context, pairID, deviceID uuid.UUID) (model.EntropyMeasurement, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, pair_id, device_id, entropy_value, histogram, is_warning, is_critical, measured_at
		FROM entropy_measurements
		WHERE pair_id = $1 AND device_id = $2
		ORDER BY measured_at DESC
		LIMIT 1
	`, pairID, deviceID)

	m, err := scanMeasurement(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EntropyMeasurement{}, ErrNotFound
		}
		return model.EntropyMeasurement{}, err
	}
	return m, nil
}

func (r *entropyRepo) ListRecent(ctx context.Context, pairID uuid.UUID, limit int) ([]model.EntropyMeasurement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, pair_id, device_id, entropy_value, histogram, is_warning, is_critical, measured_at
		FROM entropy_measurements
		WHERE pair_id = $1
		ORDER BY measured_at DESC
		LIMIT $2
	`, pairID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entropy measurements: %w", err)
	}
	defer rows.Close()

	var out []model.EntropyMeasurement
	for rows.Next() {
		m, err := scanMeasurement(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMeasurement(scan func(...any) error) (model.EntropyMeasurement, error) {
	var m model.EntropyMeasurement
	var idStr, pairStr, devStr string
	var hist []byte
	if err := scan(&idStr, &pairStr, &devStr, &m.Entropy, &hist, &m.IsWarning, &m.IsCritical, &m.MeasuredAt); err != nil {
		return model.EntropyMeasurement{}, err
	}

	var err error
	if m.ID, err = uuid.Parse(idStr); err != nil {
		return model.EntropyMeasurement{}, fmt.Errorf("parse measurement ID: %w", err)
	}
	if m.PairID, err = uuid.Parse(pairStr); err != nil {
		return model.EntropyMeasurement{}, fmt.Errorf("parse pair ID: %w", err)
	}
	if m.DeviceID, err = uuid.Parse(devStr); err != nil {
		return model.EntropyMeasurement{}, fmt.Errorf("parse device ID: %w", err)
	}
	if len(hist) > 0 {
		if err := json.Unmarshal(hist, &m.Histogram); err != nil {
			return model.EntropyMeasurement{}, fmt.Errorf("unmarshal histogram: %w", err)
		}
	}
	return m, nil
}
