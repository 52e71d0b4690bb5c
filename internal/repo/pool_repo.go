package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/entanglekey/server/internal/model"
	"github.com/google/uuid"
)

// PoolRepo persists the externally visible record of the current generation's
// pool: fingerprint and entropy, one row per pair. Upsert replaces the row so
// previous generations are discarded, never retained.
type PoolRepo interface {
	Upsert(ctx context.Context, p model.RandomnessPool) error
	Get(ctx context.Context, pairID uuid.UUID) (model.RandomnessPool, error)
}

type poolRepo struct {
	db *sql.DB
}

// NewPoolRepo creates a Postgres-backed PoolRepo.
func NewPoolRepo(db *sql.DB) PoolRepo {
	return &poolRepo{db: db}
}

func (r *poolRepo) Upsert(ctx context.Context, p model.RandomnessPool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO randomness_pools (pair_id, generation, pool_fingerprint, entropy_measurement, last_refreshed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pair_id) DO UPDATE
		SET generation = EXCLUDED.generation,
		    pool_fingerprint = EXCLUDED.pool_fingerprint,
		    entropy_measurement = EXCLUDED.entropy_measurement,
		    last_refreshed_at = EXCLUDED.last_refreshed_at
	`, p.PairID, int64(p.Generation), p.Fingerprint, p.Entropy, p.LastRefreshedAt)
	if err != nil {
		return fmt.Errorf("upsert randomness pool: %w", err)
	}
	return nil
}

func (r *poolRepo) Get(ctx context.Context, pairID uuid.UUID) (model.RandomnessPool, error) {
	var p model.RandomnessPool
	var pairStr string
	var generation int64
	err := r.db.QueryRowContext(ctx, `
		SELECT pair_id, generation, pool_fingerprint, entropy_measurement, last_refreshed_at
		FROM randomness_pools
		WHERE pair_id = $1
	`, pairID).Scan(&pairStr, &generation, &p.Fingerprint, &p.Entropy, &p.LastRefreshedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RandomnessPool{}, ErrNotFound
		}
		return model.RandomnessPool{}, fmt.Errorf("query randomness pool: %w", err)
	}
	p.Generation = uint64(generation)
	if p.PairID, err = uuid.Parse(pairStr); err != nil {
		return model.RandomnessPool{}, fmt.Errorf("parse pair ID: %w", err)
	}
	return p, nil
}
