package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/entanglekey/server/internal/model"
	"github.com/google/uuid"
)

// PairRepo defines entangled pair persistence. Generation changes and
// revocation must be serialized per pair; the Postgres implementation takes
// a transaction-scoped advisory lock keyed on the pair id.
type PairRepo interface {
	Create(ctx context.Context, p model.EntangledPair) error
	Get(ctx context.Context, id uuid.UUID) (model.EntangledPair, error)
	CountActiveForUser(ctx context.Context, userID uuid.UUID) (int, error)
	// ActiveExistsForDevices checks the unordered device tuple.
	ActiveExistsForDevices(ctx context.Context, deviceA, deviceB uuid.UUID) (bool, error)
	// IncrementGeneration bumps the generation of an active pair by exactly
	// one and returns the new value. ErrNotFound if the pair is missing or
	// not active.
	IncrementGeneration(ctx context.Context, id uuid.UUID) (uint64, error)
	// Revoke transitions an active pair to revoked. ErrNotFound if the pair
	// is missing or not active.
	Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]model.EntangledPair, error)
}

type pairRepo struct {
	db *sql.DB
}

// NewPairRepo creates a Postgres-backed PairRepo.
func NewPairRepo(db *sql.DB) PairRepo {
	return &pairRepo{db: db}
}

func (r *pairRepo) Create(ctx context.Context, p model.EntangledPair) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entangled_pairs (id, user_id, device_a_id, device_b_id, status, generation, pairing_completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.ID, p.UserID, p.DeviceAID, p.DeviceBID, p.Status, int64(p.Generation), p.PairingCompletedAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert entangled pair: %w", err)
	}
	return nil
}

func (r *pairRepo) Get(ctx context.Context, id uuid.UUID) (model.EntangledPair, error) {
	query := `
		SELECT id, user_id, device_a_id, device_b_id, status, generation,
		       pairing_completed_at, revoked_at, revocation_reason, created_at
		FROM entangled_pairs
		WHERE id = $1
	`
	var p model.EntangledPair
	var idStr, userStr, aStr, bStr string
	var generation int64
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&idStr,
		&userStr,
		&aStr,
		&bStr,
		&p.Status,
		&generation,
		&p.PairingCompletedAt,
		&p.RevokedAt,
		&p.RevocationReason,
		&p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.EntangledPair{}, ErrNotFound
		}
		return model.EntangledPair{}, fmt.Errorf("query entangled pair: %w", err)
	}

	p.Generation = uint64(generation)
	if p.ID, err = uuid.Parse(idStr); err != nil {
		return model.EntangledPair{}, fmt.Errorf("parse pair ID: %w", err)
	}
	if p.UserID, err = uuid.Parse(userStr); err != nil {
		return model.EntangledPair{}, fmt.Errorf("parse user ID: %w", err)
	}
	if p.DeviceAID, err = uuid.Parse(aStr); err != nil {
		return model.EntangledPair{}, fmt.Errorf("parse device A ID: %w", err)
	}
	if p.DeviceBID, err = uuid.Parse(bStr); err != nil {
		return model.EntangledPair{}, fmt.Errorf("parse device B ID: %w", err)
	}
	return p, nil
}

func (r *pairRepo) CountActiveForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entangled_pairs WHERE user_id = $1 AND status = $2
	`, userID, model.PairStatusActive).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active pairs: %w", err)
	}
	return count, nil
}

func (r *pairRepo) ActiveExistsForDevices(ctx context.Context, deviceA, deviceB uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM entangled_pairs
			WHERE status = $3
			  AND least(device_a_id, device_b_id) = least($1::uuid, $2::uuid)
			  AND greatest(device_a_id, device_b_id) = greatest($1::uuid, $2::uuid)
		)
	`, deviceA, deviceB, model.PairStatusActive).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check active pair for devices: %w", err)
	}
	return exists, nil
}

// IncrementGeneration serializes concurrent rotations on the same pair with
// a transaction-scoped advisory lock, then bumps generation atomically.
func (r *pairRepo) IncrementGeneration(ctx context.Context, id uuid.UUID) (uint64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1::text))`, id); err != nil {
		return 0, fmt.Errorf("advisory lock: %w", err)
	}

	var newGen int64
	err = tx.QueryRowContext(ctx, `
		UPDATE entangled_pairs
		SET generation = generation + 1
		WHERE id = $1 AND status = $2
		RETURNING generation
	`, id, model.PairStatusActive).Scan(&newGen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment generation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return uint64(newGen), nil
}

func (r *pairRepo) Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(2, hashtext($1::text))`, id); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE entangled_pairs
		SET status = $2, revoked_at = $3, revocation_reason = $4
		WHERE id = $1 AND status = $5
	`, id, model.PairStatusRevoked, at, reason, model.PairStatusActive)
	if err != nil {
		return fmt.Errorf("revoke pair: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (r *pairRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]model.EntangledPair, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, device_a_id, device_b_id, status, generation,
		       pairing_completed_at, revoked_at, revocation_reason, created_at
		FROM entangled_pairs
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []model.EntangledPair
	for rows.Next() {
		var p model.EntangledPair
		var idStr, userStr, aStr, bStr string
		var generation int64
		if err := rows.Scan(
			&idStr, &userStr, &aStr, &bStr, &p.Status, &generation,
			&p.PairingCompletedAt, &p.RevokedAt, &p.RevocationReason, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		p.Generation = uint64(generation)
		if p.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("parse pair ID: %w", err)
		}
		if p.UserID, err = uuid.Parse(userStr); err != nil {
			return nil, fmt.Errorf("parse user ID: %w", err)
		}
		if p.DeviceAID, err = uuid.Parse(aStr); err != nil {
			return nil, fmt.Errorf("parse device A ID: %w", err)
		}
		if p.DeviceBID, err = uuid.Parse(bStr); err != nil {
			return nil, fmt.Errorf("parse device B ID: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}
