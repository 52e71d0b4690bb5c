package repo

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/entanglekey/server/internal/model"
	"github.com/google/uuid"
)

// SessionRepo defines pairing session persistence. Sessions are ephemeral:
// consumed on use and reaped after expiry.
type SessionRepo interface {
	Create(ctx context.Context, s model.PairingSession) error
	Get(ctx context.Context, id uuid.UUID) (model.PairingSession, error)
	IncrementAttempt(ctx context.Context, id uuid.UUID) (newAttemptCount int, err error)
	MarkConsumed(ctx context.Context, id uuid.UUID) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a Postgres-backed SessionRepo.
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) Create(ctx context.Context, s model.PairingSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pairing_sessions (id, user_id, device_a_id, device_b_id, code_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.UserID, s.DeviceAID, s.DeviceBID, hex.EncodeToString(s.CodeHash), s.ExpiresAt, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pairing session: %w", err)
	}
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id uuid.UUID) (model.PairingSession, error) {
	query := `
		SELECT id, user_id, device_a_id, device_b_id, code_hash, expires_at,
		       consumed_at, created_at, attempt_count, last_attempt_at
		FROM pairing_sessions
		WHERE id = $1
	`
	var s model.PairingSession
	var idStr, userStr, aStr, bStr, hashHex string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&idStr,
		&userStr,
		&aStr,
		&bStr,
		&hashHex,
		&s.ExpiresAt,
		&s.ConsumedAt,
		&s.CreatedAt,
		&s.AttemptCount,
		&s.LastAttemptAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PairingSession{}, ErrNotFound
		}
		return model.PairingSession{}, fmt.Errorf("query pairing session: %w", err)
	}

	if s.ID, err = uuid.Parse(idStr); err != nil {
		return model.PairingSession{}, fmt.Errorf("parse session ID: %w", err)
	}
	if s.UserID, err = uuid.Parse(userStr); err != nil {
		return model.PairingSession{}, fmt.Errorf("parse user ID: %w", err)
	}
	if s.DeviceAID, err = uuid.Parse(aStr); err != nil {
		return model.PairingSession{}, fmt.Errorf("parse device A ID: %w", err)
	}
	if s.DeviceBID, err = uuid.Parse(bStr); err != nil {
		return model.PairingSession{}, fmt.Errorf("parse device B ID: %w", err)
	}
	if s.CodeHash, err = hex.DecodeString(hashHex); err != nil {
		return model.PairingSession{}, fmt.Errorf("decode code_hash: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx, `
		UPDATE pairing_sessions
		SET attempt_count = attempt_count + 1, last_attempt_at = now()
		WHERE id = $1
		RETURNING attempt_count
	`, id).Scan(&newCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return newCount, nil
}

func (r *sessionRepo) MarkConsumed(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET consumed_at = now() WHERE id = $1 AND consumed_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("mark consumed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired reaps sessions whose expiry passed before the given time.
// Called lazily on access; no dedicated sweeper is required.
func (r *sessionRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM pairing_sessions WHERE expires_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
