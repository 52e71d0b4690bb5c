package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/entanglekey/server/internal/model"
	"github.com/google/uuid"
)

// DeviceRepo looks up devices for ownership checks. Device registration and
// account management belong to the surrounding application; this core only
// needs to verify that a device exists and who owns it.
type DeviceRepo interface {
	Get(ctx context.Context, id uuid.UUID) (model.Device, error)
	Create(ctx context.Context, d model.Device) error
}

type deviceRepo struct {
	db *sql.DB
}

// NewDeviceRepo creates a Postgres-backed DeviceRepo.
func NewDeviceRepo(db *sql.DB) DeviceRepo {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) Get(ctx context.Context, id uuid.UUID) (model.Device, error) {
	var d model.Device
	var idStr, userStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, device_name, identity_key_pub, created_at, last_seen_at
		FROM devices
		WHERE id = $1
	`, id).Scan(&idStr, &userStr, &d.DeviceName, &d.IdentityKeyPub, &d.CreatedAt, &d.LastSeenAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Device{}, ErrNotFound
		}
		return model.Device{}, fmt.Errorf("query device: %w", err)
	}

	if d.ID, err = uuid.Parse(idStr); err != nil {
		return model.Device{}, fmt.Errorf("parse device ID: %w", err)
	}
	if d.UserID, err = uuid.Parse(userStr); err != nil {
		return model.Device{}, fmt.Errorf("parse user ID: %w", err)
	}
	return d, nil
}

func (r *deviceRepo) Create(ctx context.Context, d model.Device) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, device_name, identity_key_pub, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, d.ID, d.UserID, d.DeviceName, d.IdentityKeyPub, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}
