package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Directory is read-only access to the devices and users managed by the
// tracker. The broker service never writes these tables.
type Directory interface {
	GetByID(ctx context.Context, id string) (*Device, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Device, error)
	GetOwner(ctx context.Context, userID string) (*Owner, error)

	DeviceExists(ctx context.Context, deviceID string) (bool, error)
	DeviceOwner(ctx context.Context, deviceID string) (string, error)
	DeviceName(ctx context.Context, deviceID string) (string, error)
	OwnerEmail(ctx context.Context, userID string) (string, error)
}

// SQLiteDirectory implements Directory using SQLite.
type SQLiteDirectory struct {
	db *sql.DB
}

// NewSQLiteDirectory creates a directory over an open database.
func NewSQLiteDirectory(db *sql.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

// GetByID retrieves a device by its unique identifier.
// Returns ErrDeviceNotFound if the device does not exist.
func (d *SQLiteDirectory) GetByID(ctx context.Context, id string) (*Device, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, is_active, created_at FROM devices WHERE id = ?`, id)

	dev, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return dev, nil
}

// ListByOwner retrieves the devices owned by a user, ordered by name.
func (d *SQLiteDirectory) ListByOwner(ctx context.Context, ownerID string) ([]Device, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, owner_id, is_active, created_at FROM devices
		 WHERE owner_id = ? ORDER BY name, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying devices by owner: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// GetOwner retrieves a user by ID.
// Returns ErrUserNotFound if the user does not exist.
func (d *SQLiteDirectory) GetOwner(ctx context.Context, userID string) (*Owner, error) {
	var o Owner
	var email sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, username, email FROM users WHERE id = ?`, userID,
	).Scan(&o.ID, &o.Username, &email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("querying user by id: %w", err)
	}
	o.Email = email.String
	return &o, nil
}

// DeviceExists reports whether a device with this ID exists, active or not.
func (d *SQLiteDirectory) DeviceExists(ctx context.Context, deviceID string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE id = ?`, deviceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking device: %w", err)
	}
	return n > 0, nil
}

// DeviceOwner returns the owning user ID. A device without an owner, or a
// device that no longer exists, has owner "".
func (d *SQLiteDirectory) DeviceOwner(ctx context.Context, deviceID string) (string, error) {
	dev, err := d.GetByID(ctx, deviceID)
	if errors.Is(err, ErrDeviceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return dev.OwnerID, nil
}

// DeviceName returns the display name of a device.
func (d *SQLiteDirectory) DeviceName(ctx context.Context, deviceID string) (string, error) {
	dev, err := d.GetByID(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return dev.Name, nil
}

// OwnerEmail returns the user's email address, or "" when the user has
// none or does not exist.
func (d *SQLiteDirectory) OwnerEmail(ctx context.Context, userID string) (string, error) {
	o, err := d.GetOwner(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return o.Email, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(s scanner) (*Device, error) {
	var dev Device
	var owner sql.NullString
	var active int
	var createdAt string

	if err := s.Scan(&dev.ID, &dev.Name, &owner, &active, &createdAt); err != nil {
		return nil, err
	}
	dev.OwnerID = owner.String
	dev.Active = active == 1

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	dev.CreatedAt = t
	return &dev, nil
}
