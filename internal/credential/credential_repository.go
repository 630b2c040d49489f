package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/database"
)

// CredentialRepository persists device credentials. Every successful
// create, update and delete also increments the pending-change counter in
// the same transaction.
type CredentialRepository interface {
	FindAll(ctx context.Context) ([]Credential, error)
	FindAllEnabled(ctx context.Context) ([]Credential, error)
	FindByDeviceID(ctx context.Context, deviceID string) (*Credential, error)
	FindByUsername(ctx context.Context, username string) (*Credential, error)
	Create(ctx context.Context, deviceID, username, passwordHash string, enabled bool) (*Credential, error)
	Update(ctx context.Context, deviceID string, update CredentialUpdate) (*Credential, error)
	Delete(ctx context.Context, deviceID string) (bool, error)
}

// SQLiteCredentialRepository implements CredentialRepository over mqtt_credentials.
type SQLiteCredentialRepository struct {
	db *database.DB
}

// NewCredentialRepository creates a new SQLite-backed credential repository.
func NewCredentialRepository(db *database.DB) *SQLiteCredentialRepository {
	return &SQLiteCredentialRepository{db: db}
}

const credentialColumns = "id, device_id, mqtt_username, mqtt_password_hash, enabled, created_at, updated_at"

// FindAll returns every credential sorted by username.
func (r *SQLiteCredentialRepository) FindAll(ctx context.Context) ([]Credential, error) {
	return listCredentials(ctx, r.db, false)
}

// FindAllEnabled returns the enabled credentials sorted by username.
func (r *SQLiteCredentialRepository) FindAllEnabled(ctx context.Context) ([]Credential, error) {
	return listCredentials(ctx, r.db, true)
}

// FindByDeviceID returns ErrNotFound when the device has no credential.
func (r *SQLiteCredentialRepository) FindByDeviceID(ctx context.Context, deviceID string) (*Credential, error) {
	return getCredential(ctx, r.db, "device_id", deviceID)
}

// FindByUsername returns ErrNotFound when no credential has the username.
func (r *SQLiteCredentialRepository) FindByUsername(ctx context.Context, username string) (*Credential, error) {
	return getCredential(ctx, r.db, "mqtt_username", username)
}

// Create inserts a credential. It returns ErrConflict when the device
// already has a credential or the username is taken.
func (r *SQLiteCredentialRepository) Create(ctx context.Context, deviceID, username, passwordHash string, enabled bool) (*Credential, error) {
	now := nowUTC()
	c := &Credential{
		DeviceID:     deviceID,
		Username:     username,
		PasswordHash: passwordHash,
		Enabled:      enabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := getCredential(ctx, tx, "device_id", deviceID); err == nil {
			return fmt.Errorf("%w: device %s already has MQTT credentials", ErrConflict, deviceID)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := getCredential(ctx, tx, "mqtt_username", username); err == nil {
			return fmt.Errorf("%w: username %s is already in use", ErrConflict, username)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		result, err := tx.ExecContext(ctx,
			`INSERT INTO mqtt_credentials (device_id, mqtt_username, mqtt_password_hash, enabled, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			deviceID, username, passwordHash, boolToInt(enabled), formatTime(now), formatTime(now),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: credential for device %s", ErrConflict, deviceID)
			}
			return storageError("creating credential", err)
		}
		if c.ID, err = result.LastInsertId(); err != nil {
			return storageError("creating credential", err)
		}

		return bumpPending(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Update applies a partial update. It returns ErrNotFound for an unknown
// device. An update that changes nothing is not recorded as a pending
// change.
func (r *SQLiteCredentialRepository) Update(ctx context.Context, deviceID string, update CredentialUpdate) (*Credential, error) {
	var updated *Credential

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := getCredential(ctx, tx, "device_id", deviceID)
		if err != nil {
			return err
		}

		next := *current
		if update.PasswordHash != nil {
			next.PasswordHash = *update.PasswordHash
		}
		if update.Enabled != nil {
			next.Enabled = *update.Enabled
		}
		if next.PasswordHash == current.PasswordHash && next.Enabled == current.Enabled {
			updated = current
			return nil
		}

		next.UpdatedAt = nowUTC()
		if _, err := tx.ExecContext(ctx,
			`UPDATE mqtt_credentials SET mqtt_password_hash = ?, enabled = ?, updated_at = ? WHERE device_id = ?`,
			next.PasswordHash, boolToInt(next.Enabled), formatTime(next.UpdatedAt), deviceID,
		); err != nil {
			return storageError("updating credential", err)
		}

		updated = &next
		return bumpPending(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the device's credential together with all of its access
// rules. It reports whether a credential existed; deleting an unknown
// device is not an error and records no pending change.
func (r *SQLiteCredentialRepository) Delete(ctx context.Context, deviceID string) (bool, error) {
	var deleted bool

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM mqtt_acl_rules WHERE device_id = ?", deviceID); err != nil {
			return storageError("deleting access rules", err)
		}

		result, err := tx.ExecContext(ctx, "DELETE FROM mqtt_credentials WHERE device_id = ?", deviceID)
		if err != nil {
			return storageError("deleting credential", err)
		}
		n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
		if n == 0 {
			return nil
		}

		deleted = true
		return bumpPending(ctx, tx)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func getCredential(ctx context.Context, q querier, column, value string) (*Credential, error) {
	// column is one of two constants chosen by this package, never input.
	row := q.QueryRowContext(ctx,
		"SELECT "+credentialColumns+" FROM mqtt_credentials WHERE "+column+" = ?", value) //nolint:gosec // column is a package constant
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no MQTT credentials for %s %s", ErrNotFound, column, value)
	}
	if err != nil {
		return nil, storageError("reading credential", err)
	}
	return c, nil
}

func listCredentials(ctx context.Context, q querier, enabledOnly bool) ([]Credential, error) {
	query := "SELECT " + credentialColumns + " FROM mqtt_credentials"
	if enabledOnly {
		query += " WHERE enabled = 1"
	}
	query += " ORDER BY mqtt_username"

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, storageError("listing credentials", err)
	}
	defer rows.Close()

	creds := []Credential{}
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, storageError("scanning credential", err)
		}
		creds = append(creds, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating credentials", err)
	}
	return creds, nil
}

func scanCredential(s scanner) (*Credential, error) {
	var c Credential
	var enabled int
	var createdAt, updatedAt string

	if err := s.Scan(&c.ID, &c.DeviceID, &c.Username, &c.PasswordHash, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	c.Enabled = enabled != 0
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}
