package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/database"
)

// StatusRepository tracks pending changes and the outcome of the last sync.
// Each method is a single atomic statement on the one status row.
type StatusRepository interface {
	Get(ctx context.Context) (*SyncStatus, error)
	MarkPendingChanges(ctx context.Context) error
	MarkSynced(ctx context.Context) error
	MarkSyncedThrough(ctx context.Context, observed int64) error
	MarkSyncFailed(ctx context.Context, message string) error
}

// SQLiteStatusRepository implements StatusRepository over mqtt_sync_status.
type SQLiteStatusRepository struct {
	db *database.DB
}

// NewStatusRepository creates a new SQLite-backed status repository.
func NewStatusRepository(db *database.DB) *SQLiteStatusRepository {
	return &SQLiteStatusRepository{db: db}
}

// Get returns the current sync status.
func (r *SQLiteStatusRepository) Get(ctx context.Context) (*SyncStatus, error) {
	return getStatus(ctx, r.db)
}

// MarkPendingChanges increments the pending counter by one.
func (r *SQLiteStatusRepository) MarkPendingChanges(ctx context.Context) error {
	return bumpPending(ctx, r.db)
}

// MarkSynced clears the pending counter and records a successful sync.
func (r *SQLiteStatusRepository) MarkSynced(ctx context.Context) error {
	now := formatTime(nowUTC())
	return r.exec(ctx, "marking sync succeeded",
		`UPDATE mqtt_sync_status
		 SET pending_changes = 0, last_sync_at = ?, last_sync_status = ?, updated_at = ?
		 WHERE id = 1`,
		now, SyncStatusSuccess, now,
	)
}

// MarkSyncedThrough records a successful sync that observed `observed`
// pending changes. Only those are cleared; changes committed while the
// sync was running stay pending for the next one.
func (r *SQLiteStatusRepository) MarkSyncedThrough(ctx context.Context, observed int64) error {
	if observed < 0 {
		observed = 0
	}
	now := formatTime(nowUTC())
	return r.exec(ctx, "marking sync succeeded",
		`UPDATE mqtt_sync_status
		 SET pending_changes = MAX(pending_changes - ?, 0), last_sync_at = ?, last_sync_status = ?, updated_at = ?
		 WHERE id = 1`,
		observed, now, SyncStatusSuccess, now,
	)
}

// MarkSyncFailed records a failed sync. The pending counter is untouched.
func (r *SQLiteStatusRepository) MarkSyncFailed(ctx context.Context, message string) error {
	now := formatTime(nowUTC())
	return r.exec(ctx, "marking sync failed",
		`UPDATE mqtt_sync_status
		 SET last_sync_at = ?, last_sync_status = ?, updated_at = ?
		 WHERE id = 1`,
		now, syncErrorPrefix+message, now,
	)
}

func (r *SQLiteStatusRepository) exec(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return storageError(op, err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return fmt.Errorf("%w: %s: sync status row missing", ErrStorage, op)
	}
	return nil
}

func getStatus(ctx context.Context, q querier) (*SyncStatus, error) {
	var s SyncStatus
	var lastSyncAt sql.NullString

	err := q.QueryRowContext(ctx,
		"SELECT pending_changes, last_sync_at, last_sync_status FROM mqtt_sync_status WHERE id = 1",
	).Scan(&s.PendingChanges, &lastSyncAt, &s.LastSyncStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reading sync status: sync status row missing", ErrStorage)
	}
	if err != nil {
		return nil, storageError("reading sync status", err)
	}

	if lastSyncAt.Valid {
		t := parseTime(lastSyncAt.String)
		s.LastSyncAt = &t
	}
	return &s, nil
}

// bumpPending increments the counter. Repositories call it with the same
// transaction as the mutation it records.
func bumpPending(ctx context.Context, q querier) error {
	result, err := q.ExecContext(ctx,
		"UPDATE mqtt_sync_status SET pending_changes = pending_changes + 1, updated_at = ? WHERE id = 1",
		formatTime(nowUTC()),
	)
	if err != nil {
		return storageError("marking pending change", err)
	}
	if n, _ := result.RowsAffected(); n == 0 { //nolint:errcheck // always succeeds on SQLite
		return fmt.Errorf("%w: marking pending change: sync status row missing", ErrStorage)
	}
	return nil
}
