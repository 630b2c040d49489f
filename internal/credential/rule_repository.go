package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/database"
)

// RuleRepository persists topic access rules. Mutations share the
// pending-change coupling of CredentialRepository.
type RuleRepository interface {
	FindAll(ctx context.Context) ([]AccessRule, error)
	FindByDeviceID(ctx context.Context, deviceID string) ([]AccessRule, error)
	FindByID(ctx context.Context, id int64) (*AccessRule, error)
	Create(ctx context.Context, deviceID, pattern string, permission Permission) (*AccessRule, error)
	CreateDefaultRule(ctx context.Context, deviceID string) (*AccessRule, error)
	Update(ctx context.Context, id int64, update RuleUpdate) (*AccessRule, error)
	Delete(ctx context.Context, id int64) (bool, error)
	DeleteByDeviceID(ctx context.Context, deviceID string) (int64, error)
}

// SQLiteRuleRepository implements RuleRepository over mqtt_acl_rules.
type SQLiteRuleRepository struct {
	db          *database.DB
	topicPrefix string
}

// NewRuleRepository creates a rule repository. topicPrefix is used by
// CreateDefaultRule; empty means DefaultTopicPrefix.
func NewRuleRepository(db *database.DB, topicPrefix string) *SQLiteRuleRepository {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &SQLiteRuleRepository{db: db, topicPrefix: topicPrefix}
}

const ruleColumns = "r.id, r.device_id, r.topic_pattern, r.permission, r.created_at"

// FindAll returns the rules whose credential is enabled, sorted by ID.
// Rules of disabled credentials stay in the store but are not returned.
func (r *SQLiteRuleRepository) FindAll(ctx context.Context) ([]AccessRule, error) {
	return listEnabledRules(ctx, r.db)
}

// FindByDeviceID returns the device's rules sorted by ID, regardless of
// whether its credential is enabled. The slice is empty, not nil, when
// there are none.
func (r *SQLiteRuleRepository) FindByDeviceID(ctx context.Context, deviceID string) ([]AccessRule, error) {
	return queryRules(ctx, r.db,
		"SELECT "+ruleColumns+" FROM mqtt_acl_rules r WHERE r.device_id = ? ORDER BY r.id", deviceID)
}

// FindByID returns ErrNotFound for an unknown rule.
func (r *SQLiteRuleRepository) FindByID(ctx context.Context, id int64) (*AccessRule, error) {
	return getRule(ctx, r.db, id)
}

// Create adds a rule for a device that has a credential. The permission and
// pattern are validated first; an unknown device yields ErrNotFound.
func (r *SQLiteRuleRepository) Create(ctx context.Context, deviceID, pattern string, permission Permission) (*AccessRule, error) {
	if !permission.Valid() {
		return nil, fmt.Errorf("%w: permission must be one of read, write, readwrite", ErrValidation)
	}
	if err := ValidateTopicPattern(pattern); err != nil {
		return nil, err
	}

	rule := &AccessRule{
		DeviceID:     deviceID,
		TopicPattern: pattern,
		Permission:   permission,
		CreatedAt:    nowUTC(),
	}

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := getCredential(ctx, tx, "device_id", deviceID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			"INSERT INTO mqtt_acl_rules (device_id, topic_pattern, permission, created_at) VALUES (?, ?, ?, ?)",
			deviceID, pattern, string(permission), formatTime(rule.CreatedAt),
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("%w: no MQTT credentials for device_id %s", ErrNotFound, deviceID)
			}
			return storageError("creating access rule", err)
		}
		if rule.ID, err = result.LastInsertId(); err != nil {
			return storageError("creating access rule", err)
		}

		return bumpPending(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// CreateDefaultRule grants readwrite on "<prefix>/<deviceID>/#".
func (r *SQLiteRuleRepository) CreateDefaultRule(ctx context.Context, deviceID string) (*AccessRule, error) {
	return r.Create(ctx, deviceID, DefaultTopicPattern(r.topicPrefix, deviceID), PermissionReadWrite)
}

// Update applies a partial update. Unchanged values record no pending change.
func (r *SQLiteRuleRepository) Update(ctx context.Context, id int64, update RuleUpdate) (*AccessRule, error) {
	if update.Permission != nil && !update.Permission.Valid() {
		return nil, fmt.Errorf("%w: permission must be one of read, write, readwrite", ErrValidation)
	}
	if update.TopicPattern != nil {
		if err := ValidateTopicPattern(*update.TopicPattern); err != nil {
			return nil, err
		}
	}

	var updated *AccessRule
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		current, err := getRule(ctx, tx, id)
		if err != nil {
			return err
		}

		next := *current
		if update.TopicPattern != nil {
			next.TopicPattern = *update.TopicPattern
		}
		if update.Permission != nil {
			next.Permission = *update.Permission
		}
		if next == *current {
			updated = current
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE mqtt_acl_rules SET topic_pattern = ?, permission = ? WHERE id = ?",
			next.TopicPattern, string(next.Permission), id,
		); err != nil {
			return storageError("updating access rule", err)
		}

		updated = &next
		return bumpPending(ctx, tx)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes one rule and reports whether it existed.
func (r *SQLiteRuleRepository) Delete(ctx context.Context, id int64) (bool, error) {
	n, err := r.deleteWhere(ctx, "id = ?", id)
	return n > 0, err
}

// DeleteByDeviceID removes all of a device's rules and returns how many
// were removed.
func (r *SQLiteRuleRepository) DeleteByDeviceID(ctx context.Context, deviceID string) (int64, error) {
	return r.deleteWhere(ctx, "device_id = ?", deviceID)
}

func (r *SQLiteRuleRepository) deleteWhere(ctx context.Context, where string, arg any) (int64, error) {
	var n int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM mqtt_acl_rules WHERE "+where, arg) //nolint:gosec // where is a package constant
		if err != nil {
			return storageError("deleting access rules", err)
		}
		n, _ = result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
		if n == 0 {
			return nil
		}
		return bumpPending(ctx, tx)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func getRule(ctx context.Context, q querier, id int64) (*AccessRule, error) {
	row := q.QueryRowContext(ctx, "SELECT "+ruleColumns+" FROM mqtt_acl_rules r WHERE r.id = ?", id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: access rule %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, storageError("reading access rule", err)
	}
	return rule, nil
}

func listEnabledRules(ctx context.Context, q querier) ([]AccessRule, error) {
	return queryRules(ctx, q,
		`SELECT `+ruleColumns+`
		 FROM mqtt_acl_rules r
		 JOIN mqtt_credentials c ON c.device_id = r.device_id
		 WHERE c.enabled = 1
		 ORDER BY r.id`)
}

func queryRules(ctx context.Context, q querier, query string, args ...any) ([]AccessRule, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("listing access rules", err)
	}
	defer rows.Close()

	rules := []AccessRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, storageError("scanning access rule", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("iterating access rules", err)
	}
	return rules, nil
}

func scanRule(s scanner) (*AccessRule, error) {
	var rule AccessRule
	var permission, createdAt string

	if err := s.Scan(&rule.ID, &rule.DeviceID, &rule.TopicPattern, &permission, &createdAt); err != nil {
		return nil, err
	}

	rule.Permission = Permission(permission)
	rule.CreatedAt = parseTime(createdAt)
	return &rule, nil
}
