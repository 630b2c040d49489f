package credential

import (
	"context"
	"database/sql"

	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/database"
)

// Store bundles the three repositories over one database.
type Store struct {
	Credentials CredentialRepository
	Rules       RuleRepository
	Status      StatusRepository

	db          *database.DB
	topicPrefix string
}

// NewStore creates SQLite-backed repositories sharing db. topicPrefix is the
// prefix of default rules; empty means DefaultTopicPrefix.
func NewStore(db *database.DB, topicPrefix string) *Store {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	return &Store{
		Credentials: NewCredentialRepository(db),
		Rules:       NewRuleRepository(db, topicPrefix),
		Status:      NewStatusRepository(db),
		db:          db,
		topicPrefix: topicPrefix,
	}
}

// TopicPrefix returns the prefix of default rules.
func (s *Store) TopicPrefix() string {
	return s.topicPrefix
}

// Snapshot reads the enabled credentials, their rules and the pending
// counter in one read transaction, so a concurrent mutation is seen either
// entirely or not at all.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{TakenAt: nowUTC()}

	err := s.db.WithReadTx(ctx, func(tx *sql.Tx) error {
		var err error
		if snap.Credentials, err = listCredentials(ctx, tx, true); err != nil {
			return err
		}
		if snap.Rules, err = listEnabledRules(ctx, tx); err != nil {
			return err
		}
		status, err := getStatus(ctx, tx)
		if err != nil {
			return err
		}
		snap.PendingChanges = status.PendingChanges
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
