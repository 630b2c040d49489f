package audit

import (
	"context"
)

// Hook is called after an entry has been stored.
type Hook func(ctx context.Context, log AuditLog)

// HookedRepository forwards every stored entry to a set of hooks. Hooks
// run synchronously after a successful Create and must not block.
type HookedRepository struct {
	Repository
	hooks []Hook
}

// WithHooks wraps repo so that hooks see every entry it stores.
func WithHooks(repo Repository, hooks ...Hook) *HookedRepository {
	return &HookedRepository{Repository: repo, hooks: hooks}
}

// Create stores log and then calls each hook with a copy of it.
func (r *HookedRepository) Create(ctx context.Context, log *AuditLog) error {
	if err := r.Repository.Create(ctx, log); err != nil {
		return err
	}
	for _, hook := range r.hooks {
		hook(ctx, *log)
	}
	return nil
}
