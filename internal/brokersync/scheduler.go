package brokersync

import (
	"context"
	"time"

	"github.com/nerrad567/tracker-broker-core/internal/credential"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/config"
)

// SyncRunner runs one sync. *Syncer satisfies it.
type SyncRunner interface {
	Sync(ctx context.Context) (SyncResult, error)
}

// StatusReader reads the sync status. credential.StatusRepository
// satisfies it.
type StatusReader interface {
	Get(ctx context.Context) (*credential.SyncStatus, error)
}

// Scheduler syncs in the background: periodically when changes are
// pending or the last attempt failed, and on demand through Trigger.
type Scheduler struct {
	runner   SyncRunner
	status   StatusReader
	interval time.Duration
	onStart  bool
	logger   Logger
	trigger  chan struct{}
}

// NewScheduler creates a scheduler. An interval of zero disables
// periodic checks; Trigger still works.
func NewScheduler(runner SyncRunner, status StatusReader, cfg config.SyncConfig, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		runner:   runner,
		status:   status,
		interval: cfg.Interval,
		onStart:  cfg.OnStart,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger requests a sync without waiting for it. Requests made while
// one is already queued are merged.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// HandleSyncRequest triggers a sync on any message. It has the shape of
// mqtt.MessageHandler.
func (s *Scheduler) HandleSyncRequest(topic string, _ []byte) error {
	s.logger.Debug("sync requested over mqtt", "topic", topic)
	s.Trigger()
	return nil
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.onStart {
		s.run(ctx, "startup")
	}

	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.checkPending(ctx)
		case <-s.trigger:
			s.run(ctx, "request")
		}
	}
}

func (s *Scheduler) checkPending(ctx context.Context) {
	st, err := s.status.Get(ctx)
	if err != nil {
		s.logger.Warn("reading sync status failed", "error", err)
		return
	}
	if st.PendingChanges == 0 && !st.Failed() {
		return
	}
	s.run(ctx, "pending")
}

func (s *Scheduler) run(ctx context.Context, reason string) {
	res, err := s.runner.Sync(ctx)
	if err != nil {
		// The syncer has already logged and recorded the failure.
		s.logger.Debug("scheduled sync failed", "reason", reason, "error", err)
		return
	}
	s.logger.Debug("scheduled sync finished", "reason", reason, "reloaded", res.Reloaded)
}
