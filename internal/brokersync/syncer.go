package brokersync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/tracker-broker-core/internal/audit"
	"github.com/nerrad567/tracker-broker-core/internal/credential"
)

// State is the phase a sync is in.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateWriting    State = "writing"
	StateReloading  State = "reloading"
	StateRecording  State = "recording"
)

// Result messages, shown to administrators as is.
const (
	msgSyncedAndReloaded = "Mosquitto configuration synced and reloaded successfully"
	msgSyncedNoReload    = "Mosquitto configuration synced. Restart Mosquitto to apply changes."
	msgSyncFailedPrefix  = "Failed to sync Mosquitto configuration: "

	// AuditEntitySync is the audit entity type of sync runs.
	AuditEntitySync = "mqtt_sync"

	defaultReloadTimeout = 10 * time.Second
)

// SyncResult is the outcome of one sync.
type SyncResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Reloaded bool   `json:"reloaded"`
}

// SnapshotSource provides a consistent read of the credential store.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*credential.Snapshot, error)
}

// StatusRecorder records sync outcomes. credential.StatusRepository
// satisfies it.
type StatusRecorder interface {
	MarkSyncedThrough(ctx context.Context, observed int64) error
	MarkSyncFailed(ctx context.Context, message string) error
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the syncer's file locations and reload bound.
type Config struct {
	PasswordFile  string
	ACLFile       string
	ReloadTimeout time.Duration
}

// Deps holds the syncer's collaborators. Source, Status and Writer are
// required; Reloader defaults to NoopReloader.
type Deps struct {
	Source    SnapshotSource
	Status    StatusRecorder
	Admin     AdminIdentity
	Writer    ArtifactWriter
	Reloader  Reloader
	Observers []Observer
	Audit     audit.Repository
	Logger    Logger
}

// Syncer regenerates the broker files from the store and asks the broker
// to reload them. Runs are serialised: a caller arriving during a sync
// waits for it and then runs its own, so every request observes its own
// mutations.
type Syncer struct {
	cfg  Config
	deps Deps

	mu sync.Mutex // held for a whole run

	stateMu sync.RWMutex
	state   State
}

// NewSyncer validates cfg and deps and returns an idle syncer.
func NewSyncer(cfg Config, deps Deps) (*Syncer, error) {
	var problems []error
	if cfg.PasswordFile == "" {
		problems = append(problems, errors.New("password file path is required"))
	}
	if cfg.ACLFile == "" {
		problems = append(problems, errors.New("ACL file path is required"))
	}
	if cfg.PasswordFile != "" && cfg.PasswordFile == cfg.ACLFile {
		problems = append(problems, errors.New("password and ACL files must differ"))
	}
	if deps.Source == nil || deps.Status == nil || deps.Writer == nil {
		problems = append(problems, errors.New("snapshot source, status recorder and writer are required"))
	}
	if deps.Admin.Username == "" || deps.Admin.PasswordHash == "" {
		problems = append(problems, errors.New("admin identity is required"))
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("brokersync: %w", errors.Join(problems...))
	}

	if cfg.ReloadTimeout <= 0 {
		cfg.ReloadTimeout = defaultReloadTimeout
	}
	if deps.Reloader == nil {
		deps.Reloader = NoopReloader{}
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}

	return &Syncer{cfg: cfg, deps: deps, state: StateIdle}, nil
}

// State returns the phase of the sync in progress, or StateIdle.
func (s *Syncer) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Syncer) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// Sync runs one full sync. A failure to generate, write or record is
// returned as an error alongside an unsuccessful result. A failed reload
// is not an error: the files are in place and the result says a restart
// is needed.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.setState(StateIdle)

	started := time.Now()
	report := Report{StartedAt: started.UTC()}

	result, err := s.run(ctx, &report)

	report.Result = result
	report.Duration = time.Since(started)
	report.Err = err
	s.notify(ctx, report)

	return result, err
}

func (s *Syncer) run(ctx context.Context, report *Report) (SyncResult, error) {
	log := s.deps.Logger

	s.setState(StateGenerating)
	snap, err := s.deps.Source.Snapshot(ctx)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("reading credentials: %w", err))
	}
	report.PendingBefore = snap.PendingChanges
	report.Credentials = len(snap.Credentials)
	report.Rules = len(snap.Rules)

	artifacts, err := Generate(s.deps.Admin, snap)
	if err != nil {
		return s.fail(ctx, err)
	}

	// Once files are written the outcome must be recorded even if the
	// caller has gone away.
	recordCtx := context.WithoutCancel(ctx)

	s.setState(StateWriting)
	if err := s.deps.Writer.Write(s.cfg.PasswordFile, artifacts.PasswordFile); err != nil {
		return s.fail(recordCtx, err)
	}
	log.Debug("password file written", "path", s.cfg.PasswordFile, "bytes", len(artifacts.PasswordFile))

	if err := s.deps.Writer.Write(s.cfg.ACLFile, artifacts.ACLFile); err != nil {
		return s.fail(recordCtx, err)
	}
	log.Debug("acl file written", "path", s.cfg.ACLFile, "bytes", len(artifacts.ACLFile))

	s.setState(StateReloading)
	reloaded := s.reload(ctx)

	s.setState(StateRecording)
	if err := s.deps.Status.MarkSyncedThrough(recordCtx, snap.PendingChanges); err != nil {
		return s.fail(recordCtx, fmt.Errorf("recording sync status: %w", err))
	}

	result := SyncResult{Success: true, Reloaded: reloaded, Message: msgSyncedNoReload}
	if reloaded {
		result.Message = msgSyncedAndReloaded
	}

	log.Info("broker configuration synced",
		"credentials", len(snap.Credentials),
		"rules", len(snap.Rules),
		"pending_before", snap.PendingChanges,
		"reloaded", reloaded,
	)
	s.record(recordCtx, result)
	return result, nil
}

// reload signals the broker within ReloadTimeout and reports success.
func (s *Syncer) reload(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ReloadTimeout)
	defer cancel()

	err := s.deps.Reloader.Reload(ctx)
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrReloadUnavailable):
		s.deps.Logger.Info("broker reload not configured, restart the broker to apply changes",
			"reloader", s.deps.Reloader.Name())
	default:
		s.deps.Logger.Warn("broker reload failed, restart the broker to apply changes",
			"reloader", s.deps.Reloader.Name(), "error", err)
	}
	return false
}

func (s *Syncer) fail(ctx context.Context, cause error) (SyncResult, error) {
	s.setState(StateRecording)
	s.deps.Logger.Error("broker configuration sync failed", "error", cause)

	if err := s.deps.Status.MarkSyncFailed(ctx, cause.Error()); err != nil {
		s.deps.Logger.Error("recording sync failure failed", "error", err)
	}

	result := SyncResult{Message: msgSyncFailedPrefix + cause.Error()}
	s.record(ctx, result)
	return result, cause
}

func (s *Syncer) record(ctx context.Context, result SyncResult) {
	if s.deps.Audit == nil {
		return
	}
	entry := &audit.AuditLog{
		Action:     "sync",
		EntityType: AuditEntitySync,
		Source:     "brokersync",
		Details: map[string]any{
			"success":  result.Success,
			"reloaded": result.Reloaded,
			"message":  result.Message,
		},
	}
	if err := s.deps.Audit.Create(ctx, entry); err != nil {
		s.deps.Logger.Warn("writing sync audit log failed", "error", err)
	}
}

func (s *Syncer) notify(ctx context.Context, report Report) {
	ctx = context.WithoutCancel(ctx)
	for _, o := range s.deps.Observers {
		if err := o.SyncCompleted(ctx, report); err != nil {
			s.deps.Logger.Warn("sync observer failed", "observer", fmt.Sprintf("%T", o), "error", err)
		}
	}
}
