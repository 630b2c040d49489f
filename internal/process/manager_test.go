package process

import (
	"context"
	"errors"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestNewManager_FillsZeroDurations(t *testing.T) {
	m := NewManager(Config{Name: "mosquitto", Binary: "/usr/sbin/mosquitto"})

	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"RestartDelay", m.config.RestartDelay, defaultRestartDelay},
		{"MaxRestartDelay", m.config.MaxRestartDelay, defaultMaxRestartDelay},
		{"StableThreshold", m.config.StableThreshold, defaultStableThreshold},
		{"GracefulTimeout", m.config.GracefulTimeout, defaultGracefulTimeout},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	custom := NewManager(Config{Name: "mosquitto", Binary: "/usr/sbin/mosquitto", RestartDelay: time.Second})
	if custom.config.RestartDelay != time.Second {
		t.Errorf("explicit RestartDelay overwritten: %v", custom.config.RestartDelay)
	}
}

func TestDefaultConfig_RestartsBroker(t *testing.T) {
	cfg := DefaultConfig("mosquitto", "/usr/sbin/mosquitto", []string{"-c", "/mosquitto/config/mosquitto.conf"})

	if !cfg.RestartOnFailure {
		t.Error("RestartOnFailure = false, want true")
	}
	if cfg.MaxRestartAttempts != 10 {
		t.Errorf("MaxRestartAttempts = %d, want 10", cfg.MaxRestartAttempts)
	}
	if len(cfg.Args) != 2 || cfg.Args[1] != "/mosquitto/config/mosquitto.conf" {
		t.Errorf("Args = %v", cfg.Args)
	}
}

func TestManager_StatsWhenStopped(t *testing.T) {
	m := NewManager(Config{Name: "mosquitto", Binary: "/bin/true"})

	if m.IsRunning() || m.LastError() != nil {
		t.Fatalf("fresh manager: running=%v lastError=%v", m.IsRunning(), m.LastError())
	}

	stats := m.Stats()
	want := Stats{Name: "mosquitto", Status: StatusStopped}
	if stats != want {
		t.Errorf("Stats() = %+v, want %+v", stats, want)
	}
}

func TestManager_StopWhenNotRunning(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/true",
	})

	// Stopping a non-running process should be a no-op
	if err := m.Stop(); err != nil {
		t.Errorf("Stop() on stopped process error = %v, want nil", err)
	}
}

func TestManager_StartAlreadyRunning(t *testing.T) {
	m := NewManager(Config{
		Name:   "test",
		Binary: "/bin/sleep",
		Args:   []string{"10"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the process
	if err := m.Start(ctx); err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	defer m.Stop()

	// Starting again should fail
	err := m.Start(ctx)
	if err == nil {
		t.Error("second Start() expected error, got nil")
	}
}

func TestManager_StartAndStop(t *testing.T) {
	m := NewManager(Config{
		Name:            "test-sleep",
		Binary:          "/bin/sleep",
		Args:            []string{"60"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Verify running state
	if !m.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	if stats := m.Stats(); stats.PID == 0 || stats.Uptime <= 0 {
		t.Errorf("Stats() after Start() = %+v, want a pid and uptime", stats)
	}
	if m.Status() != StatusRunning {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusRunning)
	}

	// Stop the process
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}

	// Give the monitor goroutine time to update state
	time.Sleep(100 * time.Millisecond)

	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
}

func TestManager_StartWithInvalidBinary(t *testing.T) {
	m := NewManager(Config{
		Name:   "bad-binary",
		Binary: "/nonexistent/binary",
	})

	ctx := context.Background()
	err := m.Start(ctx)
	if err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}

	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	m := NewManager(Config{
		Name:            "test",
		Binary:          "/bin/true",
		RestartDelay:    1 * time.Second,
		MaxRestartDelay: 30 * time.Second,
	})

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},  // First attempt: base delay
		{2, 2 * time.Second},  // 2nd: 1s * 2
		{3, 4 * time.Second},  // 3rd: 1s * 4
		{4, 8 * time.Second},  // 4th: 1s * 8
		{5, 16 * time.Second}, // 5th: 1s * 16
		{6, 30 * time.Second}, // 6th: capped at max
		{7, 30 * time.Second}, // 7th: stays at max
	}

	for _, tt := range tests {
		got := m.calculateBackoffDelay(tt.attempt)
		if got != tt.want {
			t.Errorf("calculateBackoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestIsRecoverable(t *testing.T) {
	t.Run("nil error is recoverable", func(t *testing.T) {
		if !IsRecoverable(nil) {
			t.Error("IsRecoverable(nil) = false, want true")
		}
	})

	t.Run("plain error is recoverable", func(t *testing.T) {
		err := context.DeadlineExceeded
		if !IsRecoverable(err) {
			t.Error("plain error should be recoverable by default")
		}
	})

	t.Run("recoverable error interface", func(t *testing.T) {
		err := &testRecoverableError{recoverable: true}
		if !IsRecoverable(err) {
			t.Error("recoverable error should return true")
		}
	})

	t.Run("non-recoverable error interface", func(t *testing.T) {
		err := &testRecoverableError{recoverable: false}
		if IsRecoverable(err) {
			t.Error("non-recoverable error should return false")
		}
	})
}

// testRecoverableError implements RecoverableError for testing.
type testRecoverableError struct {
	recoverable bool
}

func (e *testRecoverableError) Error() string       { return "test error" }
func (e *testRecoverableError) IsRecoverable() bool { return e.recoverable }

func TestManager_SignalNotRunning(t *testing.T) {
	m := NewManager(Config{Name: "broker", Binary: "/bin/true"})

	if err := m.Signal(syscall.SIGHUP); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Signal() error = %v, want ErrNotRunning", err)
	}
}

func TestManager_SignalReload(t *testing.T) {
	m := NewManager(Config{
		Name:            "broker",
		Binary:          "/bin/sh",
		Args:            []string{"-c", "trap 'echo reload' HUP; while true; do sleep 0.1; done"},
		GracefulTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer m.Stop()

	// Give the shell time to install its trap.
	time.Sleep(200 * time.Millisecond)

	if err := m.Signal(syscall.SIGHUP); err != nil {
		t.Fatalf("Signal(SIGHUP) error = %v", err)
	}

	time.Sleep(300 * time.Millisecond)
	if !m.IsRunning() {
		t.Error("process exited after SIGHUP, want it to keep running")
	}
}

func TestManager_RestartLimit(t *testing.T) {
	var restarts atomic.Int32
	m := NewManager(Config{
		Name:               "crashing",
		Binary:             "/bin/false",
		RestartOnFailure:   true,
		RestartDelay:       10 * time.Millisecond,
		MaxRestartDelay:    20 * time.Millisecond,
		MaxRestartAttempts: 2,
		OnRestart:          func(int) { restarts.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	select {
	case <-m.done:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not give up after max restart attempts")
	}

	if got := restarts.Load(); got != 2 {
		t.Errorf("OnRestart called %d times, want 2", got)
	}
	if m.Status() != StatusFailed {
		t.Errorf("Status() = %q, want %q", m.Status(), StatusFailed)
	}
	if m.LastError() == nil {
		t.Error("LastError() = nil after crashes")
	}
}
