package brokersync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/config"
)

type fakeKiller struct {
	container string
	signal    string
	err       error
}

func (f *fakeKiller) ContainerKill(_ context.Context, containerID, signal string) error {
	f.container, f.signal = containerID, signal
	return f.err
}

type fakeSignaller struct {
	got []syscall.Signal
	err error
}

func (f *fakeSignaller) Signal(sig syscall.Signal) error {
	f.got = append(f.got, sig)
	return f.err
}

func TestDockerReloader(t *testing.T) {
	killer := &fakeKiller{}
	r := &DockerReloader{docker: killer, container: "mosquitto"}

	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if killer.container != "mosquitto" || killer.signal != "SIGHUP" {
		t.Errorf("ContainerKill(%q, %q), want (mosquitto, SIGHUP)", killer.container, killer.signal)
	}

	killer.err = errors.New("no such container")
	if err := r.Reload(context.Background()); !errors.Is(err, ErrReload) {
		t.Errorf("Reload() error = %v, want ErrReload", err)
	}
}

func TestProcessReloader(t *testing.T) {
	proc := &fakeSignaller{}
	r := NewProcessReloader(proc)

	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if len(proc.got) != 1 || proc.got[0] != syscall.SIGHUP {
		t.Errorf("signals = %v, want [SIGHUP]", proc.got)
	}

	proc.err = errors.New("not running")
	if err := r.Reload(context.Background()); !errors.Is(err, ErrReload) {
		t.Errorf("Reload() error = %v, want ErrReload", err)
	}
}

func TestPIDFileReloader(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "mosquitto.pid")

	var gotPID int
	var gotSig syscall.Signal
	r := NewPIDFileReloader(pidFile)
	r.kill = func(pid int, sig syscall.Signal) error {
		gotPID, gotSig = pid, sig
		return nil
	}

	if err := r.Reload(context.Background()); !errors.Is(err, ErrReload) {
		t.Errorf("Reload() with missing pid file error = %v, want ErrReload", err)
	}

	if err := os.WriteFile(pidFile, []byte("4242\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if gotPID != 4242 || gotSig != syscall.SIGHUP {
		t.Errorf("kill(%d, %v), want kill(4242, SIGHUP)", gotPID, gotSig)
	}

	for _, content := range []string{"", "abc", "1", "-5"} {
		if err := os.WriteFile(pidFile, []byte(content), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if err := r.Reload(context.Background()); !errors.Is(err, ErrReload) {
			t.Errorf("Reload() with pid file %q error = %v, want ErrReload", content, err)
		}
	}
}

func TestReloaders_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := &fakeSignaller{}
	if err := NewProcessReloader(proc).Reload(ctx); !errors.Is(err, ErrReload) {
		t.Errorf("Reload() error = %v, want ErrReload", err)
	}
	if len(proc.got) != 0 {
		t.Errorf("signals = %v, want none", proc.got)
	}
}

func TestNewReloader(t *testing.T) {
	r, err := NewReloader(config.BrokerReloadConfig{Method: config.ReloadNone}, nil)
	if err != nil {
		t.Fatalf("NewReloader(none) error = %v", err)
	}
	if err := r.Reload(context.Background()); !errors.Is(err, ErrReloadUnavailable) {
		t.Errorf("Reload() error = %v, want ErrReloadUnavailable", err)
	}

	valid := []config.BrokerReloadConfig{
		{Method: config.ReloadProcess},
		{Method: config.ReloadPIDFile, PIDFile: "/run/mosquitto.pid"},
	}
	for _, cfg := range valid {
		r, err := NewReloader(cfg, &fakeSignaller{})
		if err != nil {
			t.Fatalf("NewReloader(%s) error = %v", cfg.Method, err)
		}
		if r.Name() != cfg.Method {
			t.Errorf("Name() = %q, want %q", r.Name(), cfg.Method)
		}
	}

	invalid := []config.BrokerReloadConfig{
		{Method: config.ReloadProcess},
		{Method: config.ReloadPIDFile},
		{Method: "telepathy"},
	}
	for _, cfg := range invalid {
		if _, err := NewReloader(cfg, nil); err == nil {
			t.Errorf("NewReloader(%+v) succeeded, want error", cfg)
		}
	}

	if _, err := NewReloader(config.BrokerReloadConfig{Method: config.ReloadDocker}, nil); !errors.Is(err, ErrReloadUnavailable) {
		t.Errorf("NewReloader(docker without a container) error = %v, want ErrReloadUnavailable", err)
	}
}
