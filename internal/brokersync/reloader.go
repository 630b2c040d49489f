package brokersync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/docker/docker/client"

	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/config"
)

// Reloader tells a running broker to re-read its password and ACL files.
// Reloading is best effort: a failure leaves the new files in place for the
// next broker restart.
type Reloader interface {
	Reload(ctx context.Context) error
	Name() string
}

// NoopReloader is used when the service cannot reach the broker.
type NoopReloader struct{}

func (NoopReloader) Reload(context.Context) error { return ErrReloadUnavailable }
func (NoopReloader) Name() string                 { return config.ReloadNone }

// containerKiller is the part of the Docker client the reloader needs.
type containerKiller interface {
	ContainerKill(ctx context.Context, containerID, signal string) error
}

// DockerReloader sends SIGHUP to the broker container through the Docker
// Engine API, the equivalent of "docker kill --signal HUP mosquitto".
type DockerReloader struct {
	docker    containerKiller
	container string
	closer    func() error
}

// NewDockerReloader connects to the Docker daemon named by host, or by
// DOCKER_HOST and friends when host is empty.
func NewDockerReloader(host, container string) (*DockerReloader, error) {
	if container == "" {
		return nil, fmt.Errorf("%w: docker reload needs a container name", ErrReloadUnavailable)
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &DockerReloader{docker: cli, container: container, closer: cli.Close}, nil
}

func (r *DockerReloader) Reload(ctx context.Context) error {
	if err := r.docker.ContainerKill(ctx, r.container, "SIGHUP"); err != nil {
		return fmt.Errorf("%w: signalling container %s: %w", ErrReload, r.container, err)
	}
	return nil
}

func (r *DockerReloader) Name() string { return config.ReloadDocker }

// Close releases the Docker client.
func (r *DockerReloader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// Signaller is implemented by process.Manager.
type Signaller interface {
	Signal(sig syscall.Signal) error
}

// ProcessReloader sends SIGHUP to a broker this service started itself.
type ProcessReloader struct {
	proc Signaller
}

// NewProcessReloader returns a reloader for a managed broker process.
func NewProcessReloader(proc Signaller) *ProcessReloader {
	return &ProcessReloader{proc: proc}
}

func (r *ProcessReloader) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrReload, err)
	}
	if err := r.proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("%w: %w", ErrReload, err)
	}
	return nil
}

func (r *ProcessReloader) Name() string { return config.ReloadProcess }

// PIDFileReloader sends SIGHUP to the PID recorded in the broker's pid
// file (mosquitto.conf "pid_file").
type PIDFileReloader struct {
	path string
	kill func(pid int, sig syscall.Signal) error
}

// NewPIDFileReloader returns a reloader reading the PID from path.
func NewPIDFileReloader(path string) *PIDFileReloader {
	return &PIDFileReloader{path: path, kill: syscall.Kill}
}

func (r *PIDFileReloader) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrReload, err)
	}
	pid, err := readPID(r.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReload, err)
	}
	if err := r.kill(pid, syscall.SIGHUP); err != nil {
		return fmt.Errorf("%w: signalling pid %d: %w", ErrReload, pid, err)
	}
	return nil
}

func (r *PIDFileReloader) Name() string { return config.ReloadPIDFile }

func readPID(path string) (int, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return 0, fmt.Errorf("reading pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 1 {
		return 0, fmt.Errorf("pid file %s does not hold a usable pid", path)
	}
	return pid, nil
}

// NewReloader builds the reloader selected by cfg.Method. proc is only
// used by the process method and may be nil otherwise.
func NewReloader(cfg config.BrokerReloadConfig, proc Signaller) (Reloader, error) {
	switch cfg.Method {
	case "", config.ReloadNone:
		return NoopReloader{}, nil
	case config.ReloadDocker:
		return NewDockerReloader(cfg.DockerHost, cfg.Container)
	case config.ReloadProcess:
		if proc == nil {
			return nil, errors.New("reload method process needs broker.process.managed")
		}
		return NewProcessReloader(proc), nil
	case config.ReloadPIDFile:
		if cfg.PIDFile == "" {
			return nil, errors.New("reload method pidfile needs broker.reload.pid_file")
		}
		return NewPIDFileReloader(cfg.PIDFile), nil
	default:
		return nil, fmt.Errorf("unknown reload method %q", cfg.Method)
	}
}
