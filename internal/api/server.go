package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/tracker-broker-core/internal/audit"
	"github.com/nerrad567/tracker-broker-core/internal/brokersync"
	"github.com/nerrad567/tracker-broker-core/internal/credential"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/config"
	"github.com/nerrad567/tracker-broker-core/internal/infrastructure/logging"
	"github.com/nerrad567/tracker-broker-core/internal/process"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Syncer runs broker syncs. *brokersync.Syncer satisfies it.
type Syncer interface {
	Sync(ctx context.Context) (brokersync.SyncResult, error)
	State() brokersync.State
}

// DeviceNames resolves display names for credential listings.
type DeviceNames interface {
	DeviceName(ctx context.Context, deviceID string) (string, error)
}

// BrokerProcess reports on a broker this service supervises.
// *process.Manager satisfies it.
type BrokerProcess interface {
	Stats() process.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	Logger      *logging.Logger
	Credentials *credential.Service
	Syncer      Syncer
	Devices     DeviceNames   // optional
	Broker      BrokerProcess // optional, set when the broker is managed
	Audit       audit.Repository
	Version     string
}

// Server is the admin HTTP API server.
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	credentials *credential.Service
	syncer      Syncer
	devices     DeviceNames
	broker      BrokerProcess
	auditRepo   audit.Repository
	version     string
	server      *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Credentials == nil {
		return nil, fmt.Errorf("credential service is required")
	}
	if deps.Syncer == nil {
		return nil, fmt.Errorf("syncer is required")
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		credentials: deps.Credentials,
		syncer:      deps.Syncer,
		devices:     deps.Devices,
		broker:      deps.Broker,
		auditRepo:   deps.Audit,
		version:     deps.Version,
	}, nil
}

// Start binds the listen address and serves in a background goroutine.
// Binding errors (port in use, etc.) are returned here.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.logger.Info("API server listening", "address", ln.Addr().String(), "auth", s.cfg.Token != "")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
