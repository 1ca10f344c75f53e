package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/deskpilot/internal/automation"
	"github.com/nerrad567/deskpilot/internal/infrastructure/config"
	"github.com/nerrad567/deskpilot/internal/infrastructure/logging"
)

const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is implemented by every infrastructure client.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// DBStatsProvider exposes connection pool statistics.
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// ConnectionStatus is implemented by broker and database clients.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds what the API server needs. Executor and Logger are required;
// the rest are optional and their endpoints degrade when absent.
type Deps struct {
	Config config.APIConfig
	WS     config.WebSocketConfig
	Logger *logging.Logger

	Executor *automation.Executor
	Runs     automation.RunRepository
	Watchers *automation.WatcherSet

	// DB and MQTT feed GET /metrics when set.
	DB   DBStatsProvider
	MQTT ConnectionStatus

	// Health lists dependencies reported by GET /health, keyed by name.
	Health map[string]HealthChecker

	// Hub is used instead of creating one when the executor was wired to
	// broadcast before the server existed.
	Hub *Hub

	// StopOnFailure is the policy for requests that do not set one.
	StopOnFailure bool

	// Defaults fill omitted tuning fields of submitted actions.
	Defaults automation.Defaults

	Version string
}

// Server is the HTTP API server.
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	logger        *logging.Logger
	executor      *automation.Executor
	runs          automation.RunRepository
	watchers      *automation.WatcherSet
	db            DBStatsProvider
	mqtt          ConnectionStatus
	health        map[string]HealthChecker
	stopOnFailure bool
	defaults      automation.Defaults
	version       string
	startTime     time.Time

	hub         *Hub
	externalHub bool

	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	runWG    sync.WaitGroup
}

// New validates deps and returns an unstarted server.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("executor is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		logger:        deps.Logger,
		executor:      deps.Executor,
		runs:          deps.Runs,
		watchers:      deps.Watchers,
		db:            deps.DB,
		mqtt:          deps.MQTT,
		health:        deps.Health,
		stopOnFailure: deps.StopOnFailure,
		defaults:      deps.Defaults,
		version:       deps.Version,
		startTime:     time.Now(),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the fully wired router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in the background. Asynchronous runs
// started through the API are cancelled when ctx ends or Close is called.
func (s *Server) Start(ctx context.Context) error {
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(s.ctx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, useful when Port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close cancels API-started runs, waits for them, then shuts the listener
// down within gracefulShutdownTimeout.
func (s *Server) Close() error {
	s.cancel()
	s.runWG.Wait()

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

// HealthCheck reports whether the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
