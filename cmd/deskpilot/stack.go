package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/deskpilot/internal/api"
	"github.com/nerrad567/deskpilot/internal/automation"
	"github.com/nerrad567/deskpilot/internal/desktop"
	"github.com/nerrad567/deskpilot/internal/infrastructure/config"
	"github.com/nerrad567/deskpilot/internal/infrastructure/database"
	"github.com/nerrad567/deskpilot/internal/infrastructure/influxdb"
	"github.com/nerrad567/deskpilot/internal/infrastructure/logging"
	"github.com/nerrad567/deskpilot/internal/infrastructure/mqtt"
	"github.com/nerrad567/deskpilot/migrations"
)

// desktopPorts are the operating-system facing pieces.
type desktopPorts struct {
	input      automation.InputPort
	vision     automation.VisionPort
	screenshot func(path string, region *automation.Region) error
	locate     func(ctx context.Context) (automation.Point, error)
}

// openDesktop builds the robotgo-backed ports. Tests replace it.
var openDesktop = func(cfg config.DesktopConfig, log *logging.Logger) desktopPorts {
	driver := desktop.NewRobotgoDriver()
	dcfg := desktop.Config{
		TemplateDir: cfg.TemplateDir,
		BoundsCheck: cfg.BoundsCheck,
		DragSteps:   cfg.DragSteps,
		IgnoreAlpha: cfg.IgnoreAlpha,
	}
	screen := desktop.NewScreen(driver, dcfg, log.Component("screen"))
	return desktopPorts{
		input:      desktop.NewInput(driver, dcfg, log.Component("input")),
		vision:     screen,
		screenshot: screen.SaveScreenshot,
		locate: func(ctx context.Context) (automation.Point, error) {
			return desktop.Locate(ctx, driver)
		},
	}
}

// stack is an executor with whichever infrastructure the config enables.
type stack struct {
	cfg      *config.Config
	log      *logging.Logger
	ports    desktopPorts
	vision   *automation.VisionController
	executor *automation.Executor

	db     *database.DB
	runs   *automation.SQLiteRunRepository
	mqtt   *mqtt.Client
	influx *influxdb.Client
	hub    *api.Hub

	closers []func()
}

// openStack connects the enabled infrastructure and wires the executor to
// it. withHub creates a WebSocket hub for the API server.
func openStack(ctx context.Context, cfg *config.Config, log *logging.Logger, withHub bool) (*stack, error) {
	s := &stack{cfg: cfg, log: log}
	if err := s.open(ctx, withHub); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *stack) open(ctx context.Context, withHub bool) error {
	cfg, log := s.cfg, s.log

	s.ports = openDesktop(cfg.Desktop, log)
	s.vision = automation.NewVisionController(s.ports.vision)
	s.vision.SetLogger(log.Component("vision"))

	opts := []automation.ExecutorOption{automation.WithLogger(log.Component("executor"))}

	if cfg.Database.Enabled {
		if err := s.openDatabase(ctx); err != nil {
			return err
		}
		opts = append(opts, automation.WithRecorder(s.runs))
	}

	if cfg.MQTT.Enabled {
		if err := s.connectMQTT(); err != nil {
			return err
		}
		opts = append(opts, automation.WithMQTT(s.mqtt, cfg.Agent.ID))
	}

	if cfg.InfluxDB.Enabled {
		if err := s.connectInflux(); err != nil {
			return err
		}
		opts = append(opts, automation.WithMetrics(s.influx))
	}

	if withHub {
		s.hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		opts = append(opts, automation.WithHub(s.hub))
	}

	history := automation.NewHistory(automation.WithLimit(cfg.Automation.HistoryLimit))
	s.executor = automation.NewExecutor(s.ports.input, s.vision, history, opts...)
	return nil
}

func (s *stack) openDatabase(ctx context.Context) error {
	db, err := database.Open(database.Config{
		Path:        s.cfg.Database.Path,
		WALMode:     s.cfg.Database.WALMode,
		BusyTimeout: s.cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	s.onClose(func() {
		s.log.Info("closing database")
		if err := db.Close(); err != nil {
			s.log.Error("error closing database", "error", err)
		}
	})

	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	s.db = db
	s.runs = automation.NewSQLiteRunRepository(db.DB)
	s.log.Info("database connected", "path", s.cfg.Database.Path)
	s.pruneRuns(ctx)
	return nil
}

// pruneInterval is how often serve applies the run retention policy.
const pruneInterval = time.Hour

// pruneRuns deletes runs older than the configured retention.
func (s *stack) pruneRuns(ctx context.Context) {
	retention := s.cfg.Database.Retention
	if s.runs == nil || retention <= 0 {
		return
	}
	n, err := s.runs.DeleteRunsBefore(ctx, time.Now().UTC().Add(-retention))
	if err != nil {
		s.log.Error("failed to prune run log", "error", err)
		return
	}
	if n > 0 {
		s.log.Info("pruned run log", "deleted", n, "retention", retention.String())
	}
}

// runRetention prunes the run log every pruneInterval until ctx ends.
func (s *stack) runRetention(ctx context.Context) {
	if s.runs == nil || s.cfg.Database.Retention <= 0 {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pruneRuns(ctx)
		}
	}
}

func (s *stack) connectMQTT() error {
	client, err := mqtt.Connect(s.cfg.MQTT, s.cfg.Agent.ID)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(s.log.Component("mqtt"))
	client.SetOnConnect(func() { s.log.Info("MQTT reconnected") })
	client.SetOnDisconnect(func(err error) { s.log.Warn("MQTT disconnected", "error", err) })
	s.onClose(func() {
		s.log.Info("disconnecting from MQTT")
		if err := client.Close(); err != nil {
			s.log.Error("error closing MQTT", "error", err)
		}
	})

	s.mqtt = client
	s.log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", s.cfg.MQTT.Broker.Host, s.cfg.MQTT.Broker.Port),
		"agent_id", s.cfg.Agent.ID,
	)
	return nil
}

func (s *stack) connectInflux() error {
	client, err := influxdb.Connect(s.cfg.InfluxDB, s.cfg.Agent.ID)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) { s.log.Error("InfluxDB write error", "error", err) })
	s.onClose(func() {
		s.log.Info("closing InfluxDB connection")
		if err := client.Close(); err != nil {
			s.log.Error("error closing InfluxDB", "error", err)
		}
	})

	s.influx = client
	s.log.Info("InfluxDB connected", "url", s.cfg.InfluxDB.URL, "bucket", s.cfg.InfluxDB.Bucket)
	return nil
}

// defaults returns the configured tuning values for submitted actions.
func (s *stack) defaults() automation.Defaults {
	a := s.cfg.Automation
	return automation.Defaults{
		Threshold:    a.Threshold,
		PollTimeout:  a.PollTimeout,
		PollInterval: a.PollInterval,
		Tolerance:    a.PixelTolerance,
	}
}

// healthCheckers lists the connected dependencies by name.
func (s *stack) healthCheckers() map[string]api.HealthChecker {
	checks := make(map[string]api.HealthChecker)
	if s.db != nil {
		checks["database"] = s.db
	}
	if s.mqtt != nil {
		checks["mqtt"] = s.mqtt
	}
	if s.influx != nil {
		checks["influxdb"] = s.influx
	}
	return checks
}

// healthCheck verifies every connected dependency.
func (s *stack) healthCheck(ctx context.Context) error {
	for name, c := range s.healthCheckers() {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (s *stack) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
