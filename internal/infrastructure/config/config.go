package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for deskpilot.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Agent      AgentConfig      `yaml:"agent"`
	Automation AutomationConfig `yaml:"automation"`
	Desktop    DesktopConfig    `yaml:"desktop"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Watchers   []WatcherConfig  `yaml:"watchers"`
}

// AgentConfig identifies this deskpilot instance.
// The ID is used in MQTT topics and as the InfluxDB agent tag.
type AgentConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// AutomationConfig contains sequence execution and polling defaults.
type AutomationConfig struct {
	// StopOnFailure is the failure policy used when a request does not set one.
	StopOnFailure bool `yaml:"stop_on_failure"`

	// HistoryLimit caps the in-memory execution history. 0 means unbounded.
	HistoryLimit int `yaml:"history_limit"`

	// PollTimeout and PollInterval are applied to wait-style actions
	// that do not carry their own values.
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// Threshold is the default template match score (0, 1].
	Threshold float64 `yaml:"threshold"`

	// PixelTolerance is the default per-channel tolerance for pixel colour waits.
	PixelTolerance int `yaml:"pixel_tolerance"`
}

// DesktopConfig contains settings for the robotgo-backed input and vision ports.
type DesktopConfig struct {
	// TemplateDir is the directory template references are resolved against.
	TemplateDir string `yaml:"template_dir"`

	// BoundsCheck rejects coordinates outside the primary screen.
	BoundsCheck bool `yaml:"bounds_check"`

	// DragSteps is the number of intermediate cursor moves used by drag.
	DragSteps int `yaml:"drag_steps"`

	// IgnoreAlpha matches templates on every pixel. By default fully
	// transparent template pixels are left out of the match.
	IgnoreAlpha bool `yaml:"ignore_alpha"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// Retention is how long run records are kept. Zero keeps them forever.
	Retention time.Duration `yaml:"retention"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// AuthToken, when set, must be presented as a bearer token on every
	// request except the health check.
	AuthToken string `yaml:"auth_token"`

	CORS CORSConfig `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// Watcher kinds.
const (
	WatcherPixel       = "pixel"
	WatcherPixelChange = "pixel_change"
	WatcherImage       = "image"
)

// WatcherConfig declares a background screen watcher started by
// `deskpilot serve`. Triggers are broadcast on the "watchers" WebSocket
// channel and, when Sequence is set, run that sequence file.
type WatcherConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	// X and Y locate the sampled pixel for pixel and pixel_change watchers.
	X int `yaml:"x"`
	Y int `yaml:"y"`

	Color     string `yaml:"color"`
	Tolerance int    `yaml:"tolerance"`
	MinChange int    `yaml:"min_change"`

	Template  string  `yaml:"template"`
	Threshold float64 `yaml:"threshold"`

	// Event is the image watcher event: appeared (default), lost or moved.
	Event             string `yaml:"event"`
	MovementThreshold int    `yaml:"movement_threshold"`

	Interval time.Duration `yaml:"interval"`
	Cooldown time.Duration `yaml:"cooldown"`
	Once     bool          `yaml:"once"`

	Sequence string `yaml:"sequence"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// Redact lists extra attribute keys to mask, on top of the built-in
	// password, token, secret and text keys.
	Redact []string `yaml:"redact"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DESKPILOT_SECTION_KEY
// For example: DESKPILOT_DATABASE_PATH, DESKPILOT_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides applied.
// It is used when no config file exists, e.g. for one-off `deskpilot run` calls.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			ID:   "desk-001",
			Name: "deskpilot",
		},
		Automation: AutomationConfig{
			StopOnFailure:  true,
			HistoryLimit:   0,
			PollTimeout:    10 * time.Second,
			PollInterval:   500 * time.Millisecond,
			Threshold:      0.8,
			PixelTolerance: 10,
		},
		Desktop: DesktopConfig{
			TemplateDir: "./templates",
			BoundsCheck: true,
			DragSteps:   20,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/deskpilot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "deskpilot",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8470,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DESKPILOT_AGENT_ID"); v != "" {
		cfg.Agent.ID = v
	}

	if v := os.Getenv("DESKPILOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("DESKPILOT_TEMPLATE_DIR"); v != "" {
		cfg.Desktop.TemplateDir = v
	}

	if v := os.Getenv("DESKPILOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DESKPILOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DESKPILOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("DESKPILOT_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("DESKPILOT_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("DESKPILOT_API_TOKEN"); v != "" {
		cfg.API.AuthToken = v
	}

	if v := os.Getenv("DESKPILOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("DESKPILOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.ID == "" {
		errs = append(errs, "agent.id is required")
	}

	a := c.Automation
	if a.HistoryLimit < 0 {
		errs = append(errs, "automation.history_limit must not be negative")
	}
	if a.PollTimeout <= 0 {
		errs = append(errs, "automation.poll_timeout must be positive")
	}
	if a.PollInterval <= 0 || a.PollInterval > a.PollTimeout {
		errs = append(errs, "automation.poll_interval must be positive and not exceed poll_timeout")
	}
	if a.Threshold <= 0 || a.Threshold > 1 {
		errs = append(errs, "automation.threshold must be in (0, 1]")
	}
	if a.PixelTolerance < 0 || a.PixelTolerance > 255 {
		errs = append(errs, "automation.pixel_tolerance must be between 0 and 255")
	}

	if c.Desktop.DragSteps < 1 {
		errs = append(errs, "desktop.drag_steps must be at least 1")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.Retention < 0 {
		errs = append(errs, "database.retention must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, "logging.format must be json or text")
	}
	switch strings.ToLower(c.Logging.Output) {
	case "stdout", "stderr":
	default:
		errs = append(errs, "logging.output must be stdout or stderr")
	}

	errs = append(errs, validateWatchers(c.Watchers)...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validateWatchers(watchers []WatcherConfig) []string {
	var errs []string
	seen := make(map[string]struct{}, len(watchers))

	for i, w := range watchers {
		field := fmt.Sprintf("watchers[%d]", i)
		if w.Name == "" {
			errs = append(errs, field+".name is required")
		} else if _, dup := seen[w.Name]; dup {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", field, w.Name))
		}
		seen[w.Name] = struct{}{}

		switch w.Kind {
		case WatcherPixel:
			if w.Color == "" {
				errs = append(errs, field+".color is required for pixel watchers")
			}
			if w.Tolerance < 0 || w.Tolerance > 255 {
				errs = append(errs, field+".tolerance must be between 0 and 255")
			}
		case WatcherPixelChange:
			if w.MinChange < 1 {
				errs = append(errs, field+".min_change must be at least 1")
			}
		case WatcherImage:
			if w.Template == "" {
				errs = append(errs, field+".template is required for image watchers")
			}
			if w.Threshold < 0 || w.Threshold > 1 {
				errs = append(errs, field+".threshold must be in (0, 1]")
			}
			switch strings.ToLower(w.Event) {
			case "", "appeared", "lost", "moved":
			default:
				errs = append(errs, fmt.Sprintf("%s.event %q must be appeared, lost or moved", field, w.Event))
			}
			if w.MovementThreshold < 0 {
				errs = append(errs, field+".movement_threshold must not be negative")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.kind %q must be pixel, pixel_change or image", field, w.Kind))
		}

		if w.Interval < 0 || w.Cooldown < 0 {
			errs = append(errs, field+" interval and cooldown must not be negative")
		}
	}
	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
