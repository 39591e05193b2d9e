package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. HOMEWATCH_HTTP_ADDR.
const EnvPrefix = "HOMEWATCH"

// Config is the service configuration.
type Config struct {
	HTTPAddr string         `yaml:"http_addr" envconfig:"HTTP_ADDR"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Polling  PollingConfig  `yaml:"polling" envconfig:"POLLING"`
	Health   HealthConfig   `yaml:"health" envconfig:"HEALTH"`
	Alerts   AlertsConfig   `yaml:"alerts" envconfig:"ALERTS"`
	Log      LogConfig      `yaml:"log" envconfig:"LOG"`
}

// DatabaseConfig selects the persistence engine.
type DatabaseConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER"`
	DSN    string `yaml:"dsn" envconfig:"DSN"`
}

// PollingConfig holds the three cadence classes and fetch limits.
type PollingConfig struct {
	StatusInterval time.Duration `yaml:"status_interval" envconfig:"STATUS_INTERVAL"`
	DataInterval   time.Duration `yaml:"data_interval" envconfig:"DATA_INTERVAL"`
	EnergyInterval time.Duration `yaml:"energy_interval" envconfig:"ENERGY_INTERVAL"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxBackoff     time.Duration `yaml:"max_backoff" envconfig:"MAX_BACKOFF"`
}

// HealthConfig drives the status reconciler.
type HealthConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" envconfig:"FAILURE_THRESHOLD"`
	StaleAfter       time.Duration `yaml:"stale_after" envconfig:"STALE_AFTER"`
	OfflineGrace     time.Duration `yaml:"offline_grace" envconfig:"OFFLINE_GRACE"`
	SweepSchedule    string        `yaml:"sweep_schedule" envconfig:"SWEEP_SCHEDULE"`
}

// AlertsConfig drives the alert engine and notification adapters.
type AlertsConfig struct {
	DefaultCooldown    time.Duration `yaml:"default_cooldown" envconfig:"DEFAULT_COOLDOWN"`
	EscalateAfter      time.Duration `yaml:"escalate_after" envconfig:"ESCALATE_AFTER"`
	WebhookURL         string        `yaml:"webhook_url" envconfig:"WEBHOOK_URL"`
	NotifyTemplate     string        `yaml:"notify_template" envconfig:"NOTIFY_TEMPLATE"`
	NotifyTimeout      time.Duration `yaml:"notify_timeout" envconfig:"NOTIFY_TIMEOUT"`
	NotifyCooldown     time.Duration `yaml:"notify_cooldown" envconfig:"NOTIFY_COOLDOWN"`
	NotifyDedupeWindow time.Duration `yaml:"notify_dedupe_window" envconfig:"NOTIFY_DEDUPE_WINDOW"`
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Pretty bool   `yaml:"pretty" envconfig:"PRETTY"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "homewatch.db",
		},
		Polling: PollingConfig{
			StatusInterval: 10 * time.Second,
			DataInterval:   30 * time.Second,
			EnergyInterval: 5 * time.Minute,
			RequestTimeout: 5 * time.Second,
			MaxBackoff:     2 * time.Minute,
		},
		Health: HealthConfig{
			FailureThreshold: 3,
			StaleAfter:       5 * time.Minute,
			OfflineGrace:     10 * time.Minute,
			SweepSchedule:    "@every 15s",
		},
		Alerts: AlertsConfig{
			DefaultCooldown: 10 * time.Minute,
			EscalateAfter:   15 * time.Minute,
			NotifyTimeout:   5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads defaults, then the yaml file at path (if any), then environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("config: env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Polling.StatusInterval <= 0 || c.Polling.DataInterval <= 0 || c.Polling.EnergyInterval <= 0 {
		errs = append(errs, errors.New("polling intervals must be positive"))
	}
	if c.Polling.RequestTimeout <= 0 {
		errs = append(errs, errors.New("polling.request_timeout must be positive"))
	}
	if c.Polling.MaxBackoff < c.Polling.StatusInterval {
		errs = append(errs, errors.New("polling.max_backoff must not be shorter than polling.status_interval"))
	}
	if c.Health.FailureThreshold < 1 {
		errs = append(errs, errors.New("health.failure_threshold must be at least 1"))
	}
	if c.Health.StaleAfter <= 0 {
		errs = append(errs, errors.New("health.stale_after must be positive"))
	}
	if c.Health.OfflineGrace < 0 {
		errs = append(errs, errors.New("health.offline_grace must not be negative"))
	}
	if strings.TrimSpace(c.Health.SweepSchedule) == "" {
		errs = append(errs, errors.New("health.sweep_schedule is required"))
	}
	if c.Alerts.DefaultCooldown < 0 || c.Alerts.EscalateAfter < 0 {
		errs = append(errs, errors.New("alert durations must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
