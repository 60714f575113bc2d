// Package config loads process configuration for the backlog command
// from environment variables, optional .env files and a YAML file of
// static schedules and queue limits.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/xraph/backlog"
)

// Config holds all process configuration.
type Config struct {
	// Store settings
	DatabaseURL string `env:"BACKLOG_DATABASE_URL" envDefault:"postgres://localhost:5432/backlog?sslmode=disable"`
	Driver      string `env:"BACKLOG_DRIVER" envDefault:"pgx"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`

	// Worker settings
	Concurrency     int           `env:"BACKLOG_MAX_PROCESSES" envDefault:"10"`
	Queues          []string      `env:"BACKLOG_QUEUES" envSeparator:"," envDefault:"default"`
	DefaultQueue    string        `env:"BACKLOG_DEFAULT_QUEUE" envDefault:"default"`
	PollInterval    time.Duration `env:"BACKLOG_POLL_INTERVAL" envDefault:"1s"`
	ClaimBatch      int           `env:"BACKLOG_CLAIM_BATCH" envDefault:"5"`
	ShutdownTimeout time.Duration `env:"BACKLOG_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Scheduler and reaper
	ScheduleInterval time.Duration `env:"BACKLOG_SCHEDULE_INTERVAL" envDefault:"15s"`
	ReapInterval     time.Duration `env:"BACKLOG_REAP_INTERVAL" envDefault:"1m"`
	ClaimTimeout     time.Duration `env:"BACKLOG_CLAIM_TIMEOUT" envDefault:"1h"`
	ResultRetention  time.Duration `env:"BACKLOG_RESULT_RETENTION" envDefault:"720h"`

	// AuditLog writes an audit record for every lifecycle event.
	AuditLog bool `env:"BACKLOG_AUDIT_LOG" envDefault:"false"`

	// File is the YAML file with static schedules and queue limits.
	File string `env:"BACKLOG_CONFIG"`

	Otel OtelConfig
}

// OtelConfig holds OpenTelemetry trace export settings.
type OtelConfig struct {
	ExporterEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName      string  `env:"OTEL_SERVICE_NAME" envDefault:"backlog"`
	SamplingRate     float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
}

// Enabled reports whether traces are exported.
func (o OtelConfig) Enabled() bool { return o.ExporterEndpoint != "" }

// Load reads the given .env files, when they exist, and then parses the
// environment. Variables already set in the environment win over .env
// values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c *Config) Validate() error {
	switch c.Driver {
	case "pgx", "bun":
	default:
		return fmt.Errorf("BACKLOG_DRIVER: unknown driver %q (want pgx or bun)", c.Driver)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("BACKLOG_MAX_PROCESSES: must be at least 1, got %d", c.Concurrency)
	}
	if c.ResultRetention < 0 {
		return errors.New("BACKLOG_RESULT_RETENTION: must not be negative")
	}
	return nil
}

// Backlog converts the process configuration to the engine's.
func (c *Config) Backlog() backlog.Config {
	return backlog.Config{
		Concurrency:      c.Concurrency,
		Queues:           c.Queues,
		DefaultQueue:     c.DefaultQueue,
		PollInterval:     c.PollInterval,
		ClaimBatch:       c.ClaimBatch,
		ShutdownTimeout:  c.ShutdownTimeout,
		ClaimTimeout:     c.ClaimTimeout,
		ResultRetention:  c.ResultRetention,
		ScheduleInterval: c.ScheduleInterval,
		ReapInterval:     c.ReapInterval,
	}
}
