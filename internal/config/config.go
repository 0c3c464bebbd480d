// Package config loads the batchflow command's settings from the environment.
package config

import (
	"errors"
	"io/fs"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	gferrors "github.com/vnykmshr/batchflow/pkg/common/errors"
	"github.com/vnykmshr/batchflow/pkg/common/validation"
	"github.com/vnykmshr/batchflow/pkg/scheduling/scheduler"
)

// Config holds runtime configuration for cmd/batchflow.
type Config struct {
	Workers       int
	ItemTimeout   time.Duration
	Rate          float64 // items per second, 0 disables rate limiting
	Burst         int
	Schedule      string // cron expression, empty runs once
	InputFile     string // empty reads command-line arguments
	PoolName      string
	RedisURL      string // enables the distributed limiter
	MetricsAddr   string // enables the /metrics endpoint
	LogLevel      logrus.Level
	LogFormat     string // text or json
	GoroutinePool int    // size of a shared ants pool, 0 disables
}

// Load reads .env files (missing files are ignored) and then the process
// environment. Variables already set in the environment win over .env values.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, gferrors.NewOperationError("config", "Load", err)
	}
	return FromEnv()
}

// FromEnv builds and validates a Config from environment variables.
func FromEnv() (*Config, error) {
	p := &parser{}

	cfg := &Config{
		Workers:       p.int("BATCHFLOW_WORKERS", 4),
		ItemTimeout:   p.duration("BATCHFLOW_ITEM_TIMEOUT", 0),
		Rate:          p.float("BATCHFLOW_RATE", 0),
		Burst:         p.int("BATCHFLOW_BURST", 1),
		Schedule:      getEnv("BATCHFLOW_SCHEDULE", ""),
		InputFile:     getEnv("BATCHFLOW_INPUT", ""),
		PoolName:      getEnv("BATCHFLOW_POOL_NAME", "batchflow"),
		RedisURL:      getEnv("REDIS_URL", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ""),
		LogLevel:      p.level("LOG_LEVEL", logrus.InfoLevel),
		LogFormat:     strings.ToLower(getEnv("LOG_FORMAT", "text")),
		GoroutinePool: p.int("BATCHFLOW_GOROUTINE_POOL", 0),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	if err := validation.ValidatePositive("config", "BATCHFLOW_WORKERS", c.Workers); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("config", "BATCHFLOW_ITEM_TIMEOUT", c.ItemTimeout); err != nil {
		return err
	}
	if err := validation.ValidateFinite("config", "BATCHFLOW_RATE", c.Rate); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative("config", "BATCHFLOW_RATE", c.Rate); err != nil {
		return err
	}
	if err := validation.ValidatePositive("config", "BATCHFLOW_BURST", c.Burst); err != nil {
		return err
	}
	if c.GoroutinePool < 0 {
		return gferrors.NewValidationError("config", "BATCHFLOW_GOROUTINE_POOL", c.GoroutinePool, "must not be negative")
	}
	if c.GoroutinePool > 0 && c.GoroutinePool < c.Workers {
		return gferrors.NewValidationError("config", "BATCHFLOW_GOROUTINE_POOL", c.GoroutinePool,
			"smaller than BATCHFLOW_WORKERS").
			WithHint("the shared pool must fit every worker of a run")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return gferrors.NewValidationError("config", "LOG_FORMAT", c.LogFormat, "must be text or json")
	}
	if c.RedisURL != "" && c.Rate == 0 {
		return gferrors.NewValidationError("config", "BATCHFLOW_RATE", c.Rate, "required when REDIS_URL is set").
			WithHint("REDIS_URL only enables the shared rate limiter")
	}
	if c.Schedule != "" {
		if _, err := scheduler.ParseCron(c.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// Logger returns a logrus logger configured with the level and format.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parser records the first conversion failure so FromEnv can report it.
type parser struct {
	err error
}

func (p *parser) fail(key, value, reason string) {
	if p.err == nil {
		p.err = gferrors.NewValidationError("config", key, value, reason)
	}
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, "not an integer")
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, "not a number")
		return fallback
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		p.fail(key, v, "must be a finite number")
		return fallback
	}
	return f
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, "not a duration like 500ms or 2s")
		return fallback
	}
	return d
}

func (p *parser) level(key string, fallback logrus.Level) logrus.Level {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	lvl, err := logrus.ParseLevel(v)
	if err != nil {
		p.fail(key, v, "unknown log level")
		return fallback
	}
	return lvl
}
