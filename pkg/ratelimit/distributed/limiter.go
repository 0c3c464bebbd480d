package distributed

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/vnykmshr/batchflow/pkg/common/validation"
)

// LocalLimiter is the process-local limiter used while Redis is unreachable.
// bucket.Limiter satisfies it.
type LocalLimiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// Config holds configuration for a distributed token bucket.
type Config struct {
	// Redis client for coordination
	Redis redis.UniversalClient

	// Key is the Redis key prefix shared by every instance of this limiter
	Key string

	// Rate is the number of tokens added per second
	Rate float64

	// Burst is the maximum number of tokens that can be stored
	Burst int

	// InstanceID uniquely identifies this process. Generated when empty.
	InstanceID string

	// RedisTimeout bounds each Redis round trip (defaults to 500ms)
	RedisTimeout time.Duration

	// KeyTTL is how long idle Redis keys live (defaults to 1 hour)
	KeyTTL time.Duration

	// Fallback, when set, serves Allow and Wait while Redis fails
	Fallback LocalLimiter

	// Logger receives fallback warnings. Defaults to a discarding logger.
	Logger logrus.FieldLogger
}

// Reservation describes the result of one attempt to take tokens.
type Reservation struct {
	OK         bool
	Delay      time.Duration
	Tokens     int
	Remaining  float64
	InstanceID string
}

// Stats holds the shared bucket state as seen in Redis.
type Stats struct {
	Tokens          float64
	LastRefill      time.Time
	TotalRequests   int64
	AllowedRequests int64
	DeniedRequests  int64
	ActiveInstances []string
}

// keySet names the Redis keys one limiter uses.
type keySet struct {
	tokens    string
	last      string
	stats     string
	instances string
}

func newKeySet(prefix string) keySet {
	return keySet{
		tokens:    prefix + ":tokens",
		last:      prefix + ":last_refill",
		stats:     prefix + ":stats",
		instances: prefix + ":instances",
	}
}

func (k keySet) all() []string {
	return []string{k.tokens, k.last, k.stats, k.instances}
}

// validateConfig validates the limiter configuration.
func validateConfig(config Config) error {
	if err := validation.ValidateNotNil("distributed", "redis", config.Redis); err != nil {
		return err
	}
	if err := validation.ValidateNotEmpty("distributed", "key", config.Key); err != nil {
		return err
	}
	if err := validation.ValidatePositiveFloat("distributed", "rate", config.Rate); err != nil {
		return err
	}
	if err := validation.ValidatePositive("distributed", "burst", config.Burst); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration("distributed", "redis_timeout", config.RedisTimeout); err != nil {
		return err
	}
	return validation.ValidateNonNegativeDuration("distributed", "key_ttl", config.KeyTTL)
}

// applyConfigDefaults sets default values for unspecified config fields.
func applyConfigDefaults(config Config) Config {
	if config.InstanceID == "" {
		config.InstanceID = generateInstanceID()
	}
	if config.RedisTimeout == 0 {
		config.RedisTimeout = 500 * time.Millisecond
	}
	if config.KeyTTL == 0 {
		config.KeyTTL = time.Hour
	}
	return config
}

// generateInstanceID creates a unique identifier for this process.
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 4)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s-%d-%x", hostname, os.Getpid(), randomBytes)
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "distributed rate limiter config error: " + e.Message
}

// RedisError represents a Redis operation error.
type RedisError struct {
	Operation string
	Err       error
}

func (e *RedisError) Error() string {
	return "redis error in " + e.Operation + ": " + e.Err.Error()
}

func (e *RedisError) Unwrap() error {
	return e.Err
}
