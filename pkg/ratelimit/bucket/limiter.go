package bucket

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/vnykmshr/batchflow/pkg/common/validation"
)

// Limit is a refill rate in tokens per second. Zero means the bucket never
// refills after its initial tokens are spent.
type Limit float64

// Inf disables limiting.
var Inf = Limit(math.Inf(1))

// Every returns the Limit that admits one event per interval.
func Every(interval time.Duration) Limit {
	if interval <= 0 {
		return Inf
	}
	return Limit(time.Second) / Limit(interval)
}

// Limiter is a token bucket. It satisfies workerpool.Limiter.
type Limiter interface {
	// Allow takes one token if available, without blocking.
	Allow() bool

	// AllowN takes n tokens if all are available, without blocking.
	AllowN(n int) bool

	// Wait blocks until one token is available or ctx ends.
	Wait(ctx context.Context) error

	// WaitN blocks until n tokens are available or ctx ends.
	WaitN(ctx context.Context, n int) error

	// Limit is the refill rate.
	Limit() Limit

	// Burst is the bucket capacity.
	Burst() int

	// Tokens is the current balance, negative while waiters hold reservations.
	Tokens() float64
}

// Clock lets tests control refill time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// Config configures NewWithConfig.
type Config struct {
	// Rate is the refill rate.
	Rate Limit

	// Burst caps the balance. Must be positive.
	Burst int

	// Clock defaults to SystemClock.
	Clock Clock

	// InitialTokens is the starting balance. Negative or above Burst
	// starts full.
	InitialTokens int
}

type tokenBucket struct {
	mu         sync.Mutex
	limit      Limit
	burst      int
	tokens     float64
	lastUpdate time.Time
	clock      Clock
}

// New creates a token bucket that starts full.
func New(rate Limit, burst int) (Limiter, error) {
	return NewWithConfig(Config{
		Rate:          rate,
		Burst:         burst,
		InitialTokens: -1,
	})
}

// NewWithConfig creates a token bucket from config.
func NewWithConfig(config Config) (Limiter, error) {
	if err := validation.ValidateNonNegative("bucket", "rate", float64(config.Rate)); err != nil {
		return nil, err
	}
	if err := validation.ValidatePositive("bucket", "burst", config.Burst); err != nil {
		return nil, err
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}

	initialTokens := float64(config.InitialTokens)
	if config.InitialTokens < 0 || config.InitialTokens > config.Burst {
		initialTokens = float64(config.Burst)
	}

	return &tokenBucket{
		limit:      config.Rate,
		burst:      config.Burst,
		tokens:     initialTokens,
		lastUpdate: config.Clock.Now(),
		clock:      config.Clock,
	}, nil
}
