package bucket

import (
	"context"
	"time"

	"github.com/vnykmshr/batchflow/pkg/metrics"
)

// MetricsLimiter wraps a Limiter with Prometheus metrics collection.
type MetricsLimiter struct {
	Limiter
	name     string
	registry *metrics.Registry
}

// NewWithMetrics creates a token bucket that reports to the registry selected
// by metricsConfig. A disabled config returns the plain limiter.
func NewWithMetrics(config Config, name string, metricsConfig metrics.Config) (Limiter, error) {
	base, err := NewWithConfig(config)
	if err != nil {
		return nil, err
	}
	if !metricsConfig.Enabled {
		return base, nil
	}

	return &MetricsLimiter{
		Limiter:  base,
		name:     name,
		registry: metrics.FromConfig(metricsConfig),
	}, nil
}

// Allow reports whether an event may happen now.
func (ml *MetricsLimiter) Allow() bool {
	return ml.AllowN(1)
}

// AllowN reports whether n events may happen now.
func (ml *MetricsLimiter) AllowN(n int) bool {
	allowed := ml.Limiter.AllowN(n)
	ml.count(allowed)
	return allowed
}

// Wait blocks until an event can happen.
func (ml *MetricsLimiter) Wait(ctx context.Context) error {
	return ml.WaitN(ctx, 1)
}

// WaitN blocks until n events can happen.
func (ml *MetricsLimiter) WaitN(ctx context.Context, n int) error {
	start := time.Now()
	err := ml.Limiter.WaitN(ctx, n)
	ml.registry.RateLimitWaitTime.WithLabelValues("token_bucket", ml.name).Observe(time.Since(start).Seconds())
	ml.count(err == nil)
	return err
}

func (ml *MetricsLimiter) count(allowed bool) {
	ml.registry.RateLimitRequests.WithLabelValues("token_bucket", ml.name).Inc()
	if allowed {
		ml.registry.RateLimitAllowed.WithLabelValues("token_bucket", ml.name).Inc()
	} else {
		ml.registry.RateLimitDenied.WithLabelValues("token_bucket", ml.name).Inc()
	}
}
