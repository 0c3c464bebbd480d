package concurrency

import (
	"context"
	"time"

	"github.com/vnykmshr/batchflow/pkg/metrics"
)

// MetricsLimiter wraps a concurrency Limiter with Prometheus metrics collection.
type MetricsLimiter struct {
	Limiter
	name     string
	registry *metrics.Registry
}

// NewWithMetrics creates a concurrency limiter that reports to the registry
// selected by metricsConfig. A disabled config returns the plain limiter.
func NewWithMetrics(capacity int, name string, metricsConfig metrics.Config) (Limiter, error) {
	base, err := New(capacity)
	if err != nil {
		return nil, err
	}
	if !metricsConfig.Enabled {
		return base, nil
	}

	ml := &MetricsLimiter{
		Limiter:  base,
		name:     name,
		registry: metrics.FromConfig(metricsConfig),
	}
	ml.updateMetrics()
	return ml, nil
}

// updateMetrics updates the current state metrics.
func (ml *MetricsLimiter) updateMetrics() {
	ml.registry.ConcurrencyActive.WithLabelValues(ml.name).Set(float64(ml.Limiter.InUse()))
	ml.registry.ConcurrencyWaiting.WithLabelValues(ml.name).Set(float64(ml.Limiter.Waiting()))
}

// Acquire attempts to acquire one permit without blocking.
func (ml *MetricsLimiter) Acquire() bool {
	ok := ml.Limiter.Acquire()
	ml.registry.RateLimitRequests.WithLabelValues("concurrency", ml.name).Inc()
	if ok {
		ml.registry.RateLimitAllowed.WithLabelValues("concurrency", ml.name).Inc()
	} else {
		ml.registry.RateLimitDenied.WithLabelValues("concurrency", ml.name).Inc()
	}
	ml.updateMetrics()
	return ok
}

// Wait blocks until one permit is available.
func (ml *MetricsLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	ml.registry.ConcurrencyWaiting.WithLabelValues(ml.name).Inc()

	err := ml.Limiter.Wait(ctx)

	ml.registry.RateLimitRequests.WithLabelValues("concurrency", ml.name).Inc()
	if err == nil {
		ml.registry.RateLimitAllowed.WithLabelValues("concurrency", ml.name).Inc()
	} else {
		ml.registry.RateLimitDenied.WithLabelValues("concurrency", ml.name).Inc()
	}
	ml.registry.RateLimitWaitTime.WithLabelValues("concurrency", ml.name).Observe(time.Since(start).Seconds())
	ml.updateMetrics()
	return err
}

// Release releases one permit back to the limiter.
func (ml *MetricsLimiter) Release() {
	ml.Limiter.Release()
	ml.updateMetrics()
}
