package workerpool

import (
	"time"

	"github.com/vnykmshr/batchflow/pkg/common/errors"
	"github.com/vnykmshr/batchflow/pkg/metrics"
)

// defaultMetricsName labels pools created without a Name.
const defaultMetricsName = "default"

// poolMetrics reports a pool's activity. A nil *poolMetrics records nothing.
type poolMetrics struct {
	name     string
	registry *metrics.Registry
}

// NewWithMetrics creates a pool that reports to the Prometheus registry
// selected by metricsConfig, labelled with config.Name.
func NewWithMetrics[T, R any](config Config, fn Func[T, R], metricsConfig metrics.Config) (*Pool[T, R], error) {
	p, err := New(config, fn)
	if err != nil {
		return nil, err
	}
	if err := p.EnableMetrics(metricsConfig); err != nil {
		return nil, err
	}
	return p, nil
}

// EnableMetrics starts reporting to the registry selected by config.
// A config with Enabled unset disables metrics instead.
func (p *Pool[T, R]) EnableMetrics(config metrics.Config) error {
	if !config.Enabled {
		p.DisableMetrics()
		return nil
	}

	name := p.config.Name
	if name == "" {
		name = defaultMetricsName
	}

	m := &poolMetrics{
		name:     name,
		registry: metrics.FromConfig(config),
	}
	m.registry.PoolWorkers.WithLabelValues(name).Set(float64(p.config.Workers))
	p.metrics.Store(m)
	return nil
}

// DisableMetrics stops metrics collection.
func (p *Pool[T, R]) DisableMetrics() {
	p.metrics.Store(nil)
}

// MetricsEnabled returns true if metrics are currently enabled.
func (p *Pool[T, R]) MetricsEnabled() bool {
	return p.metrics.Load() != nil
}

func (m *poolMetrics) runStarted(workers, queued int) {
	if m == nil {
		return
	}
	m.registry.PoolWorkers.WithLabelValues(m.name).Set(float64(workers))
	m.registry.PoolQueuedItems.WithLabelValues(m.name).Add(float64(queued))
}

func (m *poolMetrics) itemClaimed() {
	if m == nil {
		return
	}
	m.registry.PoolQueuedItems.WithLabelValues(m.name).Dec()
}

func (m *poolMetrics) activeChanged(delta float64) {
	if m == nil {
		return
	}
	m.registry.PoolActiveWorkers.WithLabelValues(m.name).Add(delta)
}

func (m *poolMetrics) itemFinished(err error, duration time.Duration, executed bool) {
	if m == nil {
		return
	}
	m.registry.PoolItems.WithLabelValues(m.name).Inc()
	if executed {
		m.registry.PoolItemDuration.WithLabelValues(m.name).Observe(duration.Seconds())
	}
	if err != nil {
		m.registry.PoolItemsFailed.WithLabelValues(m.name).Inc()
		if errors.IsPanic(err) {
			m.registry.PoolPanics.WithLabelValues(m.name).Inc()
		}
	}
}

func (m *poolMetrics) runFinished(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.registry.PoolRuns.WithLabelValues(m.name).Inc()
	m.registry.PoolRunDuration.WithLabelValues(m.name).Observe(elapsed.Seconds())
}
