// Package metrics provides Prometheus instrumentation for batchflow components.
package metrics

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all metric instances for batchflow components.
type Registry struct {
	// Worker Pool Metrics
	PoolWorkers       *prometheus.GaugeVec
	PoolActiveWorkers *prometheus.GaugeVec
	PoolQueuedItems   *prometheus.GaugeVec
	PoolRuns          *prometheus.CounterVec
	PoolItems         *prometheus.CounterVec
	PoolItemsFailed   *prometheus.CounterVec
	PoolPanics        *prometheus.CounterVec
	PoolItemDuration  *prometheus.HistogramVec
	PoolRunDuration   *prometheus.HistogramVec

	// Rate Limiting Metrics
	RateLimitRequests  *prometheus.CounterVec
	RateLimitAllowed   *prometheus.CounterVec
	RateLimitDenied    *prometheus.CounterVec
	RateLimitWaitTime  *prometheus.HistogramVec
	ConcurrencyActive  *prometheus.GaugeVec
	ConcurrencyWaiting *prometheus.GaugeVec

	// Scheduler Metrics
	SchedulerRuns    *prometheus.CounterVec
	SchedulerFailed  *prometheus.CounterVec
	SchedulerSkipped *prometheus.CounterVec
}

type registryKey struct {
	reg       prometheus.Registerer
	namespace string
	labels    string
}

// labelKey renders constant labels in a stable order.
func labelKey(labels prometheus.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(labels[name]))
		b.WriteByte(',')
	}
	return b.String()
}

var (
	registriesMu sync.Mutex
	registries   = make(map[registryKey]*Registry)
)

// Default returns the registry bound to prometheus.DefaultRegisterer.
func Default() *Registry {
	return FromConfig(Config{})
}

// FromConfig returns the Registry for config.Registry, config.Namespace and
// config.Labels. Registries are shared, so several components can report into
// the same Prometheus registerer without duplicate registration.
func FromConfig(config Config) *Registry {
	reg := config.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	key := registryKey{reg: reg, namespace: namespace, labels: labelKey(config.Labels)}

	registriesMu.Lock()
	defer registriesMu.Unlock()

	if r, ok := registries[key]; ok {
		return r
	}
	r := NewRegistryWithNamespace(reg, namespace, config.Labels)
	registries[key] = r
	return r
}

// NewRegistry creates a new metrics registry with the given Prometheus registerer.
func NewRegistry(reg prometheus.Registerer) *Registry {
	return NewRegistryWithNamespace(reg, DefaultNamespace, nil)
}

// NewRegistryWithNamespace creates a registry whose metrics live under namespace
// and carry the given constant labels.
func NewRegistryWithNamespace(reg prometheus.Registerer, namespace string, labels prometheus.Labels) *Registry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	gauge := func(subsystem, name, help string, labelNames ...string) *prometheus.GaugeVec {
		return factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames)
	}
	counter := func(subsystem, name, help string, labelNames ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, labelNames)
	}
	histogram := func(subsystem, name, help string, labelNames ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			Buckets:     prometheus.DefBuckets,
			ConstLabels: labels,
		}, labelNames)
	}

	return &Registry{
		PoolWorkers:       gauge("pool", "workers", "Configured number of workers", "pool_name"),
		PoolActiveWorkers: gauge("pool", "active_workers", "Number of workers currently executing an item", "pool_name"),
		PoolQueuedItems:   gauge("pool", "queued_items", "Number of items waiting in the job queue", "pool_name"),
		PoolRuns:          counter("pool", "runs_total", "Total number of completed runs", "pool_name"),
		PoolItems:         counter("pool", "items_total", "Total number of items processed", "pool_name"),
		PoolItemsFailed:   counter("pool", "items_failed_total", "Total number of items whose outcome was a failure", "pool_name"),
		PoolPanics:        counter("pool", "panics_total", "Total number of items that panicked", "pool_name"),
		PoolItemDuration:  histogram("pool", "item_duration_seconds", "Time spent executing a single item", "pool_name"),
		PoolRunDuration:   histogram("pool", "run_duration_seconds", "Wall-clock time of a whole run", "pool_name"),

		RateLimitRequests: counter("ratelimit", "requests_total", "Total number of rate limit requests", "limiter_type", "limiter_name"),
		RateLimitAllowed:  counter("ratelimit", "allowed_total", "Total number of allowed requests", "limiter_type", "limiter_name"),
		RateLimitDenied:   counter("ratelimit", "denied_total", "Total number of denied requests", "limiter_type", "limiter_name"),
		RateLimitWaitTime: histogram("ratelimit", "wait_duration_seconds", "Time spent waiting for rate limit approval", "limiter_type", "limiter_name"),

		ConcurrencyActive:  gauge("concurrency", "active", "Number of active concurrent operations", "limiter_name"),
		ConcurrencyWaiting: gauge("concurrency", "waiting", "Number of operations waiting for a concurrency slot", "limiter_name"),

		SchedulerRuns:    counter("scheduler", "runs_total", "Total number of scheduled job runs", "job_id"),
		SchedulerFailed:  counter("scheduler", "failed_total", "Total number of scheduled job runs that returned an error", "job_id"),
		SchedulerSkipped: counter("scheduler", "skipped_total", "Total number of due runs skipped because the previous run was still active", "job_id"),
	}
}
