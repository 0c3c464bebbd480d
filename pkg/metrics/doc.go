// Package metrics provides Prometheus instrumentation for batchflow components.
//
// Worker pools, rate limiters and the scheduler all report into a Registry.
// Components obtain one with FromConfig, which shares a Registry per
// Prometheus registerer and namespace so several instrumented components can
// coexist on one registerer.
//
// # Quick Start
//
//	pool, err := batch.NewWithMetrics(batch.Config{Workers: 8}, fn, "thumbnails", metrics.DefaultConfig())
//
//	http.Handle("/metrics", promhttp.Handler())
//	log.Fatal(http.ListenAndServe(":9090", nil))
//
// # Available Metrics
//
// Worker pools (label pool_name):
//
//   - batchflow_pool_workers
//   - batchflow_pool_active_workers
//   - batchflow_pool_queued_items
//   - batchflow_pool_runs_total
//   - batchflow_pool_items_total
//   - batchflow_pool_items_failed_total
//   - batchflow_pool_panics_total
//   - batchflow_pool_item_duration_seconds
//   - batchflow_pool_run_duration_seconds
//
// Rate limiting (labels limiter_type, limiter_name):
//
//   - batchflow_ratelimit_requests_total
//   - batchflow_ratelimit_allowed_total
//   - batchflow_ratelimit_denied_total
//   - batchflow_ratelimit_wait_duration_seconds
//   - batchflow_concurrency_active
//   - batchflow_concurrency_waiting
//
// Scheduler (label job_id):
//
//   - batchflow_scheduler_runs_total
//   - batchflow_scheduler_failed_total
//   - batchflow_scheduler_skipped_total
package metrics
