/*
Package batchflow runs batches of independent work items through a bounded
pool of workers and collects one outcome per item.

Batch Execution (pkg/scheduling):
  - workerpool: Fixed-size worker pool with per-item failure isolation
  - scheduler: Cron and interval scheduling of batch runs

Throttling (pkg/ratelimit):
  - bucket: Token bucket pacing item starts
  - concurrency: Semaphore bounding items in flight across pools
  - distributed: Redis-backed token bucket shared by many processes

Observability (pkg/metrics):
  - Prometheus registry for pool, limiter and scheduler metrics

Example usage:

	import "github.com/vnykmshr/batchflow/pkg/scheduling/workerpool"

	pool, _ := workerpool.New(workerpool.Config{Workers: 3}, func(ctx context.Context, n int) (int, error) {
		return n * 2, nil
	})
	outcomes, _ := pool.Run(ctx, []int{1, 2, 3, 4, 5})
	fmt.Println(workerpool.Values(outcomes)) // [2 4 6 8 10]
*/
package batchflow
