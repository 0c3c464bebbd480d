/*
Package ratelimit groups the throttles a worker pool can be configured with.

  - bucket: Token bucket limiter, satisfies workerpool.Limiter
  - distributed: Token bucket kept in Redis, satisfies workerpool.Limiter
  - concurrency: FIFO semaphore, satisfies workerpool.Semaphore

A Limiter paces how often items start; a Semaphore caps how many run at once.
Both can be shared between pools:

	limiter, _ := bucket.New(50, 10)   // 50 items/sec, burst of 10
	sem, _ := concurrency.New(8)       // at most 8 items in flight overall

	imports, _ := workerpool.New(workerpool.Config{Workers: 6, Limiter: limiter, Semaphore: sem}, importFn)
	exports, _ := workerpool.New(workerpool.Config{Workers: 6, Semaphore: sem}, exportFn)

When several processes must respect one budget, replace the bucket with a
distributed limiter and keep the local bucket as its fallback.
*/
package ratelimit
