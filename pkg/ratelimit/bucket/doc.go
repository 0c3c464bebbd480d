// Package bucket provides a token bucket rate limiter.
//
// Tokens refill continuously at Limit per second up to Burst. Allow never
// blocks; Wait reserves tokens and sleeps until they are due, returning them
// if the context ends first. The limiter satisfies workerpool.Limiter and can
// throttle item starts across every worker of a pool:
//
//	limiter, _ := bucket.New(bucket.Every(100*time.Millisecond), 1)
//	pool, _ := workerpool.New(workerpool.Config{Workers: 8, Limiter: limiter}, fn)
package bucket
