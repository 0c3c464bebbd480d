// Package distributed provides a token bucket shared across processes through Redis.
//
// Every instance configured with the same Key draws from one budget. The
// refill, the take and the bookkeeping run in a single Lua script, so
// concurrent instances never observe a half-updated bucket.
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	limiter, err := distributed.New(distributed.Config{
//		Redis: rdb,
//		Key:   "batchflow:items",
//		Rate:  50,
//		Burst: 10,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer limiter.Close()
//
// Wait reserves its token before sleeping, which makes the limiter suitable
// as a worker pool Limiter: items across all processes start at most Rate
// times per second after the initial burst.
//
// # Fallback
//
// If Redis cannot be reached within RedisTimeout and Config.Fallback is set,
// Allow and Wait are served by the local limiter and a warning is logged.
// Without a fallback Wait returns a *RedisError and Allow returns false.
package distributed
