/*
Package workerpool runs a batch of independent items through a fixed number of
workers and returns one outcome per item.

A Pool is built once from a Config and a typed unit of work, then reused for
any number of runs:

	pool, err := workerpool.New(workerpool.Config{Workers: 3}, func(ctx context.Context, n int) (int, error) {
		return n * 2, nil
	})
	if err != nil {
		log.Fatal(err)
	}

	outcomes, err := pool.Run(ctx, []int{1, 2, 3, 4, 5})
	if err != nil {
		log.Fatal(err) // configuration errors only
	}
	for _, o := range outcomes {
		fmt.Println(o.Index, o.Value, o.Err)
	}

Run Contract:

Every run starts exactly Workers workers, even when there are fewer items,
and blocks until all of them have returned. The result has exactly one
Outcome per submitted item and outcomes[i] belongs to items[i], whatever
order the items completed in. Each item is executed at most once.

Failures:

An item failure never fails the run. Returned errors, limiter errors,
item timeouts and panics all land in that item's Outcome.Err. A panic is
recovered on the worker that hit it and recorded as a *errors.PanicError
carrying the stack; the worker goes on to the next item.

Cancellation:

The run context is checked before each item. Once it is canceled, remaining
items are not executed; their outcomes carry errors.ErrItemSkipped wrapped
with the context error, so the result still has one entry per item.

Throttling:

Config.Limiter (for example a bucket or distributed limiter) paces item
starts, and Config.Semaphore (for example a concurrency limiter shared by
several pools) bounds items in flight. Config.Executor lets worker loops run
on a shared goroutine pool such as *ants.Pool.

Metrics:

NewWithMetrics and EnableMetrics report workers, queue depth, item counts,
panics and durations to Prometheus through the metrics package.
*/
package workerpool
