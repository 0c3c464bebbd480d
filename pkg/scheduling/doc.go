/*
Package scheduling provides batch execution and the scheduling of batch runs.

  - workerpool: Runs a batch of items through a fixed number of workers
  - scheduler: Triggers jobs at fixed times, intervals or cron expressions

Worker Pool:

	pool, _ := workerpool.New(workerpool.Config{Workers: 4}, fn)
	outcomes, err := pool.Run(ctx, payloads)

Scheduled Batches:

	s, _ := scheduler.New(scheduler.Config{})
	s.ScheduleCron("hourly", "@hourly", scheduler.JobFunc(func(ctx context.Context) error {
		_, err := pool.Run(ctx, loadPayloads())
		return err
	}))
	s.Start()
	defer func() { <-s.Stop() }()
*/
package scheduling
