// Package scheduler runs jobs at a fixed time, at a fixed interval or on a
// cron schedule.
//
// Cron expressions are parsed with robfig/cron: five fields, an optional
// leading seconds field, or a descriptor such as "@hourly" or "@every 5m".
//
//	s, _ := scheduler.New(scheduler.Config{Logger: logrus.StandardLogger()})
//	s.ScheduleCron("import", "*/10 * * * *", scheduler.JobFunc(func(ctx context.Context) error {
//		_, err := pool.Run(ctx, loadBatch())
//		return err
//	}))
//	s.Start()
//	defer func() { <-s.Stop() }()
//
// Each due job runs on its own goroutine. A job that is still running when
// its next activation arrives is skipped for that activation, so batch runs
// never overlap. Stop cancels the context handed to running jobs and the
// channel it returns closes once they have all returned.
package scheduler
