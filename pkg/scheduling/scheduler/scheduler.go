package scheduler

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	gferrors "github.com/vnykmshr/batchflow/pkg/common/errors"
	"github.com/vnykmshr/batchflow/pkg/metrics"
)

// Job is a unit of scheduled work, typically one batch run.
type Job interface {
	Execute(ctx context.Context) error
}

// JobFunc adapts an ordinary function to the Job interface.
type JobFunc func(ctx context.Context) error

// Execute calls f(ctx).
func (f JobFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Entry describes a scheduled job.
type Entry struct {
	ID       string
	NextRun  time.Time
	Interval time.Duration // Zero for one-time and cron jobs
	Cron     string        // Empty unless scheduled with ScheduleCron
	Running  bool
	Runs     int64
	Created  time.Time
}

// Config holds scheduler configuration.
type Config struct {
	Location     *time.Location // For cron scheduling (default: time.Local)
	TickInterval time.Duration  // How often to check for due jobs (default: 50ms)
	MaxJobs      int            // Maximum number of scheduled jobs (default: 10000)

	// Logger receives job failures and skipped runs. Defaults to a discarding logger.
	Logger logrus.FieldLogger

	// Metrics selects the registry for run counters. Disabled when Enabled is false.
	Metrics metrics.Config
}

type scheduledJob struct {
	id       string
	job      Job
	nextRun  time.Time
	interval time.Duration
	cronExpr string
	schedule cron.Schedule
	running  bool
	runs     int64
	created  time.Time
}

// Scheduler runs jobs at fixed times, fixed intervals or on cron schedules.
// A job is never run concurrently with itself: a run that comes due while the
// previous one is still executing is skipped.
type Scheduler struct {
	location     *time.Location
	tickInterval time.Duration
	maxJobs      int
	logger       logrus.FieldLogger
	metrics      *metrics.Registry

	mu      sync.Mutex
	jobs    map[string]*scheduledJob
	running bool
	stopped bool
	done    chan struct{}
	loop    sync.WaitGroup
	active  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. It does not run jobs until Start is called.
func New(config Config) (*Scheduler, error) {
	if config.TickInterval < 0 {
		return nil, gferrors.NewValidationError("scheduler", "tick_interval", config.TickInterval,
			"must not be negative")
	}
	if config.MaxJobs < 0 {
		return nil, gferrors.NewValidationError("scheduler", "max_jobs", config.MaxJobs,
			"must not be negative")
	}

	location := config.Location
	if location == nil {
		location = time.Local
	}

	tickInterval := config.TickInterval
	if tickInterval == 0 {
		tickInterval = 50 * time.Millisecond
	}

	maxJobs := config.MaxJobs
	if maxJobs == 0 {
		maxJobs = 10000
	}

	logger := config.Logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}

	var registry *metrics.Registry
	if config.Metrics.Enabled {
		registry = metrics.FromConfig(config.Metrics)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		location:     location,
		tickInterval: tickInterval,
		maxJobs:      maxJobs,
		logger:       logger,
		metrics:      registry,
		jobs:         make(map[string]*scheduledJob),
		done:         make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Schedule runs job once at runAt.
func (s *Scheduler) Schedule(id string, job Job, runAt time.Time) error {
	if err := validateJob(id, job); err != nil {
		return err
	}
	if runAt.IsZero() {
		return gferrors.NewValidationError("scheduler", "run_at", runAt, "must not be zero")
	}

	return s.add(&scheduledJob{id: id, job: job, nextRun: runAt})
}

// ScheduleAfter runs job once after delay.
func (s *Scheduler) ScheduleAfter(id string, job Job, delay time.Duration) error {
	return s.Schedule(id, job, time.Now().Add(delay))
}

// ScheduleRepeating runs job now and then every interval.
func (s *Scheduler) ScheduleRepeating(id string, job Job, interval time.Duration) error {
	if err := validateJob(id, job); err != nil {
		return err
	}
	if interval <= 0 {
		return gferrors.NewValidationError("scheduler", "interval", interval, "must be positive")
	}

	return s.add(&scheduledJob{id: id, job: job, nextRun: time.Now(), interval: interval})
}

// ScheduleCron runs job whenever expr fires. See ParseCron for the accepted syntax.
func (s *Scheduler) ScheduleCron(id string, expr string, job Job) error {
	if err := validateJob(id, job); err != nil {
		return err
	}

	schedule, err := ParseCron(expr)
	if err != nil {
		return err
	}
	nextRun := schedule.Next(time.Now().In(s.location))
	if nextRun.IsZero() {
		return gferrors.NewValidationError("scheduler", "cron", expr, "never fires")
	}

	return s.add(&scheduledJob{
		id:       id,
		job:      job,
		nextRun:  nextRun,
		cronExpr: expr,
		schedule: schedule,
	})
}

func (s *Scheduler) add(j *scheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.id]; exists {
		return gferrors.NewValidationError("scheduler", "id", j.id, "already scheduled").
			WithHint("cancel the existing job first or use a different ID")
	}
	if len(s.jobs) >= s.maxJobs {
		return gferrors.NewOperationError("scheduler", "Schedule", gferrors.ErrCapacityExceeded).
			WithContext(fmt.Sprintf("maximum of %d jobs reached", s.maxJobs))
	}

	j.created = time.Now()
	s.jobs[j.id] = j
	return nil
}

// Cancel removes a job. A run already in progress completes.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		delete(s.jobs, id)
		return true
	}
	return false
}

// List returns the scheduled jobs ordered by next run time.
func (s *Scheduler) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, len(s.jobs))
	for _, j := range s.jobs {
		entries = append(entries, Entry{
			ID:       j.id,
			NextRun:  j.nextRun,
			Interval: j.interval,
			Cron:     j.cronExpr,
			Running:  j.running,
			Runs:     j.runs,
			Created:  j.created,
		})
	}

	sort.Slice(entries, func(i, k int) bool {
		return entries[i].NextRun.Before(entries[k].NextRun)
	})
	return entries
}

// Start begins dispatching due jobs. A stopped scheduler cannot be restarted.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return gferrors.NewOperationError("scheduler", "Start", gferrors.ErrClosed)
	}
	if s.running {
		return fmt.Errorf("scheduler already running, call Stop() first")
	}

	s.running = true
	s.loop.Add(1)
	go s.run()
	return nil
}

// Stop halts dispatching and cancels the context passed to running jobs.
// The returned channel closes once every running job has returned.
func (s *Scheduler) Stop() <-chan struct{} {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		s.running = false
		close(s.done)
	}
	s.mu.Unlock()

	s.cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.loop.Wait()
		s.active.Wait()
	}()
	return stopped
}

func (s *Scheduler) run() {
	defer s.loop.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.dispatchDue(time.Now())
		}
	}
}

// dispatchDue starts every job whose next run is at or before now.
func (s *Scheduler) dispatchDue(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	for id, j := range s.jobs {
		// A zero next run means the schedule has no further activations.
		if j.nextRun.IsZero() || now.Before(j.nextRun) {
			continue
		}

		switch {
		case j.interval > 0:
			j.nextRun = now.Add(j.interval)
		case j.schedule != nil:
			j.nextRun = j.schedule.Next(now.In(s.location))
			if j.nextRun.IsZero() {
				s.logger.WithField("job", id).Info("cron schedule has no further runs, removing")
				delete(s.jobs, id)
			}
		default:
			delete(s.jobs, id)
		}

		if j.running {
			s.logger.WithField("job", id).Warn("previous run still active, skipping")
			if s.metrics != nil {
				s.metrics.SchedulerSkipped.WithLabelValues(id).Inc()
			}
			continue
		}

		j.running = true
		j.runs++
		s.active.Add(1)
		go s.execute(j)
	}
}

func (s *Scheduler) execute(j *scheduledJob) {
	defer s.active.Done()
	defer func() {
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()

	logger := s.logger.WithField("job", j.id)
	start := time.Now()

	err := s.safeExecute(j)

	if s.metrics != nil {
		s.metrics.SchedulerRuns.WithLabelValues(j.id).Inc()
		if err != nil {
			s.metrics.SchedulerFailed.WithLabelValues(j.id).Inc()
		}
	}

	if err != nil {
		logger.WithError(err).Error("scheduled job failed")
		return
	}
	logger.WithField("duration", time.Since(start)).Debug("scheduled job finished")
}

func (s *Scheduler) safeExecute(j *scheduledJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &gferrors.PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return j.job.Execute(s.ctx)
}

func validateJob(id string, job Job) error {
	if id == "" {
		return gferrors.NewValidationError("scheduler", "id", id, "must not be empty")
	}
	if len(id) > 255 {
		return gferrors.NewValidationError("scheduler", "id", id, "too long (max 255 characters)")
	}
	if job == nil {
		return gferrors.NewValidationError("scheduler", "job", nil, "must not be nil")
	}
	return nil
}
