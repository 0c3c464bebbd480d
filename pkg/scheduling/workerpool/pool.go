package workerpool

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	gferrors "github.com/vnykmshr/batchflow/pkg/common/errors"
	"github.com/vnykmshr/batchflow/pkg/common/validation"
)

// Errors recorded in item outcomes.
var (
	// ErrItemSkipped marks items not executed because the run was canceled.
	ErrItemSkipped = gferrors.ErrItemSkipped

	// ErrPanic marks items whose unit of work panicked.
	ErrPanic = gferrors.ErrPanic
)

// Func is the unit of work executed once for every item of a run.
// It should respect context cancellation and return any error encountered.
type Func[T, R any] func(ctx context.Context, payload T) (R, error)

// Item is one independent unit of work submitted to a run.
type Item[T any] struct {
	// Key is an optional caller-supplied identifier. Non-empty keys must be
	// unique within a run.
	Key string

	// Payload is passed to the pool's Func. The pool never inspects it.
	Payload T
}

// Outcome is the result slot of one item.
type Outcome[R any] struct {
	// Index is the position of the originating item in the submitted slice.
	Index int

	// Key is the originating item's key, if any.
	Key string

	// Value is what the Func returned. It is the zero value when Err is set
	// by a panic, a skip or a limiter failure.
	Value R

	// Err is the item's failure reason, nil on success.
	Err error

	// Duration is how long the item took to execute
	Duration time.Duration

	// WorkerID identifies which worker processed the item
	WorkerID int
}

// OK reports whether the item succeeded.
func (o Outcome[R]) OK() bool {
	return o.Err == nil
}

// Limiter paces item starts. Both bucket and distributed limiters satisfy it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Semaphore bounds items in flight, possibly across several pools.
type Semaphore interface {
	Wait(ctx context.Context) error
	Release()
}

// Executor starts worker loops. *ants.Pool satisfies it.
type Executor interface {
	Submit(task func()) error
}

// Config holds configuration options for creating a worker pool.
type Config struct {
	// Name identifies the pool in logs and metrics.
	Name string

	// Workers is the number of workers started for every run.
	// Must be greater than 0.
	Workers int

	// ItemTimeout bounds the execution of a single item. Zero means no timeout.
	ItemTimeout time.Duration

	// Limiter, if set, is waited on before each item executes.
	Limiter Limiter

	// Semaphore, if set, is held while each item executes.
	Semaphore Semaphore

	// Executor starts the worker loops. Defaults to one goroutine per worker.
	Executor Executor

	// Logger receives worker lifecycle and failure events.
	// Defaults to a logger that discards everything.
	Logger logrus.FieldLogger

	// PanicHandler is called with the item index and recovered value when an
	// item panics. The item's outcome is a *errors.PanicError either way.
	PanicHandler func(index int, recovered interface{})

	// Hooks run on the worker goroutine. A panicking hook is logged and ignored.

	// OnWorkerStart is called when a worker starts.
	OnWorkerStart func(workerID int)

	// OnWorkerStop is called when a worker stops.
	OnWorkerStop func(workerID int)

	// OnItemStart is called before an item begins execution.
	OnItemStart func(workerID, index int)

	// OnItemComplete is called after an item completes (success or failure).
	OnItemComplete func(workerID, index int, err error, duration time.Duration)
}

// Stats holds cumulative counters of a pool.
type Stats struct {
	Runs          int64
	Items         int64
	Succeeded     int64
	Failed        int64
	Panics        int64
	ActiveWorkers int64
}

// Pool runs batches of items through a fixed number of workers. A Pool is
// safe for concurrent use: every Run owns its own queue, result sink and
// completion countdown, and only the cumulative counters are shared.
type Pool[T, R any] struct {
	config   Config
	fn       Func[T, R]
	logger   logrus.FieldLogger
	executor Executor
	metrics  atomic.Pointer[poolMetrics]

	runs      atomic.Int64
	items     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
	active    atomic.Int64
}

// goroutineExecutor starts every task in its own goroutine.
type goroutineExecutor struct{}

func (goroutineExecutor) Submit(task func()) error {
	go task()
	return nil
}

// New validates config and creates a pool that executes fn for every item.
func New[T, R any](config Config, fn Func[T, R]) (*Pool[T, R], error) {
	if err := validation.ValidatePositive("workerpool", "workers", config.Workers); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, gferrors.NewValidationError("workerpool", "fn", nil, "cannot be nil").
			WithHint("provide the function executed for each item")
	}
	if err := validation.ValidateNonNegativeDuration("workerpool", "item_timeout", config.ItemTimeout); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}
	if config.Name != "" {
		logger = logger.WithField("pool", config.Name)
	}

	executor := config.Executor
	if executor == nil {
		executor = goroutineExecutor{}
	}

	return &Pool[T, R]{
		config:   config,
		fn:       fn,
		logger:   logger,
		executor: executor,
	}, nil
}

// Size returns the number of workers started for every run.
func (p *Pool[T, R]) Size() int {
	return p.config.Workers
}

// Name returns the configured pool name.
func (p *Pool[T, R]) Name() string {
	return p.config.Name
}

// Stats returns a snapshot of the pool's cumulative counters.
func (p *Pool[T, R]) Stats() Stats {
	return Stats{
		Runs:          p.runs.Load(),
		Items:         p.items.Load(),
		Succeeded:     p.succeeded.Load(),
		Failed:        p.failed.Load(),
		Panics:        p.panics.Load(),
		ActiveWorkers: p.active.Load(),
	}
}

// Run creates a pool with the given number of workers and runs payloads
// through it once. A non-positive worker count fails before any work starts.
func Run[T, R any](ctx context.Context, payloads []T, workers int, fn Func[T, R]) ([]Outcome[R], error) {
	p, err := New(Config{Workers: workers}, fn)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, payloads)
}
