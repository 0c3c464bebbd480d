package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	gfcontext "github.com/vnykmshr/batchflow/pkg/common/context"
	gferrors "github.com/vnykmshr/batchflow/pkg/common/errors"
)

// job is a queued item together with its position in the submitted slice.
type job[T any] struct {
	index int
	item  Item[T]
}

// worker drains one run's queue. It holds no state between items.
type worker[T, R any] struct {
	id      int
	pool    *Pool[T, R]
	queue   <-chan job[T]
	sink    chan<- Outcome[R]
	pending *sync.WaitGroup
	metrics *poolMetrics
	logger  logrus.FieldLogger
}

// Run executes fn once per payload and blocks until every worker has
// finished. outcomes[i] always belongs to payloads[i].
func (p *Pool[T, R]) Run(ctx context.Context, payloads []T) ([]Outcome[R], error) {
	items := make([]Item[T], len(payloads))
	for i, payload := range payloads {
		items[i] = Item[T]{Payload: payload}
	}
	return p.RunItems(ctx, items)
}

// RunItems executes fn once per item and blocks until every worker has
// finished. It returns one outcome per item, correlated by index, or a
// configuration error before any worker starts when two items share a key.
//
// Item failures never fail the run. If ctx is canceled, items not yet
// claimed are recorded as skipped rather than executed.
func (p *Pool[T, R]) RunItems(ctx context.Context, items []Item[T]) ([]Outcome[R], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateKeys(items); err != nil {
		return nil, err
	}

	start := time.Now()
	n := len(items)
	workers := p.config.Workers
	m := p.metrics.Load()

	// The queue holds every item up front, so submission never blocks and
	// closing it is the workers' termination signal.
	queue := make(chan job[T], n)
	for i, item := range items {
		queue <- job[T]{index: i, item: item}
	}
	close(queue)

	sink := make(chan Outcome[R], n)

	var pending sync.WaitGroup
	pending.Add(n)

	var running sync.WaitGroup
	running.Add(workers)

	m.runStarted(workers, n)

	for id := 0; id < workers; id++ {
		w := &worker[T, R]{
			id:      id,
			pool:    p,
			queue:   queue,
			sink:    sink,
			pending: &pending,
			metrics: m,
			logger:  p.logger.WithField("worker", id),
		}
		p.spawn(id, func() {
			defer running.Done()
			w.run(ctx)
		})
	}

	pending.Wait()
	running.Wait()
	close(sink)

	outcomes := make([]Outcome[R], n)
	failed := 0
	for outcome := range sink {
		outcomes[outcome.Index] = outcome
		if outcome.Err != nil {
			failed++
		}
	}

	elapsed := time.Since(start)
	p.runs.Add(1)
	m.runFinished(elapsed)

	p.logger.WithFields(logrus.Fields{
		"items":    n,
		"failed":   failed,
		"workers":  workers,
		"duration": elapsed,
	}).Debug("run complete")

	return outcomes, nil
}

// spawn starts a worker loop through the configured executor, falling back
// to a plain goroutine when the executor refuses it.
func (p *Pool[T, R]) spawn(id int, loop func()) {
	if err := p.executor.Submit(loop); err != nil {
		p.logger.WithError(err).WithField("worker", id).
			Warn("executor rejected worker, starting it on a new goroutine")
		go loop()
	}
}

// run is the main loop for a worker.
func (w *worker[T, R]) run(ctx context.Context) {
	p := w.pool

	if p.config.OnWorkerStart != nil {
		w.callHook("OnWorkerStart", func() { p.config.OnWorkerStart(w.id) })
	}
	w.logger.Debug("worker started")

	defer func() {
		if p.config.OnWorkerStop != nil {
			w.callHook("OnWorkerStop", func() { p.config.OnWorkerStop(w.id) })
		}
		w.logger.Debug("worker stopped")
	}()

	for j := range w.queue {
		w.metrics.itemClaimed()
		w.sink <- w.process(ctx, j)
		w.pending.Done()
	}
}

// process produces the outcome of one claimed item.
func (w *worker[T, R]) process(ctx context.Context, j job[T]) Outcome[R] {
	p := w.pool
	out := Outcome[R]{
		Index:    j.index,
		Key:      j.item.Key,
		WorkerID: w.id,
	}

	if gfcontext.IsCanceled(ctx) {
		out.Err = fmt.Errorf("%w: %w", gferrors.ErrItemSkipped, ctx.Err())
		w.record(out, false)
		return out
	}

	if p.config.OnItemStart != nil {
		w.callHook("OnItemStart", func() { p.config.OnItemStart(w.id, j.index) })
	}

	p.active.Add(1)
	w.metrics.activeChanged(1)

	start := time.Now()
	out.Value, out.Err = w.execute(ctx, j)
	out.Duration = time.Since(start)

	p.active.Add(-1)
	w.metrics.activeChanged(-1)

	w.record(out, true)

	if p.config.OnItemComplete != nil {
		w.callHook("OnItemComplete", func() { p.config.OnItemComplete(w.id, j.index, out.Err, out.Duration) })
	}

	return out
}

// execute runs fn for one item behind the optional semaphore and limiter,
// converting a panic into a *errors.PanicError. A failure caused by the item
// timeout also matches errors.ErrTimeout.
func (w *worker[T, R]) execute(ctx context.Context, j job[T]) (value R, err error) {
	p := w.pool

	if sem := p.config.Semaphore; sem != nil {
		if err := sem.Wait(ctx); err != nil {
			return value, gferrors.NewOperationError("workerpool", "SemaphoreWait", err)
		}
		defer sem.Release()
	}

	if lim := p.config.Limiter; lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return value, gferrors.NewOperationError("workerpool", "LimiterWait", err)
		}
	}

	itemCtx, cancel := gfcontext.WithTimeoutOrCancel(ctx, p.config.ItemTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			var zero R
			value = zero
			err = &gferrors.PanicError{Value: r, Stack: debug.Stack()}

			p.panics.Add(1)
			w.logger.WithFields(logrus.Fields{
				"item":  j.index,
				"key":   j.item.Key,
				"panic": r,
			}).Warn("item panicked")

			if p.config.PanicHandler != nil {
				w.callHook("PanicHandler", func() { p.config.PanicHandler(j.index, r) })
			}
		}
	}()

	value, err = p.fn(itemCtx, j.item.Payload)
	if err != nil && ctx.Err() == nil && errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", gferrors.ErrTimeout, err)
	}
	return value, err
}

// callHook runs a user callback, shielding the worker from its panics.
func (w *worker[T, R]) callHook(name string, hook func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithFields(logrus.Fields{
				"hook":  name,
				"panic": r,
			}).Warn("hook panicked")
		}
	}()
	hook()
}

// record updates counters and metrics for a finished item.
func (w *worker[T, R]) record(out Outcome[R], executed bool) {
	p := w.pool
	p.items.Add(1)
	if out.Err != nil {
		p.failed.Add(1)
		w.logger.WithError(out.Err).WithFields(logrus.Fields{
			"item": out.Index,
			"key":  out.Key,
		}).Debug("item failed")
	} else {
		p.succeeded.Add(1)
	}

	w.metrics.itemFinished(out.Err, out.Duration, executed)
}

// validateKeys rejects runs where two items carry the same non-empty key.
func validateKeys[T any](items []Item[T]) error {
	seen := make(map[string]int)
	for i, item := range items {
		if item.Key == "" {
			continue
		}
		if first, dup := seen[item.Key]; dup {
			return gferrors.NewValidationError("workerpool", "key", item.Key,
				fmt.Sprintf("duplicate key at items %d and %d", first, i)).
				WithHint("item keys must be unique within a run")
		}
		seen[item.Key] = i
	}
	return nil
}
