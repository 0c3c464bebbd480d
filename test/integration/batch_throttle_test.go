// Package integration contains integration tests that verify cross-package functionality.
// These tests ensure that different components work together correctly in realistic scenarios.
package integration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/batchflow/internal/testutil"
	gferrors "github.com/vnykmshr/batchflow/pkg/common/errors"
	"github.com/vnykmshr/batchflow/pkg/metrics"
	"github.com/vnykmshr/batchflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/batchflow/pkg/ratelimit/concurrency"
	"github.com/vnykmshr/batchflow/pkg/scheduling/scheduler"
	"github.com/vnykmshr/batchflow/pkg/scheduling/workerpool"
)

// TestPoolWithRateLimiting verifies that a token bucket paces item starts
// across all workers of a run.
func TestPoolWithRateLimiting(t *testing.T) {
	// 50 items per second with burst of 5
	limiter, err := bucket.New(50, 5)
	testutil.AssertNoError(t, err)

	var executed atomic.Int64
	pool, err := workerpool.New(workerpool.Config{Workers: 8, Limiter: limiter},
		func(ctx context.Context, n int) (int, error) {
			executed.Add(1)
			return n, nil
		})
	testutil.AssertNoError(t, err)

	start := time.Now()
	outcomes, err := pool.Run(context.Background(), make([]int, 15))
	testutil.AssertNoError(t, err)
	elapsed := time.Since(start)

	testutil.AssertNoError(t, workerpool.Err(outcomes))
	testutil.AssertEqual(t, executed.Load(), int64(15))

	// The first 5 run from the burst, the remaining 10 at 20ms each.
	if elapsed < 150*time.Millisecond {
		t.Errorf("15 items took %v, expected at least ~200ms", elapsed)
	}
}

// TestPoolsSharingSemaphoreAndGoroutines runs two pools on one ants pool
// while a shared semaphore caps total items in flight.
func TestPoolsSharingSemaphoreAndGoroutines(t *testing.T) {
	ap, err := ants.NewPool(10)
	testutil.AssertNoError(t, err)
	defer func() {
		testutil.AssertNoError(t, ap.ReleaseTimeout(time.Second))
	}()

	sem, err := concurrency.New(3)
	testutil.AssertNoError(t, err)

	var current, peak atomic.Int64
	fn := func(ctx context.Context, n int) (int, error) {
		c := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return n + 1, nil
	}

	newPool := func(name string) *workerpool.Pool[int, int] {
		p, err := workerpool.New(workerpool.Config{Name: name, Workers: 5, Semaphore: sem, Executor: ap}, fn)
		testutil.AssertNoError(t, err)
		return p
	}
	pools := []*workerpool.Pool[int, int]{newPool("a"), newPool("b")}

	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *workerpool.Pool[int, int]) {
			defer wg.Done()
			payloads := make([]int, 20)
			for i := range payloads {
				payloads[i] = i
			}
			outcomes, err := p.Run(context.Background(), payloads)
			testutil.AssertNoError(t, err)
			for i, o := range outcomes {
				if o.Value != i+1 {
					t.Errorf("pool %s item %d = %d", p.Name(), i, o.Value)
				}
			}
		}(p)
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Errorf("peak in-flight %d exceeds shared semaphore capacity 3", peak.Load())
	}
	testutil.AssertEqual(t, sem.InUse(), 0)
}

// TestScheduledBatchesWithMetrics schedules a failing-in-part batch and checks
// pool and scheduler metrics land in the same registry.
func TestScheduledBatchesWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mcfg := metrics.Config{Enabled: true, Registry: reg}

	pool, err := workerpool.NewWithMetrics(workerpool.Config{Name: "nightly", Workers: 2},
		func(ctx context.Context, d int) (int, error) {
			return 60 / d, nil
		}, mcfg)
	testutil.AssertNoError(t, err)

	s, err := scheduler.New(scheduler.Config{TickInterval: 5 * time.Millisecond, Metrics: mcfg})
	testutil.AssertNoError(t, err)

	var runs atomic.Int64
	var lastFailures atomic.Int64
	job := scheduler.JobFunc(func(ctx context.Context) error {
		outcomes, err := pool.Run(ctx, []int{1, 2, 0, 3})
		if err != nil {
			return err
		}
		lastFailures.Store(int64(len(workerpool.Failures(outcomes))))
		runs.Add(1)
		return workerpool.Err(outcomes)
	})

	testutil.AssertNoError(t, s.ScheduleRepeating("nightly", job, 20*time.Millisecond))
	testutil.AssertNoError(t, s.Start())

	testutil.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	<-s.Stop()

	testutil.AssertEqual(t, lastFailures.Load(), int64(1))

	r := metrics.FromConfig(mcfg)
	n := runs.Load()
	testutil.AssertEqual(t, promtest.ToFloat64(r.PoolRuns.WithLabelValues("nightly")), float64(n))
	testutil.AssertEqual(t, promtest.ToFloat64(r.PoolPanics.WithLabelValues("nightly")), float64(n))
	testutil.AssertEqual(t, promtest.ToFloat64(r.SchedulerFailed.WithLabelValues("nightly")), float64(n))
}

// TestCancellationAcrossLimiterWait verifies that canceling a run while items
// block on the limiter still yields one outcome per item.
func TestCancellationAcrossLimiterWait(t *testing.T) {
	limiter, err := bucket.New(bucket.Every(time.Hour), 1)
	testutil.AssertNoError(t, err)

	pool, err := workerpool.New(workerpool.Config{Workers: 3, Limiter: limiter},
		func(ctx context.Context, n int) (int, error) { return n, nil })
	testutil.AssertNoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcomes, err := pool.Run(ctx, []int{1, 2, 3, 4, 5, 6})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(outcomes), 6)

	succeeded := workerpool.Values(outcomes)
	testutil.AssertEqual(t, len(succeeded), 1)

	for _, o := range workerpool.Failures(outcomes) {
		if !errors.Is(o.Err, context.DeadlineExceeded) && !errors.Is(o.Err, gferrors.ErrItemSkipped) {
			t.Errorf("item %d failed with %v, want deadline or skip", o.Index, o.Err)
		}
	}
}
