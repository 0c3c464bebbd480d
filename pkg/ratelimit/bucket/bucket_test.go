package bucket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vnykmshr/batchflow/internal/testutil"
	"github.com/vnykmshr/batchflow/pkg/common/errors"
	"github.com/vnykmshr/batchflow/pkg/metrics"
)

func newMockBucket(t *testing.T, rate Limit, burst, initial int) (Limiter, *testutil.MockClock) {
	t.Helper()
	clock := testutil.NewMockClock(time.Unix(0, 0))
	limiter, err := NewWithConfig(Config{
		Rate:          rate,
		Burst:         burst,
		Clock:         clock,
		InitialTokens: initial,
	})
	testutil.AssertNoError(t, err)
	return limiter, clock
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		rate    Limit
		burst   int
		wantErr bool
	}{
		{"valid", 10, 5, false},
		{"zero rate", 0, 1, false},
		{"infinite", Inf, 1, false},
		{"negative rate", -1, 1, true},
		{"zero burst", 10, 0, true},
		{"negative burst", 10, -3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.rate, tt.burst)
			if tt.wantErr {
				testutil.AssertErrorIs(t, err, errors.ErrInvalidConfiguration)
				return
			}
			testutil.AssertNoError(t, err)
		})
	}
}

func TestEvery(t *testing.T) {
	testutil.AssertEqual(t, Every(100*time.Millisecond), Limit(10))
	testutil.AssertEqual(t, Every(time.Second), Limit(1))
	testutil.AssertEqual(t, Every(0), Inf)
}

func TestAllowRefill(t *testing.T) {
	limiter, clock := newMockBucket(t, 10, 2, -1)

	testutil.AssertEqual(t, limiter.Allow(), true)
	testutil.AssertEqual(t, limiter.Allow(), true)
	testutil.AssertEqual(t, limiter.Allow(), false)

	clock.Advance(100 * time.Millisecond)
	testutil.AssertEqual(t, limiter.Allow(), true)
	testutil.AssertEqual(t, limiter.Allow(), false)

	// Refill never exceeds burst.
	clock.Advance(time.Hour)
	testutil.AssertEqual(t, limiter.Tokens(), 2.0)
}

func TestAllowN(t *testing.T) {
	limiter, clock := newMockBucket(t, 1, 5, 0)

	testutil.AssertEqual(t, limiter.AllowN(1), false)
	testutil.AssertEqual(t, limiter.AllowN(0), true)

	clock.Advance(3 * time.Second)
	testutil.AssertEqual(t, limiter.AllowN(4), false)
	testutil.AssertEqual(t, limiter.AllowN(3), true)
	testutil.AssertEqual(t, limiter.Tokens(), 0.0)
}

func TestZeroRateAllowsOnlyBurst(t *testing.T) {
	limiter, clock := newMockBucket(t, 0, 1, -1)

	testutil.AssertEqual(t, limiter.Allow(), true)
	clock.Advance(time.Hour)
	testutil.AssertEqual(t, limiter.Allow(), false)

	err := limiter.Wait(context.Background())
	testutil.AssertErrorIs(t, err, errors.ErrRateLimited)
}

func TestInfiniteRate(t *testing.T) {
	limiter, err := New(Inf, 1)
	testutil.AssertNoError(t, err)

	for i := 0; i < 100; i++ {
		if !limiter.Allow() {
			t.Fatalf("Allow() = false at %d with infinite rate", i)
		}
	}
	testutil.AssertNoError(t, limiter.WaitN(context.Background(), 50))
}

func TestAccessors(t *testing.T) {
	limiter, err := New(25, 7)
	testutil.AssertNoError(t, err)

	testutil.AssertEqual(t, limiter.Limit(), Limit(25))
	testutil.AssertEqual(t, limiter.Burst(), 7)
	testutil.AssertEqual(t, limiter.Tokens(), 7.0)
}

func TestWaitBlocksUntilRefill(t *testing.T) {
	limiter, err := New(Every(50*time.Millisecond), 1)
	testutil.AssertNoError(t, err)

	ctx, cancel := testutil.WithTimeout(t)
	defer cancel()

	start := time.Now()
	testutil.AssertNoError(t, limiter.Wait(ctx))
	testutil.AssertNoError(t, limiter.Wait(ctx))
	testutil.AssertNoError(t, limiter.Wait(ctx))

	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("three waits at burst 1 took %v, want at least ~100ms", elapsed)
	}
}

func TestWaitNExceedsBurst(t *testing.T) {
	limiter, err := New(10, 2)
	testutil.AssertNoError(t, err)

	err = limiter.WaitN(context.Background(), 3)
	testutil.AssertErrorIs(t, err, errors.ErrCapacityExceeded)
}

func TestWaitCanceled(t *testing.T) {
	limiter, err := New(Every(time.Hour), 1)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, limiter.Allow(), true)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err = limiter.Wait(ctx)
	testutil.AssertErrorIs(t, err, context.Canceled)

	// The abandoned reservation is returned.
	if tokens := limiter.Tokens(); tokens < -0.01 {
		t.Errorf("Tokens() = %v after canceled wait, want ~0", tokens)
	}
}

func TestWaitDeadlineTooShort(t *testing.T) {
	limiter, err := New(Every(time.Hour), 1)
	testutil.AssertNoError(t, err)
	limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = limiter.Wait(ctx)
	testutil.AssertErrorIs(t, err, context.DeadlineExceeded)
	if time.Since(start) > time.Second {
		t.Error("Wait should fail fast when the deadline cannot be met")
	}
}

func TestWaitPreCanceled(t *testing.T) {
	limiter, err := New(10, 1)
	testutil.AssertNoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	testutil.AssertErrorIs(t, limiter.Wait(ctx), context.Canceled)
	testutil.AssertEqual(t, limiter.Tokens(), 1.0)
}

func TestConcurrentAllow(t *testing.T) {
	limiter, _ := newMockBucket(t, 1, 50, -1)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if limiter.Allow() {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	testutil.AssertEqual(t, allowed.Load(), int64(50))
}

func TestNewWithMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	limiter, err := NewWithMetrics(Config{Rate: 1, Burst: 1, InitialTokens: -1}, "test",
		metrics.Config{Enabled: true, Registry: reg})
	testutil.AssertNoError(t, err)

	ml, ok := limiter.(*MetricsLimiter)
	if !ok {
		t.Fatalf("NewWithMetrics returned %T, want *MetricsLimiter", limiter)
	}

	limiter.Allow()
	limiter.Allow()

	testutil.AssertEqual(t, promtest.ToFloat64(ml.registry.RateLimitRequests.WithLabelValues("token_bucket", "test")), 2.0)
	testutil.AssertEqual(t, promtest.ToFloat64(ml.registry.RateLimitAllowed.WithLabelValues("token_bucket", "test")), 1.0)
	testutil.AssertEqual(t, promtest.ToFloat64(ml.registry.RateLimitDenied.WithLabelValues("token_bucket", "test")), 1.0)
}

func TestNewWithMetricsDisabled(t *testing.T) {
	limiter, err := NewWithMetrics(Config{Rate: 1, Burst: 1}, "off", metrics.Config{})
	testutil.AssertNoError(t, err)

	if _, ok := limiter.(*MetricsLimiter); ok {
		t.Error("disabled metrics config should return the plain limiter")
	}
}

func ExampleNew() {
	limiter, err := New(Every(time.Second), 3)
	if err != nil {
		panic(err)
	}

	for i := 0; i < 4; i++ {
		fmt.Println(i, limiter.Allow())
	}
	// Output:
	// 0 true
	// 1 true
	// 2 true
	// 3 false
}
