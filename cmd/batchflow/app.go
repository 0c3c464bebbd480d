package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/vnykmshr/batchflow/internal/config"
	gferrors "github.com/vnykmshr/batchflow/pkg/common/errors"
	"github.com/vnykmshr/batchflow/pkg/metrics"
	"github.com/vnykmshr/batchflow/pkg/ratelimit/bucket"
	"github.com/vnykmshr/batchflow/pkg/ratelimit/distributed"
	"github.com/vnykmshr/batchflow/pkg/scheduling/scheduler"
	"github.com/vnykmshr/batchflow/pkg/scheduling/workerpool"
)

// app wires configuration into a pool and runs it.
type app struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *prometheus.Registry

	closers []func()
}

// run executes one batch, or keeps executing batches on the configured
// schedule until ctx is canceled.
func (a *app) run(ctx context.Context, args []string) error {
	defer a.close()

	inputs, err := readInputs(a.cfg.InputFile, args)
	if err != nil {
		return err
	}

	pool, err := a.buildPool()
	if err != nil {
		return err
	}

	if a.cfg.MetricsAddr != "" {
		a.serveMetrics()
	}

	if a.cfg.Schedule == "" {
		a.runBatch(ctx, pool, inputs)
		return nil
	}
	return a.runScheduled(ctx, pool, inputs)
}

func (a *app) buildPool() (*workerpool.Pool[string, int], error) {
	poolConfig := workerpool.Config{
		Name:        a.cfg.PoolName,
		Workers:     a.cfg.Workers,
		ItemTimeout: a.cfg.ItemTimeout,
		Logger:      a.logger,
	}

	limiter, err := a.buildLimiter()
	if err != nil {
		return nil, err
	}
	poolConfig.Limiter = limiter

	if a.cfg.GoroutinePool > 0 {
		ap, err := ants.NewPool(a.cfg.GoroutinePool, ants.WithLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("create goroutine pool: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := ap.ReleaseTimeout(5 * time.Second); err != nil {
				a.logger.WithError(err).Warn("goroutine pool did not release in time")
			}
		})
		poolConfig.Executor = ap
	}

	return workerpool.NewWithMetrics(poolConfig, doubleLine, a.metricsConfig())
}

// buildLimiter returns nil when rate limiting is off. With REDIS_URL set the
// limit is shared across processes and the local bucket serves as fallback.
func (a *app) buildLimiter() (workerpool.Limiter, error) {
	if a.cfg.Rate == 0 {
		return nil, nil
	}

	local, err := bucket.NewWithMetrics(bucket.Config{
		Rate:          bucket.Limit(a.cfg.Rate),
		Burst:         a.cfg.Burst,
		InitialTokens: -1,
	}, a.cfg.PoolName, a.metricsConfig())
	if err != nil {
		return nil, err
	}
	if a.cfg.RedisURL == "" {
		return local, nil
	}

	opt, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("could not parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	shared, err := distributed.New(distributed.Config{
		Redis:    rdb,
		Key:      "batchflow:" + a.cfg.PoolName,
		Rate:     a.cfg.Rate,
		Burst:    a.cfg.Burst,
		Fallback: local,
		Logger:   a.logger,
	})
	if err != nil {
		_ = rdb.Close()
		return nil, err
	}

	a.closers = append(a.closers, func() {
		if err := shared.Close(); err != nil {
			a.logger.WithError(err).Debug("could not deregister from redis")
		}
		_ = rdb.Close()
	})
	return shared, nil
}

func (a *app) metricsConfig() metrics.Config {
	return metrics.Config{
		Enabled:  a.cfg.MetricsAddr != "",
		Registry: a.registry,
	}
}

func (a *app) serveMetrics() {
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Infof("serving metrics on %s/metrics", a.cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("metrics server failed")
		}
	}()

	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
}

// runBatch runs inputs through the pool once and logs every outcome.
func (a *app) runBatch(ctx context.Context, pool *workerpool.Pool[string, int], inputs []string) []workerpool.Outcome[int] {
	start := time.Now()
	outcomes, err := pool.Run(ctx, inputs)
	if err != nil {
		a.logger.WithError(err).Error("batch rejected")
		return nil
	}

	retryable := 0
	for _, o := range outcomes {
		entry := a.logger.WithFields(logrus.Fields{
			"item":     o.Index,
			"input":    inputs[o.Index],
			"worker":   o.WorkerID,
			"duration": o.Duration,
		})
		if o.Err != nil {
			if gferrors.IsRetryable(o.Err) {
				retryable++
			}
			entry.WithError(o.Err).WithField("retryable", gferrors.IsRetryable(o.Err)).Warn("item failed")
			continue
		}
		entry.WithField("result", o.Value).Info("item done")
	}

	a.logger.WithFields(logrus.Fields{
		"items":     len(outcomes),
		"succeeded": len(workerpool.Values(outcomes)),
		"failed":    len(workerpool.Failures(outcomes)),
		"retryable": retryable,
		"duration":  time.Since(start),
	}).Info("batch complete")
	return outcomes
}

func (a *app) runScheduled(ctx context.Context, pool *workerpool.Pool[string, int], inputs []string) error {
	s, err := scheduler.New(scheduler.Config{
		Logger:  a.logger,
		Metrics: a.metricsConfig(),
	})
	if err != nil {
		return err
	}

	job := scheduler.JobFunc(func(jobCtx context.Context) error {
		a.runBatch(jobCtx, pool, inputs)
		return nil
	})
	if err := s.ScheduleCron("batch", a.cfg.Schedule, job); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}

	next := s.List()[0].NextRun
	a.logger.WithFields(logrus.Fields{
		"schedule": a.cfg.Schedule,
		"next_run": next,
	}).Info("scheduler started")

	<-ctx.Done()
	a.logger.Info("shutting down, waiting for running batch")
	<-s.Stop()
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// doubleLine parses one input line as an integer and doubles it.
func doubleLine(ctx context.Context, line string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", line, err)
	}
	return n * 2, nil
}

// readInputs returns the non-blank lines of path, or args when path is empty.
func readInputs(path string, args []string) ([]string, error) {
	if path == "" {
		return args, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}
