// Command batchflow doubles a batch of integers through a bounded worker pool,
// once or on a cron schedule.
//
// Inputs come from BATCHFLOW_INPUT (one integer per line) or from the
// command-line arguments. See internal/config for every setting.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vnykmshr/batchflow/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	if err := a.run(ctx, os.Args[1:]); err != nil {
		logger.WithError(err).Error("batchflow failed")
		stop()
		os.Exit(1)
	}
}
