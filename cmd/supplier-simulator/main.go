package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/shared/config"
	"github.com/radieske/wager-integrity-core/internal/shared/logger"
	"github.com/radieske/wager-integrity-core/internal/shared/metrics"
	simulator "github.com/radieske/wager-integrity-core/internal/supplier-simulator"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "supplier-simulator"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clk := clock.New(clock.WithOffset(cfg.ClockOffset), clock.WithLocation(cfg.Location()))
	sandbox := &simulator.Server{
		Feed:    simulator.NewFeed(cfg.IngestProvider, clk, logger.Component(log, "feed")),
		Rails:   simulator.NewRails(logger.Component(log, "rails")),
		Tickets: simulator.NewTickets(logger.Component(log, "tickets")),
	}

	// Gera odds simuladas a cada 3 segundos
	go sandbox.Feed.Run(ctx, 3*time.Second)

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           sandbox.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("supplier simulator running",
			zap.String("port", cfg.HTTPPort),
			zap.String("paths", "/ws,/feed,/rails/{rail}/transfers,/tickets"),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("public server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("supplier simulator stopped")
}
