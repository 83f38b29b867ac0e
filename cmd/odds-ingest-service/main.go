package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/odds-ingest/publisher"
	"github.com/radieske/wager-integrity-core/internal/odds-ingest/service"
	"github.com/radieske/wager-integrity-core/internal/shared/config"
	"github.com/radieske/wager-integrity-core/internal/shared/kafka"
	"github.com/radieske/wager-integrity-core/internal/shared/logger"
	"github.com/radieske/wager-integrity-core/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "odds-ingest-service"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("Kafka brokers", zap.String("brokers", cfg.KafkaBrokers), zap.String("provider", cfg.IngestProvider))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	brokers := cfg.Brokers()

	// Em ambiente local o tópico é criado aqui; em prod fica com a infra
	if cfg.Env == "local" || cfg.Env == "dev" {
		if err := publisher.EnsureTopic(ctx, brokers, cfg.TopicOddsUpdates, log); err != nil {
			log.Warn("ensure topic failed", zap.String("topic", cfg.TopicOddsUpdates), zap.Error(err))
		}
	}

	// Kafka Publisher
	w := kafka.NewWriter(brokers, cfg.TopicOddsUpdates)
	defer w.Close()
	clk := clock.New(clock.WithOffset(cfg.ClockOffset), clock.WithLocation(cfg.Location()))
	pub := publisher.NewKafkaPublisher(w, cfg.IngestProvider, clk, log)

	// WS Client
	wsClient := &service.WSClient{
		URL:       cfg.SupplierWSURL,
		Provider:  cfg.IngestProvider,
		Log:       log,
		Publisher: pub,
	}

	// Metrics e health
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log)

	wsClient.Start(ctx)

	log.Info("shutdown signal received")
	shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	_ = metricsSrv.Shutdown(shutdownCtx)
}
