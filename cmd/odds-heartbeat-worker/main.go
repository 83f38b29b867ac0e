package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/pricing"
	"github.com/radieske/wager-integrity-core/internal/shared/cache"
	"github.com/radieske/wager-integrity-core/internal/shared/config"
	"github.com/radieske/wager-integrity-core/internal/shared/kafka"
	"github.com/radieske/wager-integrity-core/internal/shared/logger"
	"github.com/radieske/wager-integrity-core/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "odds-heartbeat-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	reader := kafka.NewReader(cfg.Brokers(), cfg.TopicOddsUpdates, "odds-heartbeat")
	defer reader.Close()

	consumed := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wager", Subsystem: "heartbeat", Name: "messages_consumed_total", Help: "Odds updates consumed."})
	cached := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wager", Subsystem: "heartbeat", Name: "cache_sets_total", Help: "Odds written to the cache."})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "wager", Subsystem: "heartbeat", Name: "errors_total", Help: "Errors by stage."}, []string{"stage"})
	prometheus.MustRegister(consumed, cached, errorsBy)

	hb := &pricing.Heartbeat{
		Log:        log,
		Reader:     reader,
		Store:      pricing.NewRedisStore(rdb, cfg.OddsTTL),
		Clock:      clock.New(clock.WithOffset(cfg.ClockOffset), clock.WithLocation(cfg.Location())),
		OnConsumed: func() { consumed.Inc() },
		OnCached:   func() { cached.Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("odds-heartbeat-worker started", zap.String("topic", cfg.TopicOddsUpdates))
	if err := hb.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("heartbeat stopped with error", zap.Error(err))
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("odds-heartbeat-worker stopped")
}
