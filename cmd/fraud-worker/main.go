package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/audit"
	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/fraud"
	"github.com/radieske/wager-integrity-core/internal/kyc"
	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/internal/shared/config"
	"github.com/radieske/wager-integrity-core/internal/shared/db"
	"github.com/radieske/wager-integrity-core/internal/shared/kafka"
	"github.com/radieske/wager-integrity-core/internal/shared/logger"
	"github.com/radieske/wager-integrity-core/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "fraud-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	clk := clock.New(clock.WithOffset(cfg.ClockOffset), clock.WithLocation(cfg.Location()))

	// Consumer group próprio: cada transação passa uma vez pelas checagens
	brokers := cfg.Brokers()
	reader := kafka.NewReader(brokers, cfg.TopicWalletTransactions, "fraud-worker")
	defer reader.Close()
	dlq := kafka.NewWriter(brokers, cfg.TopicWalletTransactionsDLQ)
	defer dlq.Close()
	alertWriter := kafka.NewWriter(brokers, cfg.TopicSecurityAlerts)
	defer alertWriter.Close()

	// O worker só lê o ledger; a escrita fica com o core-service
	ledgerSvc := ledger.NewService(ledger.NewPostgresStore(pg), clk, logger.Component(log, "ledger"), cfg.Currency)
	auditLog := audit.NewLog(audit.NewPostgresStore(pg), clk, logger.Component(log, "audit"))
	alertSvc := alert.NewService(alert.NewPostgresStore(pg), clk, auditLog, alert.NewKafkaPublisher(alertWriter), logger.Component(log, "alert"))
	engine := fraud.NewEngine(fraud.DefaultConfig(cfg.ReportingThreshold), ledgerSvc, kyc.NewPostgresStore(pg), alertSvc, logger.Component(log, "fraud"))

	consumed := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wager", Subsystem: "fraud_worker", Name: "messages_consumed_total", Help: "Wallet transactions consumed."})
	dlqSent := prometheus.NewCounter(prometheus.CounterOpts{Namespace: "wager", Subsystem: "fraud_worker", Name: "dlq_messages_total", Help: "Messages sent to the dead-letter topic."})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "wager", Subsystem: "fraud_worker", Name: "errors_total", Help: "Errors by stage."}, []string{"stage"})
	prometheus.MustRegister(consumed, dlqSent, errorsBy)

	c := &fraud.Consumer{
		Log:        log,
		Reader:     reader,
		DLQ:        dlq,
		Inspector:  engine,
		Retries:    3,
		Backoff:    200 * time.Millisecond,
		OnConsumed: func() { consumed.Inc() },
		OnDLQ:      func() { dlqSent.Inc() },
		OnError:    func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log, pg.PingContext)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("fraud-worker started", zap.String("topic", cfg.TopicWalletTransactions))
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("consumer stopped with error", zap.Error(err))
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("fraud-worker stopped")
}
