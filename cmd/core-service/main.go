package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/audit"
	"github.com/radieske/wager-integrity-core/internal/bet"
	"github.com/radieske/wager-integrity-core/internal/circuitbreaker"
	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/fraud"
	"github.com/radieske/wager-integrity-core/internal/httpapi"
	"github.com/radieske/wager-integrity-core/internal/kyc"
	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/internal/namematch"
	"github.com/radieske/wager-integrity-core/internal/payments"
	"github.com/radieske/wager-integrity-core/internal/pricing"
	"github.com/radieske/wager-integrity-core/internal/realtime"
	"github.com/radieske/wager-integrity-core/internal/reconciliation"
	"github.com/radieske/wager-integrity-core/internal/shared/cache"
	"github.com/radieske/wager-integrity-core/internal/shared/config"
	"github.com/radieske/wager-integrity-core/internal/shared/db"
	"github.com/radieske/wager-integrity-core/internal/shared/kafka"
	"github.com/radieske/wager-integrity-core/internal/shared/logger"
	"github.com/radieske/wager-integrity-core/internal/shared/metrics"
)

const offerJanitorSchedule = "@every 10m"

func main() {
	cfg := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "core-service"
	}

	log, err := logger.New(cfg.ServiceName, cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres
	pg, err := db.ConnectPostgres(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pg.Close()
	if err := db.EnsureSchema(ctx, pg); err != nil {
		log.Fatal("failed to apply schema", zap.Error(err))
	}

	// Redis
	rdb, err := cache.ConnectRedis(cfg.RedisAddr)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Kafka
	brokers := cfg.Brokers()
	txWriter := kafka.NewWriter(brokers, cfg.TopicWalletTransactions)
	defer txWriter.Close()
	alertWriter := kafka.NewWriter(brokers, cfg.TopicSecurityAlerts)
	defer alertWriter.Close()

	clk := clock.New(clock.WithOffset(cfg.ClockOffset), clock.WithLocation(cfg.Location()))
	log.Info("time authority ready",
		zap.String("time_zone", clk.Location().String()),
		zap.Duration("offset", cfg.ClockOffset))

	// Núcleo financeiro
	ledgerStore := ledger.NewPostgresStore(pg)
	ledgerSvc := ledger.NewService(ledgerStore, clk, logger.Component(log, "ledger"), cfg.Currency)
	auditLog := audit.NewLog(audit.NewPostgresStore(pg), clk, logger.Component(log, "audit"))
	alertSvc := alert.NewService(alert.NewPostgresStore(pg), clk, auditLog, alert.NewKafkaPublisher(alertWriter), logger.Component(log, "alert"))

	identities := kyc.NewPostgresStore(pg)
	fraudEngine := fraud.NewEngine(fraud.DefaultConfig(cfg.ReportingThreshold), ledgerSvc, identities, alertSvc, logger.Component(log, "fraud"))
	names := namematch.NewMatcher(namematch.NewPostgresStore(pg), alertSvc, clk, logger.Component(log, "namematch"))

	// Pricing: status do feed, kill switch e gate de admissão
	pricingStore := pricing.NewRedisStore(rdb, cfg.OddsTTL)
	ksStore := pricing.NewPostgresKillSwitchStore(pg)
	killSwitch := pricing.NewKillSwitchService(ksStore, auditLog, clk, logger.Component(log, "killswitch"))

	gate := pricing.NewGate(pricing.GateConfig{
		PollInterval: cfg.GatePollInterval,
		MaxAge:       3 * cfg.GatePollInterval,
		MaxStatusAge: 3 * cfg.FeedCheckInterval,
	}, ksStore, pricingStore, clk, logger.Component(log, "admission"))
	if err := gate.Refresh(ctx); err != nil {
		log.Warn("initial admission refresh failed; live wagers stay closed", zap.Error(err))
	}
	go gate.Run(ctx)

	monitor := pricing.NewMonitor(pricing.MonitorConfig{
		Primary:    cfg.PrimaryProvider,
		Secondary:  cfg.SecondaryProvider,
		StaleAfter: cfg.FeedStaleAfter,
		Timeout:    cfg.PricingTimeout,
	}, pricingStore, pricingStore, alertSvc, clk, logger.Component(log, "feed-monitor"))
	go monitor.Run(ctx, cfg.FeedCheckInterval)

	quotes := pricing.NewQuotes(pricingStore, pricingStore, cfg.PricingTimeout)

	// Apostas e cash-out
	betCfg := bet.DefaultConfig()
	betCfg.OfferTTL = cfg.CashoutOfferTTL
	betCfg.Margin = cfg.CashoutMargin
	broadcaster := &realtime.RedisBroadcaster{Client: rdb, Channel: cfg.RealtimeChannel}
	coordinator := bet.NewCoordinator(betCfg, bet.NewPostgresStore(pg), ledgerSvc, gate, quotes, broadcaster, clk, logger.Component(log, "bets"))

	hub := realtime.NewHub(coordinator, logger.Component(log, "realtime"), originAllowed(cfg.AllowedOrigins))
	if err := realtime.StartRedisSubscriber(ctx, rdb, cfg.RealtimeChannel, hub, log); err != nil {
		log.Fatal("failed to subscribe realtime channel", zap.Error(err))
	}
	if err := realtime.StartOddsListener(ctx, rdb, coordinator, log); err != nil {
		log.Fatal("failed to subscribe odds notices", zap.Error(err))
	}

	// Pagamentos
	railClient := &http.Client{Timeout: cfg.RailTimeout + time.Second}
	router := payments.NewRouter(payments.RouterConfig{
		DefaultRail:   cfg.DefaultRailName,
		FastRail:      cfg.FastRailName,
		FastBankCodes: cfg.FastRailBankCodes,
		Timeout:       cfg.RailTimeout,
	}, circuitbreaker.New(5, 30*time.Second),
		payments.NewHTTPRail(cfg.DefaultRailName, cfg.DefaultRailURL, railClient, clk),
		payments.NewHTTPRail(cfg.FastRailName, cfg.FastRailURL, railClient, clk),
	)
	paymentSvc := payments.NewService(payments.Config{
		Currency:    cfg.Currency,
		MaxAttempts: cfg.PayoutMaxAttempts,
	}, payments.Deps{
		Store:    payments.NewPostgresStore(pg),
		Ledger:   ledgerSvc,
		Router:   router,
		Alerts:   alertSvc,
		Names:    names,
		KYC:      identities,
		Identity: fraudEngine,
		Events:   txWriter,
		Audit:    auditLog,
		Clock:    clk,
		Log:      logger.Component(log, "payments"),
	})

	// Conciliação diária + janitor de ofertas
	reconSvc := reconciliation.NewService(
		reconciliation.NewPostgresStore(pg),
		ledgerSvc,
		reconciliation.NewHTTPTicketOpener(cfg.SupportTicketURL, &http.Client{Timeout: 10 * time.Second}),
		alertSvc,
		auditLog,
		clk,
		logger.Component(log, "reconciliation"),
	)
	scheduler := reconciliation.NewScheduler(reconSvc, cfg.SettlementDir, cfg.ReconciliationProviders, clk, logger.Component(log, "scheduler"))
	if err := scheduler.AddJob(offerJanitorSchedule, func() {
		if _, err := coordinator.PurgeExpiredOffers(ctx); err != nil {
			log.Warn("offer purge failed", zap.Error(err))
		}
	}); err != nil {
		log.Fatal("invalid janitor schedule", zap.Error(err))
	}
	if err := scheduler.Start(ctx, cfg.ReconciliationSchedule); err != nil {
		log.Fatal("invalid reconciliation schedule", zap.String("schedule", cfg.ReconciliationSchedule), zap.Error(err))
	}
	defer scheduler.Stop()

	// Metrics e health
	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, log,
		pg.PingContext,
		func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	)

	api := httpapi.NewServer(httpapi.Deps{
		Ledger:         ledgerSvc,
		Bets:           coordinator,
		Payments:       paymentSvc,
		Alerts:         alertSvc,
		KillSwitch:     killSwitch,
		Reconciliation: reconSvc,
		Realtime:       hub.HandleWS,
		AllowedOrigins: cfg.AllowedOrigins,
		Timeout:        cfg.RequestTimeout,
		Log:            logger.Component(log, "http"),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("core-service listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info("core-service stopped")
}

// originAllowed libera o upgrade WS para as mesmas origens do CORS
func originAllowed(origins []string) func(r *http.Request) bool {
	if slices.Contains(origins, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		return slices.Contains(origins, r.Header.Get("Origin"))
	}
}
