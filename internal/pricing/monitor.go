package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/clock"
)

// Source informa o último instante em que um provedor entregou dados
type Source interface {
	LastUpdate(ctx context.Context, provider string) (time.Time, bool, error)
}

type StatusPublisher interface {
	PublishStatus(ctx context.Context, s Snapshot) error
}

type AlertRaiser interface {
	Raise(ctx context.Context, n alert.New) (*alert.SecurityAlert, error)
}

type MonitorConfig struct {
	Primary    string
	Secondary  string
	StaleAfter time.Duration
	Timeout    time.Duration // por leitura de heartbeat
}

// Monitor avalia primário e secundário, decide o roteamento e alerta nas transições
type Monitor struct {
	cfg    MonitorConfig
	source Source
	pub    StatusPublisher
	alerts AlertRaiser
	clock  *clock.Authority
	log    *zap.Logger

	mu     sync.RWMutex
	latest *Snapshot
}

func NewMonitor(cfg MonitorConfig, source Source, pub StatusPublisher, alerts AlertRaiser, clk *clock.Authority, log *zap.Logger) *Monitor {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 60 * time.Second
	}
	return &Monitor{cfg: cfg, source: source, pub: pub, alerts: alerts, clock: clk, log: log}
}

func (m *Monitor) health(ctx context.Context, provider string, now time.Time) FeedHealth {
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	last, seen, err := m.source.LastUpdate(ctx, provider)
	if err != nil {
		// sem leitura confiável o feed é tratado como fora
		m.log.Warn("feed heartbeat read failed", zap.String("provider", provider), zap.Error(err))
		return FeedHealth{Provider: provider, Status: StatusDown}
	}
	return Evaluate(provider, last, seen, now, m.cfg.StaleAfter)
}

// Check faz uma rodada de avaliação e publica o resultado
func (m *Monitor) Check(ctx context.Context) Snapshot {
	now := m.clock.Now()
	s := Snapshot{
		Primary:        m.health(ctx, m.cfg.Primary, now),
		Secondary:      m.health(ctx, m.cfg.Secondary, now),
		ActiveProvider: m.cfg.Primary,
		CheckedAt:      m.clock.AuditTimestamp(),
	}
	if !s.Primary.Healthy() {
		s.ActiveProvider = m.cfg.Secondary
		s.ShouldSuspendLiveEvents = !s.Secondary.Healthy()
	}

	feedStatusGauge.WithLabelValues(m.cfg.Primary).Set(statusValue(s.Primary.Status))
	feedStatusGauge.WithLabelValues(m.cfg.Secondary).Set(statusValue(s.Secondary.Status))
	if s.ShouldSuspendLiveEvents {
		liveSuspendedGauge.Set(1)
	} else {
		liveSuspendedGauge.Set(0)
	}

	m.mu.Lock()
	prev := m.latest
	m.latest = &s
	m.mu.Unlock()

	m.transitions(ctx, prev, s)

	if err := m.pub.PublishStatus(ctx, s); err != nil {
		m.log.Error("publish pricing status", zap.Error(err))
	}
	return s
}

// alertas só em mudança de estado, não a cada tick
func (m *Monitor) transitions(ctx context.Context, prev *Snapshot, cur Snapshot) {
	wasFailedOver, wasSuspended := false, false
	if prev != nil {
		wasFailedOver, wasSuspended = prev.FailedOver(), prev.ShouldSuspendLiveEvents
	}

	switch {
	case cur.FailedOver() && !wasFailedOver:
		failoversTotal.Inc()
		meta := alert.FeedFailover{
			Primary:         cur.Primary.Provider,
			PrimaryStatus:   string(cur.Primary.Status),
			PrimaryLastSeen: cur.Primary.LastUpdate,
			Secondary:       cur.Secondary.Provider,
			SecondaryStatus: string(cur.Secondary.Status),
			ActiveProvider:  cur.ActiveProvider,
		}
		m.raise(ctx, alert.New{
			Severity:    alert.SeverityCritical,
			Description: fmt.Sprintf("primary pricing feed %s is %s, routing to %s", cur.Primary.Provider, cur.Primary.Status, cur.ActiveProvider),
			Metadata:    meta,
		})
	case !cur.FailedOver() && wasFailedOver:
		m.log.Info("primary pricing feed recovered", zap.String("provider", cur.Primary.Provider))
	}

	switch {
	case cur.ShouldSuspendLiveEvents && !wasSuspended:
		m.raise(ctx, alert.New{
			Severity:    alert.SeverityCritical,
			Description: "all pricing feeds unhealthy, new live wagers suspended",
			Metadata: alert.LiveSuspension{
				PrimaryStatus:   string(cur.Primary.Status),
				SecondaryStatus: string(cur.Secondary.Status),
			},
		})
	case !cur.ShouldSuspendLiveEvents && wasSuspended:
		m.log.Info("live wagering resumed", zap.String("active_provider", cur.ActiveProvider))
	}
}

func (m *Monitor) raise(ctx context.Context, n alert.New) {
	if _, err := m.alerts.Raise(ctx, n); err != nil {
		m.log.Error("raise pricing alert", zap.String("type", string(n.Metadata.AlertType())), zap.Error(err))
	}
}

// Latest devolve a última checagem local (nil antes da primeira)
func (m *Monitor) Latest() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return nil
	}
	cp := *m.latest
	return &cp
}

func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Check(ctx)
		}
	}
}
