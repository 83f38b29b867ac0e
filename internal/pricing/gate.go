package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
)

type StatusReader interface {
	LoadStatus(ctx context.Context) (*Snapshot, error)
}

// Motivos de recusa
const (
	ReasonUnavailable   = "admission state unavailable"
	ReasonKillSwitch    = "live wagering disabled by operator"
	ReasonFeedSuspended = "live pricing suspended"
)

type GateConfig struct {
	PollInterval time.Duration
	// estado mais velho que isso é descartado (fail-closed)
	MaxAge time.Duration
	// snapshot do monitor mais velho que isso conta como suspensão
	MaxStatusAge time.Duration
}

type gateState struct {
	loaded     bool
	loadedAt   time.Time
	killSwitch KillSwitch
	suspended  bool
}

// Gate é a checagem de admissão do caminho de colocação de apostas ao vivo.
// Lê kill switch e status publicado por polling; é eventualmente consistente.
type Gate struct {
	cfg    GateConfig
	ks     KillSwitchStore
	status StatusReader
	clock  *clock.Authority
	log    *zap.Logger

	mu    sync.RWMutex
	state gateState
}

func NewGate(cfg GateConfig, ks KillSwitchStore, status StatusReader, clk *clock.Authority, log *zap.Logger) *Gate {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * cfg.PollInterval
	}
	if cfg.MaxStatusAge <= 0 {
		cfg.MaxStatusAge = 30 * time.Second
	}
	return &Gate{cfg: cfg, ks: ks, status: status, clock: clk, log: log}
}

// Refresh recarrega o estado; em erro o estado anterior fica até expirar por MaxAge
func (g *Gate) Refresh(ctx context.Context) error {
	ks, err := g.ks.Get(ctx)
	if err != nil {
		return fmt.Errorf("load kill switch: %w", err)
	}
	snap, err := g.status.LoadStatus(ctx)
	if err != nil {
		return fmt.Errorf("load pricing status: %w", err)
	}

	now := g.clock.Now()
	suspended := true
	if snap != nil && now.Sub(snap.CheckedAt) <= g.cfg.MaxStatusAge {
		suspended = snap.ShouldSuspendLiveEvents
	}

	g.mu.Lock()
	g.state = gateState{loaded: true, loadedAt: now, killSwitch: ks, suspended: suspended}
	g.mu.Unlock()
	return nil
}

// AllowNewLiveWager responde se uma nova aposta ao vivo pode ser aceita agora
func (g *Gate) AllowNewLiveWager(ctx context.Context) (bool, string) {
	g.mu.RLock()
	st := g.state
	g.mu.RUnlock()

	reason := ""
	switch {
	case !st.loaded || g.clock.Since(st.loadedAt) > g.cfg.MaxAge:
		reason = ReasonUnavailable
	case st.killSwitch.Enabled:
		reason = ReasonKillSwitch
	case st.suspended:
		reason = ReasonFeedSuspended
	default:
		return true, ""
	}
	admissionRejections.WithLabelValues(reason).Inc()
	return false, reason
}

func (g *Gate) Run(ctx context.Context) {
	t := time.NewTicker(g.cfg.PollInterval)
	defer t.Stop()
	for {
		if err := g.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			g.log.Warn("admission gate refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
