package pricing

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/shared/kafka"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

// HeartbeatStore é o que o consumer precisa do Redis
type HeartbeatStore interface {
	Touch(ctx context.Context, provider string, at time.Time) error
	SetOdds(ctx context.Context, provider string, u events.OddsUpdate) error
	NotifyOddsUpdated(ctx context.Context, provider string, eventID string) error
}

// Heartbeat consome odds_updates, atualiza o cache de odds e o last_update do provedor
type Heartbeat struct {
	Log    *zap.Logger
	Reader kafka.MessageReader
	Store  HeartbeatStore
	Clock  *clock.Authority

	OnConsumed func()       // métricas (counter++)
	OnCached   func()       // métricas
	OnError    func(string) // métricas por fase
}

func (h *Heartbeat) Run(ctx context.Context) error {
	for {
		m, err := h.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.Log.Warn("kafka read failed", zap.Error(err))
			h.onError("read")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if h.OnConsumed != nil {
			h.OnConsumed()
		}
		h.Handle(ctx, m.Value)
	}
}

func (h *Heartbeat) Handle(ctx context.Context, payload []byte) {
	var ev events.OddsUpdate
	if err := json.Unmarshal(payload, &ev); err != nil {
		h.Log.Warn("invalid message", zap.Error(err))
		h.onError("decode")
		return
	}
	if ev.Source == "" || ev.EventID == "" {
		h.Log.Warn("odds update without source or event", zap.String("event_id", ev.EventID))
		h.onError("decode")
		return
	}

	// odds primeiro: o heartbeat só avança se o dado chegou ao cache
	if err := h.Store.SetOdds(ctx, ev.Source, ev); err != nil {
		h.Log.Warn("redis set odds failed", zap.Error(err))
		h.onError("cache")
		return
	}
	if h.OnCached != nil {
		h.OnCached()
	}
	if err := h.Store.Touch(ctx, ev.Source, h.Clock.Now()); err != nil {
		h.Log.Warn("redis heartbeat failed", zap.String("provider", ev.Source), zap.Error(err))
		h.onError("heartbeat")
	}
	if err := h.Store.NotifyOddsUpdated(ctx, ev.Source, ev.EventID); err != nil {
		h.Log.Warn("odds broadcast publish failed", zap.Error(err))
		h.onError("broadcast")
	}
}

func (h *Heartbeat) onError(stage string) {
	if h.OnError != nil {
		h.OnError(stage)
	}
}
