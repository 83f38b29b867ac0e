package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/pricing"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

// RedisBroadcaster publica no canal compartilhado; cada nó entrega aos seus clientes
type RedisBroadcaster struct {
	Client  *redis.Client
	Channel string
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, msg events.RealtimeMessage) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := b.Client.Publish(ctx, b.Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish realtime: %w", err)
	}
	return nil
}

// StartRedisSubscriber escuta o canal Redis Pub/Sub e repassa as mensagens
// para os clientes WebSocket conectados neste nó
func StartRedisSubscriber(ctx context.Context, r *redis.Client, channel string, hub *Hub, log *zap.Logger) error {
	return subscribe(ctx, r, channel, log, func(payload string) {
		var msg events.RealtimeMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			log.Warn("realtime subscriber unmarshal error", zap.Error(err))
			return
		}
		hub.Deliver(msg)
	})
}

// SelectionNotifier é avisado quando um evento teve odds novas
type SelectionNotifier interface {
	NotifySelectionUpdated(ctx context.Context, eventID string) (int, error)
}

// StartOddsListener traduz avisos de odds atualizadas em selection.updated
// para as apostas pendentes do evento
func StartOddsListener(ctx context.Context, r *redis.Client, n SelectionNotifier, log *zap.Logger) error {
	return subscribe(ctx, r, pricing.ChannelOddsUpdated, log, func(payload string) {
		var notice pricing.OddsUpdatedNotice
		if err := json.Unmarshal([]byte(payload), &notice); err != nil || notice.EventID == "" {
			log.Warn("odds notice ignored", zap.String("payload", payload))
			return
		}
		if _, err := n.NotifySelectionUpdated(ctx, notice.EventID); err != nil {
			log.Warn("selection update fan-out failed", zap.String("event_id", notice.EventID), zap.Error(err))
		}
	})
}

func subscribe(ctx context.Context, r *redis.Client, channel string, log *zap.Logger, fn func(payload string)) error {
	sub := r.Subscribe(ctx, channel)
	// confirma a inscrição antes de devolver
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	ch := sub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close() // encerra a inscrição ao finalizar o contexto
				return
			case msg, ok := <-ch:
				if !ok {
					log.Warn("redis subscription closed", zap.String("channel", channel))
					return
				}
				fn(msg.Payload)
			}
		}
	}()
	return nil
}
