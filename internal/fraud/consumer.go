package fraud

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/shared/kafka"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

// Inspector é o que o consumer chama para cada transação
type Inspector interface {
	Inspect(ctx context.Context, ev events.TransactionRecorded) error
}

// Consumer lê wallet_transactions e aplica as checagens de fraude.
// Mensagens que falham depois das tentativas vão para a DLQ.
type Consumer struct {
	Log       *zap.Logger
	Reader    kafka.MessageReader
	DLQ       kafka.MessageWriter // opcional
	Inspector Inspector

	Retries int
	Backoff time.Duration

	OnConsumed func()       // métricas (counter++)
	OnDLQ      func()       // métricas
	OnError    func(string) // métricas por fase
}

// Run inicia o loop de consumo; retorna quando o contexto é cancelado
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.Reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.Log.Warn("kafka read failed", zap.Error(err))
			c.onError("read")
			if !sleep(ctx, 500*time.Millisecond) {
				return ctx.Err()
			}
			continue
		}
		if c.OnConsumed != nil {
			c.OnConsumed()
		}
		c.Handle(ctx, m)
	}
}

// Handle processa uma mensagem: decode, checagens com retry e DLQ
func (c *Consumer) Handle(ctx context.Context, m kafka.Message) {
	var ev events.TransactionRecorded
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		c.Log.Warn("invalid message", zap.Error(err))
		c.onError("decode")
		c.deadLetter(ctx, m)
		return
	}

	err := c.Inspector.Inspect(ctx, ev)
	for i := 0; err != nil && i < c.Retries; i++ {
		if !sleep(ctx, c.Backoff*time.Duration(i+1)) {
			return
		}
		err = c.Inspector.Inspect(ctx, ev)
	}
	if err != nil {
		c.Log.Error("fraud inspection failed",
			zap.String("entry_id", ev.EntryID),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
		c.onError("inspect")
		c.deadLetter(ctx, m)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, m kafka.Message) {
	if c.DLQ == nil {
		return
	}
	if err := kafka.WriteJSON(ctx, c.DLQ, string(m.Key), m.Value); err != nil {
		c.Log.Error("dlq write failed", zap.Error(err))
		c.onError("dlq")
		return
	}
	if c.OnDLQ != nil {
		c.OnDLQ()
	}
}

func (c *Consumer) onError(stage string) {
	if c.OnError != nil {
		c.OnError(stage)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
