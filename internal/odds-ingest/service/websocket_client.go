package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

// Publisher recebe cada atualização lida do fornecedor
type Publisher interface {
	Publish(ctx context.Context, e events.OddsUpdate) error
}

// WSClient consome o WebSocket de um fornecedor de odds e repassa ao Publisher.
// Reconecta sozinho; enquanto desconectado o heartbeat do provedor envelhece
// e o monitor de feed decide o failover.
type WSClient struct {
	URL            string
	Provider       string
	Log            *zap.Logger
	Publisher      Publisher
	ReconnectDelay time.Duration // padrão 3s
}

// Start roda até ctx ser cancelado
func (c *WSClient) Start(ctx context.Context) {
	delay := c.ReconnectDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}
	for {
		err := c.connectAndListen(ctx)
		if ctx.Err() != nil {
			c.Log.Info("context canceled, stopping WS client", zap.String("provider", c.Provider))
			return
		}
		c.Log.Warn("supplier connection closed", zap.String("provider", c.Provider), zap.Error(err))
		reconnects.WithLabelValues(c.Provider).Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *WSClient) connectAndListen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.Log.Info("connected to supplier WS", zap.String("url", c.URL), zap.String("provider", c.Provider))

	// fecha a conexão no cancelamento para destravar ReadMessage
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var update events.OddsUpdate
		if err := json.Unmarshal(message, &update); err != nil || update.EventID == "" {
			c.Log.Warn("invalid supplier message", zap.String("provider", c.Provider), zap.Error(err))
			continue
		}
		if err := c.Publisher.Publish(ctx, update); err != nil {
			c.Log.Error("failed to publish odds update", zap.String("event_id", update.EventID), zap.Error(err))
		}
	}
}
