// Package realtime entrega eventos de apostas aos clientes via WebSocket.
// Entrega at-least-once: no subscribe/reconexão o cliente recebe o estado
// durável da aposta e deduplica por betSlipId + type.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/bet"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

const writeTimeout = 5 * time.Second

// Commands é o que o hub precisa do coordenador de apostas
type Commands interface {
	ResyncMessages(ctx context.Context, userID, betID string) ([]events.RealtimeMessage, error)
	RequestCashout(ctx context.Context, userID, betID string) (*bet.Offer, error)
	AcceptCashout(ctx context.Context, userID, betID string, amount decimal.Decimal) (*bet.Slip, error)
}

// client serializa escritas: gorilla/websocket aceita um único writer por conexão
type client struct {
	conn   *websocket.Conn
	userID string
	wmu    sync.Mutex
}

func (c *client) write(v any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

// Hub gerencia conexões WebSocket e assinaturas por aposta
// subs: betSlipID -> conjunto de clientes inscritos
type Hub struct {
	upgrader websocket.Upgrader
	cmds     Commands
	log      *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[*client]struct{}
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(cmds Commands, log *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		cmds:     cmds,
		log:      log,
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão. O usuário vem do gateway
// autenticado (header X-User-ID ou query userId).
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		userID = r.URL.Query().Get("userId")
	}
	if userID == "" {
		http.Error(w, "user required", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	c := &client{conn: conn, userID: userID}
	connectedClients.Inc()
	defer connectedClients.Dec()

	ctx := r.Context()
	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		h.handle(ctx, c, msg)
	}
	h.drop(c)
}

func (h *Hub) handle(ctx context.Context, c *client, msg ClientMsg) {
	if msg.Type == MsgPing {
		_ = c.write(map[string]string{"type": MsgPong})
		return
	}
	if msg.BetSlipID == "" {
		_ = c.write(ErrorMsg{Type: MsgError, Error: "betSlipId required"})
		return
	}

	switch msg.Type {
	case MsgSubscribe:
		h.subscribe(ctx, c, msg.BetSlipID)
	case MsgUnsubscribe:
		h.unsubscribe(c, msg.BetSlipID)
	case events.TypeCashoutRequest:
		if !h.subscribed(c, msg.BetSlipID) {
			_ = c.write(ErrorMsg{Type: events.TypeCashoutError, BetSlipID: msg.BetSlipID, Error: "not_subscribed"})
			return
		}
		// resultado chega pelo broadcast do coordenador
		_, _ = h.cmds.RequestCashout(ctx, c.userID, msg.BetSlipID)
	case events.TypeCashoutAccept:
		if !h.subscribed(c, msg.BetSlipID) {
			_ = c.write(ErrorMsg{Type: events.TypeCashoutError, BetSlipID: msg.BetSlipID, Error: "not_subscribed"})
			return
		}
		if msg.CashoutOffer == nil {
			_ = c.write(ErrorMsg{Type: events.TypeCashoutError, BetSlipID: msg.BetSlipID, Error: bet.ReasonMismatch})
			return
		}
		_, _ = h.cmds.AcceptCashout(ctx, c.userID, msg.BetSlipID, *msg.CashoutOffer)
	default:
		_ = c.write(ErrorMsg{Type: MsgError, BetSlipID: msg.BetSlipID, Error: "unknown message type"})
	}
}

// subscribe valida a posse pela ressincronização e só então registra o cliente
func (h *Hub) subscribe(ctx context.Context, c *client, betID string) {
	msgs, err := h.cmds.ResyncMessages(ctx, c.userID, betID)
	if err != nil {
		_ = c.write(ErrorMsg{Type: MsgError, BetSlipID: betID, Error: "bet not found"})
		return
	}

	h.mu.Lock()
	if _, ok := h.subs[betID]; !ok {
		h.subs[betID] = make(map[*client]struct{})
	}
	h.subs[betID][c] = struct{}{}
	h.mu.Unlock()

	for _, m := range msgs {
		if err := c.write(m); err != nil {
			return
		}
	}
}

func (h *Hub) unsubscribe(c *client, betID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.subs[betID]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, betID)
		}
	}
}

func (h *Hub) subscribed(c *client, betID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[betID][c]
	return ok
}

// drop remove a conexão de todas as assinaturas ao desconectar
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
}

// Deliver envia a mensagem aos clientes deste nó inscritos na aposta
func (h *Hub) Deliver(msg events.RealtimeMessage) {
	h.mu.RLock()
	set := h.subs[msg.BetSlipID]
	targets := make([]*client, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	for _, c := range targets {
		if err := c.write(msg); err != nil {
			deliveryFailures.Inc()
			h.log.Debug("ws write failed", zap.String("bet_id", msg.BetSlipID), zap.Error(err))
			continue
		}
		delivered.WithLabelValues(msg.Type).Inc()
	}
}

// Broadcast entrega localmente; usado quando há um único nó
func (h *Hub) Broadcast(ctx context.Context, msg events.RealtimeMessage) error {
	h.Deliver(msg)
	return nil
}

// Encode é exportado para quem publica no canal Redis
func Encode(msg events.RealtimeMessage) ([]byte, error) {
	return json.Marshal(msg)
}
