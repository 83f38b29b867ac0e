package simulator

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Catálogo fixo de partidas simuladas
var eventCatalog = []events.OddsUpdate{
	{EventID: "MATCH_001", HomeTeam: "Enyimba", AwayTeam: "Kano Pillars", Market: "1x2"},
	{EventID: "MATCH_002", HomeTeam: "Rangers", AwayTeam: "Shooting Stars", Market: "1x2"},
	{EventID: "MATCH_003", HomeTeam: "Remo Stars", AwayTeam: "Rivers United", Market: "1x2"},
	{EventID: "MATCH_004", HomeTeam: "Lobi Stars", AwayTeam: "Plateau United", Market: "1x2"},
}

type clientConn struct {
	id   string
	conn *websocket.Conn
}

// Feed imita o WebSocket de um provedor de odds. Pausado, continua aceitando
// conexões mas para de emitir, o que deixa o heartbeat do provedor envelhecer.
type Feed struct {
	provider string
	clock    *clock.Authority
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[string]*clientConn
	paused  bool
	version int
}

func NewFeed(provider string, clk *clock.Authority, log *zap.Logger) *Feed {
	return &Feed{
		provider: provider,
		clock:    clk,
		log:      log,
		clients:  make(map[string]*clientConn),
	}
}

func (f *Feed) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &clientConn{id: uuid.NewString(), conn: conn}
	f.add(c)

	go func() {
		defer func() {
			f.remove(c.id)
			_ = conn.Close()
		}()
		for {
			// descarta o que o cliente mandar; só detecta desconexão
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (f *Feed) add(c *clientConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[c.id] = c
	wsConnections.Inc()
	f.log.Info("feed client connected", zap.String("client_id", c.id))
}

func (f *Feed) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[id]; ok {
		delete(f.clients, id)
		wsConnections.Dec()
		f.log.Info("feed client disconnected", zap.String("client_id", id))
	}
}

func (f *Feed) SetPaused(paused bool) {
	f.mu.Lock()
	f.paused = paused
	f.mu.Unlock()
	f.log.Info("feed state changed", zap.String("provider", f.provider), zap.Bool("paused", paused))
}

func (f *Feed) Paused() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.paused
}

func (f *Feed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Tick gera uma rodada de odds e envia a todos os clientes. Devolve nil se pausado.
func (f *Feed) Tick() []events.OddsUpdate {
	f.mu.Lock()
	if f.paused {
		f.mu.Unlock()
		return nil
	}
	f.version++
	version := f.version
	f.mu.Unlock()

	now := f.clock.Now().UTC()
	updates := make([]events.OddsUpdate, len(eventCatalog))
	for i, u := range eventCatalog {
		u.Odds = events.Odds{
			Home: between(1.40, 3.50),
			Draw: between(2.50, 4.50),
			Away: between(2.00, 5.00),
		}
		u.UpdatedAt = now
		u.Source = f.provider
		u.Version = version
		updates[i] = u
	}
	for _, u := range updates {
		f.broadcast(u)
	}
	return updates
}

// Run emite uma rodada a cada interval até o contexto ser cancelado
func (f *Feed) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			f.Tick()
		}
	}
}

func (f *Feed) broadcast(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for id, c := range f.clients {
		_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			f.log.Warn("ws write failed", zap.String("client_id", id), zap.Error(err))
			_ = c.conn.Close()
			continue
		}
		wsMessagesSent.Inc()
	}
}

// between devolve um número aleatório em [min, max) com duas casas
func between(min, max float64) float64 {
	v := min + rand.Float64()*(max-min)
	return math.Round(v*100) / 100
}
