package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/bet"
	"github.com/radieske/wager-integrity-core/internal/pricing"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

// fakeCommands simula o coordenador: aposta "b1" pertence a "u1"
type fakeCommands struct {
	hub      *Hub
	mu       sync.Mutex
	accepted []decimal.Decimal
}

func (f *fakeCommands) acceptedAmounts() []decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]decimal.Decimal(nil), f.accepted...)
}

func (f *fakeCommands) ResyncMessages(ctx context.Context, userID, betID string) ([]events.RealtimeMessage, error) {
	if userID != "u1" || betID != "b1" {
		return nil, bet.ErrNotFound
	}
	return []events.RealtimeMessage{{Type: events.TypeBetStatus, BetSlipID: betID, Status: "pending"}}, nil
}

func (f *fakeCommands) RequestCashout(ctx context.Context, userID, betID string) (*bet.Offer, error) {
	amount := decimal.RequireFromString("1187.50")
	in := 30
	f.hub.Deliver(events.RealtimeMessage{Type: events.TypeCashoutOffered, BetSlipID: betID, CashoutOffer: &amount, ExpiresIn: &in})
	return &bet.Offer{OfferAmount: amount}, nil
}

func (f *fakeCommands) AcceptCashout(ctx context.Context, userID, betID string, amount decimal.Decimal) (*bet.Slip, error) {
	f.mu.Lock()
	f.accepted = append(f.accepted, amount)
	f.mu.Unlock()
	f.hub.Deliver(events.RealtimeMessage{Type: events.TypeCashoutSuccess, BetSlipID: betID, Status: "cashed_out", CashoutOffer: &amount})
	return &bet.Slip{ID: betID}, nil
}

func newTestHub(t *testing.T) (*Hub, *fakeCommands, *httptest.Server) {
	t.Helper()
	cmds := &fakeCommands{}
	hub := NewHub(cmds, zap.NewNop(), func(r *http.Request) bool { return true })
	cmds.hub = hub
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, cmds, srv
}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=" + user
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) events.RealtimeMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg events.RealtimeMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_RequiresUser(t *testing.T) {
	_, _, srv := newTestHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHub_SubscribeResyncsAndDelivers(t *testing.T) {
	hub, _, srv := newTestHub(t)
	conn := dial(t, srv, "u1")

	require.NoError(t, conn.WriteJSON(ClientMsg{Type: MsgSubscribe, BetSlipID: "b1"}))
	msg := read(t, conn)
	assert.Equal(t, events.TypeBetStatus, msg.Type)
	assert.Equal(t, "pending", msg.Status)

	hub.Deliver(events.RealtimeMessage{Type: events.TypeBetSettled, BetSlipID: "b1", Status: "won"})
	hub.Deliver(events.RealtimeMessage{Type: events.TypeBetSettled, BetSlipID: "other", Status: "lost"})
	msg = read(t, conn)
	assert.Equal(t, events.TypeBetSettled, msg.Type)
	assert.Equal(t, "won", msg.Status)

	require.NoError(t, conn.WriteJSON(ClientMsg{Type: MsgPing}))
	msg = read(t, conn)
	assert.Equal(t, MsgPong, msg.Type)
}

func TestHub_RejectsForeignBet(t *testing.T) {
	_, _, srv := newTestHub(t)
	conn := dial(t, srv, "u2")

	require.NoError(t, conn.WriteJSON(ClientMsg{Type: MsgSubscribe, BetSlipID: "b1"}))
	msg := read(t, conn)
	assert.Equal(t, MsgError, msg.Type)

	require.NoError(t, conn.WriteJSON(ClientMsg{Type: events.TypeCashoutRequest, BetSlipID: "b1"}))
	msg = read(t, conn)
	assert.Equal(t, events.TypeCashoutError, msg.Type)
	assert.Equal(t, "not_subscribed", msg.Error)
}

func TestHub_CashoutCommands(t *testing.T) {
	_, cmds, srv := newTestHub(t)
	conn := dial(t, srv, "u1")
	require.NoError(t, conn.WriteJSON(ClientMsg{Type: MsgSubscribe, BetSlipID: "b1"}))
	read(t, conn)

	require.NoError(t, conn.WriteJSON(ClientMsg{Type: events.TypeCashoutRequest, BetSlipID: "b1"}))
	msg := read(t, conn)
	require.Equal(t, events.TypeCashoutOffered, msg.Type)
	require.NotNil(t, msg.CashoutOffer)
	assert.Equal(t, 30, *msg.ExpiresIn)

	require.NoError(t, conn.WriteJSON(ClientMsg{Type: events.TypeCashoutAccept, BetSlipID: "b1"}))
	msg = read(t, conn)
	assert.Equal(t, events.TypeCashoutError, msg.Type)
	assert.Equal(t, bet.ReasonMismatch, msg.Error)

	offer := decimal.RequireFromString("1187.50")
	require.NoError(t, conn.WriteJSON(ClientMsg{Type: events.TypeCashoutAccept, BetSlipID: "b1", CashoutOffer: &offer}))
	msg = read(t, conn)
	assert.Equal(t, events.TypeCashoutSuccess, msg.Type)
	got := cmds.acceptedAmounts()
	require.Len(t, got, 1)
	assert.True(t, offer.Equal(got[0]))
}

type countingNotifier struct{ events chan string }

func (c *countingNotifier) NotifySelectionUpdated(ctx context.Context, eventID string) (int, error) {
	c.events <- eventID
	return 1, nil
}

func TestRedis_FanOutAndOddsListener(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub, _, srv := newTestHub(t)
	require.NoError(t, StartRedisSubscriber(ctx, rdb, "bet_realtime_broadcast", hub, zap.NewNop()))
	conn := dial(t, srv, "u1")
	require.NoError(t, conn.WriteJSON(ClientMsg{Type: MsgSubscribe, BetSlipID: "b1"}))
	read(t, conn)

	b := &RedisBroadcaster{Client: rdb, Channel: "bet_realtime_broadcast"}
	require.NoError(t, b.Broadcast(ctx, events.RealtimeMessage{Type: events.TypeBetSettled, BetSlipID: "b1", Status: "lost"}))
	msg := read(t, conn)
	assert.Equal(t, events.TypeBetSettled, msg.Type)
	assert.Equal(t, "lost", msg.Status)

	n := &countingNotifier{events: make(chan string, 1)}
	require.NoError(t, StartOddsListener(ctx, rdb, n, zap.NewNop()))
	store := pricing.NewRedisStore(rdb, time.Minute)
	require.NoError(t, store.NotifyOddsUpdated(ctx, "primary", "ev-7"))
	select {
	case ev := <-n.events:
		assert.Equal(t, "ev-7", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("odds notice not received")
	}
}
