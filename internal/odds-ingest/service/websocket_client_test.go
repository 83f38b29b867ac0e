package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

type recordingPublisher struct {
	mu      sync.Mutex
	updates []events.OddsUpdate
}

func (r *recordingPublisher) Publish(ctx context.Context, e events.OddsUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, e)
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func TestWSClient_ForwardsValidUpdates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event_id":"ev-1","market":"1x2","odds":{"home":2.5,"draw":3.1,"away":2.9}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"market":"1x2"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"event_id":"ev-2","market":"1x2","odds":{"home":1.5}}`))
		// mantém aberto até o cliente sair
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	pub := &recordingPublisher{}
	c := &WSClient{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		Provider:       "primary",
		Log:            zap.NewNop(),
		Publisher:      pub,
		ReconnectDelay: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return pub.count() >= 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, "ev-1", pub.updates[0].EventID)
	assert.Equal(t, 2.5, pub.updates[0].Odds.Home)
	assert.Equal(t, "ev-2", pub.updates[1].EventID)
}
