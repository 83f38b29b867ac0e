package pricing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Minute), mr
}

func TestRedisStore_Heartbeat(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	_, seen, err := store.LastUpdate(ctx, "primary")
	require.NoError(t, err)
	assert.False(t, seen)

	at := time.Date(2024, 8, 1, 18, 0, 0, 123000, time.UTC)
	require.NoError(t, store.Touch(ctx, "primary", at))

	got, seen, err := store.LastUpdate(ctx, "primary")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, got.Equal(at))
}

func TestRedisStore_OddsAndStatus(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	u := events.OddsUpdate{EventID: "ev-1", Market: "1x2", Odds: events.Odds{Home: 1.85, Draw: 3.4, Away: 4.2}, Source: "primary"}
	require.NoError(t, store.SetOdds(ctx, "primary", u))

	odd, err := store.Odds(ctx, "primary", "ev-1", "1x2", "draw")
	require.NoError(t, err)
	assert.Equal(t, 3.4, odd)

	_, err = store.Odds(ctx, "secondary", "ev-1", "1x2", "draw")
	assert.ErrorIs(t, err, ErrNoQuote)

	mr.FastForward(2 * time.Minute)
	_, err = store.Odds(ctx, "primary", "ev-1", "1x2", "draw")
	assert.ErrorIs(t, err, ErrNoQuote)

	snap, err := store.LoadStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	checked := time.Date(2024, 8, 1, 18, 0, 0, 0, time.UTC)
	require.NoError(t, store.PublishStatus(ctx, Snapshot{ActiveProvider: "secondary", ShouldSuspendLiveEvents: true, CheckedAt: checked}))
	snap, err = store.LoadStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "secondary", snap.ActiveProvider)
	assert.True(t, snap.ShouldSuspendLiveEvents)
	assert.True(t, snap.CheckedAt.Equal(checked))
}

func TestQuotes_UsesActiveProvider(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.SetOdds(ctx, "primary", events.OddsUpdate{EventID: "ev-1", Market: "1x2", Odds: events.Odds{Home: 2.0, Draw: 3.0, Away: 4.0}}))
	require.NoError(t, store.SetOdds(ctx, "secondary", events.OddsUpdate{EventID: "ev-1", Market: "1x2", Odds: events.Odds{Home: 2.1, Draw: 3.1, Away: 4.1}}))

	q := NewQuotes(store, store, time.Second)

	_, err := q.CurrentOdds(ctx, "ev-1", "1x2", "home")
	assert.ErrorIs(t, err, ErrNoQuote)

	require.NoError(t, store.PublishStatus(ctx, Snapshot{ActiveProvider: "secondary"}))
	odd, err := q.CurrentOdds(ctx, "ev-1", "1x2", "home")
	require.NoError(t, err)
	assert.Equal(t, 2.1, odd)

	require.NoError(t, store.PublishStatus(ctx, Snapshot{ActiveProvider: "secondary", ShouldSuspendLiveEvents: true}))
	_, err = q.CurrentOdds(ctx, "ev-1", "1x2", "home")
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestHeartbeat_HandleCachesOddsAndTouchesProvider(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Date(2024, 8, 1, 18, 0, 0, 0, time.UTC)

	sub := store.Client.Subscribe(ctx, ChannelOddsUpdated)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	errs := map[string]int{}
	hb := &Heartbeat{
		Log:     zap.NewNop(),
		Store:   store,
		Clock:   clock.New(clock.WithSource(clock.NewManual(now).Now)),
		OnError: func(stage string) { errs[stage]++ },
	}

	payload, _ := json.Marshal(events.OddsUpdate{EventID: "ev-9", Market: "1x2", Odds: events.Odds{Home: 1.5, Draw: 4, Away: 6}, Source: "secondary"})
	hb.Handle(ctx, payload)
	hb.Handle(ctx, []byte("{"))
	hb.Handle(ctx, []byte(`{"event_id":"ev-9"}`))

	assert.Equal(t, 2, errs["decode"])

	last, seen, err := store.LastUpdate(ctx, "secondary")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, last.Equal(now))

	odd, err := store.Odds(ctx, "secondary", "ev-9", "1x2", "away")
	require.NoError(t, err)
	assert.Equal(t, 6.0, odd)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var notice OddsUpdatedNotice
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &notice))
	assert.Equal(t, "ev-9", notice.EventID)
	assert.Equal(t, "secondary", notice.Provider)
}
