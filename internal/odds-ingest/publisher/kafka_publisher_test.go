package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	skafka "github.com/radieske/wager-integrity-core/internal/shared/kafka"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

type fakeWriter struct {
	msgs []skafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...skafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestPublish_StampsProviderAndVersion(t *testing.T) {
	now := time.Date(2024, 9, 14, 15, 0, 0, 0, time.UTC)
	clk := clock.New(clock.WithSource(clock.NewManual(now).Now))
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, "secondary", clk, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, events.OddsUpdate{EventID: "ev-1", Market: "1x2", Source: "spoofed", Odds: events.Odds{Home: 2.1}}))
	require.NoError(t, p.Publish(ctx, events.OddsUpdate{EventID: "ev-1", Market: "1x2", Version: 1}))
	require.NoError(t, p.Publish(ctx, events.OddsUpdate{EventID: "ev-1", Market: "1x2", Version: 9}))
	require.Len(t, w.msgs, 3)

	var got []events.OddsUpdate
	for _, m := range w.msgs {
		assert.Equal(t, "ev-1", string(m.Key))
		var u events.OddsUpdate
		require.NoError(t, json.Unmarshal(m.Value, &u))
		got = append(got, u)
	}
	assert.Equal(t, "secondary", got[0].Source)
	assert.Equal(t, now, got[0].UpdatedAt)
	assert.Equal(t, []int{1, 2, 9}, []int{got[0].Version, got[1].Version, got[2].Version})
}

func TestPublish_WriterError(t *testing.T) {
	clk := clock.New()
	p := NewKafkaPublisher(&fakeWriter{err: errors.New("broker down")}, "primary", clk, zap.NewNop())
	assert.Error(t, p.Publish(context.Background(), events.OddsUpdate{EventID: "ev-1"}))
}
