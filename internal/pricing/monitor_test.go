package pricing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/clock"
)

type fakeSource struct {
	mu   sync.Mutex
	last map[string]time.Time
	err  error
}

func (f *fakeSource) set(provider string, t time.Time) {
	f.mu.Lock()
	f.last[provider] = t
	f.mu.Unlock()
}

func (f *fakeSource) LastUpdate(ctx context.Context, provider string) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	t, ok := f.last[provider]
	return t, ok, nil
}

type memStatus struct {
	mu   sync.Mutex
	snap *Snapshot
	err  error
}

func (m *memStatus) PublishStatus(ctx context.Context, s Snapshot) error {
	m.mu.Lock()
	m.snap = &s
	m.mu.Unlock()
	return nil
}

func (m *memStatus) LoadStatus(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.snap, nil
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []alert.New
}

func (r *recordingAlerts) Raise(ctx context.Context, n alert.New) (*alert.SecurityAlert, error) {
	r.mu.Lock()
	r.alerts = append(r.alerts, n)
	r.mu.Unlock()
	return &alert.SecurityAlert{ID: "a"}, nil
}

func (r *recordingAlerts) types() []alert.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []alert.Type
	for _, a := range r.alerts {
		out = append(out, a.Metadata.AlertType())
	}
	return out
}

func newMonitor(t *testing.T) (*Monitor, *fakeSource, *memStatus, *recordingAlerts, *clock.Manual) {
	t.Helper()
	m := clock.NewManual(time.Date(2024, 8, 1, 18, 0, 0, 0, time.UTC))
	src := &fakeSource{last: map[string]time.Time{}}
	status := &memStatus{}
	alerts := &recordingAlerts{}
	mon := NewMonitor(MonitorConfig{Primary: "primary", Secondary: "secondary", StaleAfter: 60 * time.Second},
		src, status, alerts, clock.New(clock.WithSource(m.Now)), zap.NewNop())
	return mon, src, status, alerts, m
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2024, 8, 1, 18, 0, 0, 0, time.UTC)

	assert.Equal(t, StatusDown, Evaluate("p", time.Time{}, false, now, time.Minute).Status)

	h := Evaluate("p", now.Add(-30*time.Second), true, now, time.Minute)
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Equal(t, 30.0, h.StaleDurationSeconds)

	h = Evaluate("p", now.Add(-61*time.Second), true, now, time.Minute)
	assert.Equal(t, StatusStale, h.Status)
}

func TestMonitor_FailoverThenSuspend(t *testing.T) {
	mon, src, status, alerts, m := newMonitor(t)
	ctx := context.Background()
	now := m.Now()

	src.set("primary", now.Add(-75*time.Second))
	src.set("secondary", now.Add(-5*time.Second))

	s := mon.Check(ctx)
	assert.Equal(t, StatusStale, s.Primary.Status)
	assert.Equal(t, StatusHealthy, s.Secondary.Status)
	assert.Equal(t, "secondary", s.ActiveProvider)
	assert.False(t, s.ShouldSuspendLiveEvents)
	assert.Equal(t, []alert.Type{alert.TypeFeedFailover}, alerts.types())

	// mesma condição no próximo tick não realerta
	mon.Check(ctx)
	assert.Len(t, alerts.types(), 1)

	src.set("secondary", now.Add(-90*time.Second))
	s = mon.Check(ctx)
	assert.True(t, s.ShouldSuspendLiveEvents)
	assert.Equal(t, []alert.Type{alert.TypeFeedFailover, alert.TypeLiveSuspension}, alerts.types())

	published, err := status.LoadStatus(ctx)
	require.NoError(t, err)
	assert.True(t, published.ShouldSuspendLiveEvents)

	// primário volta: roteamento retorna e suspensão cai
	m.Advance(time.Second)
	src.set("primary", m.Now())
	s = mon.Check(ctx)
	assert.Equal(t, "primary", s.ActiveProvider)
	assert.False(t, s.ShouldSuspendLiveEvents)
	assert.Len(t, alerts.types(), 2)
}

func TestMonitor_SourceErrorCountsAsDown(t *testing.T) {
	mon, src, _, alerts, _ := newMonitor(t)
	src.err = errors.New("redis timeout")

	s := mon.Check(context.Background())
	assert.Equal(t, StatusDown, s.Primary.Status)
	assert.Equal(t, StatusDown, s.Secondary.Status)
	assert.True(t, s.ShouldSuspendLiveEvents)
	assert.Equal(t, []alert.Type{alert.TypeFeedFailover, alert.TypeLiveSuspension}, alerts.types())
	require.NotNil(t, mon.Latest())
}

func TestMonitor_HealthyPrimaryStaysPrimary(t *testing.T) {
	mon, src, _, alerts, m := newMonitor(t)
	src.set("primary", m.Now().Add(-10*time.Second))

	s := mon.Check(context.Background())
	assert.Equal(t, "primary", s.ActiveProvider)
	assert.False(t, s.ShouldSuspendLiveEvents)
	assert.False(t, s.FailedOver())
	assert.Empty(t, alerts.types())
}
