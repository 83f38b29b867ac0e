package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthority_OffsetAndLocation(t *testing.T) {
	lagos, err := time.LoadLocation("Africa/Lagos")
	require.NoError(t, err)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewManual(base)
	a := New(WithSource(m.Now), WithOffset(2*time.Second), WithLocation(lagos))

	now := a.Now()
	assert.Equal(t, lagos, now.Location())
	assert.True(t, now.Equal(base.Add(2*time.Second)))
	assert.Equal(t, 11, now.Hour())
}

func TestAuthority_AuditTimestampTruncatesToMicros(t *testing.T) {
	m := NewManual(time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.UTC))
	a := New(WithSource(m.Now))

	ts := a.AuditTimestamp()
	assert.Equal(t, time.UTC, ts.Location())
	assert.Equal(t, 123456000, ts.Nanosecond())
}

func TestAuthority_IsWithinWindow(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := NewManual(start)
	a := New(WithSource(m.Now))
	end := start.Add(30 * time.Second)

	assert.True(t, a.IsWithinWindow(start, end))

	m.Advance(29 * time.Second)
	assert.True(t, a.IsWithinWindow(start, end))

	m.Advance(time.Second)
	assert.False(t, a.IsWithinWindow(start, end))
}

func TestAuthority_IsFresh(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	a := New(WithSource(NewManual(now).Now))

	assert.True(t, a.IsFresh(now.Add(-59*time.Second), 60))
	assert.True(t, a.IsFresh(now.Add(5*time.Second), 60))
	assert.False(t, a.IsFresh(now.Add(-61*time.Second), 60))
}

func TestAuthority_StartOfDay(t *testing.T) {
	lagos, err := time.LoadLocation("Africa/Lagos")
	require.NoError(t, err)
	a := New(WithLocation(lagos))

	// 23:30 UTC já é o dia seguinte em Lagos (UTC+1)
	ts := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	sod := a.StartOfDay(ts)
	assert.Equal(t, 2, sod.Day())
	assert.Equal(t, 0, sod.Hour())
}
