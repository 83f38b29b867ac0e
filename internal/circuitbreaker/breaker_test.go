package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/wager-integrity-core/internal/clock"
)

func newBreaker(threshold int) (*Breaker, *clock.Manual) {
	m := clock.NewManual(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	return New(threshold, 30*time.Second, WithClock(m.Now)), m
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b, _ := newBreaker(3)
	assert.True(t, b.Allow("instant"))

	b.RecordFailure("instant")
	b.RecordFailure("instant")
	assert.True(t, b.Allow("instant"))

	b.RecordFailure("instant")
	assert.False(t, b.Allow("instant"))
	assert.Equal(t, StateOpen, b.State("instant"))

	// chaves são independentes
	assert.True(t, b.Allow("standard"))
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b, m := newBreaker(2)
	b.RecordFailure("instant")
	b.RecordFailure("instant")
	require.False(t, b.Allow("instant"))

	m.Advance(30 * time.Second)
	assert.True(t, b.Allow("instant"))
	assert.Equal(t, StateHalfOpen, b.State("instant"))
	assert.False(t, b.Allow("instant"), "only one trial request while half-open")

	b.RecordFailure("instant")
	assert.Equal(t, StateOpen, b.State("instant"))

	m.Advance(30 * time.Second)
	require.True(t, b.Allow("instant"))
	b.RecordSuccess("instant")
	assert.Equal(t, StateClosed, b.State("instant"))
	assert.True(t, b.Allow("instant"))
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b, _ := newBreaker(3)
	b.RecordFailure("instant")
	b.RecordFailure("instant")
	b.RecordSuccess("instant")
	b.RecordFailure("instant")
	b.RecordFailure("instant")
	assert.Equal(t, StateClosed, b.State("instant"))
}

func TestBreaker_OnTransition(t *testing.T) {
	b, m := newBreaker(1)
	var (
		mu    sync.Mutex
		trans []string
	)
	b.OnTransition(func(key string, from, to State) {
		mu.Lock()
		defer mu.Unlock()
		trans = append(trans, key+":"+from.String()+"->"+to.String())
	})

	b.RecordFailure("standard")
	m.Advance(time.Minute)
	b.Allow("standard")
	b.RecordSuccess("standard")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"standard:closed->open",
		"standard:open->half_open",
		"standard:half_open->closed",
	}, trans)
}
