//go:build integration

package alert

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/wager-integrity-core/internal/shared/db/dbtest"
)

func newStructuringAlert(userID string, at time.Time) *SecurityAlert {
	return &SecurityAlert{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        TypeStructuring,
		Severity:    SeverityHigh,
		Description: "deposits under threshold",
		Metadata: Structuring{
			Total:       decimal.NewFromInt(45000),
			Count:       3,
			Threshold:   decimal.NewFromInt(20000),
			WindowHours: 24,
		},
		Status:    StatusPending,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestPostgres_InsertUnlessOpenOncePerWindow(t *testing.T) {
	store := NewPostgresStore(dbtest.Open(t))
	ctx := context.Background()
	user := dbtest.ID("u")
	now := time.Now().UTC().Truncate(time.Millisecond)

	var (
		wg       sync.WaitGroup
		inserted atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.InsertUnlessOpen(ctx, newStructuringAlert(user, now), now.Add(-24*time.Hour))
			assert.NoError(t, err)
			if ok {
				inserted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), inserted.Load())

	list, err := store.List(ctx, Filter{UserID: user})
	require.NoError(t, err)
	require.Len(t, list, 1)
	meta, ok := list[0].Metadata.(Structuring)
	require.True(t, ok)
	assert.True(t, meta.Total.Equal(decimal.NewFromInt(45000)))

	open, err := store.HasOpenWithSeverity(ctx, user, SeverityHigh)
	require.NoError(t, err)
	assert.True(t, open)

	// revisado, o alerta deixa de bloquear um novo na mesma janela
	require.NoError(t, store.UpdateStatus(ctx, list[0].ID, StatusResolved, "admin-1", now.Add(time.Minute)))
	got, err := store.Get(ctx, list[0].ID)
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, got.Status)
	assert.Equal(t, "admin-1", got.ReviewedBy)

	open, err = store.HasOpenWithSeverity(ctx, user, SeverityHigh)
	require.NoError(t, err)
	assert.False(t, open)

	ok, err = store.InsertUnlessOpen(ctx, newStructuringAlert(user, now.Add(2*time.Minute)), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_AlertNotFound(t *testing.T) {
	store := NewPostgresStore(dbtest.Open(t))
	ctx := context.Background()

	_, err := store.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.UpdateStatus(ctx, uuid.NewString(), StatusDismissed, "admin-1", time.Now()), ErrNotFound)
}
