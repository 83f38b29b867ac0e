//go:build integration

package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/shared/db/dbtest"
)

func newPostgresService(t *testing.T) (*Service, *PostgresStore, *clock.Manual) {
	t.Helper()
	store := NewPostgresStore(dbtest.Open(t))
	m := clock.NewManual(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	return NewService(store, clock.New(clock.WithSource(m.Now)), zap.NewNop(), "NGN"), store, m
}

func TestPostgres_ConcurrentPostsKeepChain(t *testing.T) {
	svc, _, m := newPostgresService(t)
	ctx := context.Background()
	user := dbtest.ID("u")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// cada goroutine carimba num instante diferente da ordem do lock
			m.Advance(time.Millisecond)
			_, err := svc.Post(ctx, Posting{UserID: user, Type: TxBonus, Amount: dec("5")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := svc.Balance(ctx, user)
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("100")))

	r, err := svc.Verify(ctx, user)
	require.NoError(t, err)
	assert.True(t, r.Valid, "breaks: %+v", r.Breaks)
	assert.Equal(t, 20, r.Entries)
}

func TestPostgres_OutOfOrderStampsKeepChainByCreatedAt(t *testing.T) {
	svc, store, m := newPostgresService(t)
	ctx := context.Background()
	user := dbtest.ID("u")

	a := svc.Entry(Posting{UserID: user, Type: TxBonus, Amount: dec("100")})
	m.Advance(time.Millisecond)
	b := svc.Entry(Posting{UserID: user, Type: TxBonus, Amount: dec("25")})

	require.NoError(t, store.AppendNext(ctx, b))
	require.NoError(t, store.AppendNext(ctx, a))

	entries, err := store.Chain(ctx, user)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, b.ID, entries[0].ID)
	assert.True(t, entries[0].BalanceAfter.Equal(entries[1].BalanceBefore))

	ok, err := svc.VerifyIntegrity(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_AppendRejectsDiscontinuityAndDuplicateDeposit(t *testing.T) {
	svc, _, _ := newPostgresService(t)
	ctx := context.Background()
	user := dbtest.ID("u")
	ref := dbtest.ID("ref")

	_, err := svc.Post(ctx, Posting{UserID: user, Type: TxDeposit, Amount: dec("100"), ReferenceType: "paystack", ReferenceID: ref})
	require.NoError(t, err)

	_, err = svc.Append(ctx, &Entry{UserID: user, Type: TxBonus, Amount: dec("10"), BalanceBefore: dec("90"), BalanceAfter: dec("100")})
	assert.ErrorIs(t, err, ErrIntegrity)

	_, err = svc.Post(ctx, Posting{UserID: user, Type: TxDeposit, Amount: dec("100"), ReferenceType: "paystack", ReferenceID: ref})
	assert.ErrorIs(t, err, ErrDuplicateReference)

	_, err = svc.Post(ctx, Posting{UserID: user, Type: TxBetStake, Amount: dec("-500")})
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}
