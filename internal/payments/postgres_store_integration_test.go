//go:build integration

package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/internal/shared/db/dbtest"
)

func newProcessingPayout(user, amount string, at time.Time) *Payout {
	return &Payout{
		ID:          uuid.NewString(),
		UserID:      user,
		Amount:      dec(amount),
		Currency:    "NGN",
		Destination: Destination{BankCode: "011", AccountNumber: "0123456789", AccountName: "Chioma Okafor"},
		Rail:        "standard",
		Status:      StatusProcessing,
		MaxAttempts: 3,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestPostgres_StartAttemptReservesBalance(t *testing.T) {
	pg := dbtest.Open(t)
	store := NewPostgresStore(pg)
	m := clock.NewManual(time.Date(2024, 10, 2, 11, 0, 0, 0, time.UTC))
	l := ledger.NewService(ledger.NewPostgresStore(pg), clock.New(clock.WithSource(m.Now)), zap.NewNop(), "NGN")
	ctx := context.Background()
	user := dbtest.ID("u")

	_, err := l.Post(ctx, ledger.Posting{UserID: user, Type: ledger.TxDeposit, Amount: dec("10000"), ReferenceType: "paystack", ReferenceID: dbtest.ID("ref")})
	require.NoError(t, err)

	first := newProcessingPayout(user, "10000", m.Now())
	second := newProcessingPayout(user, "10000", m.Now())
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		started []string
		refused int
	)
	for _, p := range []*Payout{first, second} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _, err := store.StartAttempt(ctx, id, m.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				started = append(started, id)
			case errors.Is(err, ledger.ErrInsufficientFunds):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(p.ID)
	}
	wg.Wait()

	require.Len(t, started, 1)
	assert.Equal(t, 1, refused)

	// débito confirmado libera a reserva e consome o saldo
	winner := started[0]
	debit := l.Entry(ledger.Posting{UserID: user, Type: ledger.TxWithdrawal, Amount: dec("-10000"), ReferenceType: ledger.RefPayout, ReferenceID: winner})
	done, err := store.Complete(ctx, winner, Outcome{AttemptNo: 1, TransactionRef: "TRX-1", At: m.Now()}, debit)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, debit.ID, done.LedgerEntryID)

	bal, err := l.Balance(ctx, user)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	loser := first.ID
	if winner == first.ID {
		loser = second.ID
	}
	_, _, err = store.StartAttempt(ctx, loser, m.Now())
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
}

func TestPostgres_PaidWithoutDebitStaysReserved(t *testing.T) {
	pg := dbtest.Open(t)
	store := NewPostgresStore(pg)
	m := clock.NewManual(time.Date(2024, 10, 2, 11, 0, 0, 0, time.UTC))
	l := ledger.NewService(ledger.NewPostgresStore(pg), clock.New(clock.WithSource(m.Now)), zap.NewNop(), "NGN")
	ctx := context.Background()
	user := dbtest.ID("u")

	_, err := l.Post(ctx, ledger.Posting{UserID: user, Type: ledger.TxDeposit, Amount: dec("1000"), ReferenceType: "paystack", ReferenceID: dbtest.ID("ref")})
	require.NoError(t, err)

	paid := newProcessingPayout(user, "800", m.Now())
	require.NoError(t, store.Create(ctx, paid))
	_, a, err := store.StartAttempt(ctx, paid.ID, m.Now())
	require.NoError(t, err)
	_, err = store.MarkLedgerFailed(ctx, paid.ID, Outcome{AttemptNo: a.AttemptNo, TransactionRef: "TRX-9", Error: "ledger append failed", At: m.Now()})
	require.NoError(t, err)

	next := newProcessingPayout(user, "500", m.Now())
	require.NoError(t, store.Create(ctx, next))
	_, _, err = store.StartAttempt(ctx, next.ID, m.Now())
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	small := newProcessingPayout(user, "200", m.Now())
	require.NoError(t, store.Create(ctx, small))
	_, _, err = store.StartAttempt(ctx, small.ID, m.Now())
	assert.NoError(t, err)

	_, err = store.Reopen(ctx, paid.ID, m.Now())
	assert.ErrorIs(t, err, ErrAlreadyPaid)
}
