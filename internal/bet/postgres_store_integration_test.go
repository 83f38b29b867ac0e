//go:build integration

package bet

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

func TestPostgres_AcceptOfferAtMostOnce(t *testing.T) {
	pg := dbtest.Open(t)
	store := NewPostgresStore(pg)
	m := clock.NewManual(time.Date(2024, 9, 14, 15, 0, 0, 0, time.UTC))
	l := ledger.NewService(ledger.NewPostgresStore(pg), clock.New(clock.WithSource(m.Now)), zap.NewNop(), "NGN")
	ctx := context.Background()
	user := dbtest.ID("u")

	_, err := l.Post(ctx, ledger.Posting{UserID: user, Type: ledger.TxDeposit, Amount: dec("5000"), ReferenceType: "paystack", ReferenceID: dbtest.ID("ref")})
	require.NoError(t, err)

	slip := &Slip{
		ID: uuid.NewString(), UserID: user, Stake: dec("1000"), TotalOdds: dec("2.5"), PotentialWin: dec("2500"),
		Status: StatusPending, Selections: []Selection{{EventID: "ev-1", Market: "1x2", Selection: "home", Odds: dec("2.5")}},
		Version: 1, CreatedAt: m.Now(),
	}
	require.NoError(t, store.Place(ctx, slip, l.Entry(ledger.Posting{
		UserID: user, Type: ledger.TxBetStake, Amount: dec("-1000"), ReferenceType: ledger.RefBetSlip, ReferenceID: slip.ID,
	})))

	offer := &Offer{
		ID: uuid.NewString(), BetSlipID: slip.ID, UserID: user, OfferAmount: dec("1187.50"),
		OriginalStake: slip.Stake, PotentialWin: slip.PotentialWin, IssuedAt: m.Now(), ExpiresAt: m.Now().Add(30 * time.Second),
	}
	require.NoError(t, store.SaveOffer(ctx, offer))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			credit := l.Entry(ledger.Posting{
				UserID: user, Type: ledger.TxCashout, Amount: offer.OfferAmount, ReferenceType: ledger.RefBetSlip, ReferenceID: slip.ID,
			})
			_, err := store.AcceptOffer(ctx, offer.ID, m.Now(), credit)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				success++
				return
			}
			errs = append(errs, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, success)
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrOfferAlreadyConsumed), errs[0].Error())

	bal, err := l.Balance(ctx, user)
	require.NoError(t, err)
	assert.True(t, dec("5187.50").Equal(bal))

	got, err := store.Get(ctx, slip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCashedOut, got.Status)

	_, err = store.Settle(ctx, Settlement{BetID: slip.ID, Status: StatusWon, Payout: slip.PotentialWin, SettledAt: m.Now()})
	assert.ErrorIs(t, err, ErrAlreadySettled)

	ok, err := l.VerifyIntegrity(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPostgres_ExpiredOfferAndPendingByEvent(t *testing.T) {
	pg := dbtest.Open(t)
	store := NewPostgresStore(pg)
	m := clock.NewManual(time.Date(2024, 9, 14, 15, 0, 0, 0, time.UTC))
	l := ledger.NewService(ledger.NewPostgresStore(pg), clock.New(clock.WithSource(m.Now)), zap.NewNop(), "NGN")
	ctx := context.Background()
	user := dbtest.ID("u")
	event := dbtest.ID("ev")

	_, err := l.Post(ctx, ledger.Posting{UserID: user, Type: ledger.TxDeposit, Amount: dec("500"), ReferenceType: "paystack", ReferenceID: dbtest.ID("ref")})
	require.NoError(t, err)

	slip := &Slip{
		ID: uuid.NewString(), UserID: user, Stake: dec("100"), TotalOdds: dec("3"), PotentialWin: dec("300"),
		Status: StatusPending, Selections: []Selection{{EventID: event, Market: "1x2", Selection: "away", Odds: dec("3")}},
		Version: 1, CreatedAt: m.Now(),
	}
	require.NoError(t, store.Place(ctx, slip, l.Entry(ledger.Posting{
		UserID: user, Type: ledger.TxBetStake, Amount: dec("-100"), ReferenceType: ledger.RefBetSlip, ReferenceID: slip.ID,
	})))

	pending, err := store.ListPendingByEvent(ctx, event)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, slip.ID, pending[0].ID)

	offer := &Offer{
		ID: uuid.NewString(), BetSlipID: slip.ID, UserID: user, OfferAmount: dec("120"),
		OriginalStake: slip.Stake, PotentialWin: slip.PotentialWin, IssuedAt: m.Now(), ExpiresAt: m.Now().Add(10 * time.Second),
	}
	require.NoError(t, store.SaveOffer(ctx, offer))

	credit := l.Entry(ledger.Posting{UserID: user, Type: ledger.TxCashout, Amount: dec("120"), ReferenceType: ledger.RefBetSlip, ReferenceID: slip.ID})
	_, err = store.AcceptOffer(ctx, offer.ID, m.Now().Add(11*time.Second), credit)
	assert.ErrorIs(t, err, ErrOfferExpired)

	bal, err := l.Balance(ctx, user)
	require.NoError(t, err)
	assert.True(t, dec("400").Equal(bal), "expired accept must not credit")
}
