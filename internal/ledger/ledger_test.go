package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *clock.Manual) {
	t.Helper()
	m := clock.NewManual(time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	return NewService(store, clock.New(clock.WithSource(m.Now)), zap.NewNop(), "NGN"), store, m
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPost_ChainsBalances(t *testing.T) {
	svc, _, m := newTestService(t)
	ctx := context.Background()

	e1, err := svc.Post(ctx, Posting{UserID: "u1", Type: TxDeposit, Amount: dec("1000"), ReferenceType: "paystack", ReferenceID: "ref-1"})
	require.NoError(t, err)
	m.Advance(time.Second)
	e2, err := svc.Post(ctx, Posting{UserID: "u1", Type: TxBetStake, Amount: dec("-250.50"), ReferenceType: RefBetSlip, ReferenceID: "b1"})
	require.NoError(t, err)
	m.Advance(time.Second)
	e3, err := svc.Post(ctx, Posting{UserID: "u1", Type: TxBetWin, Amount: dec("601.20"), ReferenceType: RefBetSlip, ReferenceID: "b1"})
	require.NoError(t, err)

	assert.True(t, e1.BalanceBefore.IsZero())
	assert.True(t, e1.BalanceAfter.Equal(e2.BalanceBefore))
	assert.True(t, e2.BalanceAfter.Equal(e3.BalanceBefore))
	assert.True(t, e3.BalanceAfter.Equal(dec("1350.70")))

	bal, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("1350.70")))

	ok, err := svc.VerifyIntegrity(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAppend_RejectsDiscontinuity(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, &Entry{UserID: "u1", Type: TxDeposit, Amount: dec("100"), BalanceBefore: dec("0"), BalanceAfter: dec("100"), ReferenceType: "paystack", ReferenceID: "r1"})
	require.NoError(t, err)

	_, err = svc.Append(ctx, &Entry{UserID: "u1", Type: TxBonus, Amount: dec("10"), BalanceBefore: dec("90"), BalanceAfter: dec("100")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIntegrity))

	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.True(t, ie.Expected.Equal(dec("100")))
	assert.True(t, ie.Got.Equal(dec("90")))

	// dentro da tolerância de 0.01 é aceito
	_, err = svc.Append(ctx, &Entry{UserID: "u1", Type: TxBonus, Amount: dec("10"), BalanceBefore: dec("100.01"), BalanceAfter: dec("110.01")})
	require.NoError(t, err)
}

func TestAppend_RejectsArithmeticMismatch(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Append(context.Background(), &Entry{UserID: "u1", Type: TxBonus, Amount: dec("10"), BalanceBefore: dec("0"), BalanceAfter: dec("11")})
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestPost_InsufficientFunds(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, Posting{UserID: "u1", Type: TxDeposit, Amount: dec("50"), ReferenceType: "paystack", ReferenceID: "r1"})
	require.NoError(t, err)

	_, err = svc.Post(ctx, Posting{UserID: "u1", Type: TxBetStake, Amount: dec("-50.01")})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	bal, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("50")))
}

func TestPost_ValidatesSign(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Post(context.Background(), Posting{UserID: "u1", Type: TxWithdrawal, Amount: dec("10")})
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = svc.Post(context.Background(), Posting{UserID: "u1", Type: "mystery", Amount: dec("10")})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestPost_DuplicateDepositReference(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, Posting{UserID: "u1", Type: TxDeposit, Amount: dec("50"), ReferenceType: "paystack", ReferenceID: "r1"})
	require.NoError(t, err)
	_, err = svc.Post(ctx, Posting{UserID: "u1", Type: TxDeposit, Amount: dec("50"), ReferenceType: "paystack", ReferenceID: "r1"})
	assert.ErrorIs(t, err, ErrDuplicateReference)

	// mesma referência em outro provedor é outro depósito
	_, err = svc.Post(ctx, Posting{UserID: "u1", Type: TxDeposit, Amount: dec("50"), ReferenceType: "flutterwave", ReferenceID: "r1"})
	assert.NoError(t, err)
}

func TestHistory_NewestFirstAndLimits(t *testing.T) {
	svc, _, m := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		_, err := svc.Post(ctx, Posting{UserID: "u1", Type: TxBonus, Amount: dec("1")})
		require.NoError(t, err)
		m.Advance(time.Millisecond)
	}

	h, err := svc.History(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, h, DefaultHistoryLimit)
	assert.True(t, h[0].BalanceAfter.Equal(dec("60")))
	assert.True(t, h[0].CreatedAt.After(h[1].CreatedAt))

	h, err = svc.History(ctx, "u1", 10_000)
	require.NoError(t, err)
	assert.Len(t, h, 60)
}

func TestVerify_DetectsTamperedChain(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Post(ctx, Posting{UserID: "u1", Type: TxBonus, Amount: dec("10")})
		require.NoError(t, err)
	}
	store.Tamper("u1", 2, func(e *Entry) { e.BalanceBefore = dec("5") })

	r, err := svc.Verify(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, r.Valid)
	require.Len(t, r.Breaks, 1)
	assert.Equal(t, 2, r.Breaks[0].Index)
	assert.True(t, r.Breaks[0].Expected.Equal(dec("20")))

	ok, err := svc.VerifyIntegrity(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPost_ConcurrentAppendsKeepChain(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Post(ctx, Posting{UserID: "u1", Type: TxBonus, Amount: dec("2")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	bal, err := svc.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Equal(dec("100")))

	ok, err := svc.VerifyIntegrity(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSumByType_UsesHalfOpenRange(t *testing.T) {
	svc, _, m := newTestService(t)
	ctx := context.Background()
	from := m.Now()

	_, err := svc.Post(ctx, Posting{UserID: "u1", Type: TxDeposit, Amount: dec("100"), ReferenceType: "paystack", ReferenceID: "a"})
	require.NoError(t, err)
	_, err = svc.Post(ctx, Posting{UserID: "u2", Type: TxDeposit, Amount: dec("200"), ReferenceType: "paystack", ReferenceID: "b"})
	require.NoError(t, err)
	_, err = svc.Post(ctx, Posting{UserID: "u2", Type: TxDeposit, Amount: dec("999"), ReferenceType: "flutterwave", ReferenceID: "c"})
	require.NoError(t, err)
	m.Advance(time.Hour)
	_, err = svc.Post(ctx, Posting{UserID: "u3", Type: TxDeposit, Amount: dec("50"), ReferenceType: "paystack", ReferenceID: "d"})
	require.NoError(t, err)

	total, err := svc.SumByType(ctx, TxDeposit, "paystack", from, from.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("300")))
}

func TestAppendNext_OutOfOrderStampsKeepChainByCreatedAt(t *testing.T) {
	svc, store, m := newTestService(t)
	ctx := context.Background()

	_, err := svc.Post(ctx, Posting{UserID: "u1", Type: TxDeposit, Amount: dec("50"), ReferenceType: "paystack", ReferenceID: "seed"})
	require.NoError(t, err)

	// a recebe o timestamp primeiro, mas b ganha o lock do usuário antes
	m.Advance(time.Second)
	a := svc.Entry(Posting{UserID: "u1", Type: TxBonus, Amount: dec("100")})
	m.Advance(time.Millisecond)
	b := svc.Entry(Posting{UserID: "u1", Type: TxBonus, Amount: dec("25")})
	require.True(t, a.CreatedAt.Before(b.CreatedAt))

	require.NoError(t, store.AppendNext(ctx, b))
	require.NoError(t, store.AppendNext(ctx, a))
	assert.False(t, a.CreatedAt.Before(b.CreatedAt), "later link must not be dated before its predecessor")

	entries, err := store.Chain(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	for i := 1; i < len(entries); i++ {
		assert.True(t, entries[i-1].BalanceAfter.Equal(entries[i].BalanceBefore), "break at %d", i)
		assert.False(t, entries[i].CreatedAt.Before(entries[i-1].CreatedAt))
	}
	assert.Equal(t, b.ID, entries[1].ID)
	assert.Equal(t, a.ID, entries[2].ID)

	ok, err := svc.VerifyIntegrity(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}
