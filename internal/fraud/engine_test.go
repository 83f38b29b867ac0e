package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/audit"
	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/kyc"
	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/internal/shared/kafka"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

type harness struct {
	engine *Engine
	ledger *ledger.Service
	alerts *alert.Service
	kyc    *kyc.MemoryStore
	clock  *clock.Manual
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m := clock.NewManual(time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC))
	clk := clock.New(clock.WithSource(m.Now))
	log := zap.NewNop()

	l := ledger.NewService(ledger.NewMemoryStore(), clk, log, "NGN")
	alerts := alert.NewService(alert.NewMemoryStore(), clk, audit.NewLog(audit.NewMemoryStore(), clk, log), nil, log)
	ids := kyc.NewMemoryStore()
	engine := NewEngine(DefaultConfig(decimal.NewFromInt(50_000)), l, ids, alerts, log)
	return &harness{engine: engine, ledger: l, alerts: alerts, kyc: ids, clock: m}
}

func (h *harness) deposit(t *testing.T, user, amount, ref string) events.TransactionRecorded {
	t.Helper()
	e, err := h.ledger.Post(context.Background(), ledger.Posting{
		UserID: user, Type: ledger.TxDeposit, Amount: decimal.RequireFromString(amount),
		ReferenceType: "paystack", ReferenceID: ref,
	})
	require.NoError(t, err)
	return events.TransactionRecorded{EntryID: e.ID, UserID: user, Type: string(e.Type), Amount: e.Amount, OccurredAt: e.CreatedAt}
}

func (h *harness) withdraw(t *testing.T, user, amount string) events.TransactionRecorded {
	t.Helper()
	e, err := h.ledger.Post(context.Background(), ledger.Posting{
		UserID: user, Type: ledger.TxWithdrawal, Amount: decimal.RequireFromString(amount).Neg(),
		ReferenceType: ledger.RefPayout, ReferenceID: "p-" + amount,
	})
	require.NoError(t, err)
	return events.TransactionRecorded{EntryID: e.ID, UserID: user, Type: string(e.Type), Amount: e.Amount.Abs(), OccurredAt: e.CreatedAt}
}

func (h *harness) alertsFor(t *testing.T, user string, typ alert.Type) []alert.SecurityAlert {
	t.Helper()
	list, err := h.alerts.List(context.Background(), alert.Filter{UserID: user, Type: typ})
	require.NoError(t, err)
	return list
}

func TestStructuring_ThreeDepositsBelowThreshold(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var evs []events.TransactionRecorded
	for i, amt := range []string{"38000", "42000", "40000"} {
		ev := h.deposit(t, "u1", amt, "ref-"+amt)
		evs = append(evs, ev)
		require.NoError(t, h.engine.Inspect(ctx, ev))
		if i < 2 {
			assert.Empty(t, h.alertsFor(t, "u1", alert.TypeStructuring))
		}
		h.clock.Advance(3 * time.Hour)
	}

	got := h.alertsFor(t, "u1", alert.TypeStructuring)
	require.Len(t, got, 1)
	assert.Equal(t, alert.SeverityHigh, got[0].Severity)

	md, ok := got[0].Metadata.(alert.Structuring)
	require.True(t, ok)
	assert.Equal(t, 3, md.Count)
	assert.True(t, md.Total.Equal(decimal.NewFromInt(120_000)))
	assert.ElementsMatch(t, []string{evs[0].EntryID, evs[1].EntryID, evs[2].EntryID}, md.EntryIDs)

	// quarto depósito na mesma janela não gera alerta duplicado
	ev := h.deposit(t, "u1", "39000", "ref-4")
	require.NoError(t, h.engine.Inspect(ctx, ev))
	assert.Len(t, h.alertsFor(t, "u1", alert.TypeStructuring), 1)
}

func TestStructuring_IgnoresOutOfBandAndOldDeposits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.deposit(t, "u1", "38000", "old")
	h.clock.Advance(25 * time.Hour)
	h.deposit(t, "u1", "50000", "at-threshold")
	h.deposit(t, "u1", "20000", "small")
	h.deposit(t, "u1", "36000", "a")
	ev := h.deposit(t, "u1", "49999.99", "b")

	require.NoError(t, h.engine.Inspect(ctx, ev))
	assert.Empty(t, h.alertsFor(t, "u1", alert.TypeStructuring))
}

func TestRoundTrip_WithdrawalSoonAfterSimilarDeposit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	dep := h.deposit(t, "u1", "100000", "d1")
	h.clock.Advance(20 * time.Minute)
	wd := h.withdraw(t, "u1", "95000")

	require.NoError(t, h.engine.Inspect(ctx, wd))

	got := h.alertsFor(t, "u1", alert.TypeRoundTripping)
	require.Len(t, got, 1)
	md := got[0].Metadata.(alert.RoundTripping)
	assert.Equal(t, dep.EntryID, md.DepositEntryID)
	assert.Equal(t, wd.EntryID, md.WithdrawalEntryID)
	assert.True(t, md.Delta.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, 20*time.Minute, md.WithdrawalAt.Sub(md.DepositAt))
}

func TestRoundTrip_NoAlertOutsideWindowOrTolerance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.deposit(t, "u1", "100000", "d1")
	h.clock.Advance(61 * time.Minute)
	wd := h.withdraw(t, "u1", "100000")
	require.NoError(t, h.engine.Inspect(ctx, wd))

	h.deposit(t, "u2", "100000", "d2")
	h.clock.Advance(5 * time.Minute)
	wd = h.withdraw(t, "u2", "50000")
	require.NoError(t, h.engine.Inspect(ctx, wd))

	assert.Empty(t, h.alertsFor(t, "u1", alert.TypeRoundTripping))
	assert.Empty(t, h.alertsFor(t, "u2", alert.TypeRoundTripping))
}

func TestDuplicateIdentity_Critical(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.kyc.Put(ctx, kyc.Identity{UserID: "u1", NationalID: "NIN-1", LegalName: "Ada Obi"}))
	require.NoError(t, h.kyc.Put(ctx, kyc.Identity{UserID: "u2", NationalID: "NIN-1", LegalName: "Ada Obi"}))
	require.NoError(t, h.kyc.Put(ctx, kyc.Identity{UserID: "u3", NationalID: "NIN-3", LegalName: "Bola Ade"}))

	require.NoError(t, h.engine.CheckIdentity(ctx, "u2"))
	require.NoError(t, h.engine.CheckIdentity(ctx, "u2"))
	require.NoError(t, h.engine.CheckIdentity(ctx, "u3"))
	require.NoError(t, h.engine.CheckIdentity(ctx, "unknown"))

	got := h.alertsFor(t, "u2", alert.TypeDuplicateIdentity)
	require.Len(t, got, 1)
	assert.Equal(t, alert.SeverityCritical, got[0].Severity)
	assert.Equal(t, []string{"u1"}, got[0].Metadata.(alert.DuplicateIdentity).OtherUserIDs)
	assert.Empty(t, h.alertsFor(t, "u3", alert.TypeDuplicateIdentity))

	need, err := h.alerts.RequiresManualApproval(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, need)
}

type fakeReader struct {
	msgs []kafka.Message
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	f.msgs = append(f.msgs, msgs...)
	f.mu.Unlock()
	return nil
}

type flakyInspector struct {
	failures int
	calls    int
}

func (f *flakyInspector) Inspect(ctx context.Context, ev events.TransactionRecorded) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("ledger unavailable")
	}
	return nil
}

func TestConsumer_RetriesThenDeadLetters(t *testing.T) {
	payload, err := json.Marshal(events.TransactionRecorded{EntryID: "e1", UserID: "u1", Type: "deposit"})
	require.NoError(t, err)

	dlq := &fakeWriter{}
	insp := &flakyInspector{failures: 10}
	c := &Consumer{Log: zap.NewNop(), DLQ: dlq, Inspector: insp, Retries: 2}

	c.Handle(context.Background(), kafka.Message{Key: []byte("u1"), Value: payload})
	assert.Equal(t, 3, insp.calls)
	require.Len(t, dlq.msgs, 1)
	assert.Equal(t, "u1", string(dlq.msgs[0].Key))

	insp = &flakyInspector{failures: 1}
	c.Inspector = insp
	c.Handle(context.Background(), kafka.Message{Key: []byte("u1"), Value: payload})
	assert.Equal(t, 2, insp.calls)
	assert.Len(t, dlq.msgs, 1)
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	payload, err := json.Marshal(events.TransactionRecorded{EntryID: "e1", UserID: "u1", Type: "deposit"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	insp := &flakyInspector{}
	consumed := 0
	c := &Consumer{
		Log:        zap.NewNop(),
		Reader:     &fakeReader{msgs: []kafka.Message{{Value: payload}, {Value: []byte("not json")}}},
		DLQ:        &fakeWriter{},
		Inspector:  insp,
		OnConsumed: func() {
			consumed++
			if consumed == 2 {
				cancel()
			}
		},
	}

	err = c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, consumed)
	assert.Equal(t, 1, insp.calls)
}
