// Package fraud roda as heurísticas de AML sobre depósitos e saques já gravados.
// As checagens são independentes e só produzem alertas; nunca bloqueiam o dinheiro.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/kyc"
	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

var checksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wager",
	Subsystem: "fraud",
	Name:      "checks_total",
	Help:      "Fraud checks executed, by check and result (clean, flagged, suppressed, error).",
}, []string{"check", "result"})

func init() {
	prometheus.MustRegister(checksTotal)
}

// janela de dedup para identidade duplicada: enquanto houver alerta aberto, não repete
const identityDedupWindow = 90 * 24 * time.Hour

type Config struct {
	ReportingThreshold    decimal.Decimal
	StructuringWindow     time.Duration
	StructuringMinCount   int
	StructuringLowerRatio decimal.Decimal
	RoundTripWindow       time.Duration
	RoundTripTolerance    decimal.Decimal
}

func DefaultConfig(threshold decimal.Decimal) Config {
	return Config{
		ReportingThreshold:    threshold,
		StructuringWindow:     24 * time.Hour,
		StructuringMinCount:   3,
		StructuringLowerRatio: decimal.RequireFromString("0.70"),
		RoundTripWindow:       time.Hour,
		RoundTripTolerance:    decimal.RequireFromString("0.10"),
	}
}

type LedgerReader interface {
	ListByType(ctx context.Context, userID string, t ledger.TxType, since time.Time) ([]ledger.Entry, error)
}

type Identities interface {
	Lookup(ctx context.Context, userID string) (*kyc.Identity, error)
	UsersByNationalID(ctx context.Context, nationalID string) ([]string, error)
}

type Alerts interface {
	RaiseOnce(ctx context.Context, n alert.New, window time.Duration) (*alert.SecurityAlert, bool, error)
}

type Engine struct {
	cfg        Config
	ledger     LedgerReader
	identities Identities
	alerts     Alerts
	log        *zap.Logger
}

func NewEngine(cfg Config, l LedgerReader, ids Identities, alerts Alerts, log *zap.Logger) *Engine {
	return &Engine{cfg: cfg, ledger: l, identities: ids, alerts: alerts, log: log}
}

// Inspect roda todas as checagens aplicáveis ao evento. Uma checagem que falha não
// impede as demais; os erros voltam juntos.
func (e *Engine) Inspect(ctx context.Context, ev events.TransactionRecorded) error {
	var errs []error
	if err := e.CheckIdentity(ctx, ev.UserID); err != nil {
		errs = append(errs, err)
	}
	switch ledger.TxType(ev.Type) {
	case ledger.TxDeposit:
		if err := e.CheckStructuring(ctx, ev.UserID, ev.OccurredAt); err != nil {
			errs = append(errs, err)
		}
	case ledger.TxWithdrawal:
		if err := e.CheckRoundTrip(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CheckIdentity: o documento do usuário já está vinculado a outro usuário?
func (e *Engine) CheckIdentity(ctx context.Context, userID string) error {
	id, err := e.identities.Lookup(ctx, userID)
	if errors.Is(err, kyc.ErrNotFound) {
		return nil
	}
	if err != nil {
		checksTotal.WithLabelValues("duplicate_identity", "error").Inc()
		return fmt.Errorf("duplicate identity: lookup: %w", err)
	}

	users, err := e.identities.UsersByNationalID(ctx, id.NationalID)
	if err != nil {
		checksTotal.WithLabelValues("duplicate_identity", "error").Inc()
		return fmt.Errorf("duplicate identity: users by id: %w", err)
	}
	var others []string
	for _, u := range users {
		if u != userID {
			others = append(others, u)
		}
	}
	if len(others) == 0 {
		checksTotal.WithLabelValues("duplicate_identity", "clean").Inc()
		return nil
	}

	return e.raise(ctx, "duplicate_identity", alert.New{
		UserID:      userID,
		Severity:    alert.SeverityCritical,
		Description: fmt.Sprintf("national identifier already bound to %d other user(s)", len(others)),
		Metadata:    alert.DuplicateIdentity{NationalID: id.NationalID, OtherUserIDs: others},
	}, identityDedupWindow)
}

// CheckStructuring: N+ depósitos em [70%, 100%) do limite de reporte numa janela móvel
func (e *Engine) CheckStructuring(ctx context.Context, userID string, at time.Time) error {
	deposits, err := e.ledger.ListByType(ctx, userID, ledger.TxDeposit, at.Add(-e.cfg.StructuringWindow))
	if err != nil {
		checksTotal.WithLabelValues("structuring", "error").Inc()
		return fmt.Errorf("structuring: list deposits: %w", err)
	}

	lower := e.cfg.ReportingThreshold.Mul(e.cfg.StructuringLowerRatio)
	var (
		ids   []string
		total = decimal.Zero
	)
	for _, d := range deposits {
		if d.CreatedAt.After(at) {
			continue
		}
		if d.Amount.GreaterThanOrEqual(lower) && d.Amount.LessThan(e.cfg.ReportingThreshold) {
			ids = append(ids, d.ID)
			total = total.Add(d.Amount)
		}
	}
	if len(ids) < e.cfg.StructuringMinCount {
		checksTotal.WithLabelValues("structuring", "clean").Inc()
		return nil
	}

	return e.raise(ctx, "structuring", alert.New{
		UserID:   userID,
		Severity: alert.SeverityHigh,
		Description: fmt.Sprintf("%d deposits just below reporting threshold in %s (total %s)",
			len(ids), e.cfg.StructuringWindow, total.StringFixed(2)),
		Metadata: alert.Structuring{
			Total:       total,
			Count:       len(ids),
			EntryIDs:    ids,
			Threshold:   e.cfg.ReportingThreshold,
			WindowHours: int(e.cfg.StructuringWindow.Hours()),
		},
	}, e.cfg.StructuringWindow)
}

// CheckRoundTrip: saque logo após um depósito de valor parecido
func (e *Engine) CheckRoundTrip(ctx context.Context, ev events.TransactionRecorded) error {
	deposits, err := e.ledger.ListByType(ctx, ev.UserID, ledger.TxDeposit, ev.OccurredAt.Add(-e.cfg.RoundTripWindow))
	if err != nil {
		checksTotal.WithLabelValues("round_tripping", "error").Inc()
		return fmt.Errorf("round trip: list deposits: %w", err)
	}

	withdrawn := ev.Amount.Abs()
	var match *ledger.Entry
	for i := range deposits {
		d := &deposits[i]
		if d.CreatedAt.After(ev.OccurredAt) {
			continue
		}
		if d.Amount.Sub(withdrawn).Abs().LessThanOrEqual(d.Amount.Mul(e.cfg.RoundTripTolerance)) {
			match = d // o mais recente vence; a lista vem em ordem crescente
		}
	}
	if match == nil {
		checksTotal.WithLabelValues("round_tripping", "clean").Inc()
		return nil
	}

	delta := ev.OccurredAt.Sub(match.CreatedAt)
	return e.raise(ctx, "round_tripping", alert.New{
		UserID:   ev.UserID,
		Severity: alert.SeverityHigh,
		Description: fmt.Sprintf("withdrawal of %s %s after deposit of %s",
			withdrawn.StringFixed(2), delta.Round(time.Second), match.Amount.StringFixed(2)),
		Metadata: alert.RoundTripping{
			DepositEntryID:    match.ID,
			WithdrawalEntryID: ev.EntryID,
			DepositAmount:     match.Amount,
			WithdrawalAmount:  withdrawn,
			Delta:             match.Amount.Sub(withdrawn),
			DepositAt:         match.CreatedAt,
			WithdrawalAt:      ev.OccurredAt,
		},
	}, e.cfg.RoundTripWindow)
}

func (e *Engine) raise(ctx context.Context, check string, n alert.New, window time.Duration) error {
	a, raised, err := e.alerts.RaiseOnce(ctx, n, window)
	if err != nil {
		checksTotal.WithLabelValues(check, "error").Inc()
		return fmt.Errorf("%s: raise alert: %w", check, err)
	}
	if !raised {
		checksTotal.WithLabelValues(check, "suppressed").Inc()
		return nil
	}
	checksTotal.WithLabelValues(check, "flagged").Inc()
	e.log.Info("fraud check flagged user",
		zap.String("check", check),
		zap.String("user_id", n.UserID),
		zap.String("alert_id", a.ID))
	return nil
}
