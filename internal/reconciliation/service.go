package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/audit"
	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/ledger"
)

// SystemActor identifica execuções disparadas pelo cron
const SystemActor = "system"

type Ledger interface {
	ListInRange(ctx context.Context, t ledger.TxType, referenceType string, from, to time.Time) ([]ledger.Entry, error)
}

type Alerts interface {
	Raise(ctx context.Context, n alert.New) (*alert.SecurityAlert, error)
}

type Service struct {
	store   Store
	ledger  Ledger
	tickets TicketOpener
	alerts  Alerts
	audit   *audit.Log
	clock   *clock.Authority
	log     *zap.Logger
}

func NewService(store Store, l Ledger, tickets TicketOpener, alerts Alerts, auditLog *audit.Log, clk *clock.Authority, log *zap.Logger) *Service {
	return &Service{store: store, ledger: l, tickets: tickets, alerts: alerts, audit: auditLog, clock: clk, log: log}
}

// Run concilia um (provedor, dia) contra as linhas de liquidação.
// Cada par só é conciliado uma vez; a segunda execução devolve ErrAlreadyReconciled.
func (s *Service) Run(ctx context.Context, actor, provider string, date time.Time, rows []SettlementRow) (*Record, error) {
	rec, err := s.run(ctx, provider, date, rows)
	resourceID := provider + "/" + s.day(date).Format(time.DateOnly)
	if rec != nil {
		resourceID = rec.ID
	}
	_ = s.audit.Record(ctx, actor, audit.ActionReconciliationRun, "reconciliation", resourceID, err)
	return rec, err
}

// day toma a data de calendário de date como um dia no fuso da autoridade
func (s *Service) day(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.clock.Location())
}

// RunFile lê o arquivo de liquidação e concilia
func (s *Service) RunFile(ctx context.Context, actor, provider string, date time.Time, path string) (*Record, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoSettlementFile, path)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := ParseSettlement(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s.Run(ctx, actor, provider, date, rows)
}

func (s *Service) run(ctx context.Context, provider string, date time.Time, rows []SettlementRow) (*Record, error) {
	if provider == "" {
		return nil, fmt.Errorf("%w: provider required", ErrInvalidFile)
	}
	day := s.day(date)
	if _, err := s.store.GetByProviderDate(ctx, provider, day); err == nil {
		return nil, ErrAlreadyReconciled
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	entries, err := s.ledger.ListInRange(ctx, ledger.TxDeposit, provider, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load ledger deposits: %w", err)
	}

	ledgerTotal := ledger.Sum(entries).Round(2)
	settlementTotal := sumRows(rows).Round(2)
	matched, unmatched := compare(entries, rows)
	rec := &Record{
		ID:                 uuid.NewString(),
		ReconciliationDate: day,
		Provider:           provider,
		LedgerTotal:        ledgerTotal,
		SettlementTotal:    settlementTotal,
		Difference:         ledgerTotal.Sub(settlementTotal),
		MatchedCount:       matched,
		UnmatchedCount:     unmatched,
		Status:             StatusMatched,
		CreatedAt:          s.clock.AuditTimestamp(),
	}
	if rec.Difference.Abs().GreaterThan(Tolerance) {
		rec.Status = StatusMismatched
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		return nil, err
	}

	runsTotal.WithLabelValues(provider, string(rec.Status)).Inc()
	lastDifference.WithLabelValues(provider).Set(rec.Difference.InexactFloat64())
	s.log.Info("reconciliation completed",
		zap.String("provider", provider),
		zap.String("date", rec.DateString()),
		zap.String("status", string(rec.Status)),
		zap.String("ledger_total", ledgerTotal.StringFixed(2)),
		zap.String("settlement_total", settlementTotal.StringFixed(2)),
		zap.String("difference", rec.Difference.StringFixed(2)),
		zap.Int("matched", matched),
		zap.Int("unmatched", unmatched))

	if rec.Status == StatusMismatched {
		s.escalate(ctx, rec)
	}
	return rec, nil
}

// escalate abre o ticket e levanta o alerta. Falha do ticket não impede o alerta.
func (s *Service) escalate(ctx context.Context, rec *Record) {
	desc := fmt.Sprintf("Ledger total %s vs settlement total %s (difference %s).",
		rec.LedgerTotal.StringFixed(2), rec.SettlementTotal.StringFixed(2), rec.Difference.StringFixed(2))
	ticket, err := s.tickets.OpenTicket(ctx, Ticket{
		Subject:     fmt.Sprintf("Reconciliation mismatch: %s %s", rec.Provider, rec.DateString()),
		Description: desc,
		Priority:    "high",
		Metadata: map[string]string{
			"record_id":  rec.ID,
			"provider":   rec.Provider,
			"date":       rec.DateString(),
			"difference": rec.Difference.StringFixed(2),
		},
	})
	if err != nil {
		s.log.Error("open support ticket failed", zap.String("record_id", rec.ID), zap.Error(err))
	} else if err := s.store.SetTicket(ctx, rec.ID, ticket); err != nil {
		s.log.Error("store support ticket id", zap.String("record_id", rec.ID), zap.Error(err))
	} else {
		rec.SupportTicketID = ticket
	}

	_, err = s.alerts.Raise(ctx, alert.New{
		Severity:    alert.SeverityHigh,
		Description: fmt.Sprintf("%s settlement for %s differs from ledger by %s", rec.Provider, rec.DateString(), rec.Difference.StringFixed(2)),
		Metadata: alert.ReconciliationMismatch{
			RecordID:        rec.ID,
			Provider:        rec.Provider,
			Date:            rec.DateString(),
			LedgerTotal:     rec.LedgerTotal,
			SettlementTotal: rec.SettlementTotal,
			Difference:      rec.Difference,
			TicketID:        rec.SupportTicketID,
		},
	})
	if err != nil {
		s.log.Error("raise reconciliation alert", zap.String("record_id", rec.ID), zap.Error(err))
	}
}

// compare casa por referência: conta como conciliada a referência presente
// nos dois lados com o mesmo valor
func compare(entries []ledger.Entry, rows []SettlementRow) (matched, unmatched int) {
	byRef := make(map[string]decimal.Decimal, len(entries))
	for _, e := range entries {
		byRef[e.ReferenceID] = byRef[e.ReferenceID].Add(e.Amount)
	}
	for _, r := range rows {
		amt, ok := byRef[r.Reference]
		if ok && amt.Sub(r.Amount).Abs().LessThanOrEqual(Tolerance) {
			matched++
		} else {
			unmatched++
		}
		delete(byRef, r.Reference)
	}
	unmatched += len(byRef)
	return matched, unmatched
}

// MarkReconciled registra que o operador tratou a divergência
func (s *Service) MarkReconciled(ctx context.Context, adminID, id string) (*Record, error) {
	rec, err := s.store.MarkReconciled(ctx, id, s.clock.AuditTimestamp())
	_ = s.audit.Record(ctx, adminID, audit.ActionReconciliationMark, "reconciliation", id, err)
	return rec, err
}

func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.store.List(ctx, f)
}
