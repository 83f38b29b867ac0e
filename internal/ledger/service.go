package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Posting descreve um movimento; os saldos são resolvidos pelo store
type Posting struct {
	UserID        string
	Type          TxType
	Amount        decimal.Decimal
	ReferenceType string
	ReferenceID   string
	Description   string
	Metadata      map[string]string
}

// Break é uma descontinuidade encontrada na verificação
type Break struct {
	Index    int             `json:"index"`
	EntryID  string          `json:"entry_id"`
	Expected decimal.Decimal `json:"expected_balance_before"`
	Got      decimal.Decimal `json:"balance_before"`
}

type Report struct {
	UserID     string    `json:"user_id"`
	Entries    int       `json:"entries"`
	Valid      bool      `json:"valid"`
	Breaks     []Break   `json:"breaks,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
}

type Service struct {
	store    Store
	clock    *clock.Authority
	log      *zap.Logger
	currency string
}

func NewService(store Store, clk *clock.Authority, log *zap.Logger, currency string) *Service {
	return &Service{store: store, clock: clk, log: log, currency: currency}
}

func (s *Service) Store() Store { return s.store }

// Entry monta uma entrada a partir de um Posting, com id, moeda e timestamp de auditoria
func (s *Service) Entry(p Posting) *Entry {
	return &Entry{
		ID:            uuid.NewString(),
		UserID:        p.UserID,
		Type:          p.Type,
		Amount:        p.Amount,
		Currency:      s.currency,
		ReferenceID:   p.ReferenceID,
		ReferenceType: p.ReferenceType,
		Description:   p.Description,
		Metadata:      p.Metadata,
		CreatedAt:     s.clock.AuditTimestamp(),
	}
}

// Append grava uma entrada com balance_before explícito; falha com IntegrityError
// quando não encadeia com a última entrada do usuário.
func (s *Service) Append(ctx context.Context, e *Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Currency == "" {
		e.Currency = s.currency
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock.AuditTimestamp()
	}
	err := s.store.Append(ctx, e)
	s.Observe(e, err)
	if err != nil {
		return "", err
	}
	return e.ID, nil
}

// Post grava o movimento encadeado ao saldo atual do usuário
func (s *Service) Post(ctx context.Context, p Posting) (*Entry, error) {
	e := s.Entry(p)
	err := s.store.AppendNext(ctx, e)
	s.Observe(e, err)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Observe registra métricas/log de uma tentativa de append feita por qualquer caminho
// (inclusive transações de outros stores).
func (s *Service) Observe(e *Entry, err error) {
	switch {
	case err == nil:
		appendsTotal.WithLabelValues(string(e.Type)).Inc()
	case errors.Is(err, ErrIntegrity):
		integrityFailures.Inc()
		appendFailures.WithLabelValues("integrity").Inc()
		s.log.Error("ledger integrity violation",
			zap.String("user_id", e.UserID),
			zap.String("entry_id", e.ID),
			zap.String("type", string(e.Type)),
			zap.Error(err))
	case errors.Is(err, ErrInsufficientFunds):
		appendFailures.WithLabelValues("insufficient_funds").Inc()
	case errors.Is(err, ErrDuplicateReference):
		appendFailures.WithLabelValues("duplicate").Inc()
	case errors.Is(err, ErrInvalidEntry):
		appendFailures.WithLabelValues("invalid").Inc()
	default:
		appendFailures.WithLabelValues("store").Inc()
		s.log.Warn("ledger append failed", zap.String("user_id", e.UserID), zap.Error(err))
	}
}

func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	last, err := s.store.Last(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return last.BalanceAfter, nil
}

// History devolve as entradas mais recentes primeiro (limit padrão 50, máximo 500)
func (s *Service) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return s.store.History(ctx, userID, limit)
}

func (s *Service) VerifyIntegrity(ctx context.Context, userID string) (bool, error) {
	r, err := s.Verify(ctx, userID)
	if err != nil {
		return false, err
	}
	return r.Valid, nil
}

// Verify percorre a cadeia do usuário e lista toda quebra maior que Epsilon
func (s *Service) Verify(ctx context.Context, userID string) (*Report, error) {
	entries, err := s.store.Chain(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load ledger chain: %w", err)
	}

	r := &Report{UserID: userID, Entries: len(entries), Valid: true, VerifiedAt: s.clock.AuditTimestamp()}
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if prev.BalanceAfter.Sub(cur.BalanceBefore).Abs().GreaterThan(Epsilon) {
			r.Valid = false
			r.Breaks = append(r.Breaks, Break{
				Index:    i,
				EntryID:  cur.ID,
				Expected: prev.BalanceAfter,
				Got:      cur.BalanceBefore,
			})
		}
	}
	if !r.Valid {
		integrityFailures.Inc()
		s.log.Error("ledger chain broken", zap.String("user_id", userID), zap.Int("breaks", len(r.Breaks)))
	}
	return r, nil
}

func (s *Service) ListByType(ctx context.Context, userID string, t TxType, since time.Time) ([]Entry, error) {
	return s.store.ListByType(ctx, userID, t, since)
}

func (s *Service) ListInRange(ctx context.Context, t TxType, referenceType string, from, to time.Time) ([]Entry, error) {
	return s.store.ListInRange(ctx, t, referenceType, from, to)
}

// SumByType soma as entradas de um tipo/referência no intervalo [from, to)
func (s *Service) SumByType(ctx context.Context, t TxType, referenceType string, from, to time.Time) (decimal.Decimal, error) {
	entries, err := s.store.ListInRange(ctx, t, referenceType, from, to)
	if err != nil {
		return decimal.Zero, err
	}
	return Sum(entries), nil
}

func (s *Service) FindByReference(ctx context.Context, t TxType, referenceType, referenceID string) (*Entry, error) {
	return s.store.FindByReference(ctx, t, referenceType, referenceID)
}
