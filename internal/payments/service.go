package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/audit"
	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/kyc"
	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/internal/namematch"
	"github.com/radieske/wager-integrity-core/internal/shared/kafka"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

type Ledger interface {
	Entry(p ledger.Posting) *ledger.Entry
	Observe(e *ledger.Entry, err error)
	Post(ctx context.Context, p ledger.Posting) (*ledger.Entry, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	FindByReference(ctx context.Context, t ledger.TxType, referenceType, referenceID string) (*ledger.Entry, error)
}

type Alerts interface {
	Raise(ctx context.Context, n alert.New) (*alert.SecurityAlert, error)
	RequiresManualApproval(ctx context.Context, userID string) (bool, error)
	HasOpen(ctx context.Context, userID string, t alert.Type) (bool, error)
}

type NameMatcher interface {
	Evaluate(ctx context.Context, subj namematch.Subject, registered, kycName string) (*namematch.Evaluation, error)
}

// IdentityChecker roda a checagem de identidade duplicada na submissão de KYC
type IdentityChecker interface {
	CheckIdentity(ctx context.Context, userID string) error
}

type Config struct {
	Currency    string
	MaxAttempts int
}

type Deps struct {
	Store    Store
	Ledger   Ledger
	Router   *Router
	Alerts   Alerts
	Names    NameMatcher
	KYC      kyc.Store
	Identity IdentityChecker
	Events   kafka.MessageWriter // wallet_transactions; nil desliga a publicação
	Audit    *audit.Log
	Clock    *clock.Authority
	Log      *zap.Logger
}

type Service struct {
	cfg Config
	Deps
}

func NewService(cfg Config, d Deps) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Service{cfg: cfg, Deps: d}
}

type DepositInput struct {
	UserID    string
	Amount    decimal.Decimal
	Provider  string
	Reference string
}

// Deposit grava o crédito uma única vez por (provider, reference). A segunda
// chamada devolve a entrada existente com created=false.
func (s *Service) Deposit(ctx context.Context, in DepositInput) (e *ledger.Entry, created bool, err error) {
	amount := in.Amount.Round(2)
	if in.UserID == "" || in.Provider == "" || in.Reference == "" || !amount.IsPositive() {
		return nil, false, ErrInvalidAmount
	}

	if existing, err := s.existingDeposit(ctx, in); existing != nil || err != nil {
		return existing, false, err
	}

	e, err = s.Ledger.Post(ctx, ledger.Posting{
		UserID:        in.UserID,
		Type:          ledger.TxDeposit,
		Amount:        amount,
		ReferenceType: in.Provider,
		ReferenceID:   in.Reference,
		Description:   "deposit via " + in.Provider,
	})
	if errors.Is(err, ledger.ErrDuplicateReference) {
		// outra requisição gravou primeiro
		existing, ferr := s.existingDeposit(ctx, in)
		if ferr != nil {
			return nil, false, ferr
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}

	depositsTotal.WithLabelValues(in.Provider).Inc()
	s.Log.Info("deposit recorded",
		zap.String("user_id", in.UserID),
		zap.String("provider", in.Provider),
		zap.String("reference", in.Reference),
		zap.String("amount", amount.StringFixed(2)))
	s.publish(ctx, e, in.Provider, in.Reference)
	return e, true, nil
}

// CreateDepositIntent gera a referência que o usuário leva ao provedor
func (s *Service) CreateDepositIntent(ctx context.Context, userID, provider string, amount decimal.Decimal) (*DepositIntent, error) {
	amount = amount.Round(2)
	if userID == "" || provider == "" || !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	in := &DepositIntent{
		Reference: "DEP-" + uuid.NewString(),
		UserID:    userID,
		Provider:  provider,
		Amount:    amount,
		Currency:  s.cfg.Currency,
		Status:    "pending",
		CreatedAt: s.Clock.AuditTimestamp(),
	}
	s.Log.Info("deposit intent created",
		zap.String("user_id", userID),
		zap.String("provider", provider),
		zap.String("reference", in.Reference),
		zap.String("amount", amount.StringFixed(2)))
	return in, nil
}

// ConfirmDeposit credita um depósito confirmado pelo provedor. Só o back-office
// (callback do provedor via gateway ou operador) chega aqui.
func (s *Service) ConfirmDeposit(ctx context.Context, adminID string, in DepositInput) (*ledger.Entry, bool, error) {
	e, created, err := s.Deposit(ctx, in)
	_ = s.Audit.Record(ctx, adminID, audit.ActionDepositConfirm, "deposit", in.Provider+":"+in.Reference, err)
	return e, created, err
}

func (s *Service) existingDeposit(ctx context.Context, in DepositInput) (*ledger.Entry, error) {
	e, err := s.Ledger.FindByReference(ctx, ledger.TxDeposit, in.Provider, in.Reference)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.UserID != in.UserID {
		return nil, fmt.Errorf("%w: reference belongs to another user", ledger.ErrDuplicateReference)
	}
	return e, nil
}

// SubmitIdentity grava o KYC e dispara a checagem de identidade duplicada
func (s *Service) SubmitIdentity(ctx context.Context, id kyc.Identity) error {
	id.NationalID = strings.TrimSpace(id.NationalID)
	if id.UserID == "" || id.NationalID == "" || strings.TrimSpace(id.LegalName) == "" {
		return fmt.Errorf("%w: user_id, national_id and legal_name required", kyc.ErrInvalid)
	}
	if err := s.KYC.Put(ctx, id); err != nil {
		return err
	}
	if s.Identity == nil {
		return nil
	}
	return s.Identity.CheckIdentity(ctx, id.UserID)
}

type WithdrawalInput struct {
	UserID      string
	Amount      decimal.Decimal
	Destination Destination
}

// RequestWithdrawal aplica os gates em ordem e, se todos passarem, envia ao trilho.
// Quando um gate segura o saque o payout volta junto com o erro que explica o motivo
// (ErrApprovalRequired, ErrReviewRequired, ErrNameRejected).
func (s *Service) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*Payout, error) {
	amount := in.Amount.Round(2)
	d := in.Destination
	if in.UserID == "" || !amount.IsPositive() || d.BankCode == "" || d.AccountNumber == "" || d.AccountName == "" {
		return nil, ErrInvalidAmount
	}

	now := s.Clock.AuditTimestamp()
	p := &Payout{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Amount:      amount,
		Currency:    s.cfg.Currency,
		Destination: d,
		Rail:        s.Router.Select(d.BankCode),
		Status:      StatusProcessing,
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	h, err := s.gate(ctx, p)
	if err != nil {
		return nil, err
	}
	if h != nil {
		p.Status, p.ErrorMessage = h.status, h.reason
	} else {
		bal, err := s.Ledger.Balance(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		if bal.LessThan(amount) {
			return nil, ledger.ErrInsufficientFunds
		}
	}

	if err := s.Store.Create(ctx, p); err != nil {
		return nil, err
	}
	payoutsTotal.WithLabelValues(string(p.Status)).Inc()
	s.Log.Info("payout requested",
		zap.String("payout_id", p.ID),
		zap.String("user_id", p.UserID),
		zap.String("rail", p.Rail),
		zap.String("status", string(p.Status)))

	if h != nil {
		return p, h.err
	}
	return s.process(ctx, p)
}

// hold é o resultado de um gate que segurou o saque
type hold struct {
	status Status
	reason string
	err    error
}

// gate aplica os gates em ordem; o primeiro que segura vence. nil: pode seguir.
func (s *Service) gate(ctx context.Context, p *Payout) (*hold, error) {
	critical, err := s.Alerts.RequiresManualApproval(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("check open alerts: %w", err)
	}
	if critical {
		return &hold{StatusPendingApproval, "open critical security alert", ErrApprovalRequired}, nil
	}

	id, err := s.KYC.Lookup(ctx, p.UserID)
	if errors.Is(err, kyc.ErrNotFound) {
		return &hold{StatusHeldForReview, "identity not verified", ErrReviewRequired}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup kyc: %w", err)
	}

	ev, err := s.Names.Evaluate(ctx, namematch.Subject{Type: "payout", ID: p.ID, UserID: p.UserID},
		p.Destination.AccountName, id.LegalName)
	if err != nil {
		return nil, err
	}
	switch ev.Decision {
	case namematch.Rejected:
		return &hold{StatusRejected, fmt.Sprintf("account name mismatch (score %d)", ev.Score), ErrNameRejected}, nil
	case namematch.ManualReview:
		return &hold{StatusHeldForReview, fmt.Sprintf("account name needs review (score %d)", ev.Score), ErrReviewRequired}, nil
	}

	structuring, err := s.Alerts.HasOpen(ctx, p.UserID, alert.TypeStructuring)
	if err != nil {
		return nil, fmt.Errorf("check structuring alerts: %w", err)
	}
	if structuring {
		return &hold{StatusHeldForReview, "open structuring alert", ErrReviewRequired}, nil
	}
	return nil, nil
}

// process faz uma tentativa no trilho escolhido. Sem fallback: falha marca failed
// e levanta alerta; nova tentativa só por Retry. O valor fica reservado de
// StartAttempt até o débito, então dois saques não disputam o mesmo saldo.
func (s *Service) process(ctx context.Context, p *Payout) (*Payout, error) {
	started, a, err := s.Store.StartAttempt(ctx, p.ID, s.Clock.AuditTimestamp())
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		failed, terr := s.Store.Transition(ctx, p.ID, []Status{StatusProcessing}, StatusFailed, "insufficient funds", s.Clock.AuditTimestamp())
		if terr != nil {
			return p, terr
		}
		payoutsTotal.WithLabelValues(string(StatusFailed)).Inc()
		s.Log.Info("payout refused: balance already reserved or spent",
			zap.String("payout_id", p.ID),
			zap.String("user_id", p.UserID))
		return failed, ledger.ErrInsufficientFunds
	}
	if err != nil {
		return nil, err
	}
	p = started

	sent := s.Clock.Now()
	res, err := s.Router.Submit(ctx, p.Rail, RailRequest{
		PayoutID:    p.ID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Destination: p.Destination,
	})
	elapsed := s.Clock.Since(sent)
	if err != nil {
		return s.railFailed(ctx, p, a.AttemptNo, elapsed, err)
	}
	railLatency.WithLabelValues(p.Rail, "success").Observe(elapsed.Seconds())

	out := Outcome{AttemptNo: a.AttemptNo, TransactionRef: res.TransactionRef, ProcessingTime: res.ProcessingTime, At: s.Clock.AuditTimestamp()}
	debit := s.Ledger.Entry(ledger.Posting{
		UserID:        p.UserID,
		Type:          ledger.TxWithdrawal,
		Amount:        p.Amount.Neg(),
		ReferenceType: ledger.RefPayout,
		ReferenceID:   p.ID,
		Description:   "withdrawal via " + p.Rail,
		Metadata:      map[string]string{"transaction_ref": res.TransactionRef, "bank_code": p.Destination.BankCode},
	})
	done, err := s.Store.Complete(ctx, p.ID, out, debit)
	s.Ledger.Observe(debit, err)
	if err != nil {
		return s.ledgerFailed(ctx, p, out, err)
	}

	payoutsTotal.WithLabelValues(string(StatusCompleted)).Inc()
	s.Log.Info("payout completed",
		zap.String("payout_id", p.ID),
		zap.String("rail", p.Rail),
		zap.String("transaction_ref", res.TransactionRef),
		zap.Int("attempt", a.AttemptNo))
	s.publish(ctx, debit, p.Rail, p.ID)
	return done, nil
}

func (s *Service) railFailed(ctx context.Context, p *Payout, attempt int, elapsed time.Duration, railErr error) (*Payout, error) {
	kind := "error"
	var re *RailError
	if errors.As(railErr, &re) && re.Timeout {
		kind = "timeout"
	} else if errors.Is(railErr, ErrBreakerOpen) {
		kind = "breaker_open"
	}
	railFailures.WithLabelValues(p.Rail, kind).Inc()
	railLatency.WithLabelValues(p.Rail, "failure").Observe(elapsed.Seconds())

	failed, err := s.Store.FailAttempt(ctx, p.ID, Outcome{
		AttemptNo:      attempt,
		ProcessingTime: elapsed,
		Error:          railErr.Error(),
		At:             s.Clock.AuditTimestamp(),
	})
	if err != nil {
		s.Log.Error("record payout failure", zap.String("payout_id", p.ID), zap.Error(err))
		failed = p
	}
	payoutsTotal.WithLabelValues(string(StatusFailed)).Inc()
	s.Log.Warn("payout rail failure",
		zap.String("payout_id", p.ID),
		zap.String("rail", p.Rail),
		zap.Int("attempt", attempt),
		zap.Error(railErr))

	_, aerr := s.Alerts.Raise(ctx, alert.New{
		UserID:      p.UserID,
		Severity:    alert.SeverityHigh,
		Description: fmt.Sprintf("payout %s failed on rail %s (attempt %d/%d)", p.ID, p.Rail, attempt, p.MaxAttempts),
		Metadata: alert.PayoutFailure{
			PayoutID: p.ID,
			Rail:     p.Rail,
			Attempt:  attempt,
			Amount:   p.Amount,
			Error:    railErr.Error(),
		},
	})
	if aerr != nil {
		s.Log.Error("raise payout failure alert", zap.String("payout_id", p.ID), zap.Error(aerr))
	}
	return failed, railErr
}

// ledgerFailed: o trilho pagou mas o débito não entrou. Operador precisa agir.
func (s *Service) ledgerFailed(ctx context.Context, p *Payout, out Outcome, cause error) (*Payout, error) {
	out.Error = "ledger append failed: " + cause.Error()
	failed, err := s.Store.MarkLedgerFailed(ctx, p.ID, out)
	if err != nil {
		s.Log.Error("record ledger failure on payout", zap.String("payout_id", p.ID), zap.Error(err))
		failed = p
	}
	payoutsTotal.WithLabelValues(string(StatusFailed)).Inc()
	s.Log.Error("payout paid but ledger append failed",
		zap.String("payout_id", p.ID),
		zap.String("transaction_ref", out.TransactionRef),
		zap.Error(cause))

	_, aerr := s.Alerts.Raise(ctx, alert.New{
		UserID:      p.UserID,
		Severity:    alert.SeverityCritical,
		Description: fmt.Sprintf("payout %s paid by %s but withdrawal debit was not recorded", p.ID, p.Rail),
		Metadata: alert.LedgerAppendFailed{
			PayoutID:       p.ID,
			Rail:           p.Rail,
			TransactionRef: out.TransactionRef,
			Amount:         p.Amount,
			Error:          cause.Error(),
		},
	})
	if aerr != nil {
		s.Log.Error("raise ledger failure alert", zap.String("payout_id", p.ID), zap.Error(aerr))
	}
	return failed, fmt.Errorf("%w: %w", ErrLedgerAppend, cause)
}

// Approve libera um saque retido e o envia ao trilho
func (s *Service) Approve(ctx context.Context, adminID, id string) (*Payout, error) {
	p, err := s.Store.Transition(ctx, id, []Status{StatusPendingApproval, StatusHeldForReview}, StatusProcessing, "", s.Clock.AuditTimestamp())
	aerr := s.Audit.Record(ctx, adminID, audit.ActionPayoutApprove, "payout", id, err)
	if err != nil {
		return nil, err
	}
	if aerr != nil {
		return s.unaudited(ctx, p, aerr)
	}
	payoutsTotal.WithLabelValues(string(StatusProcessing)).Inc()
	return s.process(ctx, p)
}

func (s *Service) Reject(ctx context.Context, adminID, id, reason string) (*Payout, error) {
	if reason == "" {
		reason = "rejected by operator"
	}
	p, err := s.Store.Transition(ctx, id, []Status{StatusPendingApproval, StatusHeldForReview}, StatusRejected, reason, s.Clock.AuditTimestamp())
	_ = s.Audit.Record(ctx, adminID, audit.ActionPayoutReject, "payout", id, err)
	if err != nil {
		return nil, err
	}
	payoutsTotal.WithLabelValues(string(StatusRejected)).Inc()
	return p, nil
}

// Retry faz nova tentativa no mesmo trilho, limitada por max_attempts
func (s *Service) Retry(ctx context.Context, adminID, id string) (*Payout, error) {
	p, err := s.Store.Reopen(ctx, id, s.Clock.AuditTimestamp())
	aerr := s.Audit.Record(ctx, adminID, audit.ActionPayoutRetry, "payout", id, err)
	if err != nil {
		return nil, err
	}
	if aerr != nil {
		return s.unaudited(ctx, p, aerr)
	}
	return s.process(ctx, p)
}

// unaudited devolve a failed um saque liberado por operador cujo audit não gravou.
// Sem trilho acionado e sem tentativa consumida, o Retry continua possível.
func (s *Service) unaudited(ctx context.Context, p *Payout, aerr error) (*Payout, error) {
	failed, err := s.Store.Transition(ctx, p.ID, []Status{StatusProcessing}, StatusFailed, "audit write failed", s.Clock.AuditTimestamp())
	if err != nil {
		s.Log.Error("park unaudited payout", zap.String("payout_id", p.ID), zap.Error(err))
		return p, aerr
	}
	payoutsTotal.WithLabelValues(string(StatusFailed)).Inc()
	return failed, aerr
}

func (s *Service) Get(ctx context.Context, id string) (*Payout, error) {
	return s.Store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]Payout, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.Store.List(ctx, f)
}

func (s *Service) Attempts(ctx context.Context, id string) ([]Attempt, error) {
	return s.Store.Attempts(ctx, id)
}

// publish avisa o fraud-worker; falha só é logada, o dinheiro já está no ledger
func (s *Service) publish(ctx context.Context, e *ledger.Entry, provider, reference string) {
	if s.Events == nil {
		return
	}
	payload, err := json.Marshal(events.TransactionRecorded{
		EntryID:    e.ID,
		UserID:     e.UserID,
		Type:       string(e.Type),
		Amount:     e.Amount.Abs(),
		Currency:   e.Currency,
		Provider:   provider,
		Reference:  reference,
		OccurredAt: e.CreatedAt,
	})
	if err != nil {
		s.Log.Error("marshal transaction event", zap.Error(err))
		return
	}
	if err := kafka.WriteJSON(ctx, s.Events, e.UserID, payload); err != nil {
		s.Log.Warn("publish transaction event failed",
			zap.String("entry_id", e.ID),
			zap.String("user_id", e.UserID),
			zap.Error(err))
	}
}
