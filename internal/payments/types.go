// Package payments grava depósitos e roteia saques para o trilho de pagamento.
// O débito de saque só entra no ledger depois da confirmação do trilho.
package payments

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPendingApproval Status = "pending_approval" // alerta crítico em aberto
	StatusHeldForReview   Status = "held_for_review"  // nome em revisão, sem KYC ou structuring em aberto
	StatusRejected        Status = "rejected"
	StatusProcessing      Status = "processing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Estados de uma tentativa no trilho
const (
	AttemptStarted   = "started"
	AttemptSucceeded = "succeeded"
	AttemptFailed    = "failed"
)

var (
	ErrNotFound          = errors.New("payout not found")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidTransition = errors.New("invalid payout transition")
	ErrMaxAttempts       = errors.New("payout attempts exhausted")
	ErrReviewRequired    = errors.New("payout held for review")
	ErrApprovalRequired  = errors.New("payout pending manual approval")
	ErrNameRejected      = errors.New("account name does not match identity")
	ErrRailFailure       = errors.New("payment rail failure")
	ErrBreakerOpen       = errors.New("payment rail circuit open")
	ErrUnknownRail       = errors.New("unknown payment rail")
	ErrAlreadyPaid       = errors.New("payout already paid by rail")
	ErrLedgerAppend      = errors.New("withdrawal debit not recorded")
)

// RailError detalha uma falha de trilho; errors.Is(err, ErrRailFailure) é true
type RailError struct {
	Rail    string
	Timeout bool
	Err     error
}

func (e *RailError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("rail %s: timeout: %v", e.Rail, e.Err)
	}
	return fmt.Sprintf("rail %s: %v", e.Rail, e.Err)
}

func (e *RailError) Unwrap() []error { return []error{ErrRailFailure, e.Err} }

type Destination struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

type Payout struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Destination    Destination     `json:"destination"`
	Rail           string          `json:"rail"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	LedgerEntryID  string          `json:"ledger_entry_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Attempt struct {
	PayoutID       string     `json:"payout_id"`
	AttemptNo      int        `json:"attempt_no"`
	Rail           string     `json:"rail"`
	State          string     `json:"state"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	TransactionRef string     `json:"transaction_ref,omitempty"`
	ProcessingMs   int64      `json:"processing_ms"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// Outcome fecha uma tentativa
type Outcome struct {
	AttemptNo      int
	TransactionRef string
	ProcessingTime time.Duration
	Error          string
	At             time.Time
}

// DepositIntent é o pedido de depósito feito pelo usuário. Não mexe no ledger:
// o crédito só entra quando o provedor confirma a referência.
type DepositIntent struct {
	Reference string          `json:"reference"`
	UserID    string          `json:"user_id"`
	Provider  string          `json:"provider"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

type Filter struct {
	UserID string
	Status Status
	Limit  int
}
