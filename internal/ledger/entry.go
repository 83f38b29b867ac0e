// Package ledger mantém o log append-only de todo evento que altera saldo.
// Cada entrada encadeia com a anterior do mesmo usuário: balance_before da
// entrada i+1 é o balance_after da entrada i.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type TxType string

const (
	TxDeposit      TxType = "deposit"
	TxWithdrawal   TxType = "withdrawal"
	TxBetStake     TxType = "bet_stake"
	TxBetWin       TxType = "bet_win"
	TxBetRefund    TxType = "bet_refund"
	TxCashout      TxType = "cashout"
	TxBonus        TxType = "bonus"
	TxCommission   TxType = "commission"
	TxCompensation TxType = "compensation"
	TxAdjustment   TxType = "adjustment"
)

// Reference types usados pelos serviços que escrevem no ledger
const (
	RefBetSlip = "bet_slip"
	RefPayout  = "payout"
)

type direction int

const (
	credit direction = iota + 1
	debit
	either
)

var directions = map[TxType]direction{
	TxDeposit:      credit,
	TxWithdrawal:   debit,
	TxBetStake:     debit,
	TxBetWin:       credit,
	TxBetRefund:    credit,
	TxCashout:      credit,
	TxBonus:        credit,
	TxCommission:   debit,
	TxCompensation: credit,
	TxAdjustment:   either,
}

func (t TxType) Valid() bool {
	_, ok := directions[t]
	return ok
}

// Epsilon é a tolerância de continuidade (uma unidade menor da moeda)
var Epsilon = decimal.RequireFromString("0.01")

var (
	ErrIntegrity          = errors.New("ledger integrity violation")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidEntry       = errors.New("invalid ledger entry")
	ErrDuplicateReference = errors.New("duplicate ledger reference")
	ErrNotFound           = errors.New("ledger entry not found")
)

// IntegrityError descreve uma quebra de continuidade detectada na escrita
type IntegrityError struct {
	UserID   string
	Expected decimal.Decimal
	Got      decimal.Decimal
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("ledger integrity violation for user %s: %s (expected %s, got %s)",
		e.UserID, e.Reason, e.Expected.StringFixed(2), e.Got.StringFixed(2))
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

type Entry struct {
	Seq           int64             `json:"-"`
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Type          TxType            `json:"transaction_type"`
	Amount        decimal.Decimal   `json:"amount"`
	BalanceBefore decimal.Decimal   `json:"balance_before"`
	BalanceAfter  decimal.Decimal   `json:"balance_after"`
	Currency      string            `json:"currency"`
	ReferenceID   string            `json:"reference_id,omitempty"`
	ReferenceType string            `json:"reference_type,omitempty"`
	Description   string            `json:"description,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// validate checa a entrada isolada e contra a última entrada do usuário (prev pode ser nil)
func validate(e *Entry, prev *Entry) error {
	if e.ID == "" || e.UserID == "" || e.Currency == "" || e.CreatedAt.IsZero() {
		return fmt.Errorf("%w: missing id, user, currency or timestamp", ErrInvalidEntry)
	}
	dir, ok := directions[e.Type]
	if !ok {
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidEntry, e.Type)
	}
	if e.Amount.IsZero() {
		return fmt.Errorf("%w: zero amount", ErrInvalidEntry)
	}
	if (dir == credit && e.Amount.IsNegative()) || (dir == debit && e.Amount.IsPositive()) {
		return fmt.Errorf("%w: wrong sign for %s", ErrInvalidEntry, e.Type)
	}

	if !e.BalanceBefore.Add(e.Amount).Equal(e.BalanceAfter) {
		return &IntegrityError{
			UserID:   e.UserID,
			Expected: e.BalanceBefore.Add(e.Amount),
			Got:      e.BalanceAfter,
			Reason:   "balance_after does not equal balance_before + amount",
		}
	}

	last := decimal.Zero
	if prev != nil {
		last = prev.BalanceAfter
	}
	if last.Sub(e.BalanceBefore).Abs().GreaterThan(Epsilon) {
		return &IntegrityError{
			UserID:   e.UserID,
			Expected: last,
			Got:      e.BalanceBefore,
			Reason:   "balance_before does not match previous balance_after",
		}
	}

	if e.Amount.IsNegative() && e.BalanceAfter.IsNegative() {
		return ErrInsufficientFunds
	}
	return nil
}

// chain preenche os saldos de e a partir da última entrada
func chain(e *Entry, prev *Entry) {
	e.BalanceBefore = decimal.Zero
	if prev != nil {
		e.BalanceBefore = prev.BalanceAfter
	}
	e.BalanceAfter = e.BalanceBefore.Add(e.Amount)
}

// clampTime impede que uma entrada fique datada antes da anterior. O timestamp é
// gerado antes do lock por usuário; a ordem da cadeia é a ordem do lock.
func clampTime(e *Entry, prev *Entry) {
	if prev != nil && e.CreatedAt.Before(prev.CreatedAt) {
		e.CreatedAt = prev.CreatedAt
	}
}

func round(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

func normalize(e *Entry) {
	e.Amount = round(e.Amount)
	e.BalanceBefore = round(e.BalanceBefore)
	e.BalanceAfter = round(e.BalanceAfter)
}
