// Package reconciliation compara, por provedor e dia, os depósitos do ledger
// com o arquivo de liquidação do provedor.
package reconciliation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusMatched    Status = "matched"
	StatusMismatched Status = "mismatched"
)

// Tolerance é a diferença máxima aceita como conciliada
var Tolerance = decimal.RequireFromString("0.01")

var (
	ErrNotFound          = errors.New("reconciliation record not found")
	ErrAlreadyReconciled = errors.New("provider already reconciled for date")
	ErrInvalidFile       = errors.New("invalid settlement file")
	ErrNoSettlementFile  = errors.New("settlement file not found")
)

type Record struct {
	ID                 string          `json:"id"`
	ReconciliationDate time.Time       `json:"reconciliation_date"`
	Provider           string          `json:"provider"`
	LedgerTotal        decimal.Decimal `json:"ledger_total"`
	SettlementTotal    decimal.Decimal `json:"settlement_total"`
	Difference         decimal.Decimal `json:"difference"` // ledger - liquidação
	MatchedCount       int             `json:"matched_count"`
	UnmatchedCount     int             `json:"unmatched_count"`
	Status             Status          `json:"status"`
	SupportTicketID    string          `json:"support_ticket_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	ReconciledAt       *time.Time      `json:"reconciled_at,omitempty"`
}

// DateString no formato do arquivo de liquidação
func (r Record) DateString() string { return r.ReconciliationDate.Format(time.DateOnly) }

type SettlementRow struct {
	Reference string
	Amount    decimal.Decimal
	Currency  string
}

type Filter struct {
	Provider string
	Status   Status
	Limit    int
}
