package events

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecorded é emitido após um depósito ou saque ser gravado no ledger.
// Consumido pelo fraud-worker; nunca faz parte do caminho do dinheiro.
type TransactionRecorded struct {
	EntryID    string          `json:"entry_id"`
	UserID     string          `json:"user_id"`
	Type       string          `json:"type"`   // "deposit" | "withdrawal"
	Amount     decimal.Decimal `json:"amount"` // valor absoluto
	Currency   string          `json:"currency"`
	Provider   string          `json:"provider,omitempty"`
	Reference  string          `json:"reference,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
