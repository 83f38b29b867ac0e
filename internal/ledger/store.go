package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store persiste entradas. Append e AppendNext serializam por usuário e
// validam continuidade dentro da mesma seção crítica da escrita.
type Store interface {
	// Append grava e com o balance_before informado pelo chamador
	Append(ctx context.Context, e *Entry) error
	// AppendNext calcula balance_before/after a partir da última entrada
	AppendNext(ctx context.Context, e *Entry) error
	Last(ctx context.Context, userID string) (*Entry, error)
	// History em ordem decrescente
	History(ctx context.Context, userID string, limit int) ([]Entry, error)
	// Chain em ordem crescente (para verificação)
	Chain(ctx context.Context, userID string) ([]Entry, error)
	ListByType(ctx context.Context, userID string, t TxType, since time.Time) ([]Entry, error)
	ListInRange(ctx context.Context, t TxType, referenceType string, from, to time.Time) ([]Entry, error)
	FindByReference(ctx context.Context, t TxType, referenceType, referenceID string) (*Entry, error)
}

// Sum soma os valores de um conjunto de entradas
func Sum(entries []Entry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Amount)
	}
	return total
}
