package pricing

import (
	"context"
	"fmt"
	"time"
)

type OddsStore interface {
	Odds(ctx context.Context, provider, eventID, market, selection string) (float64, error)
}

// Quotes lê a odd corrente do provedor ativo para valorar cash-outs
type Quotes struct {
	odds    OddsStore
	status  StatusReader
	timeout time.Duration
}

func NewQuotes(odds OddsStore, status StatusReader, timeout time.Duration) *Quotes {
	return &Quotes{odds: odds, status: status, timeout: timeout}
}

func (q *Quotes) CurrentOdds(ctx context.Context, eventID, market, selection string) (float64, error) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	snap, err := q.status.LoadStatus(ctx)
	if err != nil {
		return 0, fmt.Errorf("load pricing status: %w", err)
	}
	if snap == nil || snap.ShouldSuspendLiveEvents {
		return 0, fmt.Errorf("%w: no healthy provider", ErrNoQuote)
	}
	odd, err := q.odds.Odds(ctx, snap.ActiveProvider, eventID, market, selection)
	if err != nil {
		return 0, err
	}
	if odd <= 1 {
		return 0, fmt.Errorf("%w: invalid odds %v", ErrNoQuote, odd)
	}
	return odd, nil
}
