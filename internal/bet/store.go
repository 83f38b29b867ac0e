package bet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/wager-integrity-core/internal/ledger"
)

// Settlement descreve a transição final de uma aposta
type Settlement struct {
	BetID     string
	Status    Status
	Payout    decimal.Decimal
	SettledAt time.Time
	Credit    *ledger.Entry // nil quando não há crédito (lost)
}

// Store persiste apostas e ofertas. Os métodos que recebem entradas de ledger
// gravam tudo ou nada.
type Store interface {
	Place(ctx context.Context, s *Slip, stake *ledger.Entry) error
	Get(ctx context.Context, id string) (*Slip, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Slip, error)
	// Settle falha com ErrAlreadySettled se a aposta não estiver pending
	Settle(ctx context.Context, st Settlement) (*Slip, error)

	// SaveOffer invalida ofertas anteriores ainda abertas da mesma aposta
	SaveOffer(ctx context.Context, o *Offer) error
	LatestOffer(ctx context.Context, betID string) (*Offer, error)
	// AcceptOffer consome a oferta (se aberta e não expirada em now), fecha a aposta
	// como cashed_out e grava o crédito, atomicamente
	AcceptOffer(ctx context.Context, offerID string, now time.Time, credit *ledger.Entry) (*Slip, error)
	ListPendingByEvent(ctx context.Context, eventID string) ([]Slip, error)
	PurgeOffers(ctx context.Context, expiredBefore time.Time) (int64, error)
}
