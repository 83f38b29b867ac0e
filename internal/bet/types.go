// Package bet coordena o ciclo de vida das apostas e o cash-out.
// Toda transição de estado acontece junto com a escrita no ledger, na mesma transação.
package bet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCashedOut Status = "cashed_out"
	StatusWon       Status = "won"
	StatusLost      Status = "lost"
	StatusVoided    Status = "voided"
)

func (s Status) Terminal() bool { return s != StatusPending }

// Motivos gravados em consumed_reason
const (
	ConsumedAccepted   = "accepted"
	ConsumedSuperseded = "superseded"
	ConsumedSettled    = "settled"
)

var (
	ErrNotFound             = errors.New("bet slip not found")
	ErrNotOwner             = errors.New("bet slip belongs to another user")
	ErrInvalidBet           = errors.New("invalid bet")
	ErrInvalidOutcome       = errors.New("invalid settlement outcome")
	ErrAlreadySettled       = errors.New("bet slip already settled")
	ErrLiveSuspended        = errors.New("live wagering suspended")
	ErrNoOffer              = errors.New("no cash-out offer")
	ErrOfferExpired         = errors.New("cash-out offer expired")
	ErrOfferAlreadyConsumed = errors.New("cash-out offer already consumed")
	ErrOfferMismatch        = errors.New("cash-out amount does not match offer")
	ErrPricingUnavailable   = errors.New("pricing unavailable")
)

type Selection struct {
	EventID   string          `json:"event_id"`
	Market    string          `json:"market"`
	Selection string          `json:"selection"`
	Odds      decimal.Decimal `json:"odds"` // odd no momento da aposta
}

type Slip struct {
	ID           string           `json:"id"`
	UserID       string           `json:"user_id"`
	Stake        decimal.Decimal  `json:"stake"`
	TotalOdds    decimal.Decimal  `json:"total_odds"`
	PotentialWin decimal.Decimal  `json:"potential_win"`
	Status       Status           `json:"status"`
	Live         bool             `json:"live"`
	Selections   []Selection      `json:"selections"`
	Payout       *decimal.Decimal `json:"payout,omitempty"`
	Version      int              `json:"version"`
	CreatedAt    time.Time        `json:"created_at"`
	SettledAt    *time.Time       `json:"settled_at,omitempty"`
}

type Offer struct {
	ID             string          `json:"id"`
	BetSlipID      string          `json:"bet_slip_id"`
	UserID         string          `json:"user_id"`
	OfferAmount    decimal.Decimal `json:"offer_amount"`
	OriginalStake  decimal.Decimal `json:"original_stake"`
	PotentialWin   decimal.Decimal `json:"potential_win"`
	IssuedAt       time.Time       `json:"issued_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	ConsumedAt     *time.Time      `json:"consumed_at,omitempty"`
	ConsumedReason string          `json:"consumed_reason,omitempty"`
}

// Outstanding: ainda aceitável em now
func (o *Offer) Outstanding(now time.Time) bool {
	return o.ConsumedAt == nil && now.Before(o.ExpiresAt)
}

// View é o que a ressincronização devolve ao cliente
type View struct {
	Slip  Slip   `json:"bet_slip"`
	Offer *Offer `json:"cashout_offer,omitempty"`
}

func copySlip(s *Slip) Slip {
	cp := *s
	cp.Selections = append([]Selection(nil), s.Selections...)
	if s.Payout != nil {
		p := *s.Payout
		cp.Payout = &p
	}
	if s.SettledAt != nil {
		t := *s.SettledAt
		cp.SettledAt = &t
	}
	return cp
}

func copyOffer(o *Offer) Offer {
	cp := *o
	if o.ConsumedAt != nil {
		t := *o.ConsumedAt
		cp.ConsumedAt = &t
	}
	return cp
}
