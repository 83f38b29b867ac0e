package bet

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/pkg/contracts/events"
)

// Broadcaster entrega mensagens realtime; entrega at-least-once, sem garantia de ordem
type Broadcaster interface {
	Broadcast(ctx context.Context, msg events.RealtimeMessage) error
}

// Admission decide se novas apostas ao vivo podem entrar
type Admission interface {
	AllowNewLiveWager(ctx context.Context) (bool, string)
}

// Valuator devolve a odd corrente de uma seleção
type Valuator interface {
	CurrentOdds(ctx context.Context, eventID, market, selection string) (float64, error)
}

// Ledger monta entradas e observa o resultado dos appends feitos pelo store
type Ledger interface {
	Entry(p ledger.Posting) *ledger.Entry
	Observe(e *ledger.Entry, err error)
}

type Config struct {
	OfferTTL   time.Duration
	Margin     decimal.Decimal
	PurgeGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		OfferTTL:   30 * time.Second,
		Margin:     decimal.RequireFromString("0.05"),
		PurgeGrace: time.Hour,
	}
}

// Códigos enviados em cashout.error
const (
	ReasonExpired      = "offer_expired"
	ReasonConsumed     = "offer_already_consumed"
	ReasonMismatch     = "offer_mismatch"
	ReasonNoOffer      = "no_offer"
	ReasonNotPending   = "bet_not_pending"
	ReasonPricing      = "pricing_unavailable"
	ReasonNotFound     = "bet_not_found"
	ReasonInsufficient = "insufficient_funds"
	ReasonInternal     = "internal_error"
)

const (
	maxSelectionsPerSlip = 20
	minOfferAmount       = "0.01"
	defaultListLimit     = 50
)

type PlaceInput struct {
	UserID     string
	Stake      decimal.Decimal
	Live       bool
	Selections []Selection
}

type Coordinator struct {
	cfg       Config
	store     Store
	ledger    Ledger
	admission Admission
	valuator  Valuator
	bcast     Broadcaster
	clock     *clock.Authority
	log       *zap.Logger
}

func NewCoordinator(cfg Config, store Store, l Ledger, adm Admission, val Valuator, b Broadcaster, clk *clock.Authority, log *zap.Logger) *Coordinator {
	return &Coordinator{cfg: cfg, store: store, ledger: l, admission: adm, valuator: val, bcast: b, clock: clk, log: log}
}

// PlaceBet valida a aposta, consulta o gate para apostas ao vivo e grava aposta + débito do stake
func (c *Coordinator) PlaceBet(ctx context.Context, in PlaceInput) (*Slip, error) {
	s, err := c.buildSlip(in)
	if err != nil {
		betsRejected.WithLabelValues("invalid").Inc()
		return nil, err
	}
	if s.Live {
		if ok, reason := c.admission.AllowNewLiveWager(ctx); !ok {
			betsRejected.WithLabelValues(reason).Inc()
			c.log.Info("live wager refused", zap.String("user_id", s.UserID), zap.String("reason", reason))
			return nil, fmt.Errorf("%w: %s", ErrLiveSuspended, reason)
		}
	}

	stake := c.ledger.Entry(ledger.Posting{
		UserID:        s.UserID,
		Type:          ledger.TxBetStake,
		Amount:        s.Stake.Neg(),
		ReferenceType: ledger.RefBetSlip,
		ReferenceID:   s.ID,
		Description:   "bet stake",
	})
	err = c.store.Place(ctx, s, stake)
	c.ledger.Observe(stake, err)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			betsRejected.WithLabelValues("insufficient_funds").Inc()
		}
		return nil, err
	}

	betsPlaced.WithLabelValues(strconv.FormatBool(s.Live)).Inc()
	c.log.Info("bet placed",
		zap.String("bet_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.String("stake", s.Stake.StringFixed(2)),
		zap.Bool("live", s.Live))
	return s, nil
}

func (c *Coordinator) buildSlip(in PlaceInput) (*Slip, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidBet)
	}
	stake := in.Stake.Round(2)
	if !stake.IsPositive() {
		return nil, fmt.Errorf("%w: stake must be positive", ErrInvalidBet)
	}
	if len(in.Selections) == 0 || len(in.Selections) > maxSelectionsPerSlip {
		return nil, fmt.Errorf("%w: between 1 and %d selections", ErrInvalidBet, maxSelectionsPerSlip)
	}

	total := decimal.NewFromInt(1)
	seen := make(map[string]bool, len(in.Selections))
	for _, sel := range in.Selections {
		if sel.EventID == "" || sel.Market == "" || sel.Selection == "" {
			return nil, fmt.Errorf("%w: incomplete selection", ErrInvalidBet)
		}
		if !sel.Odds.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: odds must be greater than 1", ErrInvalidBet)
		}
		if seen[sel.EventID] {
			return nil, fmt.Errorf("%w: duplicate event %s", ErrInvalidBet, sel.EventID)
		}
		seen[sel.EventID] = true
		total = total.Mul(sel.Odds)
	}
	total = total.Round(4)
	win := stake.Mul(total).Round(2)
	if !win.GreaterThan(stake) {
		return nil, fmt.Errorf("%w: potential win must exceed stake", ErrInvalidBet)
	}

	return &Slip{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		Stake:        stake,
		TotalOdds:    total,
		PotentialWin: win,
		Status:       StatusPending,
		Live:         in.Live,
		Selections:   append([]Selection(nil), in.Selections...),
		Version:      1,
		CreatedAt:    c.clock.AuditTimestamp(),
	}, nil
}

// Settle fecha a aposta com o resultado. Nunca consulta o gate: liquidação
// segue mesmo com kill switch ligado.
func (c *Coordinator) Settle(ctx context.Context, betID string, outcome Status) (*Slip, error) {
	if outcome != StatusWon && outcome != StatusLost && outcome != StatusVoided {
		return nil, ErrInvalidOutcome
	}
	s, err := c.store.Get(ctx, betID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return nil, ErrAlreadySettled
	}

	st := Settlement{BetID: betID, Status: outcome, Payout: decimal.Zero, SettledAt: c.clock.AuditTimestamp()}
	switch outcome {
	case StatusWon:
		st.Payout = s.PotentialWin
		st.Credit = c.credit(s, ledger.TxBetWin, s.PotentialWin, "bet won")
	case StatusVoided:
		st.Payout = s.Stake
		st.Credit = c.credit(s, ledger.TxBetRefund, s.Stake, "bet voided")
	}

	settled, err := c.store.Settle(ctx, st)
	if st.Credit != nil && !errors.Is(err, ErrAlreadySettled) {
		c.ledger.Observe(st.Credit, err)
	}
	if err != nil {
		return nil, err
	}

	settlements.WithLabelValues(string(outcome)).Inc()
	c.log.Info("bet settled", zap.String("bet_id", betID), zap.String("outcome", string(outcome)))
	c.broadcast(ctx, events.RealtimeMessage{
		Type:      events.TypeBetSettled,
		BetSlipID: betID,
		Status:    string(outcome),
	})
	return settled, nil
}

func (c *Coordinator) credit(s *Slip, t ledger.TxType, amount decimal.Decimal, desc string) *ledger.Entry {
	return c.ledger.Entry(ledger.Posting{
		UserID:        s.UserID,
		Type:          t,
		Amount:        amount,
		ReferenceType: ledger.RefBetSlip,
		ReferenceID:   s.ID,
		Description:   desc,
	})
}

// RequestCashout calcula e grava uma oferta nova, substituindo a anterior
func (c *Coordinator) RequestCashout(ctx context.Context, userID, betID string) (*Offer, error) {
	s, err := c.owned(ctx, userID, betID)
	if err != nil {
		c.cashoutError(ctx, betID, err)
		return nil, err
	}
	if s.Status != StatusPending {
		c.cashoutError(ctx, betID, ErrAlreadySettled)
		return nil, ErrAlreadySettled
	}

	amount, err := c.value(ctx, s)
	if err != nil {
		c.cashoutError(ctx, betID, err)
		return nil, err
	}

	now := c.clock.AuditTimestamp()
	o := &Offer{
		ID:            uuid.NewString(),
		BetSlipID:     s.ID,
		UserID:        s.UserID,
		OfferAmount:   amount,
		OriginalStake: s.Stake,
		PotentialWin:  s.PotentialWin,
		IssuedAt:      now,
		ExpiresAt:     now.Add(c.cfg.OfferTTL),
	}
	if err := c.store.SaveOffer(ctx, o); err != nil {
		return nil, err
	}
	offersIssued.Inc()

	expiresIn := int(c.cfg.OfferTTL.Seconds())
	c.broadcast(ctx, events.RealtimeMessage{
		Type:         events.TypeCashoutOffered,
		BetSlipID:    s.ID,
		CashoutOffer: &o.OfferAmount,
		ExpiresIn:    &expiresIn,
	})
	return o, nil
}

// value: stake × Π(odd na aposta / odd atual) × (1 − margem), limitado a
// potential_win − 0.01 e no mínimo 0.01, truncado em centavos.
func (c *Coordinator) value(ctx context.Context, s *Slip) (decimal.Decimal, error) {
	factor := decimal.NewFromInt(1)
	for _, sel := range s.Selections {
		cur, err := c.valuator.CurrentOdds(ctx, sel.EventID, sel.Market, sel.Selection)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: %s/%s: %v", ErrPricingUnavailable, sel.EventID, sel.Selection, err)
		}
		factor = factor.Mul(sel.Odds).Div(decimal.NewFromFloat(cur))
	}

	one := decimal.NewFromInt(1)
	floor := decimal.RequireFromString(minOfferAmount)
	amount := s.Stake.Mul(factor).Mul(one.Sub(c.cfg.Margin))
	if ceiling := s.PotentialWin.Sub(floor); amount.GreaterThan(ceiling) {
		amount = ceiling
	}
	amount = amount.Truncate(2)
	if amount.LessThan(floor) {
		amount = floor
	}
	return amount, nil
}

// AcceptCashout aceita a oferta vigente. Concorrência otimista: só uma
// aceitação consome a oferta; a outra recebe ErrOfferAlreadyConsumed.
func (c *Coordinator) AcceptCashout(ctx context.Context, userID, betID string, amount decimal.Decimal) (*Slip, error) {
	s, err := c.accept(ctx, userID, betID, amount)
	if err != nil {
		acceptResults.WithLabelValues(reasonFor(err)).Inc()
		c.cashoutError(ctx, betID, err)
		return nil, err
	}
	acceptResults.WithLabelValues("success").Inc()
	c.log.Info("cashout accepted",
		zap.String("bet_id", betID),
		zap.String("user_id", userID),
		zap.String("amount", s.Payout.StringFixed(2)))
	c.broadcast(ctx, events.RealtimeMessage{
		Type:         events.TypeCashoutSuccess,
		BetSlipID:    betID,
		Status:       string(s.Status),
		CashoutOffer: s.Payout,
	})
	return s, nil
}

func (c *Coordinator) accept(ctx context.Context, userID, betID string, amount decimal.Decimal) (*Slip, error) {
	s, err := c.owned(ctx, userID, betID)
	if err != nil {
		return nil, err
	}
	o, err := c.store.LatestOffer(ctx, betID)
	if errors.Is(err, ErrNoOffer) && s.Status != StatusPending {
		return nil, ErrAlreadySettled
	}
	if err != nil {
		return nil, err
	}
	if o.ConsumedAt != nil {
		if o.ConsumedReason == ConsumedSettled {
			return nil, ErrAlreadySettled
		}
		return nil, ErrOfferAlreadyConsumed
	}
	if !c.clock.IsWithinWindow(o.IssuedAt, o.ExpiresAt) {
		return nil, ErrOfferExpired
	}
	if !amount.Round(2).Equal(o.OfferAmount) {
		return nil, ErrOfferMismatch
	}

	credit := c.credit(s, ledger.TxCashout, o.OfferAmount, "cash-out")
	out, err := c.store.AcceptOffer(ctx, o.ID, c.clock.AuditTimestamp(), credit)
	if err == nil || !isBetError(err) {
		c.ledger.Observe(credit, err)
	}
	return out, err
}

// Resync devolve o estado durável da aposta e a oferta ainda aceitável, se houver
func (c *Coordinator) Resync(ctx context.Context, userID, betID string) (*View, error) {
	s, err := c.owned(ctx, userID, betID)
	if err != nil {
		return nil, err
	}
	v := &View{Slip: *s}
	if s.Status != StatusPending {
		return v, nil
	}
	o, err := c.store.LatestOffer(ctx, betID)
	switch {
	case errors.Is(err, ErrNoOffer):
	case err != nil:
		return nil, err
	case o.Outstanding(c.clock.Now()):
		v.Offer = o
	}
	return v, nil
}

// ResyncMessages traduz o estado durável para mensagens realtime (usado na reconexão)
func (c *Coordinator) ResyncMessages(ctx context.Context, userID, betID string) ([]events.RealtimeMessage, error) {
	v, err := c.Resync(ctx, userID, betID)
	if err != nil {
		return nil, err
	}
	msgs := []events.RealtimeMessage{{
		Type:      events.TypeBetStatus,
		BetSlipID: betID,
		Status:    string(v.Slip.Status),
	}}
	if v.Offer != nil {
		left := int(v.Offer.ExpiresAt.Sub(c.clock.Now()).Seconds())
		amount := v.Offer.OfferAmount
		msgs = append(msgs, events.RealtimeMessage{
			Type:         events.TypeCashoutOffered,
			BetSlipID:    betID,
			CashoutOffer: &amount,
			ExpiresIn:    &left,
		})
	}
	return msgs, nil
}

// NotifySelectionUpdated avisa as apostas pendentes de um evento que a odd mudou
func (c *Coordinator) NotifySelectionUpdated(ctx context.Context, eventID string) (int, error) {
	slips, err := c.store.ListPendingByEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	for _, s := range slips {
		c.broadcast(ctx, events.RealtimeMessage{
			Type:      events.TypeSelectionUpdated,
			BetSlipID: s.ID,
			Status:    string(s.Status),
			EventID:   eventID,
		})
	}
	return len(slips), nil
}

// PurgeExpiredOffers remove ofertas vencidas há mais que PurgeGrace
func (c *Coordinator) PurgeExpiredOffers(ctx context.Context) (int64, error) {
	n, err := c.store.PurgeOffers(ctx, c.clock.Now().Add(-c.cfg.PurgeGrace))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.log.Info("expired cashout offers purged", zap.Int64("count", n))
	}
	return n, nil
}

func (c *Coordinator) Get(ctx context.Context, userID, betID string) (*Slip, error) {
	return c.owned(ctx, userID, betID)
}

func (c *Coordinator) ListByUser(ctx context.Context, userID string, limit int) ([]Slip, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return c.store.ListByUser(ctx, userID, limit)
}

func (c *Coordinator) owned(ctx context.Context, userID, betID string) (*Slip, error) {
	s, err := c.store.Get(ctx, betID)
	if err != nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, ErrNotOwner
	}
	return s, nil
}

func (c *Coordinator) cashoutError(ctx context.Context, betID string, err error) {
	c.broadcast(ctx, events.RealtimeMessage{
		Type:      events.TypeCashoutError,
		BetSlipID: betID,
		Error:     reasonFor(err),
	})
}

func (c *Coordinator) broadcast(ctx context.Context, msg events.RealtimeMessage) {
	if c.bcast == nil {
		return
	}
	if err := c.bcast.Broadcast(ctx, msg); err != nil {
		c.log.Warn("realtime broadcast failed",
			zap.String("type", msg.Type),
			zap.String("bet_id", msg.BetSlipID),
			zap.Error(err))
	}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrOfferExpired):
		return ReasonExpired
	case errors.Is(err, ErrOfferAlreadyConsumed):
		return ReasonConsumed
	case errors.Is(err, ErrOfferMismatch):
		return ReasonMismatch
	case errors.Is(err, ErrNoOffer):
		return ReasonNoOffer
	case errors.Is(err, ErrAlreadySettled):
		return ReasonNotPending
	case errors.Is(err, ErrPricingUnavailable):
		return ReasonPricing
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotOwner):
		return ReasonNotFound
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return ReasonInsufficient
	default:
		return ReasonInternal
	}
}

func isBetError(err error) bool {
	for _, target := range []error{ErrOfferExpired, ErrOfferAlreadyConsumed, ErrNoOffer, ErrAlreadySettled, ErrNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
