package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/bet"
	"github.com/radieske/wager-integrity-core/internal/kyc"
	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/internal/payments"
	"github.com/radieske/wager-integrity-core/internal/pricing"
	"github.com/radieske/wager-integrity-core/internal/reconciliation"
)

type errorMapping struct {
	target  error
	status  int
	message string // vazio: usa err.Error()
}

// Mensagens ao cliente são curtas; o detalhe fica no log e no audit.
// Ordem importa: ErrLedgerAppend embrulha a causa do ledger.
var errorMappings = []errorMapping{
	{payments.ErrNotFound, http.StatusNotFound, "payout not found"},
	{payments.ErrInvalidAmount, http.StatusBadRequest, "invalid amount"},
	{payments.ErrInvalidTransition, http.StatusConflict, "payout cannot change state"},
	{payments.ErrMaxAttempts, http.StatusConflict, "payout attempts exhausted"},
	{payments.ErrAlreadyPaid, http.StatusConflict, "payout already paid, support notified"},
	{payments.ErrLedgerAppend, http.StatusInternalServerError, "payout failed, support notified"},
	{payments.ErrRailFailure, http.StatusBadGateway, "payout failed, support notified"},

	{ledger.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient funds"},
	{ledger.ErrDuplicateReference, http.StatusConflict, "reference already used"},
	{ledger.ErrIntegrity, http.StatusInternalServerError, "ledger unavailable"},

	{bet.ErrNotFound, http.StatusNotFound, "bet not found"},
	{bet.ErrNotOwner, http.StatusNotFound, "bet not found"},
	{bet.ErrInvalidBet, http.StatusBadRequest, ""},
	{bet.ErrInvalidOutcome, http.StatusBadRequest, ""},
	{bet.ErrAlreadySettled, http.StatusConflict, "bet already settled"},
	{bet.ErrLiveSuspended, http.StatusServiceUnavailable, "live betting suspended"},
	{bet.ErrNoOffer, http.StatusConflict, "no cash-out offer"},
	{bet.ErrOfferExpired, http.StatusGone, "cash-out offer expired"},
	{bet.ErrOfferAlreadyConsumed, http.StatusConflict, "cash-out offer already used"},
	{bet.ErrOfferMismatch, http.StatusConflict, "cash-out offer changed"},
	{bet.ErrPricingUnavailable, http.StatusServiceUnavailable, "cash-out unavailable"},

	{kyc.ErrInvalid, http.StatusBadRequest, ""},
	{kyc.ErrNotFound, http.StatusNotFound, "identity not found"},

	{alert.ErrNotFound, http.StatusNotFound, "alert not found"},
	{alert.ErrInvalidTransition, http.StatusConflict, ""},

	{pricing.ErrVersionConflict, http.StatusConflict, "kill switch changed, reload and retry"},

	{reconciliation.ErrNotFound, http.StatusNotFound, "reconciliation not found"},
	{reconciliation.ErrAlreadyReconciled, http.StatusConflict, "already reconciled"},
	{reconciliation.ErrInvalidFile, http.StatusBadRequest, ""},
}

func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			if m.message == "" {
				return m.status, err.Error()
			}
			return m.status, m.message
		}
	}
	return http.StatusInternalServerError, "internal error"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	respondError(w, status, msg)
}
