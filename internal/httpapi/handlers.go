package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/radieske/wager-integrity-core/internal/bet"
	"github.com/radieske/wager-integrity-core/internal/kyc"
	"github.com/radieske/wager-integrity-core/internal/payments"
)

func queryLimit(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func (s *Server) ledgerHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Ledger.History(r.Context(), chi.URLParam(r, "userID"), queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) ledgerVerify(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Ledger.Verify(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

func (s *Server) balance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.Ledger.Balance(r.Context(), userID(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"user_id": userID(r), "balance": bal.StringFixed(2)})
}

type placeBetRequest struct {
	Stake      decimal.Decimal `json:"stake"`
	Live       bool            `json:"live"`
	Selections []bet.Selection `json:"selections"`
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if !decode(w, r, &req) {
		return
	}
	slip, err := s.Bets.PlaceBet(r.Context(), bet.PlaceInput{
		UserID:     userID(r),
		Stake:      req.Stake,
		Live:       req.Live,
		Selections: req.Selections,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, slip)
}

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	slips, err := s.Bets.ListByUser(r.Context(), userID(r), queryLimit(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, slips)
}

func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	slip, err := s.Bets.Get(r.Context(), userID(r), chi.URLParam(r, "betID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, slip)
}

func (s *Server) requestCashout(w http.ResponseWriter, r *http.Request) {
	offer, err := s.Bets.RequestCashout(r.Context(), userID(r), chi.URLParam(r, "betID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, offer)
}

type acceptCashoutRequest struct {
	CashoutOffer *decimal.Decimal `json:"cashoutOffer"`
}

func (s *Server) acceptCashout(w http.ResponseWriter, r *http.Request) {
	var req acceptCashoutRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CashoutOffer == nil {
		respondError(w, http.StatusBadRequest, "cashoutOffer required")
		return
	}
	slip, err := s.Bets.AcceptCashout(r.Context(), userID(r), chi.URLParam(r, "betID"), *req.CashoutOffer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, slip)
}

type depositIntentRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Provider string          `json:"provider"`
}

// depositIntent só abre o pedido; o crédito vem de /v1/admin/deposits
func (s *Server) depositIntent(w http.ResponseWriter, r *http.Request) {
	var req depositIntentRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := s.Payments.CreateDepositIntent(r.Context(), userID(r), req.Provider, req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, in)
}

type kycRequest struct {
	NationalID string `json:"national_id"`
	LegalName  string `json:"legal_name"`
}

func (s *Server) submitKYC(w http.ResponseWriter, r *http.Request) {
	var req kycRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.Payments.SubmitIdentity(r.Context(), kyc.Identity{UserID: userID(r), NationalID: req.NationalID, LegalName: req.LegalName})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type withdrawalRequest struct {
	Amount      decimal.Decimal      `json:"amount"`
	Destination payments.Destination `json:"destination"`
}

// requestWithdrawal: saque retido volta 202 com o payout; rejeitado por nome, 422
func (s *Server) requestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawalRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.Payments.RequestWithdrawal(r.Context(), payments.WithdrawalInput{
		UserID:      userID(r),
		Amount:      req.Amount,
		Destination: req.Destination,
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, p)
	case p != nil && (errors.Is(err, payments.ErrApprovalRequired) || errors.Is(err, payments.ErrReviewRequired)):
		respondJSON(w, http.StatusAccepted, p)
	case p != nil && errors.Is(err, payments.ErrNameRejected):
		respondJSON(w, http.StatusUnprocessableEntity, p)
	default:
		s.fail(w, r, err)
	}
}

func (s *Server) listWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := s.Payments.List(r.Context(), payments.Filter{UserID: userID(r), Limit: queryLimit(r)})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) getWithdrawal(w http.ResponseWriter, r *http.Request) {
	p, err := s.Payments.Get(r.Context(), chi.URLParam(r, "payoutID"))
	if err == nil && p.UserID != userID(r) {
		err = payments.ErrNotFound
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
