package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/bet"
	"github.com/radieske/wager-integrity-core/internal/payments"
	"github.com/radieske/wager-integrity-core/internal/reconciliation"
)

func (s *Server) getKillSwitch(w http.ResponseWriter, r *http.Request) {
	ks, err := s.KillSwitch.Get(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ks)
}

type killSwitchRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
	Version int64  `json:"version"` // versão lida; conflito se outro admin mudou antes
}

func (s *Server) setKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if !decode(w, r, &req) {
		return
	}
	ks, err := s.KillSwitch.Set(r.Context(), adminID(r), req.Enabled, req.Reason, req.Version)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ks)
}

type confirmDepositRequest struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Provider  string          `json:"provider"`
	Reference string          `json:"reference"`
}

// confirmDeposit credita o depósito confirmado pelo provedor; repetição devolve 200
func (s *Server) confirmDeposit(w http.ResponseWriter, r *http.Request) {
	var req confirmDepositRequest
	if !decode(w, r, &req) {
		return
	}
	e, created, err := s.Payments.ConfirmDeposit(r.Context(), adminID(r), payments.DepositInput{
		UserID:    req.UserID,
		Amount:    req.Amount,
		Provider:  req.Provider,
		Reference: req.Reference,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	respondJSON(w, status, e)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.Alerts.List(r.Context(), alert.Filter{
		UserID: q.Get("user_id"),
		Status: alert.Status(q.Get("status")),
		Type:   alert.Type(q.Get("type")),
		Limit:  queryLimit(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.Alerts.Get(r.Context(), chi.URLParam(r, "alertID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) reviewAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status alert.Status `json:"status"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := s.Alerts.Review(r.Context(), adminID(r), chi.URLParam(r, "alertID"), req.Status); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) settleBet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome bet.Status `json:"outcome"`
	}
	if !decode(w, r, &req) {
		return
	}
	slip, err := s.Bets.Settle(r.Context(), chi.URLParam(r, "betID"), req.Outcome)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, slip)
}

func (s *Server) listPayouts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.Payments.List(r.Context(), payments.Filter{
		UserID: q.Get("user_id"),
		Status: payments.Status(q.Get("status")),
		Limit:  queryLimit(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) payoutAttempts(w http.ResponseWriter, r *http.Request) {
	list, err := s.Payments.Attempts(r.Context(), chi.URLParam(r, "payoutID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (s *Server) approvePayout(w http.ResponseWriter, r *http.Request) {
	s.payoutAction(w, r, func(id string) (*payments.Payout, error) {
		return s.Payments.Approve(r.Context(), adminID(r), id)
	})
}

func (s *Server) rejectPayout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	s.payoutAction(w, r, func(id string) (*payments.Payout, error) {
		return s.Payments.Reject(r.Context(), adminID(r), id, req.Reason)
	})
}

func (s *Server) retryPayout(w http.ResponseWriter, r *http.Request) {
	s.payoutAction(w, r, func(id string) (*payments.Payout, error) {
		return s.Payments.Retry(r.Context(), adminID(r), id)
	})
}

func (s *Server) payoutAction(w http.ResponseWriter, r *http.Request, fn func(id string) (*payments.Payout, error)) {
	p, err := fn(chi.URLParam(r, "payoutID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) listReconciliations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.Reconciliation.List(r.Context(), reconciliation.Filter{
		Provider: q.Get("provider"),
		Status:   reconciliation.Status(q.Get("status")),
		Limit:    queryLimit(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// runReconciliation recebe o arquivo de liquidação (CSV) no corpo
func (s *Server) runReconciliation(w http.ResponseWriter, r *http.Request) {
	date, err := time.Parse(time.DateOnly, chi.URLParam(r, "date"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	rows, err := reconciliation.ParseSettlement(http.MaxBytesReader(w, r.Body, 32<<20))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rec, err := s.Reconciliation.Run(r.Context(), adminID(r), chi.URLParam(r, "provider"), date, rows)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) getReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Reconciliation.Get(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) markReconciled(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Reconciliation.MarkReconciled(r.Context(), adminID(r), chi.URLParam(r, "recordID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}
