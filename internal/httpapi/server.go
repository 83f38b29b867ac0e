// Package httpapi expõe o núcleo financeiro em HTTP (chi) e o canal realtime em /ws.
// O usuário vem do gateway autenticado no header X-User-ID; rotas /v1/admin
// exigem X-Admin-ID.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/bet"
	"github.com/radieske/wager-integrity-core/internal/kyc"
	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/internal/payments"
	"github.com/radieske/wager-integrity-core/internal/pricing"
	"github.com/radieske/wager-integrity-core/internal/reconciliation"
)

type Ledger interface {
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	History(ctx context.Context, userID string, limit int) ([]ledger.Entry, error)
	Verify(ctx context.Context, userID string) (*ledger.Report, error)
}

type Bets interface {
	PlaceBet(ctx context.Context, in bet.PlaceInput) (*bet.Slip, error)
	Get(ctx context.Context, userID, betID string) (*bet.Slip, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]bet.Slip, error)
	Settle(ctx context.Context, betID string, outcome bet.Status) (*bet.Slip, error)
	RequestCashout(ctx context.Context, userID, betID string) (*bet.Offer, error)
	AcceptCashout(ctx context.Context, userID, betID string, amount decimal.Decimal) (*bet.Slip, error)
}

type Payments interface {
	CreateDepositIntent(ctx context.Context, userID, provider string, amount decimal.Decimal) (*payments.DepositIntent, error)
	ConfirmDeposit(ctx context.Context, adminID string, in payments.DepositInput) (*ledger.Entry, bool, error)
	SubmitIdentity(ctx context.Context, id kyc.Identity) error
	RequestWithdrawal(ctx context.Context, in payments.WithdrawalInput) (*payments.Payout, error)
	Get(ctx context.Context, id string) (*payments.Payout, error)
	List(ctx context.Context, f payments.Filter) ([]payments.Payout, error)
	Attempts(ctx context.Context, id string) ([]payments.Attempt, error)
	Approve(ctx context.Context, adminID, id string) (*payments.Payout, error)
	Reject(ctx context.Context, adminID, id, reason string) (*payments.Payout, error)
	Retry(ctx context.Context, adminID, id string) (*payments.Payout, error)
}

type Alerts interface {
	Get(ctx context.Context, id string) (*alert.SecurityAlert, error)
	List(ctx context.Context, f alert.Filter) ([]alert.SecurityAlert, error)
	Review(ctx context.Context, adminID, id string, to alert.Status) error
}

type KillSwitch interface {
	Get(ctx context.Context) (pricing.KillSwitch, error)
	Set(ctx context.Context, adminID string, enabled bool, reason string, expectedVersion int64) (pricing.KillSwitch, error)
}

type Reconciler interface {
	Run(ctx context.Context, actor, provider string, date time.Time, rows []reconciliation.SettlementRow) (*reconciliation.Record, error)
	Get(ctx context.Context, id string) (*reconciliation.Record, error)
	List(ctx context.Context, f reconciliation.Filter) ([]reconciliation.Record, error)
	MarkReconciled(ctx context.Context, adminID, id string) (*reconciliation.Record, error)
}

type Deps struct {
	Ledger         Ledger
	Bets           Bets
	Payments       Payments
	Alerts         Alerts
	KillSwitch     KillSwitch
	Reconciliation Reconciler
	Realtime       http.HandlerFunc // upgrade WebSocket; nil desliga /ws
	AllowedOrigins []string
	Timeout        time.Duration
	Log            *zap.Logger
}

type Server struct {
	Deps
}

func NewServer(d Deps) *Server {
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}
	return &Server{Deps: d}
}

// Router monta as rotas públicas e administrativas
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID", "X-Admin-ID"},
		MaxAge:         300,
	}))

	if s.Realtime != nil {
		r.Get("/ws", s.Realtime) // fora do timeout: conexão longa
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(s.Timeout))

		r.Group(func(r chi.Router) {
			r.Use(requireHeader("X-User-ID"))

			r.Get("/balance", s.balance)

			r.Post("/bets", s.placeBet)
			r.Get("/bets", s.listBets)
			r.Get("/bets/{betID}", s.getBet)
			r.Post("/bets/{betID}/cashout", s.requestCashout)
			r.Post("/bets/{betID}/cashout/accept", s.acceptCashout)

			r.Post("/deposits", s.depositIntent)
			r.Put("/kyc", s.submitKYC)
			r.Post("/withdrawals", s.requestWithdrawal)
			r.Get("/withdrawals", s.listWithdrawals)
			r.Get("/withdrawals/{payoutID}", s.getWithdrawal)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireHeader("X-Admin-ID"))

			r.Get("/ledger/{userID}/history", s.ledgerHistory)
			r.Get("/ledger/{userID}/verify", s.ledgerVerify)

			r.Post("/deposits", s.confirmDeposit)

			r.Get("/kill-switch", s.getKillSwitch)
			r.Put("/kill-switch", s.setKillSwitch)

			r.Get("/alerts", s.listAlerts)
			r.Get("/alerts/{alertID}", s.getAlert)
			r.Post("/alerts/{alertID}/review", s.reviewAlert)

			r.Post("/bets/{betID}/settle", s.settleBet)

			r.Get("/payouts", s.listPayouts)
			r.Get("/payouts/{payoutID}/attempts", s.payoutAttempts)
			r.Post("/payouts/{payoutID}/approve", s.approvePayout)
			r.Post("/payouts/{payoutID}/reject", s.rejectPayout)
			r.Post("/payouts/{payoutID}/retry", s.retryPayout)

			r.Get("/reconciliations", s.listReconciliations)
			r.Post("/reconciliation-runs/{provider}/{date}", s.runReconciliation)
			r.Get("/reconciliations/{recordID}", s.getReconciliation)
			r.Post("/reconciliations/{recordID}/reconciled", s.markReconciled)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimiddleware.GetReqID(r.Context())))
	})
}

func requireHeader(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(name) == "" {
				respondError(w, http.StatusUnauthorized, name+" header required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userID(r *http.Request) string  { return r.Header.Get("X-User-ID") }
func adminID(r *http.Request) string { return r.Header.Get("X-Admin-ID") }

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: http.StatusText(status), Message: message, Code: status})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "bad json")
		return false
	}
	return true
}
