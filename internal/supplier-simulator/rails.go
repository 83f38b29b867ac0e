package simulator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/payments"
)

type transfer struct {
	Status           string `json:"status"`
	TransactionRef   string `json:"transaction_ref"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Message          string `json:"message,omitempty"`
}

// Rails simula os provedores de transferência. Cada payout_id é idempotente
// por trilho: repetir o pedido devolve a mesma referência.
type Rails struct {
	log *zap.Logger

	mu          sync.Mutex
	failureRate float64
	latency     time.Duration
	done        map[string]transfer // rail|payout_id
	seq         int
	roll        func() float64
}

func NewRails(log *zap.Logger) *Rails {
	return &Rails{
		log:     log,
		latency: 150 * time.Millisecond,
		done:    make(map[string]transfer),
		roll:    rand.Float64,
	}
}

// SetFailureRate define a fração de transferências que responde 502
func (r *Rails) SetFailureRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failureRate = min(max(rate, 0), 1)
}

func (r *Rails) SetLatency(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latency = d
}

func (r *Rails) handleTransfer(w http.ResponseWriter, req *http.Request) {
	rail := chi.URLParam(req, "rail")

	var in payments.RailRequest
	if err := json.NewDecoder(req.Body).Decode(&in); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if in.PayoutID == "" || !in.Amount.IsPositive() {
		http.Error(w, "payout_id and positive amount required", http.StatusBadRequest)
		return
	}

	key := rail + "|" + in.PayoutID
	r.mu.Lock()
	if prev, ok := r.done[key]; ok {
		r.mu.Unlock()
		transfersServed.WithLabelValues(rail, "replay").Inc()
		writeJSON(w, http.StatusOK, prev)
		return
	}
	fail := r.roll() < r.failureRate
	latency := r.latency
	r.mu.Unlock()

	select {
	case <-req.Context().Done():
		return
	case <-time.After(latency):
	}

	if fail {
		transfersServed.WithLabelValues(rail, "failed").Inc()
		r.log.Info("simulated rail failure", zap.String("rail", rail), zap.String("payout_id", in.PayoutID))
		http.Error(w, "rail temporarily unavailable", http.StatusBadGateway)
		return
	}

	r.mu.Lock()
	r.seq++
	t := transfer{
		Status:           "success",
		TransactionRef:   fmt.Sprintf("%s-%06d", strings.ToUpper(rail), r.seq),
		ProcessingTimeMs: latency.Milliseconds(),
	}
	r.done[key] = t
	r.mu.Unlock()

	transfersServed.WithLabelValues(rail, "success").Inc()
	writeJSON(w, http.StatusOK, t)
}

func (r *Rails) handleFailureRate(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Rate      float64 `json:"rate"`
		LatencyMs *int64  `json:"latency_ms,omitempty"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	r.SetFailureRate(body.Rate)
	if body.LatencyMs != nil {
		r.SetLatency(time.Duration(*body.LatencyMs) * time.Millisecond)
	}
	w.WriteHeader(http.StatusNoContent)
}
