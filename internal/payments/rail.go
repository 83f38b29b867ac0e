package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/wager-integrity-core/internal/clock"
)

// Rail é um adaptador de trilho de pagamento
type Rail interface {
	Name() string
	Submit(ctx context.Context, req RailRequest) (RailResult, error)
}

type RailRequest struct {
	PayoutID    string          `json:"payout_id"` // chave de idempotência no provedor
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Destination Destination     `json:"destination"`
}

type RailResult struct {
	Status         string        `json:"status"`
	TransactionRef string        `json:"transaction_ref"`
	ProcessingTime time.Duration `json:"-"`
}

// HTTPRail fala JSON com o provedor: POST {base}/transfers. Sem processing_time_ms
// na resposta, o tempo é medido pela autoridade de tempo.
type HTTPRail struct {
	name   string
	base   string
	client *http.Client
	clock  *clock.Authority
}

func NewHTTPRail(name, baseURL string, client *http.Client, clk *clock.Authority) *HTTPRail {
	if client == nil {
		client = &http.Client{}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &HTTPRail{name: name, base: strings.TrimRight(baseURL, "/"), client: client, clock: clk}
}

func (r *HTTPRail) Name() string { return r.name }

type transferResponse struct {
	Status           string `json:"status"`
	TransactionRef   string `json:"transaction_ref"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Message          string `json:"message"`
}

func (r *HTTPRail) Submit(ctx context.Context, req RailRequest) (RailResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return RailResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+"/transfers", bytes.NewReader(body))
	if err != nil {
		return RailResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.PayoutID)

	started := r.clock.Now()
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return RailResult{}, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return RailResult{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var tr transferResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return RailResult{}, fmt.Errorf("decode rail response: %w", err)
	}
	if tr.Status != "success" {
		return RailResult{}, fmt.Errorf("transfer %s: %s", tr.Status, tr.Message)
	}
	if tr.TransactionRef == "" {
		return RailResult{}, errors.New("rail returned no transaction reference")
	}

	res := RailResult{Status: tr.Status, TransactionRef: tr.TransactionRef, ProcessingTime: r.clock.Since(started)}
	if tr.ProcessingTimeMs > 0 {
		res.ProcessingTime = time.Duration(tr.ProcessingTimeMs) * time.Millisecond
	}
	return res, nil
}
