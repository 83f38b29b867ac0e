package payments

import (
	"context"
	"errors"
	"time"

	"github.com/radieske/wager-integrity-core/internal/circuitbreaker"
)

type RouterConfig struct {
	DefaultRail   string
	FastRail      string
	FastBankCodes []string
	Timeout       time.Duration
}

// Router escolhe o trilho pelo banco de destino e executa a chamada com
// timeout explícito e breaker por trilho. Não há fallback entre trilhos.
type Router struct {
	cfg     RouterConfig
	rails   map[string]Rail
	fast    map[string]bool
	breaker *circuitbreaker.Breaker
}

func NewRouter(cfg RouterConfig, breaker *circuitbreaker.Breaker, rails ...Rail) *Router {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	r := &Router{cfg: cfg, rails: make(map[string]Rail), fast: make(map[string]bool), breaker: breaker}
	for _, rail := range rails {
		r.rails[rail.Name()] = rail
	}
	for _, code := range cfg.FastBankCodes {
		r.fast[code] = true
	}
	return r
}

// Select devolve o nome do trilho para o banco de destino
func (r *Router) Select(bankCode string) string {
	if r.fast[bankCode] {
		if _, ok := r.rails[r.cfg.FastRail]; ok {
			return r.cfg.FastRail
		}
	}
	return r.cfg.DefaultRail
}

// Submit envia ao trilho nomeado. Toda falha volta como *RailError.
func (r *Router) Submit(ctx context.Context, railName string, req RailRequest) (RailResult, error) {
	rail, ok := r.rails[railName]
	if !ok {
		return RailResult{}, &RailError{Rail: railName, Err: ErrUnknownRail}
	}
	if r.breaker != nil && !r.breaker.Allow(railName) {
		return RailResult{}, &RailError{Rail: railName, Err: ErrBreakerOpen}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	res, err := rail.Submit(ctx, req)
	if err != nil {
		if r.breaker != nil {
			r.breaker.RecordFailure(railName)
		}
		timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
		return RailResult{}, &RailError{Rail: railName, Timeout: timeout, Err: err}
	}
	if r.breaker != nil {
		r.breaker.RecordSuccess(railName)
	}
	return res, nil
}
