// Package pricing acompanha a saúde dos feeds de odds, decide o provedor ativo
// e controla a admissão de novas apostas ao vivo (kill switch + gate).
package pricing

import (
	"time"
)

type Status string

// Valores consultivos: nunca são devolvidos como erro a quem chama
const (
	StatusHealthy Status = "healthy"
	StatusStale   Status = "stale"
	StatusDown    Status = "down"
)

type FeedHealth struct {
	Provider             string     `json:"provider"`
	LastUpdate           *time.Time `json:"last_update,omitempty"`
	StaleDurationSeconds float64    `json:"stale_duration_seconds"`
	Status               Status     `json:"status"`
}

func (h FeedHealth) Healthy() bool { return h.Status == StatusHealthy }

// Evaluate classifica um provedor: down se nunca visto, stale se passou de staleAfter
func Evaluate(provider string, lastUpdate time.Time, seen bool, now time.Time, staleAfter time.Duration) FeedHealth {
	h := FeedHealth{Provider: provider, Status: StatusDown}
	if !seen {
		return h
	}
	lu := lastUpdate
	h.LastUpdate = &lu
	age := now.Sub(lastUpdate)
	if age < 0 {
		age = 0
	}
	h.StaleDurationSeconds = age.Seconds()
	if age > staleAfter {
		h.Status = StatusStale
	} else {
		h.Status = StatusHealthy
	}
	return h
}

// Snapshot é o resultado de uma checagem do monitor, publicado para os outros processos
type Snapshot struct {
	Primary                 FeedHealth `json:"primary"`
	Secondary               FeedHealth `json:"secondary"`
	ActiveProvider          string     `json:"active_provider"`
	ShouldSuspendLiveEvents bool       `json:"should_suspend_live_events"`
	CheckedAt               time.Time  `json:"checked_at"`
}

// FailedOver indica roteamento para o secundário
func (s Snapshot) FailedOver() bool { return s.ActiveProvider != s.Primary.Provider }
