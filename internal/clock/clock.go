// Package clock é a autoridade de tempo da plataforma: todo timestamp de
// negócio (ledger, ofertas, alertas, conciliação) passa por aqui.
package clock

import (
	"sync"
	"time"
)

// Source fornece o instante bruto; em produção é time.Now
type Source func() time.Time

type Authority struct {
	source Source
	offset time.Duration
	loc    *time.Location
}

type Option func(*Authority)

func WithSource(s Source) Option {
	return func(a *Authority) { a.source = s }
}

// WithOffset corrige drift conhecido do relógio do host
func WithOffset(d time.Duration) Option {
	return func(a *Authority) { a.offset = d }
}

func WithLocation(loc *time.Location) Option {
	return func(a *Authority) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func New(opts ...Option) *Authority {
	a := &Authority{source: time.Now, loc: time.UTC}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Now devolve o instante corrigido no fuso configurado
func (a *Authority) Now() time.Time {
	return a.source().Add(a.offset).In(a.loc)
}

// AuditTimestamp: UTC, precisão de microssegundo (o que o Postgres guarda)
func (a *Authority) AuditTimestamp() time.Time {
	return a.Now().UTC().Truncate(time.Microsecond)
}

// IsWithinWindow retorna true se now ∈ [start, end)
func (a *Authority) IsWithinWindow(start, end time.Time) bool {
	now := a.Now()
	return !now.Before(start) && now.Before(end)
}

// IsFresh indica se ts está a no máximo maxDriftSeconds de distância de now (em qualquer direção)
func (a *Authority) IsFresh(ts time.Time, maxDriftSeconds float64) bool {
	d := a.Now().Sub(ts)
	if d < 0 {
		d = -d
	}
	return d.Seconds() <= maxDriftSeconds
}

func (a *Authority) Since(ts time.Time) time.Duration {
	return a.Now().Sub(ts)
}

func (a *Authority) Location() *time.Location {
	return a.loc
}

// StartOfDay devolve a meia-noite do dia de t no fuso da autoridade
func (a *Authority) StartOfDay(t time.Time) time.Time {
	t = t.In(a.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, a.loc)
}

// Manual é uma fonte controlável, usada em testes e simulações
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}
