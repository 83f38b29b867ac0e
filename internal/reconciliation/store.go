package reconciliation

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Store interface {
	// Insert falha com ErrAlreadyReconciled se (provider, data) já existe
	Insert(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	GetByProviderDate(ctx context.Context, provider string, date time.Time) (*Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
	SetTicket(ctx context.Context, id, ticketID string) error
	// MarkReconciled só grava reconciled_at uma vez
	MarkReconciled(ctx context.Context, id string, at time.Time) (*Record, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	byKey   map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), byKey: make(map[string]string)}
}

func key(provider string, date time.Time) string {
	return provider + "|" + date.Format(time.DateOnly)
}

func (m *MemoryStore) Insert(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(r.Provider, r.ReconciliationDate)
	if _, ok := m.byKey[k]; ok {
		return ErrAlreadyReconciled
	}
	cp := *r
	m.records[r.ID] = &cp
	m.byKey[k] = r.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetByProviderDate(ctx context.Context, provider string, date time.Time) (*Record, error) {
	m.mu.RLock()
	id, ok := m.byKey[key(provider, date)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if f.Provider != "" && r.Provider != f.Provider {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReconciliationDate.Equal(out[j].ReconciliationDate) {
			return out[i].ReconciliationDate.After(out[j].ReconciliationDate)
		}
		return out[i].Provider < out[j].Provider
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SetTicket(ctx context.Context, id, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	r.SupportTicketID = ticketID
	return nil
}

func (m *MemoryStore) MarkReconciled(ctx context.Context, id string, at time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.ReconciledAt == nil {
		r.ReconciledAt = &at
	}
	cp := *r
	return &cp, nil
}
