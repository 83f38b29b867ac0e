package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore é um store em memória para testes e modo demo
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	byUser   map[string][]*Entry
	deposits map[string]bool // "refType:refID"
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byUser:   make(map[string][]*Entry),
		deposits: make(map[string]bool),
	}
}

func (m *MemoryStore) Append(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	normalize(e)
	return m.insertLocked(e)
}

func (m *MemoryStore) AppendNext(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Amount = round(e.Amount)
	chain(e, m.lastLocked(e.UserID))
	return m.insertLocked(e)
}

func (m *MemoryStore) insertLocked(e *Entry) error {
	prev := m.lastLocked(e.UserID)
	clampTime(e, prev)
	if err := validate(e, prev); err != nil {
		return err
	}
	if e.Type == TxDeposit {
		key := e.ReferenceType + ":" + e.ReferenceID
		if m.deposits[key] {
			return ErrDuplicateReference
		}
		m.deposits[key] = true
	}
	m.seq++
	e.Seq = m.seq
	cp := copyEntry(e)
	m.byUser[e.UserID] = append(m.byUser[e.UserID], &cp)
	return nil
}

func (m *MemoryStore) lastLocked(userID string) *Entry {
	list := m.byUser[userID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (m *MemoryStore) Last(ctx context.Context, userID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	last := m.lastLocked(userID)
	if last == nil {
		return nil, ErrNotFound
	}
	cp := copyEntry(last)
	return &cp, nil
}

func (m *MemoryStore) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byUser[userID]
	out := make([]Entry, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyEntry(list[i]))
	}
	return out, nil
}

func (m *MemoryStore) Chain(ctx context.Context, userID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byUser[userID]
	out := make([]Entry, 0, len(list))
	for _, e := range list {
		out = append(out, copyEntry(e))
	}
	// mesma ordem do Postgres: created_at, seq
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *MemoryStore) ListByType(ctx context.Context, userID string, t TxType, since time.Time) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, e := range m.byUser[userID] {
		if e.Type == t && !e.CreatedAt.Before(since) {
			out = append(out, copyEntry(e))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListInRange(ctx context.Context, t TxType, referenceType string, from, to time.Time) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Entry
	for _, list := range m.byUser {
		for _, e := range list {
			if e.Type != t || e.ReferenceType != referenceType {
				continue
			}
			if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
				continue
			}
			out = append(out, copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *MemoryStore) FindByReference(ctx context.Context, t TxType, referenceType, referenceID string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, list := range m.byUser {
		for _, e := range list {
			if e.Type == t && e.ReferenceType == referenceType && e.ReferenceID == referenceID {
				cp := copyEntry(e)
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

// Tamper altera uma entrada já gravada.
// Só existe para testes simularem corrupção do log.
func (m *MemoryStore) Tamper(userID string, index int, mutate func(e *Entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if list := m.byUser[userID]; index < len(list) {
		mutate(list[index])
	}
}

func copyEntry(e *Entry) Entry {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}
