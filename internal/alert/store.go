package alert

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Store interface {
	Insert(ctx context.Context, a *SecurityAlert) error
	// InsertUnlessOpen grava a apenas se não existir alerta aberto do mesmo
	// tipo para o mesmo usuário criado a partir de since. Check e insert são atômicos.
	InsertUnlessOpen(ctx context.Context, a *SecurityAlert, since time.Time) (bool, error)
	Get(ctx context.Context, id string) (*SecurityAlert, error)
	UpdateStatus(ctx context.Context, id string, status Status, reviewedBy string, at time.Time) error
	List(ctx context.Context, f Filter) ([]SecurityAlert, error)
	HasOpenWithSeverity(ctx context.Context, userID string, sev Severity) (bool, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]*SecurityAlert
	order  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]*SecurityAlert)}
}

func (m *MemoryStore) Insert(ctx context.Context, a *SecurityAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(a)
	return nil
}

func (m *MemoryStore) insertLocked(a *SecurityAlert) {
	cp := *a
	m.alerts[a.ID] = &cp
	m.order = append(m.order, a.ID)
}

func (m *MemoryStore) InsertUnlessOpen(ctx context.Context, a *SecurityAlert, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		x := m.alerts[id]
		if x.UserID == a.UserID && x.Type == a.Type && x.Status.Open() && !x.CreatedAt.Before(since) {
			return false, nil
		}
	}
	m.insertLocked(a)
	return true, nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*SecurityAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, reviewedBy string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.ReviewedBy = reviewedBy
	a.UpdatedAt = at
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]SecurityAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SecurityAlert
	for _, id := range m.order {
		a := m.alerts[id]
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		out = append(out, *a)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) HasOpenWithSeverity(ctx context.Context, userID string, sev Severity) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.alerts {
		if a.UserID == userID && a.Severity == sev && a.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}
