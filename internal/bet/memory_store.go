package bet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/radieske/wager-integrity-core/internal/ledger"
)

// MemoryStore guarda apostas em memória e escreve no ledger informado.
// Todas as mutações passam pelo mesmo mutex, o que dá a atomicidade que o
// Postgres dá com transação.
type MemoryStore struct {
	mu     sync.Mutex
	ledger ledger.Store
	slips  map[string]*Slip
	offers map[string]*Offer
	order  []string // ofertas por ordem de emissão
}

func NewMemoryStore(l ledger.Store) *MemoryStore {
	return &MemoryStore{
		ledger: l,
		slips:  make(map[string]*Slip),
		offers: make(map[string]*Offer),
	}
}

func (m *MemoryStore) Place(ctx context.Context, s *Slip, stake *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ledger.AppendNext(ctx, stake); err != nil {
		return err
	}
	cp := copySlip(s)
	m.slips[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copySlip(s)
	return &cp, nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slip
	for _, s := range m.slips {
		if s.UserID == userID {
			out = append(out, copySlip(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Settle(ctx context.Context, st Settlement) (*Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slips[st.BetID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusPending {
		return nil, ErrAlreadySettled
	}
	if st.Credit != nil {
		if err := m.ledger.AppendNext(ctx, st.Credit); err != nil {
			return nil, err
		}
	}
	m.closeLocked(s, st.Status, st)
	for _, o := range m.offers {
		if o.BetSlipID == s.ID && o.ConsumedAt == nil {
			t := st.SettledAt
			o.ConsumedAt, o.ConsumedReason = &t, ConsumedSettled
		}
	}
	cp := copySlip(s)
	return &cp, nil
}

func (m *MemoryStore) closeLocked(s *Slip, status Status, st Settlement) {
	payout, at := st.Payout, st.SettledAt
	s.Status = status
	s.Payout = &payout
	s.SettledAt = &at
	s.Version++
}

func (m *MemoryStore) SaveOffer(ctx context.Context, o *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slips[o.BetSlipID]; !ok {
		return ErrNotFound
	}
	for _, prev := range m.offers {
		if prev.BetSlipID == o.BetSlipID && prev.ConsumedAt == nil {
			t := o.IssuedAt
			prev.ConsumedAt, prev.ConsumedReason = &t, ConsumedSuperseded
		}
	}
	cp := copyOffer(o)
	m.offers[o.ID] = &cp
	m.order = append(m.order, o.ID)
	return nil
}

func (m *MemoryStore) LatestOffer(ctx context.Context, betID string) (*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		o, ok := m.offers[m.order[i]]
		if ok && o.BetSlipID == betID {
			cp := copyOffer(o)
			return &cp, nil
		}
	}
	return nil, ErrNoOffer
}

func (m *MemoryStore) AcceptOffer(ctx context.Context, offerID string, now time.Time, credit *ledger.Entry) (*Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[offerID]
	if !ok {
		return nil, ErrNoOffer
	}
	if o.ConsumedAt != nil {
		return nil, ErrOfferAlreadyConsumed
	}
	if !now.Before(o.ExpiresAt) {
		return nil, ErrOfferExpired
	}
	s, ok := m.slips[o.BetSlipID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusPending {
		return nil, ErrAlreadySettled
	}
	if err := m.ledger.AppendNext(ctx, credit); err != nil {
		return nil, err
	}

	t := now
	o.ConsumedAt, o.ConsumedReason = &t, ConsumedAccepted
	m.closeLocked(s, StatusCashedOut, Settlement{Payout: o.OfferAmount, SettledAt: now})
	cp := copySlip(s)
	return &cp, nil
}

func (m *MemoryStore) ListPendingByEvent(ctx context.Context, eventID string) ([]Slip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slip
	for _, s := range m.slips {
		if s.Status != StatusPending {
			continue
		}
		for _, sel := range s.Selections {
			if sel.EventID == eventID {
				out = append(out, copySlip(s))
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) PurgeOffers(ctx context.Context, expiredBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	kept := m.order[:0]
	for _, id := range m.order {
		if o := m.offers[id]; o.ExpiresAt.Before(expiredBefore) {
			delete(m.offers, id)
			n++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return n, nil
}
