package payments

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/wager-integrity-core/internal/ledger"
)

// Store persiste saques e tentativas. Transições são condicionais ao estado atual.
type Store interface {
	Create(ctx context.Context, p *Payout) error
	Get(ctx context.Context, id string) (*Payout, error)
	List(ctx context.Context, f Filter) ([]Payout, error)
	Transition(ctx context.Context, id string, from []Status, to Status, errMsg string, at time.Time) (*Payout, error)
	// Reopen volta failed → processing se ainda há tentativas e o trilho nunca pagou
	Reopen(ctx context.Context, id string, at time.Time) (*Payout, error)
	// StartAttempt exige status processing e tentativas disponíveis, e reserva o valor:
	// saldo do ledger menos saques em voo do usuário precisa cobrir o payout, senão
	// devolve ledger.ErrInsufficientFunds sem abrir tentativa.
	StartAttempt(ctx context.Context, id string, at time.Time) (*Payout, *Attempt, error)
	FailAttempt(ctx context.Context, id string, o Outcome) (*Payout, error)
	// Complete fecha a tentativa, marca completed e grava o débito numa transação só
	Complete(ctx context.Context, id string, o Outcome, debit *ledger.Entry) (*Payout, error)
	// MarkLedgerFailed registra que o trilho pagou mas o débito não entrou
	MarkLedgerFailed(ctx context.Context, id string, o Outcome) (*Payout, error)
	Attempts(ctx context.Context, id string) ([]Attempt, error)
}

type MemoryStore struct {
	mu       sync.Mutex
	ledger   ledger.Store
	payouts  map[string]*Payout
	attempts map[string][]Attempt
}

func NewMemoryStore(l ledger.Store) *MemoryStore {
	return &MemoryStore{ledger: l, payouts: make(map[string]*Payout), attempts: make(map[string][]Attempt)}
}

func (m *MemoryStore) Create(ctx context.Context, p *Payout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.payouts[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payout
	for _, p := range m.payouts {
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, from []Status, to Status, errMsg string, at time.Time) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !statusIn(p.Status, from) {
		return nil, ErrInvalidTransition
	}
	p.Status, p.ErrorMessage, p.UpdatedAt = to, errMsg, at
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Reopen(ctx context.Context, id string, at time.Time) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := canReopen(p); err != nil {
		return nil, err
	}
	p.Status, p.ErrorMessage, p.UpdatedAt = StatusProcessing, "", at
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) StartAttempt(ctx context.Context, id string, at time.Time) (*Payout, *Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if p.Status != StatusProcessing {
		return nil, nil, ErrInvalidTransition
	}
	if p.Attempts >= p.MaxAttempts {
		return nil, nil, ErrMaxAttempts
	}
	balance := decimal.Zero
	last, err := m.ledger.Last(ctx, p.UserID)
	switch {
	case err == nil:
		balance = last.BalanceAfter
	case !errors.Is(err, ledger.ErrNotFound):
		return nil, nil, err
	}
	if balance.Sub(m.reservedLocked(p.UserID, id)).LessThan(p.Amount) {
		return nil, nil, ledger.ErrInsufficientFunds
	}
	p.Attempts++
	p.UpdatedAt = at
	a := Attempt{PayoutID: id, AttemptNo: p.Attempts, Rail: p.Rail, State: AttemptStarted, StartedAt: at}
	m.attempts[id] = append(m.attempts[id], a)
	cp := *p
	return &cp, &a, nil
}

// reservedLocked soma os saques do usuário que já podem ter saído sem débito:
// tentativa em voo ou pagos pelo trilho com débito pendente.
func (m *MemoryStore) reservedLocked(userID, exclude string) decimal.Decimal {
	total := decimal.Zero
	for id, p := range m.payouts {
		if id == exclude || p.UserID != userID {
			continue
		}
		if m.inFlightLocked(p) || (p.TransactionRef != "" && p.LedgerEntryID == "") {
			total = total.Add(p.Amount)
		}
	}
	return total
}

func (m *MemoryStore) inFlightLocked(p *Payout) bool {
	if p.Status != StatusProcessing {
		return false
	}
	list := m.attempts[p.ID]
	return len(list) > 0 && list[len(list)-1].State == AttemptStarted
}

func (m *MemoryStore) finishLocked(id string, o Outcome, state string) {
	list := m.attempts[id]
	for i := range list {
		if list[i].AttemptNo == o.AttemptNo {
			at := o.At
			list[i].State = state
			list[i].ErrorMessage = o.Error
			list[i].TransactionRef = o.TransactionRef
			list[i].ProcessingMs = o.ProcessingTime.Milliseconds()
			list[i].FinishedAt = &at
		}
	}
}

func (m *MemoryStore) FailAttempt(ctx context.Context, id string, o Outcome) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != StatusProcessing {
		return nil, ErrInvalidTransition
	}
	m.finishLocked(id, o, AttemptFailed)
	p.Status, p.ErrorMessage, p.UpdatedAt = StatusFailed, o.Error, o.At
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Complete(ctx context.Context, id string, o Outcome, debit *ledger.Entry) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != StatusProcessing {
		return nil, ErrInvalidTransition
	}
	if err := m.ledger.AppendNext(ctx, debit); err != nil {
		return nil, err
	}
	m.finishLocked(id, o, AttemptSucceeded)
	p.Status, p.ErrorMessage, p.UpdatedAt = StatusCompleted, "", o.At
	p.TransactionRef, p.LedgerEntryID = o.TransactionRef, debit.ID
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) MarkLedgerFailed(ctx context.Context, id string, o Outcome) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	m.finishLocked(id, o, AttemptSucceeded)
	p.Status, p.ErrorMessage, p.UpdatedAt = StatusFailed, o.Error, o.At
	p.TransactionRef = o.TransactionRef
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Attempts(ctx context.Context, id string) ([]Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Attempt(nil), m.attempts[id]...), nil
}

func statusIn(s Status, set []Status) bool {
	for _, x := range set {
		if s == x {
			return true
		}
	}
	return false
}

func canReopen(p *Payout) error {
	switch {
	case p.Status != StatusFailed:
		return ErrInvalidTransition
	case p.TransactionRef != "":
		return ErrAlreadyPaid
	case p.Attempts >= p.MaxAttempts:
		return ErrMaxAttempts
	}
	return nil
}
