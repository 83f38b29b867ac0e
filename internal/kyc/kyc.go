// Package kyc expõe as identidades verificadas dos usuários (nome legal e documento).
package kyc

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

var (
	ErrNotFound = errors.New("identity not found")
	ErrInvalid  = errors.New("invalid identity")
)

type Identity struct {
	UserID     string `json:"user_id"`
	NationalID string `json:"national_id"`
	LegalName  string `json:"legal_name"`
}

type Store interface {
	Lookup(ctx context.Context, userID string) (*Identity, error)
	UsersByNationalID(ctx context.Context, nationalID string) ([]string, error)
	Put(ctx context.Context, id Identity) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Identity
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Identity)}
}

func (m *MemoryStore) Lookup(ctx context.Context, userID string) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byID[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &id, nil
}

func (m *MemoryStore) UsersByNationalID(ctx context.Context, nationalID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, id := range m.byID {
		if id.NationalID == nationalID {
			out = append(out, id.UserID)
		}
	}
	return out, nil
}

func (m *MemoryStore) Put(ctx context.Context, id Identity) error {
	m.mu.Lock()
	m.byID[id.UserID] = id
	m.mu.Unlock()
	return nil
}

type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Lookup(ctx context.Context, userID string) (*Identity, error) {
	var id Identity
	err := p.db.QueryRowContext(ctx,
		`SELECT user_id, national_id, legal_name FROM kyc_identities WHERE user_id=$1`, userID,
	).Scan(&id.UserID, &id.NationalID, &id.LegalName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (p *PostgresStore) UsersByNationalID(ctx context.Context, nationalID string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT user_id FROM kyc_identities WHERE national_id=$1 ORDER BY user_id`, nationalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Put faz upsert da identidade verificada
func (p *PostgresStore) Put(ctx context.Context, id Identity) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO kyc_identities (user_id, national_id, legal_name, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (user_id) DO UPDATE SET national_id=EXCLUDED.national_id, legal_name=EXCLUDED.legal_name, updated_at=now()`,
		id.UserID, id.NationalID, id.LegalName)
	return err
}
