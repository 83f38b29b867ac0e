package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/audit"
	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/shared/db"
)

var ErrVersionConflict = errors.New("kill switch version conflict")

// KillSwitch é a linha única que bloqueia novas apostas ao vivo
type KillSwitch struct {
	Enabled   bool      `json:"enabled"`
	Version   int64     `json:"version"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type KillSwitchStore interface {
	Get(ctx context.Context) (KillSwitch, error)
	// CompareAndSet grava next se a versão atual for expected, junto com rec no audit
	// log. Se o audit não grava, o flip não acontece. A versão resultante é expected+1.
	CompareAndSet(ctx context.Context, expected int64, next KillSwitch, rec audit.Action) (KillSwitch, error)
}

type MemoryKillSwitchStore struct {
	mu    sync.Mutex
	ks    KillSwitch
	audit audit.Store
}

// NewMemoryKillSwitchStore grava o audit em auditStore; nil não grava
func NewMemoryKillSwitchStore(auditStore audit.Store) *MemoryKillSwitchStore {
	return &MemoryKillSwitchStore{ks: KillSwitch{Version: 1}, audit: auditStore}
}

func (m *MemoryKillSwitchStore) Get(ctx context.Context) (KillSwitch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ks, nil
}

func (m *MemoryKillSwitchStore) CompareAndSet(ctx context.Context, expected int64, next KillSwitch, rec audit.Action) (KillSwitch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ks.Version != expected {
		return m.ks, ErrVersionConflict
	}
	if m.audit != nil {
		if err := m.audit.Insert(ctx, rec); err != nil {
			return m.ks, fmt.Errorf("%w: %w", audit.ErrWriteFailed, err)
		}
	}
	next.Version = expected + 1
	m.ks = next
	return next, nil
}

type PostgresKillSwitchStore struct{ db *sql.DB }

func NewPostgresKillSwitchStore(db *sql.DB) *PostgresKillSwitchStore {
	return &PostgresKillSwitchStore{db: db}
}

func (p *PostgresKillSwitchStore) Get(ctx context.Context) (KillSwitch, error) {
	var ks KillSwitch
	err := p.db.QueryRowContext(ctx,
		`SELECT enabled, version, reason, updated_by, updated_at FROM kill_switch WHERE id=1`,
	).Scan(&ks.Enabled, &ks.Version, &ks.Reason, &ks.UpdatedBy, &ks.UpdatedAt)
	return ks, err
}

func (p *PostgresKillSwitchStore) CompareAndSet(ctx context.Context, expected int64, next KillSwitch, rec audit.Action) (KillSwitch, error) {
	var applied bool
	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE kill_switch
			SET enabled=$1, reason=$2, updated_by=$3, updated_at=$4, version=version+1
			WHERE id=1 AND version=$5`,
			next.Enabled, next.Reason, next.UpdatedBy, next.UpdatedAt, expected)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		applied = true
		if err := audit.InsertTx(ctx, tx, rec); err != nil {
			return fmt.Errorf("%w: %w", audit.ErrWriteFailed, err)
		}
		return nil
	})
	if err != nil {
		return KillSwitch{}, err
	}
	if !applied {
		cur, gerr := p.Get(ctx)
		if gerr != nil {
			return KillSwitch{}, gerr
		}
		return cur, ErrVersionConflict
	}
	next.Version = expected + 1
	return next, nil
}

// KillSwitchService aplica flips com lock otimista. O flip e seu audit entram juntos;
// tentativas recusadas também são registradas.
type KillSwitchService struct {
	store KillSwitchStore
	audit *audit.Log
	clock *clock.Authority
	log   *zap.Logger
}

func NewKillSwitchService(store KillSwitchStore, auditLog *audit.Log, clk *clock.Authority, log *zap.Logger) *KillSwitchService {
	return &KillSwitchService{store: store, audit: auditLog, clock: clk, log: log}
}

func (s *KillSwitchService) Get(ctx context.Context) (KillSwitch, error) {
	return s.store.Get(ctx)
}

func (s *KillSwitchService) Set(ctx context.Context, adminID string, enabled bool, reason string, expectedVersion int64) (KillSwitch, error) {
	rec := s.audit.Build(adminID, audit.ActionKillSwitchSet, "kill_switch", "1", nil)
	ks, err := s.store.CompareAndSet(ctx, expectedVersion, KillSwitch{
		Enabled:   enabled,
		Reason:    reason,
		UpdatedBy: adminID,
		UpdatedAt: rec.Timestamp,
	}, rec)
	if errors.Is(err, audit.ErrWriteFailed) {
		return ks, s.audit.Failed(rec, err)
	}
	if err != nil {
		// flip recusado: nada mudou, o registro da tentativa é best-effort
		_ = s.audit.Record(ctx, adminID, audit.ActionKillSwitchSet, "kill_switch", "1", err)
		return ks, err
	}
	s.log.Warn("kill switch changed",
		zap.Bool("enabled", enabled),
		zap.String("admin_id", adminID),
		zap.String("reason", reason),
		zap.Int64("version", ks.Version))
	return ks, nil
}
