// Package audit grava ações administrativas (sucesso e falha) no admin_audit_log.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/shared/db"
)

var writeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wager",
	Subsystem: "audit",
	Name:      "write_failures_total",
	Help:      "Admin actions whose audit row could not be written, by action.",
}, []string{"action"})

func init() {
	prometheus.MustRegister(writeFailures)
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Ações conhecidas
const (
	ActionKillSwitchSet      = "kill_switch.set"
	ActionAlertReview        = "alert.review"
	ActionPayoutApprove      = "payout.approve"
	ActionPayoutReject       = "payout.reject"
	ActionPayoutRetry        = "payout.retry"
	ActionDepositConfirm     = "deposit.confirm"
	ActionReconciliationRun  = "reconciliation.run"
	ActionReconciliationMark = "reconciliation.mark_reconciled"
)

type Action struct {
	AdminID      string    `json:"admin_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type Store interface {
	Insert(ctx context.Context, a Action) error
	ListByResource(ctx context.Context, resourceType, resourceID string) ([]Action, error)
}

type Log struct {
	store Store
	clock *clock.Authority
	log   *zap.Logger
}

func NewLog(store Store, clk *clock.Authority, log *zap.Logger) *Log {
	return &Log{store: store, clock: clk, log: log}
}

// ErrWriteFailed marca falha na gravação do audit log
var ErrWriteFailed = errors.New("audit write failed")

// Build monta a ação com o timestamp de auditoria; opErr nil = sucesso
func (l *Log) Build(adminID, action, resourceType, resourceID string, opErr error) Action {
	a := Action{
		AdminID:      adminID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Status:       StatusSuccess,
		Timestamp:    l.clock.AuditTimestamp(),
	}
	if opErr != nil {
		a.Status = StatusFailure
		a.ErrorMessage = opErr.Error()
	}
	return a
}

// Record grava o resultado de uma ação administrativa; opErr nil = sucesso
func (l *Log) Record(ctx context.Context, adminID, action, resourceType, resourceID string, opErr error) error {
	a := l.Build(adminID, action, resourceType, resourceID, opErr)
	if err := l.store.Insert(ctx, a); err != nil {
		return l.Failed(a, err)
	}
	return nil
}

// Failed loga e conta uma gravação perdida; devolve o erro embrulhado em ErrWriteFailed
func (l *Log) Failed(a Action, err error) error {
	writeFailures.WithLabelValues(a.Action).Inc()
	l.log.Error("audit write failed",
		zap.String("admin_id", a.AdminID),
		zap.String("action", a.Action),
		zap.String("resource_id", a.ResourceID),
		zap.Error(err))
	return fmt.Errorf("%w: %w", ErrWriteFailed, err)
}

func (l *Log) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Action, error) {
	return l.store.ListByResource(ctx, resourceType, resourceID)
}

type MemoryStore struct {
	mu      sync.Mutex
	actions []Action
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Insert(ctx context.Context, a Action) error {
	m.mu.Lock()
	m.actions = append(m.actions, a)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Action
	for _, a := range m.actions {
		if a.ResourceType == resourceType && a.ResourceID == resourceID {
			out = append(out, a)
		}
	}
	return out, nil
}

// All devolve uma cópia de tudo que foi gravado
func (m *MemoryStore) All() []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Action(nil), m.actions...)
}

type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Insert(ctx context.Context, a Action) error {
	return InsertTx(ctx, p.db, a)
}

// InsertTx grava a com o Querier do chamador, para a ação e o audit entrarem
// na mesma transação
func InsertTx(ctx context.Context, q db.Querier, a Action) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO admin_audit_log (admin_id, action, resource_type, resource_id, status, error_message, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.AdminID, a.Action, a.ResourceType, a.ResourceID, string(a.Status), a.ErrorMessage, a.Timestamp)
	return err
}

func (p *PostgresStore) ListByResource(ctx context.Context, resourceType, resourceID string) ([]Action, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT admin_id, action, resource_type, resource_id, status, error_message, created_at
		FROM admin_audit_log WHERE resource_type=$1 AND resource_id=$2 ORDER BY id`, resourceType, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var a Action
		var status string
		if err := rows.Scan(&a.AdminID, &a.Action, &a.ResourceType, &a.ResourceID, &status, &a.ErrorMessage, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Status = Status(status)
		out = append(out, a)
	}
	return out, rows.Err()
}
