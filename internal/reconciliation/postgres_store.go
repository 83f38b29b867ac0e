package reconciliation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/wager-integrity-core/internal/shared/db"
)

const recordColumns = `id, reconciliation_date, provider, ledger_total, settlement_total, difference,
	matched_count, unmatched_count, status, COALESCE(support_ticket_id, ''), created_at, reconciled_at`

type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Insert(ctx context.Context, r *Record) error {
	var ticket any
	if r.SupportTicketID != "" {
		ticket = r.SupportTicketID
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reconciliation_records (id, reconciliation_date, provider, ledger_total, settlement_total, difference,
			matched_count, unmatched_count, status, support_ticket_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.DateString(), r.Provider, r.LedgerTotal, r.SettlementTotal, r.Difference,
		r.MatchedCount, r.UnmatchedCount, string(r.Status), ticket, r.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrAlreadyReconciled
	}
	if err != nil {
		return fmt.Errorf("insert reconciliation record: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	return scanRecord(p.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM reconciliation_records WHERE id=$1`, id))
}

func (p *PostgresStore) GetByProviderDate(ctx context.Context, provider string, date time.Time) (*Record, error) {
	return scanRecord(p.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM reconciliation_records WHERE provider=$1 AND reconciliation_date=$2`,
		provider, date.Format(time.DateOnly)))
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]Record, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM reconciliation_records
		WHERE ($1 = '' OR provider = $1) AND ($2 = '' OR status = $2)
		ORDER BY reconciliation_date DESC, provider
		LIMIT $3`, f.Provider, string(f.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetTicket(ctx context.Context, id, ticketID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE reconciliation_records SET support_ticket_id=$2 WHERE id=$1`, id, ticketID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) MarkReconciled(ctx context.Context, id string, at time.Time) (*Record, error) {
	return scanRecord(p.db.QueryRowContext(ctx, `
		UPDATE reconciliation_records SET reconciled_at = COALESCE(reconciled_at, $2)
		WHERE id=$1
		RETURNING `+recordColumns, id, at))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		r          Record
		status     string
		reconciled sql.NullTime
	)
	err := s.Scan(&r.ID, &r.ReconciliationDate, &r.Provider, &r.LedgerTotal, &r.SettlementTotal, &r.Difference,
		&r.MatchedCount, &r.UnmatchedCount, &status, &r.SupportTicketID, &r.CreatedAt, &reconciled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if reconciled.Valid {
		t := reconciled.Time
		r.ReconciledAt = &t
	}
	return &r, nil
}
