package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/wager-integrity-core/internal/shared/db"
)

const entryColumns = `seq, id, user_id, transaction_type, amount, balance_before, balance_after,
	currency, reference_id, reference_type, description, metadata, created_at`

// PostgresStore implementa Store sobre ledger_entries
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Append(ctx context.Context, e *Entry) error {
	return db.WithTx(ctx, p.db, func(tx *sql.Tx) error { return AppendTx(ctx, tx, e) })
}

func (p *PostgresStore) AppendNext(ctx context.Context, e *Entry) error {
	return db.WithTx(ctx, p.db, func(tx *sql.Tx) error { return AppendNextTx(ctx, tx, e) })
}

// AppendTx grava e dentro da transação do chamador. O advisory lock por usuário
// vale até o commit/rollback, então leitura da última entrada e insert são atômicos.
func AppendTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	prev, err := lockAndLast(ctx, tx, e.UserID)
	if err != nil {
		return err
	}
	normalize(e)
	clampTime(e, prev)
	if err := validate(e, prev); err != nil {
		return err
	}
	return insert(ctx, tx, e)
}

// AppendNextTx é como AppendTx mas preenche os saldos a partir da última entrada
func AppendNextTx(ctx context.Context, tx *sql.Tx, e *Entry) error {
	prev, err := lockAndLast(ctx, tx, e.UserID)
	if err != nil {
		return err
	}
	e.Amount = round(e.Amount)
	chain(e, prev)
	clampTime(e, prev)
	if err := validate(e, prev); err != nil {
		return err
	}
	return insert(ctx, tx, e)
}

// LockBalanceTx trava o usuário com o mesmo advisory lock dos appends e devolve o
// saldo atual. Outros stores usam para decidir sobre o saldo sem corrida com o ledger.
func LockBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (decimal.Decimal, error) {
	prev, err := lockAndLast(ctx, tx, userID)
	if err != nil || prev == nil {
		return decimal.Zero, err
	}
	return prev.BalanceAfter, nil
}

func lockAndLast(ctx context.Context, tx *sql.Tx, userID string) (*Entry, error) {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, userID); err != nil {
		return nil, fmt.Errorf("lock ledger user: %w", err)
	}
	prev, err := scanEntry(tx.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE user_id=$1 ORDER BY seq DESC LIMIT 1`, userID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return prev, err
}

func insert(ctx context.Context, tx *sql.Tx, e *Entry) error {
	meta, err := json.Marshal(orEmpty(e.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, transaction_type, amount, balance_before, balance_after,
			currency, reference_id, reference_type, description, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING seq`,
		e.ID, e.UserID, string(e.Type), e.Amount, e.BalanceBefore, e.BalanceAfter,
		e.Currency, e.ReferenceID, e.ReferenceType, e.Description, meta, e.CreatedAt,
	).Scan(&e.Seq)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateReference
	}
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) Last(ctx context.Context, userID string) (*Entry, error) {
	return scanEntry(p.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE user_id=$1 ORDER BY seq DESC LIMIT 1`, userID))
}

func (p *PostgresStore) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	return p.query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE user_id=$1 ORDER BY seq DESC LIMIT $2`, userID, limit)
}

func (p *PostgresStore) Chain(ctx context.Context, userID string) ([]Entry, error) {
	return p.query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE user_id=$1 ORDER BY created_at, seq`, userID)
}

func (p *PostgresStore) ListByType(ctx context.Context, userID string, t TxType, since time.Time) ([]Entry, error) {
	return p.query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE user_id=$1 AND transaction_type=$2 AND created_at >= $3 ORDER BY seq`, userID, string(t), since)
}

func (p *PostgresStore) ListInRange(ctx context.Context, t TxType, referenceType string, from, to time.Time) ([]Entry, error) {
	return p.query(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE transaction_type=$1 AND reference_type=$2 AND created_at >= $3 AND created_at < $4
		 ORDER BY seq`, string(t), referenceType, from, to)
}

func (p *PostgresStore) FindByReference(ctx context.Context, t TxType, referenceType, referenceID string) (*Entry, error) {
	return scanEntry(p.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries
		 WHERE transaction_type=$1 AND reference_type=$2 AND reference_id=$3 ORDER BY seq LIMIT 1`,
		string(t), referenceType, referenceID))
}

func (p *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e    Entry
		typ  string
		meta []byte
	)
	err := s.Scan(&e.Seq, &e.ID, &e.UserID, &typ, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
		&e.Currency, &e.ReferenceID, &e.ReferenceType, &e.Description, &meta, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.Type = TxType(typ)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
