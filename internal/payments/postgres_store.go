package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/internal/shared/db"
)

const payoutColumns = `id, user_id, amount, currency, bank_code, account_number, account_name, rail,
	status, attempts, max_attempts, error_message, transaction_ref, ledger_entry_id, created_at, updated_at`

// reservedQuery soma saques do usuário com tentativa em voo ou pagos sem débito
const reservedQuery = `
	SELECT COALESCE(SUM(p.amount), 0) FROM payouts p
	WHERE p.user_id=$1 AND p.id<>$2 AND (
		(p.status='processing' AND EXISTS (
			SELECT 1 FROM payout_attempts a
			WHERE a.payout_id=p.id AND a.attempt_no=p.attempts AND a.state='started'))
		OR (p.transaction_ref<>'' AND p.ledger_entry_id=''))`

// PostgresStore grava saques em payouts/payout_attempts e o débito em ledger_entries
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Create(ctx context.Context, p *Payout) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payouts (id, user_id, amount, currency, bank_code, account_number, account_name, rail,
			status, attempts, max_attempts, error_message, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		p.ID, p.UserID, p.Amount, p.Currency, p.Destination.BankCode, p.Destination.AccountNumber,
		p.Destination.AccountName, p.Rail, string(p.Status), p.Attempts, p.MaxAttempts, p.ErrorMessage,
		p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Payout, error) {
	return scanPayout(s.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id=$1`, id))
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Payout, error) {
	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, "user_id=$"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, "status=$"+strconv.Itoa(len(args)))
	}
	q := `SELECT ` + payoutColumns + ` FROM payouts`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit)
	q += ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query payouts: %w", err)
	}
	defer rows.Close()
	var out []Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Transition(ctx context.Context, id string, from []Status, to Status, errMsg string, at time.Time) (*Payout, error) {
	froms := make([]string, len(from))
	for i, f := range from {
		froms[i] = string(f)
	}
	p, err := scanPayout(s.db.QueryRowContext(ctx, `
		UPDATE payouts SET status=$2, error_message=$3, updated_at=$4
		WHERE id=$1 AND status = ANY($5)
		RETURNING `+payoutColumns,
		id, string(to), errMsg, at, pq.Array(froms)))
	if errors.Is(err, ErrNotFound) {
		return nil, s.explain(ctx, s.db, id, ErrInvalidTransition)
	}
	return p, err
}

func (s *PostgresStore) Reopen(ctx context.Context, id string, at time.Time) (*Payout, error) {
	var out *Payout
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		p, err := scanPayout(tx.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := canReopen(p); err != nil {
			return err
		}
		out, err = scanPayout(tx.QueryRowContext(ctx, `
			UPDATE payouts SET status=$2, error_message='', updated_at=$3 WHERE id=$1
			RETURNING `+payoutColumns, id, string(StatusProcessing), at))
		return err
	})
	return out, err
}

func (s *PostgresStore) StartAttempt(ctx context.Context, id string, at time.Time) (*Payout, *Attempt, error) {
	var (
		out *Payout
		a   *Attempt
	)
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var userID string
		err := tx.QueryRowContext(ctx, `SELECT user_id FROM payouts WHERE id=$1`, id).Scan(&userID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load payout user: %w", err)
		}
		// lock do ledger antes do lock da linha, na mesma ordem de Complete
		balance, err := ledger.LockBalanceTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		p, err := scanPayout(tx.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id=$1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if p.Status != StatusProcessing {
			return ErrInvalidTransition
		}
		if p.Attempts >= p.MaxAttempts {
			return ErrMaxAttempts
		}
		var reserved decimal.Decimal
		if err := tx.QueryRowContext(ctx, reservedQuery, userID, id).Scan(&reserved); err != nil {
			return fmt.Errorf("sum reserved payouts: %w", err)
		}
		if balance.Sub(reserved).LessThan(p.Amount) {
			return ledger.ErrInsufficientFunds
		}
		out, err = scanPayout(tx.QueryRowContext(ctx, `
			UPDATE payouts SET attempts=attempts+1, updated_at=$2 WHERE id=$1
			RETURNING `+payoutColumns, id, at))
		if err != nil {
			return err
		}
		a = &Attempt{PayoutID: id, AttemptNo: out.Attempts, Rail: out.Rail, State: AttemptStarted, StartedAt: at}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO payout_attempts (payout_id, attempt_no, rail, state, started_at)
			VALUES ($1,$2,$3,$4,$5)`, id, a.AttemptNo, a.Rail, a.State, at)
		if err != nil {
			return fmt.Errorf("insert payout attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, a, nil
}

func finishAttempt(ctx context.Context, tx *sql.Tx, id string, o Outcome, state string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payout_attempts SET state=$3, error_message=$4, transaction_ref=$5, processing_ms=$6, finished_at=$7
		WHERE payout_id=$1 AND attempt_no=$2`,
		id, o.AttemptNo, state, o.Error, o.TransactionRef, o.ProcessingTime.Milliseconds(), o.At)
	if err != nil {
		return fmt.Errorf("finish payout attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) FailAttempt(ctx context.Context, id string, o Outcome) (*Payout, error) {
	var out *Payout
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := finishAttempt(ctx, tx, id, o, AttemptFailed); err != nil {
			return err
		}
		p, err := scanPayout(tx.QueryRowContext(ctx, `
			UPDATE payouts SET status=$2, error_message=$3, updated_at=$4
			WHERE id=$1 AND status='processing'
			RETURNING `+payoutColumns, id, string(StatusFailed), o.Error, o.At))
		if errors.Is(err, ErrNotFound) {
			return s.explain(ctx, tx, id, ErrInvalidTransition)
		}
		out = p
		return err
	})
	return out, err
}

func (s *PostgresStore) Complete(ctx context.Context, id string, o Outcome, debit *ledger.Entry) (*Payout, error) {
	var out *Payout
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := ledger.AppendNextTx(ctx, tx, debit); err != nil {
			return err
		}
		if err := finishAttempt(ctx, tx, id, o, AttemptSucceeded); err != nil {
			return err
		}
		p, err := scanPayout(tx.QueryRowContext(ctx, `
			UPDATE payouts SET status=$2, error_message='', transaction_ref=$3, ledger_entry_id=$4, updated_at=$5
			WHERE id=$1 AND status='processing'
			RETURNING `+payoutColumns, id, string(StatusCompleted), o.TransactionRef, debit.ID, o.At))
		if errors.Is(err, ErrNotFound) {
			return s.explain(ctx, tx, id, ErrInvalidTransition)
		}
		out = p
		return err
	})
	return out, err
}

func (s *PostgresStore) MarkLedgerFailed(ctx context.Context, id string, o Outcome) (*Payout, error) {
	var out *Payout
	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := finishAttempt(ctx, tx, id, o, AttemptSucceeded); err != nil {
			return err
		}
		p, err := scanPayout(tx.QueryRowContext(ctx, `
			UPDATE payouts SET status=$2, error_message=$3, transaction_ref=$4, updated_at=$5 WHERE id=$1
			RETURNING `+payoutColumns, id, string(StatusFailed), o.Error, o.TransactionRef, o.At))
		out = p
		return err
	})
	return out, err
}

func (s *PostgresStore) Attempts(ctx context.Context, id string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payout_id, attempt_no, rail, state, error_message, transaction_ref, processing_ms, started_at, finished_at
		FROM payout_attempts WHERE payout_id=$1 ORDER BY attempt_no`, id)
	if err != nil {
		return nil, fmt.Errorf("query payout attempts: %w", err)
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		var (
			a        Attempt
			finished sql.NullTime
		)
		if err := rows.Scan(&a.PayoutID, &a.AttemptNo, &a.Rail, &a.State, &a.ErrorMessage, &a.TransactionRef,
			&a.ProcessingMs, &a.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan payout attempt: %w", err)
		}
		if finished.Valid {
			a.FinishedAt = &finished.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// explain diferencia "não existe" de "estado não permite"
func (s *PostgresStore) explain(ctx context.Context, q db.Querier, id string, otherwise error) error {
	var exists bool
	if err := q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM payouts WHERE id=$1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check payout: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return otherwise
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayout(sc scanner) (*Payout, error) {
	var (
		p      Payout
		status string
	)
	err := sc.Scan(&p.ID, &p.UserID, &p.Amount, &p.Currency, &p.Destination.BankCode, &p.Destination.AccountNumber,
		&p.Destination.AccountName, &p.Rail, &status, &p.Attempts, &p.MaxAttempts, &p.ErrorMessage,
		&p.TransactionRef, &p.LedgerEntryID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payout: %w", err)
	}
	p.Status = Status(status)
	return &p, nil
}
