package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/radieske/wager-integrity-core/internal/shared/db"
)

const alertColumns = `id, COALESCE(user_id, ''), alert_type, severity, description, metadata, status, reviewed_by, created_at, updated_at`

type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Insert(ctx context.Context, a *SecurityAlert) error {
	return insertAlert(ctx, p.db, a)
}

func (p *PostgresStore) InsertUnlessOpen(ctx context.Context, a *SecurityAlert, since time.Time) (bool, error) {
	inserted := false
	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		// serializa por (usuário, tipo) para que dois workers não gravem o mesmo alerta
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`,
			"alert:"+a.UserID+":"+string(a.Type)); err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM security_alerts
				WHERE user_id=$1 AND alert_type=$2 AND status IN ('pending','investigating') AND created_at >= $3
			)`, a.UserID, string(a.Type), since).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return nil
		}
		if err := insertAlert(ctx, tx, a); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func insertAlert(ctx context.Context, q db.Querier, a *SecurityAlert) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal alert metadata: %w", err)
	}
	var userID any
	if a.UserID != "" {
		userID = a.UserID
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO security_alerts (id, user_id, alert_type, severity, description, metadata, status, reviewed_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, userID, string(a.Type), string(a.Severity), a.Description, meta, string(a.Status), a.ReviewedBy, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*SecurityAlert, error) {
	return scanAlert(p.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM security_alerts WHERE id=$1`, id))
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, reviewedBy string, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE security_alerts SET status=$2, reviewed_by=$3, updated_at=$4 WHERE id=$1`,
		id, string(status), reviewedBy, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, f Filter) ([]SecurityAlert, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id=$%d", f.UserID)
	}
	if f.Status != "" {
		add("status=$%d", string(f.Status))
	}
	if f.Type != "" {
		add("alert_type=$%d", string(f.Type))
	}
	q := `SELECT ` + alertColumns + ` FROM security_alerts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SecurityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) HasOpenWithSeverity(ctx context.Context, userID string, sev Severity) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM security_alerts
			WHERE user_id=$1 AND severity=$2 AND status IN ('pending','investigating')
		)`, userID, string(sev)).Scan(&exists)
	return exists, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAlert(s scanner) (*SecurityAlert, error) {
	var (
		a                SecurityAlert
		typ, sev, status string
		meta             []byte
	)
	err := s.Scan(&a.ID, &a.UserID, &typ, &sev, &a.Description, &meta, &status, &a.ReviewedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}
	a.Type, a.Severity, a.Status = Type(typ), Severity(sev), Status(status)
	if a.Metadata, err = DecodeMetadata(a.Type, meta); err != nil {
		return nil, err
	}
	return &a, nil
}
