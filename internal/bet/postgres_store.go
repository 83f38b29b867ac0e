package bet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/wager-integrity-core/internal/ledger"
	"github.com/radieske/wager-integrity-core/internal/shared/db"
)

const (
	slipColumns = `id, user_id, stake, total_odds, potential_win, status, live, selections,
	payout, version, created_at, settled_at`
	offerColumns = `id, bet_slip_id, user_id, offer_amount, original_stake, potential_win,
	issued_at, expires_at, consumed_at, consumed_reason`
)

// PostgresStore grava apostas e entradas do ledger na mesma transação
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Place(ctx context.Context, s *Slip, stake *ledger.Entry) error {
	sels, err := json.Marshal(s.Selections)
	if err != nil {
		return fmt.Errorf("marshal selections: %w", err)
	}
	return db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bet_slips (id, user_id, stake, total_odds, potential_win, status, live,
				selections, version, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			s.ID, s.UserID, s.Stake, s.TotalOdds, s.PotentialWin, string(s.Status), s.Live,
			sels, s.Version, s.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert bet slip: %w", err)
		}
		return ledger.AppendNextTx(ctx, tx, stake)
	})
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Slip, error) {
	return scanSlip(p.db.QueryRowContext(ctx, `SELECT `+slipColumns+` FROM bet_slips WHERE id=$1`, id))
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]Slip, error) {
	return p.listSlips(ctx,
		`SELECT `+slipColumns+` FROM bet_slips WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
}

func (p *PostgresStore) ListPendingByEvent(ctx context.Context, eventID string) ([]Slip, error) {
	filter, err := json.Marshal([]map[string]string{{"event_id": eventID}})
	if err != nil {
		return nil, err
	}
	return p.listSlips(ctx,
		`SELECT `+slipColumns+` FROM bet_slips WHERE status='pending' AND selections @> $1::jsonb`,
		string(filter))
}

func (p *PostgresStore) Settle(ctx context.Context, st Settlement) (*Slip, error) {
	var out *Slip
	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		s, err := closeSlip(ctx, tx, st.BetID, st.Status, st.Payout, st.SettledAt)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE cashout_offers SET consumed_at=$2, consumed_reason=$3
			WHERE bet_slip_id=$1 AND consumed_at IS NULL`,
			st.BetID, st.SettledAt, ConsumedSettled,
		); err != nil {
			return fmt.Errorf("invalidate offers: %w", err)
		}
		if st.Credit != nil {
			if err := ledger.AppendNextTx(ctx, tx, st.Credit); err != nil {
				return err
			}
		}
		out = s
		return nil
	})
	return out, err
}

// closeSlip só transiciona a partir de pending; a condição no WHERE serializa
// transições concorrentes sobre a mesma aposta.
func closeSlip(ctx context.Context, tx *sql.Tx, id string, status Status, payout decimal.Decimal, at time.Time) (*Slip, error) {
	s, err := scanSlip(tx.QueryRowContext(ctx, `
		UPDATE bet_slips SET status=$2, payout=$3, settled_at=$4, version=version+1
		WHERE id=$1 AND status='pending'
		RETURNING `+slipColumns,
		id, string(status), payout, at))
	if !errors.Is(err, ErrNotFound) {
		return s, err
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bet_slips WHERE id=$1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check bet slip: %w", err)
	}
	if exists {
		return nil, ErrAlreadySettled
	}
	return nil, ErrNotFound
}

func (p *PostgresStore) SaveOffer(ctx context.Context, o *Offer) error {
	return db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			UPDATE cashout_offers SET consumed_at=$2, consumed_reason=$3
			WHERE bet_slip_id=$1 AND consumed_at IS NULL`,
			o.BetSlipID, o.IssuedAt, ConsumedSuperseded,
		); err != nil {
			return fmt.Errorf("supersede offers: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cashout_offers (id, bet_slip_id, user_id, offer_amount, original_stake,
				potential_win, issued_at, expires_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			o.ID, o.BetSlipID, o.UserID, o.OfferAmount, o.OriginalStake, o.PotentialWin,
			o.IssuedAt, o.ExpiresAt)
		if err != nil {
			return fmt.Errorf("insert cashout offer: %w", err)
		}
		return nil
	})
}

func (p *PostgresStore) LatestOffer(ctx context.Context, betID string) (*Offer, error) {
	return scanOffer(p.db.QueryRowContext(ctx,
		`SELECT `+offerColumns+` FROM cashout_offers WHERE bet_slip_id=$1 ORDER BY issued_at DESC LIMIT 1`, betID))
}

func (p *PostgresStore) AcceptOffer(ctx context.Context, offerID string, now time.Time, credit *ledger.Entry) (*Slip, error) {
	var out *Slip
	err := db.WithTx(ctx, p.db, func(tx *sql.Tx) error {
		// consumo condicional: só uma transação vence
		o, err := scanOffer(tx.QueryRowContext(ctx, `
			UPDATE cashout_offers SET consumed_at=$2, consumed_reason=$3
			WHERE id=$1 AND consumed_at IS NULL AND expires_at > $2
			RETURNING `+offerColumns,
			offerID, now, ConsumedAccepted))
		if errors.Is(err, ErrNoOffer) {
			return whyNotConsumed(ctx, tx, offerID)
		}
		if err != nil {
			return err
		}
		s, err := closeSlip(ctx, tx, o.BetSlipID, StatusCashedOut, o.OfferAmount, now)
		if err != nil {
			return err
		}
		if err := ledger.AppendNextTx(ctx, tx, credit); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func whyNotConsumed(ctx context.Context, tx *sql.Tx, offerID string) error {
	o, err := scanOffer(tx.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM cashout_offers WHERE id=$1`, offerID))
	if err != nil {
		return err
	}
	if o.ConsumedAt != nil {
		return ErrOfferAlreadyConsumed
	}
	return ErrOfferExpired
}

func (p *PostgresStore) PurgeOffers(ctx context.Context, expiredBefore time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM cashout_offers WHERE expires_at < $1`, expiredBefore)
	if err != nil {
		return 0, fmt.Errorf("purge offers: %w", err)
	}
	return res.RowsAffected()
}

func (p *PostgresStore) listSlips(ctx context.Context, q string, args ...any) ([]Slip, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query bet slips: %w", err)
	}
	defer rows.Close()

	var out []Slip
	for rows.Next() {
		s, err := scanSlip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSlip(sc scanner) (*Slip, error) {
	var (
		s         Slip
		status    string
		sels      []byte
		payout    decimal.NullDecimal
		settledAt sql.NullTime
	)
	err := sc.Scan(&s.ID, &s.UserID, &s.Stake, &s.TotalOdds, &s.PotentialWin, &status, &s.Live,
		&sels, &payout, &s.Version, &s.CreatedAt, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan bet slip: %w", err)
	}
	s.Status = Status(status)
	if err := json.Unmarshal(sels, &s.Selections); err != nil {
		return nil, fmt.Errorf("unmarshal selections: %w", err)
	}
	if payout.Valid {
		s.Payout = &payout.Decimal
	}
	if settledAt.Valid {
		s.SettledAt = &settledAt.Time
	}
	return &s, nil
}

func scanOffer(sc scanner) (*Offer, error) {
	var (
		o          Offer
		consumedAt sql.NullTime
	)
	err := sc.Scan(&o.ID, &o.BetSlipID, &o.UserID, &o.OfferAmount, &o.OriginalStake, &o.PotentialWin,
		&o.IssuedAt, &o.ExpiresAt, &consumedAt, &o.ConsumedReason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoOffer
	}
	if err != nil {
		return nil, fmt.Errorf("scan cashout offer: %w", err)
	}
	if consumedAt.Valid {
		o.ConsumedAt = &consumedAt.Time
	}
	return &o, nil
}
