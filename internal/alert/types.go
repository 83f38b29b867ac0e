// Package alert guarda e publica alertas de segurança (fraude, AML, feed, pagamentos).
package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeDuplicateIdentity      Type = "duplicate_identity"
	TypeStructuring            Type = "structuring"
	TypeRoundTripping          Type = "round_tripping"
	TypeNameMismatch           Type = "name_mismatch"
	TypeFeedFailover           Type = "feed_failover"
	TypeLiveSuspension         Type = "live_suspension"
	TypeReconciliationMismatch Type = "reconciliation_mismatch"
	TypePayoutFailure          Type = "payout_failure"
	TypeLedgerAppendFailed     Type = "ledger_append_failed"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
	StatusDismissed     Status = "dismissed"
)

// Open indica se o alerta ainda exige ação
func (s Status) Open() bool { return s == StatusPending || s == StatusInvestigating }

var (
	ErrNotFound          = errors.New("alert not found")
	ErrInvalidTransition = errors.New("invalid alert status transition")
	ErrUnknownType       = errors.New("unknown alert type")
)

// Metadata é a união fechada dos payloads de alerta: um struct por tipo
type Metadata interface {
	AlertType() Type
}

type DuplicateIdentity struct {
	NationalID   string   `json:"national_id"`
	OtherUserIDs []string `json:"other_user_ids"`
}

type Structuring struct {
	Total       decimal.Decimal `json:"total"`
	Count       int             `json:"count"`
	EntryIDs    []string        `json:"entry_ids"`
	Threshold   decimal.Decimal `json:"threshold"`
	WindowHours int             `json:"window_hours"`
}

type RoundTripping struct {
	DepositEntryID    string          `json:"deposit_entry_id"`
	WithdrawalEntryID string          `json:"withdrawal_entry_id"`
	DepositAmount     decimal.Decimal `json:"deposit_amount"`
	WithdrawalAmount  decimal.Decimal `json:"withdrawal_amount"`
	Delta             decimal.Decimal `json:"delta"`
	DepositAt         time.Time       `json:"deposit_at"`
	WithdrawalAt      time.Time       `json:"withdrawal_at"`
}

type NameMismatch struct {
	EvaluationID string `json:"evaluation_id"`
	SubjectType  string `json:"subject_type"`
	SubjectID    string `json:"subject_id"`
	Score        int    `json:"score"`
}

type FeedFailover struct {
	Primary         string     `json:"primary"`
	PrimaryStatus   string     `json:"primary_status"`
	PrimaryLastSeen *time.Time `json:"primary_last_update,omitempty"`
	Secondary       string     `json:"secondary"`
	SecondaryStatus string     `json:"secondary_status"`
	ActiveProvider  string     `json:"active_provider"`
}

type LiveSuspension struct {
	PrimaryStatus   string `json:"primary_status"`
	SecondaryStatus string `json:"secondary_status"`
}

type ReconciliationMismatch struct {
	RecordID        string          `json:"record_id"`
	Provider        string          `json:"provider"`
	Date            string          `json:"date"`
	LedgerTotal     decimal.Decimal `json:"ledger_total"`
	SettlementTotal decimal.Decimal `json:"settlement_total"`
	Difference      decimal.Decimal `json:"difference"`
	TicketID        string          `json:"support_ticket_id,omitempty"`
}

type PayoutFailure struct {
	PayoutID string          `json:"payout_id"`
	Rail     string          `json:"rail"`
	Attempt  int             `json:"attempt"`
	Amount   decimal.Decimal `json:"amount"`
	Error    string          `json:"error"`
}

type LedgerAppendFailed struct {
	PayoutID       string          `json:"payout_id"`
	Rail           string          `json:"rail"`
	TransactionRef string          `json:"transaction_ref"`
	Amount         decimal.Decimal `json:"amount"`
	Error          string          `json:"error"`
}

func (DuplicateIdentity) AlertType() Type      { return TypeDuplicateIdentity }
func (Structuring) AlertType() Type            { return TypeStructuring }
func (RoundTripping) AlertType() Type          { return TypeRoundTripping }
func (NameMismatch) AlertType() Type           { return TypeNameMismatch }
func (FeedFailover) AlertType() Type           { return TypeFeedFailover }
func (LiveSuspension) AlertType() Type         { return TypeLiveSuspension }
func (ReconciliationMismatch) AlertType() Type { return TypeReconciliationMismatch }
func (PayoutFailure) AlertType() Type          { return TypePayoutFailure }
func (LedgerAppendFailed) AlertType() Type     { return TypeLedgerAppendFailed }

// DecodeMetadata reconstrói o payload tipado a partir do JSON persistido
func DecodeMetadata(t Type, raw []byte) (Metadata, error) {
	switch t {
	case TypeDuplicateIdentity:
		return decodeAs[DuplicateIdentity](t, raw)
	case TypeStructuring:
		return decodeAs[Structuring](t, raw)
	case TypeRoundTripping:
		return decodeAs[RoundTripping](t, raw)
	case TypeNameMismatch:
		return decodeAs[NameMismatch](t, raw)
	case TypeFeedFailover:
		return decodeAs[FeedFailover](t, raw)
	case TypeLiveSuspension:
		return decodeAs[LiveSuspension](t, raw)
	case TypeReconciliationMismatch:
		return decodeAs[ReconciliationMismatch](t, raw)
	case TypePayoutFailure:
		return decodeAs[PayoutFailure](t, raw)
	case TypeLedgerAppendFailed:
		return decodeAs[LedgerAppendFailed](t, raw)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

func decodeAs[T Metadata](t Type, raw []byte) (Metadata, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s metadata: %w", t, err)
	}
	return v, nil
}

type SecurityAlert struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"` // vazio = alerta de plataforma
	Type        Type      `json:"alert_type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Metadata    Metadata  `json:"metadata"`
	Status      Status    `json:"status"`
	ReviewedBy  string    `json:"reviewed_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (a *SecurityAlert) UnmarshalJSON(b []byte) error {
	type plain SecurityAlert
	aux := struct {
		*plain
		Metadata json.RawMessage `json:"metadata"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	m, err := DecodeMetadata(a.Type, aux.Metadata)
	if err != nil {
		return err
	}
	a.Metadata = m
	return nil
}

// New descreve um alerta a ser levantado
type New struct {
	UserID      string
	Severity    Severity
	Description string
	Metadata    Metadata
}

type Filter struct {
	UserID string
	Status Status
	Type   Type
	Limit  int
}
