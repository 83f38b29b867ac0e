package namematch

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/clock"
)

// Evaluation é o registro auditável de uma comparação
type Evaluation struct {
	ID          string    `json:"id"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	NameA       string    `json:"name_a"`
	NameB       string    `json:"name_b"`
	NormalizedA string    `json:"normalized_a"`
	NormalizedB string    `json:"normalized_b"`
	Score       int       `json:"score"`
	Decision    Decision  `json:"decision"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

type Subject struct {
	Type   string // ex: "payout"
	ID     string
	UserID string
}

type Store interface {
	Save(ctx context.Context, e Evaluation) error
}

type AlertRaiser interface {
	Raise(ctx context.Context, n alert.New) (*alert.SecurityAlert, error)
}

type Matcher struct {
	store  Store
	alerts AlertRaiser
	clock  *clock.Authority
	log    *zap.Logger
}

func NewMatcher(store Store, alerts AlertRaiser, clk *clock.Authority, log *zap.Logger) *Matcher {
	return &Matcher{store: store, alerts: alerts, clock: clk, log: log}
}

// Evaluate compara registered (titular da conta) com kycName e persiste o resultado.
// Se a persistência falhar a avaliação não vale: o saque não deve seguir.
func (m *Matcher) Evaluate(ctx context.Context, subj Subject, registered, kycName string) (*Evaluation, error) {
	na, nb := Normalize(registered), Normalize(kycName)
	score := scoreNormalized(na, nb)
	ev := Evaluation{
		ID:          uuid.NewString(),
		SubjectType: subj.Type,
		SubjectID:   subj.ID,
		NameA:       registered,
		NameB:       kycName,
		NormalizedA: na,
		NormalizedB: nb,
		Score:       score,
		Decision:    Decide(score),
		EvaluatedAt: m.clock.AuditTimestamp(),
	}
	if err := m.store.Save(ctx, ev); err != nil {
		return nil, fmt.Errorf("persist name match: %w", err)
	}

	m.log.Info("name match evaluated",
		zap.String("subject_id", subj.ID),
		zap.Int("score", score),
		zap.String("decision", string(ev.Decision)))

	if ev.Decision == ManualReview {
		_, err := m.alerts.Raise(ctx, alert.New{
			UserID:      subj.UserID,
			Severity:    alert.SeverityMedium,
			Description: fmt.Sprintf("payout account name needs review (score %d)", score),
			Metadata: alert.NameMismatch{
				EvaluationID: ev.ID,
				SubjectType:  subj.Type,
				SubjectID:    subj.ID,
				Score:        score,
			},
		})
		if err != nil {
			m.log.Error("raise name mismatch alert", zap.String("subject_id", subj.ID), zap.Error(err))
		}
	}
	return &ev, nil
}

type MemoryStore struct {
	mu    sync.Mutex
	evals []Evaluation
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Save(ctx context.Context, e Evaluation) error {
	m.mu.Lock()
	m.evals = append(m.evals, e)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) All() []Evaluation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Evaluation(nil), m.evals...)
}

type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Save(ctx context.Context, e Evaluation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO name_match_evaluations
			(id, subject_type, subject_id, name_a, name_b, normalized_a, normalized_b, score, decision, evaluated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.SubjectType, e.SubjectID, e.NameA, e.NameB, e.NormalizedA, e.NormalizedB, e.Score, string(e.Decision), e.EvaluatedAt)
	return err
}
