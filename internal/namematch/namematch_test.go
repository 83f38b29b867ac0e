package namematch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/alert"
	"github.com/radieske/wager-integrity-core/internal/clock"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		score    int
		decision Decision
	}{
		{"identical", "Chioma Okafor", "Chioma Okafor", 100, Approved},
		{"case and punctuation", "CHIOMA  okafor.", "chioma okafor", 100, Approved},
		{"middle initial vs full middle name", "Chioma A. Okafor", "Chioma Adaeze Okafor", 75, ManualReview},
		{"different people", "John Doe", "Mary Smith", -1, Rejected},
		{"empty", "", "Chioma Okafor", 0, Rejected},
		{"single typo", "Oluwaseun Adeyemi", "Oluwaseun Adeyemmi", 94, Approved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Score(tt.a, tt.b)
			if tt.score >= 0 {
				assert.Equal(t, tt.score, s)
			}
			assert.Equal(t, tt.decision, Decide(s))
		})
	}
}

func TestScore_DifferentPeopleBelowReviewBand(t *testing.T) {
	assert.Less(t, Score("John Doe", "Mary Smith"), ReviewAt)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "chioma a okafor", Normalize("  Chioma A. Okafor "))
	assert.Equal(t, "jean luc", Normalize("Jean\t\nLuc!"))
	assert.Equal(t, "", Normalize("..."))
}

type recordingRaiser struct {
	alerts []alert.New
	err    error
}

func (r *recordingRaiser) Raise(ctx context.Context, n alert.New) (*alert.SecurityAlert, error) {
	r.alerts = append(r.alerts, n)
	return &alert.SecurityAlert{}, r.err
}

type failingStore struct{}

func (failingStore) Save(ctx context.Context, e Evaluation) error { return errors.New("db down") }

func newMatcher(store Store, raiser AlertRaiser) *Matcher {
	clk := clock.New(clock.WithSource(clock.NewManual(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)).Now))
	return NewMatcher(store, raiser, clk, zap.NewNop())
}

func TestEvaluate_PersistsAndAlertsOnManualReview(t *testing.T) {
	store := NewMemoryStore()
	raiser := &recordingRaiser{}
	m := newMatcher(store, raiser)

	ev, err := m.Evaluate(context.Background(), Subject{Type: "payout", ID: "p1", UserID: "u1"}, "Chioma A. Okafor", "Chioma Adaeze Okafor")
	require.NoError(t, err)
	assert.Equal(t, ManualReview, ev.Decision)

	saved := store.All()
	require.Len(t, saved, 1)
	assert.Equal(t, "chioma a okafor", saved[0].NormalizedA)
	assert.Equal(t, 75, saved[0].Score)

	require.Len(t, raiser.alerts, 1)
	assert.Equal(t, alert.SeverityMedium, raiser.alerts[0].Severity)
	md, ok := raiser.alerts[0].Metadata.(alert.NameMismatch)
	require.True(t, ok)
	assert.Equal(t, "p1", md.SubjectID)
}

func TestEvaluate_NoAlertWhenApprovedOrRejected(t *testing.T) {
	raiser := &recordingRaiser{}
	m := newMatcher(NewMemoryStore(), raiser)

	ev, err := m.Evaluate(context.Background(), Subject{Type: "payout", ID: "p1"}, "Chioma Okafor", "Chioma Okafor")
	require.NoError(t, err)
	assert.Equal(t, Approved, ev.Decision)

	ev, err = m.Evaluate(context.Background(), Subject{Type: "payout", ID: "p2"}, "John Doe", "Mary Smith")
	require.NoError(t, err)
	assert.Equal(t, Rejected, ev.Decision)

	assert.Empty(t, raiser.alerts)
}

func TestEvaluate_FailsWhenNotPersisted(t *testing.T) {
	m := newMatcher(failingStore{}, &recordingRaiser{})
	_, err := m.Evaluate(context.Background(), Subject{Type: "payout", ID: "p1"}, "A", "A")
	assert.Error(t, err)
}
