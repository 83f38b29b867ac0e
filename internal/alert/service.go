package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/audit"
	"github.com/radieske/wager-integrity-core/internal/clock"
	"github.com/radieske/wager-integrity-core/internal/shared/kafka"
)

var raisedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wager",
	Subsystem: "alerts",
	Name:      "raised_total",
	Help:      "Security alerts raised, by type and severity.",
}, []string{"type", "severity"})

func init() {
	prometheus.MustRegister(raisedTotal)
}

// Publisher propaga alertas novos para outros consumidores (ex: tópico security_alerts)
type Publisher interface {
	Publish(ctx context.Context, a SecurityAlert) error
}

type Service struct {
	store Store
	clock *clock.Authority
	audit *audit.Log
	pub   Publisher
	log   *zap.Logger
}

func NewService(store Store, clk *clock.Authority, auditLog *audit.Log, pub Publisher, log *zap.Logger) *Service {
	return &Service{store: store, clock: clk, audit: auditLog, pub: pub, log: log}
}

func (s *Service) build(n New) (*SecurityAlert, error) {
	if n.Metadata == nil {
		return nil, fmt.Errorf("%w: missing metadata", ErrUnknownType)
	}
	now := s.clock.AuditTimestamp()
	return &SecurityAlert{
		ID:          uuid.NewString(),
		UserID:      n.UserID,
		Type:        n.Metadata.AlertType(),
		Severity:    n.Severity,
		Description: n.Description,
		Metadata:    n.Metadata,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Raise grava um alerta novo e o publica (falha de publicação só é logada)
func (s *Service) Raise(ctx context.Context, n New) (*SecurityAlert, error) {
	a, err := s.build(n)
	if err != nil {
		return nil, err
	}
	if err := s.store.Insert(ctx, a); err != nil {
		return nil, err
	}
	s.raised(ctx, a)
	return a, nil
}

// RaiseOnce não duplica: se já existir alerta aberto do mesmo tipo para o usuário
// dentro da janela, nada é gravado e raised=false.
func (s *Service) RaiseOnce(ctx context.Context, n New, window time.Duration) (*SecurityAlert, bool, error) {
	a, err := s.build(n)
	if err != nil {
		return nil, false, err
	}
	inserted, err := s.store.InsertUnlessOpen(ctx, a, a.CreatedAt.Add(-window))
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		return nil, false, nil
	}
	s.raised(ctx, a)
	return a, true, nil
}

func (s *Service) raised(ctx context.Context, a *SecurityAlert) {
	raisedTotal.WithLabelValues(string(a.Type), string(a.Severity)).Inc()
	s.log.Warn("security alert raised",
		zap.String("alert_id", a.ID),
		zap.String("user_id", a.UserID),
		zap.String("type", string(a.Type)),
		zap.String("severity", string(a.Severity)))
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, *a); err != nil {
		s.log.Warn("publish alert failed", zap.String("alert_id", a.ID), zap.Error(err))
	}
}

func (s *Service) Get(ctx context.Context, id string) (*SecurityAlert, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter) ([]SecurityAlert, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	return s.store.List(ctx, f)
}

var transitions = map[Status][]Status{
	StatusPending:       {StatusInvestigating, StatusResolved, StatusDismissed},
	StatusInvestigating: {StatusResolved, StatusDismissed},
}

// Review muda o status de um alerta; toda tentativa vai para o audit log
func (s *Service) Review(ctx context.Context, adminID, id string, to Status) error {
	err := s.review(ctx, adminID, id, to)
	_ = s.audit.Record(ctx, adminID, audit.ActionAlertReview, "security_alert", id, err)
	return err
}

func (s *Service) review(ctx context.Context, adminID, id string, to Status) error {
	a, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	allowed := false
	for _, st := range transitions[a.Status] {
		if st == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, to)
	}
	return s.store.UpdateStatus(ctx, id, to, adminID, s.clock.AuditTimestamp())
}

// RequiresManualApproval é true quando o usuário tem alerta crítico em aberto
func (s *Service) RequiresManualApproval(ctx context.Context, userID string) (bool, error) {
	return s.store.HasOpenWithSeverity(ctx, userID, SeverityCritical)
}

// HasOpen indica se o usuário tem alerta do tipo t ainda não resolvido
func (s *Service) HasOpen(ctx context.Context, userID string, t Type) (bool, error) {
	for _, st := range []Status{StatusPending, StatusInvestigating} {
		found, err := s.store.List(ctx, Filter{UserID: userID, Type: t, Status: st, Limit: 1})
		if err != nil {
			return false, err
		}
		if len(found) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// KafkaPublisher escreve alertas no tópico de segurança, chaveados por usuário
type KafkaPublisher struct {
	w kafka.MessageWriter
}

func NewKafkaPublisher(w kafka.MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, a SecurityAlert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	key := a.UserID
	if key == "" {
		key = string(a.Type)
	}
	return kafka.WriteJSON(ctx, p.w, key, payload)
}

