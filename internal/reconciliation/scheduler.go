package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/radieske/wager-integrity-core/internal/clock"
)

// Scheduler concilia diariamente o dia anterior dos provedores cujo arquivo
// {dir}/{provider}-{YYYY-MM-DD}.csv já chegou
type Scheduler struct {
	svc       *Service
	dir       string
	providers []string
	clock     *clock.Authority
	log       *zap.Logger
	cron      *cron.Cron
}

func NewScheduler(svc *Service, dir string, providers []string, clk *clock.Authority, log *zap.Logger) *Scheduler {
	return &Scheduler{
		svc:       svc,
		dir:       dir,
		providers: providers,
		clock:     clk,
		log:       log,
		cron:      cron.New(cron.WithLocation(clk.Location())),
	}
}

// SettlementPath devolve o caminho esperado do arquivo de um provedor/dia
func SettlementPath(dir, provider string, day time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s.csv", provider, day.Format(time.DateOnly)))
}

// Start agenda o job. spec é uma expressão cron de 5 campos.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.log.Info("running scheduled reconciliation")
		s.RunDue(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule reconciliation %q: %w", spec, err)
	}
	s.cron.Start()
	s.log.Info("reconciliation scheduler started", zap.String("schedule", spec), zap.Strings("providers", s.providers))
	return nil
}

// AddJob agenda outra tarefa periódica no mesmo cron (ex: janitor de ofertas)
func (s *Scheduler) AddJob(spec string, fn func()) error {
	_, err := s.cron.AddFunc(spec, fn)
	return err
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunDue concilia o dia anterior; devolve os registros criados
func (s *Scheduler) RunDue(ctx context.Context) []*Record {
	day := s.clock.StartOfDay(s.clock.Now()).AddDate(0, 0, -1)
	var out []*Record
	for _, p := range s.providers {
		path := SettlementPath(s.dir, p, day)
		rec, err := s.svc.RunFile(ctx, SystemActor, p, day, path)
		switch {
		case errors.Is(err, ErrNoSettlementFile):
			s.log.Info("settlement file not available yet", zap.String("provider", p), zap.String("path", path))
		case errors.Is(err, ErrAlreadyReconciled):
			s.log.Debug("already reconciled", zap.String("provider", p), zap.String("date", day.Format(time.DateOnly)))
		case err != nil:
			runsTotal.WithLabelValues(p, "error").Inc()
			s.log.Error("reconciliation failed", zap.String("provider", p), zap.Error(err))
		default:
			out = append(out, rec)
		}
	}
	return out
}
