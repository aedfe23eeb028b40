package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/partnerly/partnerly/internal/clock"
	"github.com/partnerly/partnerly/internal/config"
	"github.com/partnerly/partnerly/internal/principal"
	settlementdomain "github.com/partnerly/partnerly/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg           config.Config
	Log           *zap.Logger
	Clock         clock.Clock
	SettlementSvc settlementdomain.Service
}

// Scheduler locks the previous calendar month once its configured
// day-of-month has passed. Locking is idempotent at the settlement layer,
// so running the check on every tick is safe.
type Scheduler struct {
	cfg           config.SettlementConfig
	log           *zap.Logger
	clock         clock.Clock
	settlementSvc settlementdomain.Service
}

func New(p Params) *Scheduler {
	return &Scheduler{
		cfg:           p.Cfg.Settlement,
		log:           p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		clock:         p.Clock,
		settlementSvc: p.SettlementSvc,
	}
}

func (s *Scheduler) RunForever(ctx context.Context) {
	tick := time.Duration(s.cfg.SchedulerTickSec) * time.Second
	if tick <= 0 {
		tick = time.Hour
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce locks the previous month when due. An already-locked period is a
// normal outcome, not an error.
func (s *Scheduler) RunOnce(ctx context.Context) {
	now := s.clock.Now().UTC()
	if now.Day() < s.cfg.AutoLockDay {
		return
	}

	ctx = principal.WithPrincipal(ctx, principal.Principal{ID: "scheduler", Role: principal.RoleSystem})

	prev := now.AddDate(0, -1, 0)
	result, err := s.settlementSvc.LockPeriod(ctx, prev.Year(), prev.Month())
	if err != nil {
		if errors.Is(err, settlementdomain.ErrPeriodNotOpen) {
			return
		}
		s.log.Error("auto-lock failed",
			zap.Int("year", prev.Year()),
			zap.Int("month", int(prev.Month())),
			zap.Error(err),
		)
		return
	}

	s.log.Info("auto-locked payout period",
		zap.Int("year", result.Period.Year),
		zap.Int("month", result.Period.Month),
		zap.Int("statements_upserted", result.Generation.StatementsUpserted),
		zap.Int("failures", len(result.Generation.Failures)),
	)
}
