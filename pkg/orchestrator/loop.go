package orchestrator

import (
	"context"
	"fmt"
	"time"

	robcron "github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Run drives the trigger and reconciliation loops, plus the nightly disable
// job when configured, until ctx is cancelled. Each loop awaits its tick
// before waiting for the next interval.
func (s *Service) Run(ctx context.Context) error {
	var nightly *robcron.Cron
	if s.cfg.DisableNightly {
		nightly = robcron.New()
		if _, err := nightly.AddFunc(s.cfg.NightlySchedule, func() { s.runNightly(ctx) }); err != nil {
			return fmt.Errorf("schedule nightly disable %q: %w", s.cfg.NightlySchedule, err)
		}
		nightly.Start()
	}

	s.logger.Info("Orchestrator started",
		zap.Duration("trigger_interval", s.cfg.TriggerInterval),
		zap.Duration("reconcile_interval", s.cfg.ReconcileInterval),
		zap.Int("workers", s.cfg.Workers),
		zap.Bool("disable_nightly", s.cfg.DisableNightly))

	var wg conc.WaitGroup
	wg.Go(func() {
		s.loop(ctx, s.cfg.TriggerInterval, func(ctx context.Context) {
			report, err := s.TriggerTick(ctx)
			if err != nil {
				s.logger.Error("Trigger tick failed", zap.Error(err))
				return
			}
			s.logger.Debug("Trigger tick complete",
				zap.Int("evaluated", report.Evaluated),
				zap.Int("dispatched", report.Dispatched),
				zap.Int("failed", report.Failed))
		})
	})
	wg.Go(func() {
		s.loop(ctx, s.cfg.ReconcileInterval, func(ctx context.Context) {
			report, err := s.ReconcileTick(ctx)
			if err != nil {
				s.logger.Error("Reconcile tick failed", zap.Error(err))
				return
			}
			s.logger.Debug("Reconcile tick complete",
				zap.Int("polled", report.Polled),
				zap.Int("changed", report.Changed),
				zap.Int("timed_out", report.TimedOut),
				zap.Int("failed", report.Failed))
		})
	})
	wg.Wait()

	if nightly != nil {
		<-nightly.Stop().Done()
	}
	s.logger.Info("Orchestrator stopped")
	return ctx.Err()
}

func (s *Service) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) runNightly(ctx context.Context) {
	n, err := s.DisableEnabledPipelines(ctx)
	if err != nil {
		s.logger.Error("Nightly disable incomplete", zap.Int("disabled", n), zap.Error(err))
		return
	}
	s.logger.Info("Nightly disable complete", zap.Int("disabled", n))
}
