// Package retention schedules journal sweeps: a cron-driven loop that
// removes journaled events older than the configured period.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatrelay/pkg/config"
	"chatrelay/pkg/journal"
	"chatrelay/pkg/logger"
)

// RunOnce performs a single sweep with the given retention period.
func RunOnce(period time.Duration) (int, error) {
	if !journal.Ready() {
		return 0, fmt.Errorf("journal not open")
	}
	cutoff := time.Now().UTC().Add(-period)
	return journal.SweepOlderThan(cutoff)
}

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.Retention) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cfg.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cfg.Cron)
	}

	period, err := time.ParseDuration(cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("invalid retention period: %s", cfg.Period)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "period", cfg.Period)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, period)
	return cancel, nil
}

// runScheduler computes the next tick with gronx and sleeps until then.
func runScheduler(ctx context.Context, cronExpr string, period time.Duration) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		case <-time.After(time.Until(next)):
		}

		if n, err := RunOnce(period); err != nil {
			logger.Error("retention_run_error", "error", err)
		} else {
			logger.Info("retention_run_complete", "removed", n)
		}
	}
}
