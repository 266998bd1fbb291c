package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/thebiggive/matchbot-sub000/internal/application"
	"github.com/thebiggive/matchbot-sub000/internal/ports"
)

// Sweeper is the maintenance surface of the matching service.
type Sweeper interface {
	ExpireStaleMatches(ctx context.Context) (application.SweepResult, error)
	ReallocateToHigherPriority(ctx context.Context, campaignsClosedBefore, collectedAfter time.Time) (application.SweepResult, error)
	DetectOverMatched(ctx context.Context) ([]ports.OverMatchedDonation, error)
	ReconcileBalances(ctx context.Context, resetCache bool) (application.ReconcileReport, error)
}

// SweepWorker runs one maintenance task on a fixed interval.
type SweepWorker struct {
	logger    *slog.Logger
	operation string
	interval  time.Duration
	task      func(ctx context.Context) error
}

func newSweepWorker(logger *slog.Logger, operation string, interval, fallback time.Duration, task func(ctx context.Context) error) *SweepWorker {
	if interval <= 0 {
		interval = fallback
	}
	return &SweepWorker{logger: logger, operation: operation, interval: interval, task: task}
}

// NewExpiryWorker releases reservations of donations that never completed payment.
func NewExpiryWorker(logger *slog.Logger, sweeper Sweeper, interval time.Duration) *SweepWorker {
	return newSweepWorker(logger, "expire_stale_matches", interval, time.Minute, func(ctx context.Context) error {
		_, err := sweeper.ExpireStaleMatches(ctx)
		return err
	})
}

// NewReallocationWorker moves donations collected within lookback onto better pools freed
// after their campaign closed.
func NewReallocationWorker(logger *slog.Logger, sweeper Sweeper, interval, lookback time.Duration, clock func() time.Time) *SweepWorker {
	if lookback <= 0 {
		lookback = 72 * time.Hour
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return newSweepWorker(logger, "reallocate_to_higher_priority", interval, time.Hour, func(ctx context.Context) error {
		now := clock()
		_, err := sweeper.ReallocateToHigherPriority(ctx, now, now.Add(-lookback))
		return err
	})
}

func NewOverMatchWorker(logger *slog.Logger, sweeper Sweeper, interval time.Duration) *SweepWorker {
	return newSweepWorker(logger, "detect_over_matched", interval, 15*time.Minute, func(ctx context.Context) error {
		_, err := sweeper.DetectOverMatched(ctx)
		return err
	})
}

func NewReconcileWorker(logger *slog.Logger, sweeper Sweeper, interval time.Duration, resetCache bool) *SweepWorker {
	return newSweepWorker(logger, "reconcile_balances", interval, 30*time.Minute, func(ctx context.Context) error {
		_, err := sweeper.ReconcileBalances(ctx, resetCache)
		return err
	})
}

func (w *SweepWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.task(ctx); err != nil && ctx.Err() == nil {
			w.logger.ErrorContext(ctx, "sweep iteration failed",
				"module", "events.sweep_worker",
				"layer", "adapter",
				"operation", w.operation,
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
