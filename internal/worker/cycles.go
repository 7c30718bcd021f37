package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/notifyhub/restock-monitor/internal/aggregator"
	"github.com/notifyhub/restock-monitor/internal/dispatch"
	"github.com/notifyhub/restock-monitor/internal/monitor"
)

// Job names used by the admin surface.
const (
	JobCheck      = "check"
	JobDelivery   = "delivery"
	JobCleanup    = "cleanup"
	JobAggregator = "aggregator"
)

type CheckRunner interface {
	RunCycle(ctx context.Context) (monitor.CycleStats, error)
}

type DeliveryRunner interface {
	ProcessDue(ctx context.Context, limit int) (dispatch.ProcessStats, error)
}

type CleanupRunner interface {
	Cleanup(ctx context.Context) (dispatch.CleanupStats, error)
}

type AggregatorRunner interface {
	RunDue(ctx context.Context) (aggregator.RunStats, error)
}

// CheckCycle runs one item-check cycle.
func CheckCycle(r CheckRunner, logger *zap.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		stats, err := r.RunCycle(ctx)
		if err != nil {
			return err
		}
		if stats.Due > 0 {
			logger.Info("check cycle finished",
				zap.Int("due", stats.Due),
				zap.Int("checked", stats.Checked),
				zap.Int("failed", stats.Failed),
				zap.Int("deactivated", stats.Deactivated),
				zap.Int("events", stats.Events),
			)
		}
		return nil
	}
}

// DeliveryCycle processes up to limit due jobs.
func DeliveryCycle(r DeliveryRunner, limit int, logger *zap.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		stats, err := r.ProcessDue(ctx, limit)
		if err != nil {
			return err
		}
		if stats.Processed > 0 {
			logger.Info("delivery cycle finished",
				zap.Int("processed", stats.Processed),
				zap.Int("delivered", stats.Delivered),
				zap.Int("retried", stats.Retried),
				zap.Int("failed", stats.Failed),
				zap.Int("deferred", stats.Deferred),
				zap.Int("cancelled", stats.Cancelled),
			)
		}
		return nil
	}
}

// CleanupCycle purges expired jobs and events.
func CleanupCycle(r CleanupRunner) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := r.Cleanup(ctx)
		return err
	}
}

// AggregatorCycle polls whichever sources are due.
func AggregatorCycle(r AggregatorRunner) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := r.RunDue(ctx)
		return err
	}
}
