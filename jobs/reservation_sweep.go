package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/marquee-ops/inventory-engine/internal/jobs"
	"github.com/marquee-ops/inventory-engine/internal/reservation"
)

// NewReservationSweepHandler builds the asynq handler that releases expired
// holds. Partial failures are logged but do not retry the whole task; the
// next scheduled sweep picks up whatever remains held.
func NewReservationSweepHandler(manager *reservation.Manager, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track(TaskReservationSweep)
		released, err := manager.SweepExpired(ctx)
		_ = tracker.End(err)
		if err != nil {
			logger.Error("reservation sweep incomplete",
				slog.Int("released", released),
				slog.Any("error", err))
			return nil
		}
		if released > 0 {
			logger.Info("reservation sweep", slog.Int("released", released))
		}
		return nil
	}
}
