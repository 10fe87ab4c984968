package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/marquee-ops/inventory-engine/internal/jobs"
	"github.com/marquee-ops/inventory-engine/internal/ledger"
)

// NewLedgerIntegrityHandler builds the asynq handler that replays every known
// ledger key against the live stock record. A mismatch quarantines the key
// inside the recorder; the run keeps going so one bad key cannot hide others.
func NewLedgerIntegrityHandler(log ledger.Log, recorder *ledger.Recorder, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		tracker := metrics.Track(TaskLedgerIntegrity)
		keys, err := log.Keys(ctx)
		if err != nil {
			logger.Error("ledger integrity: list keys", slog.Any("error", err))
			return tracker.End(err)
		}
		mismatches := 0
		for _, key := range keys {
			if err := ctx.Err(); err != nil {
				return tracker.End(err)
			}
			if err := recorder.VerifyKey(ctx, key); err != nil {
				if errors.Is(err, ledger.ErrReplayMismatch) {
					mismatches++
					continue
				}
				logger.Error("ledger integrity: verify",
					slog.String("key", key.String()),
					slog.Any("error", err))
			}
		}
		logger.Info("ledger integrity check finished",
			slog.Int("keys", len(keys)),
			slog.Int("mismatches", mismatches))
		return tracker.End(nil)
	}
}
