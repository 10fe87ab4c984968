package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReservationSweep releases expired reservation holds.
	TaskReservationSweep = "reservation:sweep"
	// TaskLedgerIntegrity replays every ledger key against live stock.
	TaskLedgerIntegrity = "ledger:integrity"
)

// NewReservationSweepTask constructs the sweep task. The task carries no
// payload; the sweeper scans for expired holds itself.
func NewReservationSweepTask() *asynq.Task {
	return asynq.NewTask(TaskReservationSweep, nil)
}

// NewLedgerIntegrityTask constructs the integrity check task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}
