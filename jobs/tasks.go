package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileSweep recomputes and repairs cached balances.
	TaskReconcileSweep = "reconcile:sweep"
)

// Sweep modes.
const (
	SweepModeRepair   = "repair"
	SweepModeValidate = "validate"
)

// ReconcileSweepPayload parameterises a sweep run. Validate-only runs report
// drift without writing.
type ReconcileSweepPayload struct {
	Mode string `json:"mode"`
}

// NewReconcileSweepTask constructs an Asynq task for the sweep.
func NewReconcileSweepTask(payload ReconcileSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileSweep, data), nil
}
