package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskMatchingSnapshot recomputes reconciliation metrics for a window
	// and warms the reporting cache.
	TaskMatchingSnapshot = "matching:snapshot"
	// TaskGLIntegrity scans posted journal entries for balance violations.
	TaskGLIntegrity = "ledger:integrity"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// MatchingSnapshotPayload scopes one snapshot run.
type MatchingSnapshotPayload struct {
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
	SupplierID int64     `json:"supplier_id,omitempty"`
}

// NewMatchingSnapshotTask constructs the snapshot task.
func NewMatchingSnapshotTask(payload MatchingSnapshotPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMatchingSnapshot, data), nil
}

// NewGLIntegrityTask constructs the integrity scan task.
func NewGLIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskGLIntegrity, nil)
}

// NewIdempotencyCleanupTask constructs the key cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}
