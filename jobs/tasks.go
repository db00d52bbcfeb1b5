package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskConsistencySweep scans for drift and optionally repairs it.
	TaskConsistencySweep = "consistency:sweep"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ConsistencySweepPayload configures one sweep run. Sweeps never confirm destructive repairs.
type ConsistencySweepPayload struct {
	Repair bool `json:"repair"`
}

// IdempotencyCleanupPayload overrides the configured retention when positive.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewConsistencySweepTask constructs a sweep task. The unique option keeps at most one
// sweep queued at a time.
func NewConsistencySweepTask(repair bool) (*asynq.Task, error) {
	data, err := json.Marshal(ConsistencySweepPayload{Repair: repair})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsistencySweep, data, asynq.Unique(10*time.Minute)), nil
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NewTask builds a task by type name with default payload, for manual triggering.
func NewTask(taskType string) (*asynq.Task, error) {
	switch taskType {
	case TaskConsistencySweep:
		return NewConsistencySweepTask(false)
	case TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(0)
	}
	return nil, fmt.Errorf("jobs: unknown task type %q", taskType)
}
