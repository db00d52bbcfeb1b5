package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ops/internal/consistency"
	jobmetrics "github.com/odyssey-erp/odyssey-ops/internal/jobs"
)

// ConsistencySweepJob runs the auditor and, when requested, the repairer.
type ConsistencySweepJob struct {
	Auditor  *consistency.Auditor
	Repairer *consistency.Repairer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewConsistencySweepJob initialises the sweep handler.
func NewConsistencySweepJob(auditor *consistency.Auditor, repairer *consistency.Repairer, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsistencySweepJob {
	return &ConsistencySweepJob{Auditor: auditor, Repairer: repairer, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep.
func (j *ConsistencySweepJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Auditor == nil {
		return errors.New("consistency sweep: handler not configured")
	}
	var payload ConsistencySweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskConsistencySweep)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Bool("repair", payload.Repair))
	logger.Info("starting consistency sweep")

	findings, err := j.Auditor.Scan(ctx)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return err
	}
	if !payload.Repair || len(findings) == 0 || j.Repairer == nil {
		logger.Info("completed consistency sweep",
			slog.Int("findings", len(findings)),
			slog.Duration("duration", time.Since(start)))
		return nil
	}

	report, err := j.Repairer.Run(ctx, findings, consistency.RepairOptions{ActorID: "system:sweep"})
	if errors.Is(err, consistency.ErrMaintenanceInProgress) {
		logger.Info("repair skipped; maintenance lock held elsewhere")
		return nil
	}
	if err != nil {
		logger.Error("repair failed", slog.Any("error", err))
		return err
	}
	logger.Info("completed consistency sweep",
		slog.Int("findings", report.Findings),
		slog.Int("applied", report.Applied),
		slog.Int("skipped", report.Skipped),
		slog.Int("needs_confirmation", report.NeedsConfirmation),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (j *ConsistencySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
