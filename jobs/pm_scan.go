package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fleetdesk/fleetdesk/internal/jobs"
	"github.com/fleetdesk/fleetdesk/internal/pm"
)

// PMScanner is the slice of the PM service used by the scan job.
type PMScanner interface {
	ScanAll(ctx context.Context, now time.Time) (pm.GenerateSummary, error)
	GenerateDue(ctx context.Context, orgID int64, now time.Time) (pm.GenerateSummary, error)
}

// PMScanJob opens work orders for schedules that came due.
type PMScanJob struct {
	Scanner PMScanner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPMScanJob initialises the PM scan handler.
func NewPMScanJob(scanner PMScanner, logger *slog.Logger, metrics *jobmetrics.Metrics) *PMScanJob {
	return &PMScanJob{
		Scanner: scanner,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan. Schedules that failed are reported through the
// returned error so asynq retries; schedules already generated are skipped on
// retry because their work order is still open.
func (j *PMScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("pm scan: handler not configured")
	}
	var payload PMScanPayload
	if err := decodePayload(t.Payload(), &payload); err != nil {
		return err
	}

	start := j.now()
	tracker := j.metrics().Track(TaskPMScan)
	logger := j.logger().With(slog.Int64("org_id", payload.OrgID))
	logger.Info("starting pm scan")

	var (
		summary pm.GenerateSummary
		err     error
	)
	if payload.OrgID > 0 {
		summary, err = j.Scanner.GenerateDue(ctx, payload.OrgID, start)
	} else {
		summary, err = j.Scanner.ScanAll(ctx, start)
	}

	for _, g := range summary.Generated {
		logger.Info("pm work order generated",
			slog.Int64("schedule_id", g.ScheduleID),
			slog.Int64("work_order_id", g.WorkOrderID),
			slog.String("work_order_number", g.WorkOrderNumber),
		)
	}
	for _, warning := range summary.Warnings {
		logger.Warn("pm scan warning", slog.String("warning", warning))
	}
	j.metrics().AddItems(TaskPMScan, "generated", len(summary.Generated))
	j.metrics().AddItems(TaskPMScan, "skipped", summary.Skipped)
	j.metrics().AddItems(TaskPMScan, "failed", summary.Failed)

	if err != nil {
		logger.Error("pm scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("completed pm scan",
		slog.Int("scanned", summary.Scanned),
		slog.Int("generated", len(summary.Generated)),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(nil)
}

func (j *PMScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPMScan))
	}
	return slog.Default().With(slog.String("job", TaskPMScan))
}

func (j *PMScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PMScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
