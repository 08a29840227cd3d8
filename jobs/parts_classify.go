package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fleetdesk/fleetdesk/internal/jobs"
	"github.com/fleetdesk/fleetdesk/internal/parts"
)

// OrgLister enumerates tenants for fan-out jobs.
type OrgLister interface {
	IDs(ctx context.Context) ([]int64, error)
}

// PartClassifier recomputes SMART classes for one organization.
type PartClassifier interface {
	Reclassify(ctx context.Context, orgID int64) (parts.ClassSummary, error)
}

// PartsClassifyJob refreshes part stock-health classes across organizations.
type PartsClassifyJob struct {
	Orgs    OrgLister
	Parts   PartClassifier
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPartsClassifyJob initialises the reclassification handler.
func NewPartsClassifyJob(orgs OrgLister, classifier PartClassifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *PartsClassifyJob {
	return &PartsClassifyJob{Orgs: orgs, Parts: classifier, Logger: logger, Metrics: metrics}
}

// Handle reclassifies every organization in scope. One organization failing
// does not stop the others.
func (j *PartsClassifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Parts == nil {
		return errors.New("parts classify: handler not configured")
	}
	var payload PartsClassifyPayload
	if err := decodePayload(t.Payload(), &payload); err != nil {
		return err
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskPartsClassify)
	logger := j.logger()

	orgs := []int64{payload.OrgID}
	if payload.OrgID <= 0 {
		if j.Orgs == nil {
			return tracker.End(errors.New("parts classify: organization lister not configured"))
		}
		ids, err := j.Orgs.IDs(ctx)
		if err != nil {
			logger.Error("list organizations", slog.Any("error", err))
			return tracker.End(err)
		}
		orgs = ids
	}

	var (
		errs    []error
		total   int
		changed int
	)
	for _, orgID := range orgs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		summary, err := j.Parts.Reclassify(ctx, orgID)
		if err != nil {
			logger.Error("reclassify parts", slog.Int64("org_id", orgID), slog.Any("error", err))
			errs = append(errs, fmt.Errorf("org %d: %w", orgID, err))
			continue
		}
		total += summary.Total
		changed += summary.Changed
		if summary.ByClass[parts.ClassCritical] > 0 {
			logger.Warn("parts at critical stock",
				slog.Int64("org_id", orgID),
				slog.Int("count", summary.ByClass[parts.ClassCritical]),
			)
		}
	}
	j.metrics().AddItems(TaskPartsClassify, "changed", changed)

	logger.Info("completed parts classification",
		slog.Int("organizations", len(orgs)),
		slog.Int("parts", total),
		slog.Int("changed", changed),
		slog.Duration("duration", time.Since(start)),
	)
	return tracker.End(errors.Join(errs...))
}

func (j *PartsClassifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPartsClassify))
	}
	return slog.Default().With(slog.String("job", TaskPartsClassify))
}

func (j *PartsClassifyJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
