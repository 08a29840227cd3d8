package pm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/assets"
	"github.com/fleetdesk/fleetdesk/internal/shared"
	"github.com/fleetdesk/fleetdesk/internal/workorders"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error
	Create(ctx context.Context, s Schedule) (Schedule, error)
	Get(ctx context.Context, orgID, id int64) (Schedule, error)
	List(ctx context.Context, orgID int64, filters ListFilters) ([]Schedule, int, error)
	SetActive(ctx context.Context, orgID, id int64, active bool) error
	SetLastWorkOrder(ctx context.Context, id, workOrderID int64) error
	MarkServiced(ctx context.Context, orgID, id int64, at time.Time, meter float64) error
	// OrgsWithActiveSchedules lists organizations the scanner must visit.
	OrgsWithActiveSchedules(ctx context.Context) ([]int64, error)
}

// AssetPort reads assets.
type AssetPort interface {
	Get(ctx context.Context, orgID, id int64) (assets.Asset, error)
}

// WorkOrderPort creates and reads work orders.
type WorkOrderPort interface {
	Create(ctx context.Context, orgID int64, input workorders.CreateInput) (workorders.Result, error)
	Get(ctx context.Context, orgID, id int64) (workorders.Result, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages preventive maintenance schedules.
type Service struct {
	repo       RepositoryPort
	assets     AssetPort
	workOrders WorkOrderPort
	audit      AuditPort
	now        func() time.Time
}

// NewService constructs the PM service.
func NewService(repo RepositoryPort, assets AssetPort, workOrders WorkOrderPort, audit AuditPort) *Service {
	return &Service{repo: repo, assets: assets, workOrders: workOrders, audit: audit, now: time.Now}
}

// CreateInput describes a new schedule.
type CreateInput struct {
	AssetID       int64
	Title         string
	VMRSCode      string
	IntervalDays  *int
	IntervalMeter *float64
}

// Create validates and persists a schedule. The asset meter at creation is the
// baseline for meter intervals.
func (s *Service) Create(ctx context.Context, orgID int64, input CreateInput) (Schedule, error) {
	if strings.TrimSpace(input.Title) == "" {
		return Schedule{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	hasDays := input.IntervalDays != nil && *input.IntervalDays > 0
	hasMeter := input.IntervalMeter != nil && *input.IntervalMeter > 0
	if !hasDays && !hasMeter {
		return Schedule{}, fmt.Errorf("%w: an interval in days or meter is required", ErrValidation)
	}
	if (input.IntervalDays != nil && *input.IntervalDays < 0) || (input.IntervalMeter != nil && *input.IntervalMeter < 0) {
		return Schedule{}, fmt.Errorf("%w: intervals must not be negative", ErrValidation)
	}
	asset, err := s.assets.Get(ctx, orgID, input.AssetID)
	if err != nil {
		return Schedule{}, err
	}
	created, err := s.repo.Create(ctx, Schedule{
		OrgID:            orgID,
		AssetID:          asset.ID,
		Title:            strings.TrimSpace(input.Title),
		VMRSCode:         strings.TrimSpace(input.VMRSCode),
		IntervalDays:     input.IntervalDays,
		IntervalMeter:    input.IntervalMeter,
		LastServiceMeter: asset.Meter,
		Active:           true,
	})
	if err != nil {
		return Schedule{}, err
	}
	s.recordAudit(ctx, orgID, "PM_CREATE", created.ID, map[string]any{"asset_id": created.AssetID})
	return created, nil
}

// Get returns a schedule.
func (s *Service) Get(ctx context.Context, orgID, id int64) (Schedule, error) {
	return s.repo.Get(ctx, orgID, id)
}

// List returns schedules.
func (s *Service) List(ctx context.Context, orgID int64, filters ListFilters) ([]Schedule, int, error) {
	return s.repo.List(ctx, orgID, filters)
}

// Deactivate stops a schedule from generating work.
func (s *Service) Deactivate(ctx context.Context, orgID, id int64) (Schedule, error) {
	sched, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Schedule{}, err
	}
	if !sched.Active {
		return sched, nil
	}
	if err := s.repo.SetActive(ctx, orgID, id, false); err != nil {
		return Schedule{}, err
	}
	sched.Active = false
	s.recordAudit(ctx, orgID, "PM_DEACTIVATE", id, nil)
	return sched, nil
}

// ServiceInput records a completed service. Zero values default to now and
// the asset's current meter.
type ServiceInput struct {
	At    *time.Time
	Meter *float64
}

// MarkServiced resets the schedule's baseline.
func (s *Service) MarkServiced(ctx context.Context, orgID, id int64, input ServiceInput) (Schedule, error) {
	sched, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Schedule{}, err
	}
	if !sched.Active {
		return Schedule{}, ErrInactive
	}
	at := s.now()
	if input.At != nil {
		at = *input.At
	}
	var meter float64
	if input.Meter != nil {
		meter = *input.Meter
	} else {
		asset, err := s.assets.Get(ctx, orgID, sched.AssetID)
		if err != nil {
			return Schedule{}, err
		}
		meter = asset.Meter
	}
	if meter < 0 {
		return Schedule{}, fmt.Errorf("%w: meter must not be negative", ErrValidation)
	}
	if err := s.repo.MarkServiced(ctx, orgID, id, at, meter); err != nil {
		return Schedule{}, err
	}
	sched.LastServiceAt = &at
	sched.LastServiceMeter = meter
	return sched, nil
}

// GenerateDue opens one work order per due schedule. Schedules whose previous
// work order is still open are skipped. Each schedule commits on its own so a
// failure does not undo work already generated.
func (s *Service) GenerateDue(ctx context.Context, orgID int64, now time.Time) (GenerateSummary, error) {
	schedules, _, err := s.repo.List(ctx, orgID, ListFilters{ActiveOnly: true})
	if err != nil {
		return GenerateSummary{}, err
	}
	summary := GenerateSummary{Scanned: len(schedules)}
	var errs []error
	for _, sched := range schedules {
		generated, warnings, err := s.generate(ctx, orgID, sched, now)
		summary.Warnings = append(summary.Warnings, warnings...)
		switch {
		case err != nil:
			summary.Failed++
			errs = append(errs, fmt.Errorf("schedule %d: %w", sched.ID, err))
		case generated == nil:
			summary.Skipped++
		default:
			summary.Generated = append(summary.Generated, *generated)
		}
	}
	return summary, errors.Join(errs...)
}

func (s *Service) generate(ctx context.Context, orgID int64, sched Schedule, now time.Time) (*Generated, []string, error) {
	asset, err := s.assets.Get(ctx, orgID, sched.AssetID)
	if err != nil {
		return nil, nil, err
	}
	if !Due(sched, asset.Meter, now) {
		return nil, nil, nil
	}
	if sched.LastWorkOrderID != nil {
		last, err := s.workOrders.Get(ctx, orgID, *sched.LastWorkOrderID)
		switch {
		case err == nil && !last.WorkOrder.Status.Terminal():
			return nil, nil, nil
		case err != nil && !errors.Is(err, shared.ErrNotFound):
			return nil, nil, err
		}
	}

	var (
		generated Generated
		warnings  []string
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		input := workorders.CreateInput{
			AssetID:     &sched.AssetID,
			Title:       "PM: " + sched.Title,
			Description: fmt.Sprintf("Preventive maintenance generated from schedule %d", sched.ID),
			Status:      workorders.StatusOpen,
			SourceKind:  workorders.SourcePM,
			SourceID:    &sched.ID,
		}
		if sched.VMRSCode != "" {
			input.Lines = []workorders.LineInput{{
				LineType:    shared.LineLabor,
				Description: sched.Title,
				VMRSCode:    sched.VMRSCode,
				Quantity:    1,
			}}
		}
		result, err := s.workOrders.Create(ctx, orgID, input)
		if err != nil {
			return err
		}
		if err := s.repo.SetLastWorkOrder(ctx, sched.ID, result.WorkOrder.ID); err != nil {
			return err
		}
		generated = Generated{
			ScheduleID:      sched.ID,
			WorkOrderID:     result.WorkOrder.ID,
			WorkOrderNumber: result.WorkOrder.Number,
		}
		warnings = result.Warnings
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.recordAudit(ctx, orgID, "PM_GENERATE", sched.ID, map[string]any{"work_order_id": generated.WorkOrderID})
	return &generated, warnings, nil
}

// ScanAll runs GenerateDue for every organization with active schedules.
func (s *Service) ScanAll(ctx context.Context, now time.Time) (GenerateSummary, error) {
	orgs, err := s.repo.OrgsWithActiveSchedules(ctx)
	if err != nil {
		return GenerateSummary{}, err
	}
	var (
		total GenerateSummary
		errs  []error
	)
	for _, orgID := range orgs {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		summary, err := s.GenerateDue(ctx, orgID, now)
		total.Scanned += summary.Scanned
		total.Skipped += summary.Skipped
		total.Failed += summary.Failed
		total.Generated = append(total.Generated, summary.Generated...)
		total.Warnings = append(total.Warnings, summary.Warnings...)
		if err != nil {
			errs = append(errs, fmt.Errorf("org %d: %w", orgID, err))
		}
	}
	return total, errors.Join(errs...)
}

func (s *Service) recordAudit(ctx context.Context, orgID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "pm_schedule",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
