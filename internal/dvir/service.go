package dvir

import (
	"context"
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
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, orgID, id int64) (Report, error)
	List(ctx context.Context, orgID int64, filters ListFilters) ([]Report, int, error)
}

// AssetPort reads assets.
type AssetPort interface {
	Get(ctx context.Context, orgID, id int64) (assets.Asset, error)
}

// WorkOrderPort creates work orders, joining a transaction bound to ctx.
type WorkOrderPort interface {
	Create(ctx context.Context, orgID int64, input workorders.CreateInput) (workorders.Result, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles inspection reports.
type Service struct {
	repo       RepositoryPort
	assets     AssetPort
	workOrders WorkOrderPort
	audit      AuditPort
	now        func() time.Time
}

// NewService constructs the DVIR service.
func NewService(repo RepositoryPort, assets AssetPort, workOrders WorkOrderPort, audit AuditPort) *Service {
	return &Service{repo: repo, assets: assets, workOrders: workOrders, audit: audit, now: time.Now}
}

// DefectInput describes a reported defect.
type DefectInput struct {
	Component   string
	Description string
	Severity    Severity
}

// SubmitInput describes a new report.
type SubmitInput struct {
	AssetID        int64
	DriverName     string
	InspectionType InspectionType
	Odometer       float64
	Defects        []DefectInput
}

func (in SubmitInput) validate() error {
	if strings.TrimSpace(in.DriverName) == "" {
		return fmt.Errorf("%w: driver name required", ErrValidation)
	}
	if in.InspectionType != PreTrip && in.InspectionType != PostTrip {
		return fmt.Errorf("%w: unknown inspection type %q", ErrValidation, in.InspectionType)
	}
	if in.Odometer < 0 {
		return fmt.Errorf("%w: odometer must not be negative", ErrValidation)
	}
	for i, d := range in.Defects {
		if strings.TrimSpace(d.Component) == "" {
			return fmt.Errorf("%w: defect %d: component required", ErrValidation, i+1)
		}
		if !d.Severity.Valid() {
			return fmt.Errorf("%w: defect %d: unknown severity %q", ErrValidation, i+1, d.Severity)
		}
	}
	return nil
}

// Submit stores a report and its defects.
func (s *Service) Submit(ctx context.Context, orgID int64, input SubmitInput) (Report, error) {
	if err := input.validate(); err != nil {
		return Report{}, err
	}
	asset, err := s.assets.Get(ctx, orgID, input.AssetID)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		OrgID:          orgID,
		AssetID:        asset.ID,
		DriverName:     strings.TrimSpace(input.DriverName),
		InspectionType: input.InspectionType,
		Odometer:       input.Odometer,
		SubmittedAt:    s.now(),
	}
	if len(input.Defects) > 0 {
		report.Status = StatusDefectsFound
	} else {
		report.Status = StatusSatisfactory
	}
	draft := report
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.Create(ctx, draft)
		if err != nil {
			return err
		}
		report = created
		for _, in := range input.Defects {
			defect, err := tx.InsertDefect(ctx, Defect{
				DVIRID:      report.ID,
				Component:   strings.TrimSpace(in.Component),
				Description: in.Description,
				Severity:    in.Severity,
			})
			if err != nil {
				return err
			}
			report.Defects = append(report.Defects, defect)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	s.recordAudit(ctx, orgID, "DVIR_SUBMIT", report.ID, map[string]any{
		"asset_id": report.AssetID,
		"defects":  len(report.Defects),
	})
	return report, nil
}

// Get returns a report with defects.
func (s *Service) Get(ctx context.Context, orgID, id int64) (Report, error) {
	return s.repo.Get(ctx, orgID, id)
}

// List returns reports without defects.
func (s *Service) List(ctx context.Context, orgID int64, filters ListFilters) ([]Report, int, error) {
	return s.repo.List(ctx, orgID, filters)
}

// CreateWorkOrderForDefect raises an open work order for an unresolved defect
// and links it. Both writes commit together.
func (s *Service) CreateWorkOrderForDefect(ctx context.Context, orgID, dvirID, defectID int64) (DefectWorkOrder, error) {
	var out DefectWorkOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		report, err := tx.Lock(ctx, orgID, dvirID)
		if err != nil {
			return err
		}
		defect, err := findDefect(report, defectID)
		if err != nil {
			return err
		}
		if defect.Resolved {
			return ErrDefectResolved
		}
		if defect.WorkOrderID != nil {
			return ErrWorkOrderLinked
		}
		description := fmt.Sprintf("Reported by %s on %s inspection", report.DriverName, report.InspectionType)
		if defect.Description != "" {
			description = defect.Description + "\n\n" + description
		}
		result, err := s.workOrders.Create(ctx, orgID, workorders.CreateInput{
			AssetID:     &report.AssetID,
			Title:       "DVIR defect: " + defect.Component,
			Description: description,
			Priority:    defect.Severity.Priority(),
			Status:      workorders.StatusOpen,
			SourceKind:  workorders.SourceDVIR,
			SourceID:    &report.ID,
		})
		if err != nil {
			return err
		}
		if err := tx.LinkWorkOrder(ctx, defect.ID, result.WorkOrder.ID); err != nil {
			return err
		}
		defect.WorkOrderID = &result.WorkOrder.ID
		out = DefectWorkOrder{
			Defect:          defect,
			WorkOrderID:     result.WorkOrder.ID,
			WorkOrderNumber: result.WorkOrder.Number,
			Warnings:        result.Warnings,
		}
		return nil
	})
	if err != nil {
		return DefectWorkOrder{}, err
	}
	s.recordAudit(ctx, orgID, "DVIR_DEFECT_WO", dvirID, map[string]any{
		"defect_id":     defectID,
		"work_order_id": out.WorkOrderID,
	})
	return out, nil
}

// ResolveDefect closes a defect. The report becomes resolved once every
// defect is.
func (s *Service) ResolveDefect(ctx context.Context, orgID, dvirID, defectID int64) (Report, error) {
	var report Report
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		report, err = tx.Lock(ctx, orgID, dvirID)
		if err != nil {
			return err
		}
		defect, err := findDefect(report, defectID)
		if err != nil {
			return err
		}
		if defect.Resolved {
			return ErrDefectResolved
		}
		now := s.now()
		if err := tx.ResolveDefect(ctx, defect.ID, now); err != nil {
			return err
		}
		for i := range report.Defects {
			if report.Defects[i].ID == defect.ID {
				report.Defects[i].Resolved = true
				report.Defects[i].ResolvedAt = &now
			}
		}
		if next := statusFor(report.Defects); next != report.Status {
			report.Status = next
			return tx.SetStatus(ctx, report.ID, next)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	s.recordAudit(ctx, orgID, "DVIR_DEFECT_RESOLVE", dvirID, map[string]any{"defect_id": defectID})
	return report, nil
}

func findDefect(report Report, defectID int64) (Defect, error) {
	for _, d := range report.Defects {
		if d.ID == defectID {
			return d, nil
		}
	}
	return Defect{}, ErrDefectNotFound
}

func (s *Service) recordAudit(ctx context.Context, orgID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "dvir",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
