package estimates

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/numbering"
	"github.com/fleetdesk/fleetdesk/internal/organizations"
	"github.com/fleetdesk/fleetdesk/internal/parts"
	"github.com/fleetdesk/fleetdesk/internal/shared"
	"github.com/fleetdesk/fleetdesk/internal/workorders"
)

// ModuleEstimate names estimate approval history.
const ModuleEstimate = "ESTIMATE"

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, orgID, id int64) (Estimate, []Line, error)
	List(ctx context.Context, orgID int64, filters ListFilters) ([]Estimate, int, error)
}

// WorkOrderPort creates work orders. Calls made with a transaction-bound
// context join that transaction.
type WorkOrderPort interface {
	Create(ctx context.Context, orgID int64, input workorders.CreateInput) (workorders.Result, error)
}

// PartLookup resolves parts for ordering decisions.
type PartLookup interface {
	Lookup(ctx context.Context, orgID, id int64) (parts.Part, error)
}

// NumberPort issues document numbers.
type NumberPort interface {
	Next(ctx context.Context, orgID int64, docType string) (string, error)
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages estimates and their conversion into work orders.
type Service struct {
	repo       RepositoryPort
	workOrders WorkOrderPort
	parts      PartLookup
	numbers    NumberPort
	approvals  ApprovalPort
	audit      AuditPort
	now        func() time.Time
}

// NewService constructs estimate service.
func NewService(repo RepositoryPort, workOrders WorkOrderPort, parts PartLookup, numbers NumberPort, approvals ApprovalPort, audit AuditPort) *Service {
	return &Service{
		repo:       repo,
		workOrders: workOrders,
		parts:      parts,
		numbers:    numbers,
		approvals:  approvals,
		audit:      audit,
		now:        time.Now,
	}
}

// CreateInput describes a new estimate.
type CreateInput struct {
	AssetID *int64
	Title   string
	Lines   []LineInput
}

// LineInput describes an estimate line.
type LineInput struct {
	LineType    shared.LineType
	PartID      *int64
	Description string
	VMRSCode    string
	VMRSTitle   string
	Quantity    float64
	UnitCost    float64
}

func (in LineInput) validate() error {
	if !in.LineType.Valid() {
		return fmt.Errorf("%w: unknown line type %q", ErrValidation, in.LineType)
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: description required", ErrValidation)
	}
	if strings.TrimSpace(in.VMRSCode) == "" {
		return fmt.Errorf("%w: vmrs code required", ErrValidation)
	}
	if shared.RoundQuantity(in.Quantity) <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if in.UnitCost < 0 {
		return fmt.Errorf("%w: unit cost must not be negative", ErrValidation)
	}
	if in.LineType == shared.LineInventoryPart && in.PartID == nil {
		return fmt.Errorf("%w: inventory part line requires a part", ErrValidation)
	}
	return nil
}

// Create persists a draft estimate with its lines.
func (s *Service) Create(ctx context.Context, orgID int64, input CreateInput) (Detail, error) {
	if strings.TrimSpace(input.Title) == "" {
		return Detail{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	for i, line := range input.Lines {
		if err := line.validate(); err != nil {
			return Detail{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	var detail Detail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		detail = Detail{}
		number, err := s.numbers.Next(ctx, orgID, numbering.DocEstimate)
		if err != nil {
			return err
		}
		est, err := tx.Create(ctx, Estimate{
			OrgID:   orgID,
			Number:  number,
			AssetID: input.AssetID,
			Title:   strings.TrimSpace(input.Title),
			Status:  StatusDraft,
		})
		if err != nil {
			return err
		}
		for _, in := range input.Lines {
			line, err := s.buildLine(ctx, orgID, est.ID, in)
			if err != nil {
				return err
			}
			saved, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			detail.Lines = append(detail.Lines, saved)
		}
		est.TotalAmount, err = s.refreshTotal(ctx, tx, est.ID)
		if err != nil {
			return err
		}
		detail.Estimate = est
		return nil
	})
	if err != nil {
		return Detail{}, err
	}
	s.recordAudit(ctx, orgID, "EST_CREATE", detail.Estimate.ID, map[string]any{"number": detail.Estimate.Number})
	return detail, nil
}

func (s *Service) buildLine(ctx context.Context, orgID, estimateID int64, in LineInput) (Line, error) {
	var onHand float64
	if in.LineType == shared.LineInventoryPart && s.parts != nil {
		part, err := s.parts.Lookup(ctx, orgID, *in.PartID)
		if err != nil {
			return Line{}, err
		}
		onHand = part.QuantityOnHand
	}
	quantity, unitCost, total := shared.NormalizeLine(in.Quantity, in.UnitCost)
	return Line{
		EstimateID:    estimateID,
		LineType:      in.LineType,
		PartID:        in.PartID,
		Description:   strings.TrimSpace(in.Description),
		VMRSCode:      strings.TrimSpace(in.VMRSCode),
		VMRSTitle:     in.VMRSTitle,
		Quantity:      quantity,
		UnitCost:      unitCost,
		TotalCost:     total,
		NeedsOrdering: shared.NeedsOrdering(in.LineType, quantity, onHand),
	}, nil
}

func (s *Service) refreshTotal(ctx context.Context, tx TxRepository, estimateID int64) (float64, error) {
	lines, err := tx.ListLines(ctx, estimateID)
	if err != nil {
		return 0, err
	}
	amounts := make([]float64, 0, len(lines))
	for _, line := range lines {
		amounts = append(amounts, line.TotalCost)
	}
	total := shared.SumAmounts(amounts...)
	return total, tx.SetTotal(ctx, estimateID, total)
}

// AddLine appends a line while the estimate is draft or pending approval.
func (s *Service) AddLine(ctx context.Context, orgID, estimateID int64, input LineInput) (Line, error) {
	if err := input.validate(); err != nil {
		return Line{}, err
	}
	var saved Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		est, err := tx.Lock(ctx, orgID, estimateID)
		if err != nil {
			return err
		}
		if !est.Editable() {
			return ErrNotEditable
		}
		line, err := s.buildLine(ctx, orgID, est.ID, input)
		if err != nil {
			return err
		}
		if saved, err = tx.InsertLine(ctx, line); err != nil {
			return err
		}
		_, err = s.refreshTotal(ctx, tx, est.ID)
		return err
	})
	if err != nil {
		return Line{}, err
	}
	return saved, nil
}

// RemoveLine deletes a line and recomputes the total. Status is unchanged.
func (s *Service) RemoveLine(ctx context.Context, orgID, estimateID, lineID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		est, err := tx.Lock(ctx, orgID, estimateID)
		if err != nil {
			return err
		}
		if !est.Editable() {
			return ErrNotEditable
		}
		if err := tx.DeleteLine(ctx, est.ID, lineID); err != nil {
			return err
		}
		_, err = s.refreshTotal(ctx, tx, est.ID)
		return err
	})
}

// Submit sends a draft estimate for approval.
func (s *Service) Submit(ctx context.Context, orgID, id int64) (Estimate, error) {
	return s.transition(ctx, orgID, id, EventSubmit, "")
}

// Approve approves a pending estimate.
func (s *Service) Approve(ctx context.Context, orgID, id int64, note string) (Estimate, error) {
	return s.transition(ctx, orgID, id, EventApprove, note)
}

// Reject rejects a pending estimate.
func (s *Service) Reject(ctx context.Context, orgID, id int64, note string) (Estimate, error) {
	return s.transition(ctx, orgID, id, EventReject, note)
}

func (s *Service) transition(ctx context.Context, orgID, id int64, event, note string) (Estimate, error) {
	var est Estimate
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		est, err = tx.Lock(ctx, orgID, id)
		if err != nil {
			return err
		}
		if est.ConvertedToWorkOrderID != nil {
			return ErrAlreadyConverted
		}
		next, err := statusMachine.Fire(ctx, string(est.Status), event)
		if err != nil {
			return err
		}
		now := s.now()
		est.Status = Status(next)
		action := shared.ApprovalSubmit
		switch event {
		case EventSubmit:
			est.SubmittedAt = &now
		case EventApprove:
			est.ApprovedAt = &now
			action = shared.ApprovalApprove
		case EventReject:
			est.RejectedAt = &now
			action = shared.ApprovalReject
		}
		if err := tx.UpdateStatus(ctx, est); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{
				OrgID:   orgID,
				Module:  ModuleEstimate,
				RefID:   shared.ApprovalRef(ModuleEstimate, est.ID),
				ActorID: shared.ActorFromContext(ctx),
				Action:  action,
				Note:    note,
			})
		}
		return nil
	})
	if err != nil {
		return Estimate{}, err
	}
	s.recordAudit(ctx, orgID, "EST_"+strings.ToUpper(event), id, map[string]any{"status": est.Status})
	return est, nil
}

// Eligibility reports whether the estimate can be converted under settings.
func (s *Service) Eligibility(ctx context.Context, orgID, id int64, settings organizations.Settings) (Eligibility, error) {
	est, lines, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Eligibility{}, err
	}
	ok, reason := CanConvert(est, settings, lines)
	return Eligibility{CanConvert: ok, Reason: reason}, nil
}

// Convert turns an eligible estimate into an open work order carrying every
// estimate line. The work order, its lines, the asset hold and the conversion
// marker commit together.
func (s *Service) Convert(ctx context.Context, orgID, id int64, settings organizations.Settings) (Conversion, error) {
	var conv Conversion
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		est, err := tx.Lock(ctx, orgID, id)
		if err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, est.ID)
		if err != nil {
			return err
		}
		if ok, reason := CanConvert(est, settings, lines); !ok {
			if est.ConvertedToWorkOrderID != nil {
				return ErrAlreadyConverted
			}
			return fmt.Errorf("%w: %s", ErrNotConvertible, reason)
		}

		input := workorders.CreateInput{
			AssetID:     est.AssetID,
			Title:       est.Title,
			Description: "Converted from estimate " + est.Number,
			Status:      workorders.StatusOpen,
			SourceKind:  workorders.SourceEstimate,
			SourceID:    &est.ID,
		}
		for _, line := range lines {
			needsOrdering := line.NeedsOrdering
			totalCost := line.TotalCost
			input.Lines = append(input.Lines, workorders.LineInput{
				LineType:      line.LineType,
				PartID:        line.PartID,
				Description:   line.Description,
				VMRSCode:      line.VMRSCode,
				VMRSTitle:     line.VMRSTitle,
				Quantity:      line.Quantity,
				UnitCost:      line.UnitCost,
				TotalCost:     &totalCost,
				NeedsOrdering: &needsOrdering,
			})
		}
		result, err := s.workOrders.Create(ctx, orgID, input)
		if err != nil {
			return err
		}
		marked, err := tx.MarkConverted(ctx, orgID, est.ID, result.WorkOrder.ID)
		if err != nil {
			return err
		}
		if !marked {
			return ErrAlreadyConverted
		}
		conv = Conversion{
			WorkOrderID:     result.WorkOrder.ID,
			WorkOrderNumber: result.WorkOrder.Number,
			Warnings:        result.Warnings,
		}
		return nil
	})
	if err != nil {
		return Conversion{}, err
	}
	s.recordAudit(ctx, orgID, "EST_CONVERT", id, map[string]any{
		"work_order_id": conv.WorkOrderID,
		"number":        conv.WorkOrderNumber,
	})
	return conv, nil
}

// Get returns an estimate with lines.
func (s *Service) Get(ctx context.Context, orgID, id int64) (Detail, error) {
	est, lines, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Detail{}, err
	}
	return Detail{Estimate: est, Lines: lines}, nil
}

// List returns estimates.
func (s *Service) List(ctx context.Context, orgID int64, filters ListFilters) ([]Estimate, int, error) {
	return s.repo.List(ctx, orgID, filters)
}

func (s *Service) recordAudit(ctx context.Context, orgID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "estimate",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
