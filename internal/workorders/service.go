package workorders

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/numbering"
	"github.com/fleetdesk/fleetdesk/internal/parts"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, orgID, id int64) (WorkOrder, error)
	ListLines(ctx context.Context, workOrderID int64) ([]Line, error)
	List(ctx context.Context, orgID int64, filters ListFilters) ([]WorkOrder, int, error)
}

// NumberPort issues document numbers.
type NumberPort interface {
	Next(ctx context.Context, orgID int64, docType string) (string, error)
}

// PartLookup resolves parts for line pricing and ordering.
type PartLookup interface {
	Lookup(ctx context.Context, orgID, id int64) (parts.Part, error)
}

// AuditPort records audit entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the work order lifecycle and keeps asset status in step with it.
type Service struct {
	repo    RepositoryPort
	numbers NumberPort
	parts   PartLookup
	audit   AuditPort
	now     func() time.Time
}

// NewService constructs work order service.
func NewService(repo RepositoryPort, numbers NumberPort, parts PartLookup, audit AuditPort) *Service {
	return &Service{repo: repo, numbers: numbers, parts: parts, audit: audit, now: time.Now}
}

// CreateInput describes a new work order.
type CreateInput struct {
	AssetID     *int64
	Title       string
	Description string
	Priority    Priority
	Status      Status
	DueDate     *time.Time
	SourceKind  SourceKind
	SourceID    *int64
	Lines       []LineInput
}

// LineInput describes a work order line. NeedsOrdering, when set, is copied
// as-is instead of being derived from stock on hand.
type LineInput struct {
	LineType      shared.LineType
	PartID        *int64
	Description   string
	VMRSCode      string
	VMRSTitle     string
	Quantity      float64
	UnitCost      float64
	// TotalCost and NeedsOrdering carry values over from a converted document.
	TotalCost     *float64
	NeedsOrdering *bool
}

// UpdateInput is a partial update. Nil fields are left untouched.
type UpdateInput struct {
	Title       *string
	Description *string
	Priority    *Priority
	DueDate     *time.Time
	Status      *Status
	AssetID     *int64
}

// Create persists a work order, its lines and the asset status change in one transaction.
func (s *Service) Create(ctx context.Context, orgID int64, input CreateInput) (Result, error) {
	if strings.TrimSpace(input.Title) == "" {
		return Result{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	if input.Priority == "" {
		input.Priority = PriorityNormal
	}
	if !input.Priority.Valid() {
		return Result{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, input.Priority)
	}
	if input.Status == "" {
		input.Status = StatusOpen
	}
	if !input.Status.Valid() {
		return Result{}, fmt.Errorf("%w: unknown status %q", ErrValidation, input.Status)
	}
	if input.SourceKind == "" {
		input.SourceKind = SourceManual
	}
	for i, line := range input.Lines {
		if err := line.validate(); err != nil {
			return Result{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}

	var result Result
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		result = Result{}
		number, err := s.numbers.Next(ctx, orgID, numbering.DocWorkOrder)
		if err != nil {
			return err
		}
		wo := WorkOrder{
			OrgID:       orgID,
			Number:      number,
			AssetID:     input.AssetID,
			Title:       strings.TrimSpace(input.Title),
			Description: input.Description,
			Priority:    input.Priority,
			Status:      input.Status,
			DueDate:     input.DueDate,
			SourceKind:  input.SourceKind,
			SourceID:    input.SourceID,
		}
		if wo.Status == StatusCompleted {
			now := s.now()
			wo.CompletedAt = &now
		}
		created, err := tx.Create(ctx, wo)
		if err != nil {
			return err
		}
		result.WorkOrder = created
		for _, in := range input.Lines {
			line, err := s.buildLine(ctx, orgID, created.ID, in)
			if err != nil {
				return err
			}
			saved, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			result.Lines = append(result.Lines, saved)
		}
		if created.AssetID != nil && !created.Status.Terminal() {
			warning, err := s.holdAsset(ctx, tx, orgID, *created.AssetID)
			if err != nil {
				return err
			}
			result.Warnings = appendWarning(result.Warnings, warning)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	s.recordAudit(ctx, orgID, "WO_CREATE", result.WorkOrder.ID, map[string]any{
		"number": result.WorkOrder.Number,
		"source": result.WorkOrder.SourceKind,
	})
	return result, nil
}

// Update applies a patch. Status changes go through the work order FSM and the
// asset status follows: closing the last open work order on an asset returns
// it to operational, reassigning an open work order moves the hold.
func (s *Service) Update(ctx context.Context, orgID, id int64, input UpdateInput) (Result, error) {
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return Result{}, fmt.Errorf("%w: title required", ErrValidation)
	}
	if input.Priority != nil && !input.Priority.Valid() {
		return Result{}, fmt.Errorf("%w: unknown priority %q", ErrValidation, *input.Priority)
	}
	if input.Status != nil && !input.Status.Valid() {
		return Result{}, fmt.Errorf("%w: unknown status %q", ErrValidation, *input.Status)
	}

	var (
		result    Result
		statusMsg string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.GetForUpdate(ctx, orgID, id)
		if err != nil {
			return err
		}
		before := wo

		if input.Title != nil {
			wo.Title = strings.TrimSpace(*input.Title)
		}
		if input.Description != nil {
			wo.Description = *input.Description
		}
		if input.Priority != nil {
			wo.Priority = *input.Priority
		}
		if input.DueDate != nil {
			wo.DueDate = input.DueDate
		}
		if input.Status != nil && *input.Status != wo.Status {
			event, ok := statusMachine.EventTo(string(wo.Status), string(*input.Status))
			if !ok {
				return fmt.Errorf("%w: work order cannot move from %s to %s", shared.ErrInvalidTransition, wo.Status, *input.Status)
			}
			next, err := statusMachine.Fire(ctx, string(wo.Status), event)
			if err != nil {
				return err
			}
			wo.Status = Status(next)
			statusMsg = event
			if wo.Status == StatusCompleted {
				now := s.now()
				wo.CompletedAt = &now
			}
		}
		if input.AssetID != nil && !sameAsset(wo.AssetID, input.AssetID) {
			if before.Status.Terminal() {
				return fmt.Errorf("%w: asset cannot be reassigned", ErrClosed)
			}
			assetID := *input.AssetID
			wo.AssetID = &assetID
		}

		if err := tx.Update(ctx, wo); err != nil {
			return err
		}

		warnings, err := s.syncAssets(ctx, tx, before, wo)
		if err != nil {
			return err
		}
		result.Warnings = warnings
		result.WorkOrder = wo
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	lines, err := s.repo.ListLines(ctx, id)
	if err != nil {
		return Result{}, err
	}
	result.Lines = lines
	if statusMsg != "" {
		s.recordAudit(ctx, orgID, "WO_"+strings.ToUpper(statusMsg), id, map[string]any{"status": result.WorkOrder.Status})
	}
	return result, nil
}

// syncAssets reconciles asset status after a work order changed status or asset.
func (s *Service) syncAssets(ctx context.Context, tx TxRepository, before, after WorkOrder) ([]string, error) {
	var warnings []string
	assetChanged := !sameAsset(before.AssetID, after.AssetID)

	if after.Status.Terminal() {
		if before.Status.Terminal() || before.AssetID == nil {
			return nil, nil
		}
		warning, err := s.releaseAsset(ctx, tx, after.OrgID, *before.AssetID, after.ID)
		return appendWarning(warnings, warning), err
	}

	if !assetChanged {
		return nil, nil
	}
	if after.AssetID != nil {
		warning, err := s.holdAsset(ctx, tx, after.OrgID, *after.AssetID)
		if err != nil {
			return nil, err
		}
		warnings = appendWarning(warnings, warning)
	}
	if before.AssetID != nil {
		warning, err := s.releaseAsset(ctx, tx, after.OrgID, *before.AssetID, after.ID)
		if err != nil {
			return nil, err
		}
		warnings = appendWarning(warnings, warning)
	}
	return warnings, nil
}

func (s *Service) holdAsset(ctx context.Context, tx TxRepository, orgID, assetID int64) (string, error) {
	found, err := tx.HoldAsset(ctx, orgID, assetID)
	if err != nil {
		return "", err
	}
	if !found {
		return missingAssetWarning(assetID), nil
	}
	return "", nil
}

// assetInMaintenance mirrors the asset status held by open work orders.
const assetInMaintenance = "in_maintenance"

// releaseAsset returns the asset to operational unless another non-terminal
// work order still holds it. The asset row is locked before counting so two
// work orders closing at once cannot both see the other as still open.
func (s *Service) releaseAsset(ctx context.Context, tx TxRepository, orgID, assetID, workOrderID int64) (string, error) {
	status, found, err := tx.LockAsset(ctx, orgID, assetID)
	if err != nil {
		return "", err
	}
	if !found {
		return missingAssetWarning(assetID), nil
	}
	open, err := tx.CountOpenOnAsset(ctx, orgID, assetID, workOrderID)
	if err != nil {
		return "", err
	}
	if open > 0 || status != assetInMaintenance {
		return "", nil
	}
	return "", tx.ReleaseAsset(ctx, orgID, assetID)
}

func missingAssetWarning(assetID int64) string {
	return "asset " + strconv.FormatInt(assetID, 10) + " not found; asset status not updated"
}

func appendWarning(warnings []string, warning string) []string {
	if warning == "" {
		return warnings
	}
	return append(warnings, warning)
}

func sameAsset(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// AddLine appends a line to an open work order.
func (s *Service) AddLine(ctx context.Context, orgID, workOrderID int64, input LineInput) (Line, error) {
	if err := input.validate(); err != nil {
		return Line{}, err
	}
	var saved Line
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.GetForUpdate(ctx, orgID, workOrderID)
		if err != nil {
			return err
		}
		if wo.Status.Terminal() {
			return ErrClosed
		}
		line, err := s.buildLine(ctx, orgID, wo.ID, input)
		if err != nil {
			return err
		}
		saved, err = tx.InsertLine(ctx, line)
		return err
	})
	if err != nil {
		return Line{}, err
	}
	return saved, nil
}

// RemoveLine deletes a line from an open work order.
func (s *Service) RemoveLine(ctx context.Context, orgID, workOrderID, lineID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.GetForUpdate(ctx, orgID, workOrderID)
		if err != nil {
			return err
		}
		if wo.Status.Terminal() {
			return ErrClosed
		}
		return tx.DeleteLine(ctx, workOrderID, lineID)
	})
}

// Get returns a work order with lines.
func (s *Service) Get(ctx context.Context, orgID, id int64) (Result, error) {
	wo, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Result{}, err
	}
	lines, err := s.repo.ListLines(ctx, id)
	if err != nil {
		return Result{}, err
	}
	return Result{WorkOrder: wo, Lines: lines}, nil
}

// List returns work orders matching filters.
func (s *Service) List(ctx context.Context, orgID int64, filters ListFilters) ([]WorkOrder, int, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, filters.Status)
	}
	return s.repo.List(ctx, orgID, filters)
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

func (s *Service) buildLine(ctx context.Context, orgID, workOrderID int64, in LineInput) (Line, error) {
	quantity, unitCost, total := shared.NormalizeLine(in.Quantity, in.UnitCost)
	if in.TotalCost != nil {
		total = *in.TotalCost
	}
	line := Line{
		WorkOrderID: workOrderID,
		LineType:    in.LineType,
		PartID:      in.PartID,
		Description: strings.TrimSpace(in.Description),
		VMRSCode:    strings.TrimSpace(in.VMRSCode),
		VMRSTitle:   in.VMRSTitle,
		Quantity:    quantity,
		UnitCost:    unitCost,
		TotalCost:   total,
	}
	if in.NeedsOrdering != nil {
		line.NeedsOrdering = *in.NeedsOrdering
		return line, nil
	}
	var onHand float64
	if in.LineType == shared.LineInventoryPart && s.parts != nil {
		part, err := s.parts.Lookup(ctx, orgID, *in.PartID)
		if err != nil {
			return Line{}, err
		}
		onHand = part.QuantityOnHand
	}
	line.NeedsOrdering = shared.NeedsOrdering(in.LineType, quantity, onHand)
	return line, nil
}

func (s *Service) recordAudit(ctx context.Context, orgID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "work_order",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
