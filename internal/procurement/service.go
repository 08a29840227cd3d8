package procurement

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetdesk/fleetdesk/internal/numbering"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Approval modules.
const (
	ModuleRequisition   = "REQUISITION"
	ModulePurchaseOrder = "PO"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequisition(ctx context.Context, orgID, id int64) (Requisition, []RequisitionLine, error)
	ListRequisitions(ctx context.Context, orgID int64, filters ListFilters) ([]Requisition, int, error)
	GetPurchaseOrder(ctx context.Context, orgID, id int64) (PurchaseOrder, []POLine, error)
	ListPurchaseOrders(ctx context.Context, orgID int64, filters ListFilters) ([]PurchaseOrder, int, error)
}

// InventoryPort exposes required inventory integration.
type InventoryPort interface {
	ReceiveStock(ctx context.Context, orgID, partID int64, qty float64) error
}

// NumberPort issues document numbers.
type NumberPort interface {
	Next(ctx context.Context, orgID int64, docType string) (string, error)
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	List(ctx context.Context, orgID int64, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates procurement flows.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	numbers   NumberPort
	approvals ApprovalPort
	audit     AuditPort
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inventory InventoryPort, numbers NumberPort, approvals ApprovalPort, audit AuditPort) *Service {
	return &Service{repo: repo, inventory: inventory, numbers: numbers, approvals: approvals, audit: audit, now: time.Now}
}

// CreateRequisitionInput describes creation payload.
type CreateRequisitionInput struct {
	VendorID *int64
	Notes    string
	Lines    []LineInput
}

// LineInput describes a requisition line.
type LineInput struct {
	PartID      *int64
	Description string
	Quantity    float64
	UnitCost    float64
}

func (in LineInput) validate() error {
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: description required", ErrValidation)
	}
	if shared.RoundQuantity(in.Quantity) <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if in.UnitCost < 0 {
		return fmt.Errorf("%w: unit cost must not be negative", ErrValidation)
	}
	return nil
}

// Receipt records a quantity received against a purchase order line.
type Receipt struct {
	LineID   int64
	Quantity float64
}

// CreateRequisition persists a draft requisition with its lines.
func (s *Service) CreateRequisition(ctx context.Context, orgID int64, input CreateRequisitionInput) (RequisitionDetail, error) {
	for i, line := range input.Lines {
		if err := line.validate(); err != nil {
			return RequisitionDetail{}, fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	var detail RequisitionDetail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		detail = RequisitionDetail{}
		number, err := s.numbers.Next(ctx, orgID, numbering.DocRequisition)
		if err != nil {
			return err
		}
		amounts := make([]float64, 0, len(input.Lines))
		for _, line := range input.Lines {
			_, _, total := shared.NormalizeLine(line.Quantity, line.UnitCost)
			amounts = append(amounts, total)
		}
		req, err := tx.CreateRequisition(ctx, Requisition{
			OrgID:       orgID,
			Number:      number,
			Status:      RequisitionDraft,
			VendorID:    input.VendorID,
			Notes:       input.Notes,
			TotalAmount: shared.SumAmounts(amounts...),
		})
		if err != nil {
			return err
		}
		detail.Requisition = req
		for _, in := range input.Lines {
			line, err := tx.InsertRequisitionLine(ctx, newRequisitionLine(req.ID, in))
			if err != nil {
				return err
			}
			detail.Lines = append(detail.Lines, line)
		}
		return nil
	})
	if err != nil {
		return RequisitionDetail{}, err
	}
	s.recordAudit(ctx, orgID, "PR_CREATE", "requisition", detail.Requisition.ID, map[string]any{"number": detail.Requisition.Number})
	return detail, nil
}

func newRequisitionLine(requisitionID int64, in LineInput) RequisitionLine {
	quantity, unitCost, total := shared.NormalizeLine(in.Quantity, in.UnitCost)
	return RequisitionLine{
		RequisitionID: requisitionID,
		PartID:        in.PartID,
		Description:   strings.TrimSpace(in.Description),
		Quantity:      quantity,
		UnitCost:      unitCost,
		TotalCost:     total,
	}
}

// AddRequisitionLine appends a line to a draft requisition and refreshes its total.
func (s *Service) AddRequisitionLine(ctx context.Context, orgID, requisitionID int64, input LineInput) (RequisitionLine, error) {
	if err := input.validate(); err != nil {
		return RequisitionLine{}, err
	}
	var saved RequisitionLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequisition(ctx, orgID, requisitionID)
		if err != nil {
			return err
		}
		if req.Status != RequisitionDraft {
			return ErrNotEditable
		}
		saved, err = tx.InsertRequisitionLine(ctx, newRequisitionLine(req.ID, input))
		if err != nil {
			return err
		}
		return s.refreshRequisitionTotal(ctx, tx, req.ID)
	})
	if err != nil {
		return RequisitionLine{}, err
	}
	return saved, nil
}

// RemoveRequisitionLine deletes a line from a draft requisition. Status is unchanged.
func (s *Service) RemoveRequisitionLine(ctx context.Context, orgID, requisitionID, lineID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.LockRequisition(ctx, orgID, requisitionID)
		if err != nil {
			return err
		}
		if req.Status != RequisitionDraft {
			return ErrNotEditable
		}
		if err := tx.DeleteRequisitionLine(ctx, req.ID, lineID); err != nil {
			return err
		}
		return s.refreshRequisitionTotal(ctx, tx, req.ID)
	})
}

func (s *Service) refreshRequisitionTotal(ctx context.Context, tx TxRepository, requisitionID int64) error {
	lines, err := tx.ListRequisitionLines(ctx, requisitionID)
	if err != nil {
		return err
	}
	amounts := make([]float64, 0, len(lines))
	for _, line := range lines {
		amounts = append(amounts, line.TotalCost)
	}
	return tx.SetRequisitionTotal(ctx, requisitionID, shared.SumAmounts(amounts...))
}

// SubmitRequisition sends a draft requisition for approval.
func (s *Service) SubmitRequisition(ctx context.Context, orgID, id int64) (Requisition, error) {
	return s.transitionRequisition(ctx, orgID, id, EventSubmit, "")
}

// ApproveRequisition approves a pending requisition.
func (s *Service) ApproveRequisition(ctx context.Context, orgID, id int64, note string) (Requisition, error) {
	return s.transitionRequisition(ctx, orgID, id, EventApprove, note)
}

// RejectRequisition rejects a pending requisition. Rejection is terminal.
func (s *Service) RejectRequisition(ctx context.Context, orgID, id int64, reason string) (Requisition, error) {
	if strings.TrimSpace(reason) == "" {
		return Requisition{}, fmt.Errorf("%w: rejection reason required", ErrValidation)
	}
	return s.transitionRequisition(ctx, orgID, id, EventReject, reason)
}

func (s *Service) transitionRequisition(ctx context.Context, orgID, id int64, event, note string) (Requisition, error) {
	var req Requisition
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.LockRequisition(ctx, orgID, id)
		if err != nil {
			return err
		}
		next, err := requisitionMachine.Fire(ctx, string(req.Status), event)
		if err != nil {
			return err
		}
		if event == EventSubmit {
			lines, err := tx.ListRequisitionLines(ctx, req.ID)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				return fmt.Errorf("%w: requisition needs at least one line", ErrValidation)
			}
		}
		now := s.now()
		req.Status = RequisitionStatus(next)
		var action shared.ApprovalAction
		switch event {
		case EventSubmit:
			req.SubmittedAt = &now
			action = shared.ApprovalSubmit
		case EventApprove:
			req.ApprovedAt = &now
			action = shared.ApprovalApprove
		case EventReject:
			req.RejectedAt = &now
			req.RejectionReason = strings.TrimSpace(note)
			action = shared.ApprovalReject
		}
		if err := tx.UpdateRequisitionStatus(ctx, req); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{
				OrgID:   orgID,
				Module:  ModuleRequisition,
				RefID:   shared.ApprovalRef(ModuleRequisition, req.ID),
				ActorID: shared.ActorFromContext(ctx),
				Action:  action,
				Note:    note,
			})
		}
		return nil
	})
	if err != nil {
		return Requisition{}, err
	}
	s.recordAudit(ctx, orgID, "PR_"+strings.ToUpper(event), "requisition", req.ID, map[string]any{"status": req.Status})
	return req, nil
}

// ConvertRequisitionToPO creates a draft purchase order from an approved
// requisition and marks the requisition converted. A requisition converts at
// most once.
func (s *Service) ConvertRequisitionToPO(ctx context.Context, orgID, id int64) (PurchaseOrderDetail, error) {
	req, lines, err := s.repo.GetRequisition(ctx, orgID, id)
	if err != nil {
		return PurchaseOrderDetail{}, err
	}
	if _, err := requisitionMachine.Fire(ctx, string(req.Status), EventConvert); err != nil {
		return PurchaseOrderDetail{}, err
	}

	var detail PurchaseOrderDetail
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		detail = PurchaseOrderDetail{}
		number, err := s.numbers.Next(ctx, orgID, numbering.DocPurchaseOrder)
		if err != nil {
			return err
		}
		reqID := req.ID
		amounts := make([]float64, 0, len(lines))
		for _, line := range lines {
			amounts = append(amounts, line.TotalCost)
		}
		po, err := tx.CreatePurchaseOrder(ctx, PurchaseOrder{
			OrgID:         orgID,
			Number:        number,
			Status:        PODraft,
			VendorID:      req.VendorID,
			RequisitionID: &reqID,
			TotalAmount:   shared.SumAmounts(amounts...),
		})
		if err != nil {
			return err
		}
		detail.PurchaseOrder = po
		for _, line := range lines {
			saved, err := tx.InsertPOLine(ctx, POLine{
				PurchaseOrderID: po.ID,
				PartID:          line.PartID,
				Description:     line.Description,
				Quantity:        line.Quantity,
				UnitCost:        line.UnitCost,
				TotalCost:       line.TotalCost,
			})
			if err != nil {
				return err
			}
			detail.Lines = append(detail.Lines, saved)
		}
		converted, err := tx.MarkRequisitionConverted(ctx, orgID, req.ID)
		if err != nil {
			return err
		}
		if !converted {
			return ErrAlreadyConverted
		}
		return nil
	})
	if err != nil {
		return PurchaseOrderDetail{}, err
	}
	s.recordAudit(ctx, orgID, "PR_CONVERT", "requisition", req.ID, map[string]any{
		"purchase_order_id": detail.PurchaseOrder.ID,
		"number":            detail.PurchaseOrder.Number,
	})
	return detail, nil
}

// TransitionPurchaseOrder applies submit, approve, order or cancel to a purchase order.
func (s *Service) TransitionPurchaseOrder(ctx context.Context, orgID, id int64, event string) (PurchaseOrder, error) {
	switch event {
	case EventSubmit, EventApprove, EventOrder, EventCancel:
	default:
		return PurchaseOrder{}, fmt.Errorf("%w: unsupported purchase order action %q", ErrValidation, event)
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		po, _, err = tx.LockPurchaseOrder(ctx, orgID, id)
		if err != nil {
			return err
		}
		next, err := purchaseOrderMachine.Fire(ctx, string(po.Status), event)
		if err != nil {
			return err
		}
		po.Status = POStatus(next)
		if event == EventOrder {
			now := s.now()
			po.OrderedAt = &now
		}
		if err := tx.UpdatePurchaseOrderStatus(ctx, po); err != nil {
			return err
		}
		if s.approvals != nil && (event == EventSubmit || event == EventApprove) {
			action := shared.ApprovalSubmit
			if event == EventApprove {
				action = shared.ApprovalApprove
			}
			_ = s.approvals.Record(ctx, shared.ApprovalLog{
				OrgID:   orgID,
				Module:  ModulePurchaseOrder,
				RefID:   shared.ApprovalRef(ModulePurchaseOrder, po.ID),
				ActorID: shared.ActorFromContext(ctx),
				Action:  action,
				Note:    fmt.Sprintf("PO %s %s", po.Number, po.Status),
			})
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, orgID, "PO_"+strings.ToUpper(event), "purchase_order", po.ID, map[string]any{"status": po.Status})
	return po, nil
}

// ReceivePurchaseOrder books received quantities, adds them to part stock and
// moves the order to partial or received.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, orgID, id int64, receipts []Receipt) (PurchaseOrderDetail, error) {
	if len(receipts) == 0 {
		return PurchaseOrderDetail{}, fmt.Errorf("%w: at least one receipt required", ErrValidation)
	}
	var detail PurchaseOrderDetail
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, lines, err := tx.LockPurchaseOrder(ctx, orgID, id)
		if err != nil {
			return err
		}
		if !purchaseOrderMachine.Can(string(po.Status), EventReceive) {
			return fmt.Errorf("%w: purchase order cannot receive from %s", shared.ErrInvalidTransition, po.Status)
		}
		byID := make(map[int64]int, len(lines))
		for i, line := range lines {
			byID[line.ID] = i
		}
		for _, receipt := range receipts {
			idx, ok := byID[receipt.LineID]
			if !ok {
				return ErrLineNotFound
			}
			line := &lines[idx]
			quantity := shared.RoundQuantity(receipt.Quantity)
			if quantity <= 0 || quantity > line.Outstanding() {
				return fmt.Errorf("%w: line %d accepts up to %v", ErrValidation, line.ID, line.Outstanding())
			}
			line.QuantityReceived = shared.SumQuantities(line.QuantityReceived, quantity)
			if err := tx.SetPOLineReceived(ctx, line.ID, line.QuantityReceived); err != nil {
				return err
			}
			if line.PartID != nil && s.inventory != nil {
				if err := s.inventory.ReceiveStock(ctx, orgID, *line.PartID, quantity); err != nil {
					return err
				}
			}
		}

		event := EventFinish
		for _, line := range lines {
			if line.Outstanding() > 0 {
				event = EventReceive
				break
			}
		}
		next, err := purchaseOrderMachine.Fire(ctx, string(po.Status), event)
		if err != nil {
			return err
		}
		po.Status = POStatus(next)
		if po.Status == POReceived {
			now := s.now()
			po.ReceivedDate = &now
		}
		if err := tx.UpdatePurchaseOrderStatus(ctx, po); err != nil {
			return err
		}
		detail = PurchaseOrderDetail{PurchaseOrder: po, Lines: lines}
		return nil
	})
	if err != nil {
		return PurchaseOrderDetail{}, err
	}
	s.recordAudit(ctx, orgID, "PO_RECEIVE", "purchase_order", id, map[string]any{"status": detail.PurchaseOrder.Status})
	return detail, nil
}

// RequisitionApprovals returns the submit/approve/reject history of a requisition.
func (s *Service) RequisitionApprovals(ctx context.Context, orgID, id int64) ([]shared.ApprovalLog, error) {
	if _, _, err := s.repo.GetRequisition(ctx, orgID, id); err != nil {
		return nil, err
	}
	return s.approvalHistory(ctx, orgID, ModuleRequisition, id)
}

// PurchaseOrderApprovals returns the approval history of a purchase order.
func (s *Service) PurchaseOrderApprovals(ctx context.Context, orgID, id int64) ([]shared.ApprovalLog, error) {
	if _, _, err := s.repo.GetPurchaseOrder(ctx, orgID, id); err != nil {
		return nil, err
	}
	return s.approvalHistory(ctx, orgID, ModulePurchaseOrder, id)
}

func (s *Service) approvalHistory(ctx context.Context, orgID int64, module string, id int64) ([]shared.ApprovalLog, error) {
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	logs, err := s.approvals.List(ctx, orgID, module, shared.ApprovalRef(module, id))
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []shared.ApprovalLog{}
	}
	return logs, nil
}

// GetRequisition returns a requisition with lines.
func (s *Service) GetRequisition(ctx context.Context, orgID, id int64) (RequisitionDetail, error) {
	req, lines, err := s.repo.GetRequisition(ctx, orgID, id)
	if err != nil {
		return RequisitionDetail{}, err
	}
	return RequisitionDetail{Requisition: req, Lines: lines}, nil
}

// ListRequisitions returns requisitions.
func (s *Service) ListRequisitions(ctx context.Context, orgID int64, filters ListFilters) ([]Requisition, int, error) {
	return s.repo.ListRequisitions(ctx, orgID, filters)
}

// GetPurchaseOrder returns a purchase order with lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, orgID, id int64) (PurchaseOrderDetail, error) {
	po, lines, err := s.repo.GetPurchaseOrder(ctx, orgID, id)
	if err != nil {
		return PurchaseOrderDetail{}, err
	}
	return PurchaseOrderDetail{PurchaseOrder: po, Lines: lines}, nil
}

// ListPurchaseOrders returns purchase orders.
func (s *Service) ListPurchaseOrders(ctx context.Context, orgID int64, filters ListFilters) ([]PurchaseOrder, int, error) {
	return s.repo.ListPurchaseOrders(ctx, orgID, filters)
}

func (s *Service) recordAudit(ctx context.Context, orgID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		OrgID:    orgID,
		ActorID:  shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}
