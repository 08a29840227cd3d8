package procurement

import (
	"fmt"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// RequisitionStatus enumerates purchase requisition lifecycle states.
type RequisitionStatus string

const (
	RequisitionDraft           RequisitionStatus = "draft"
	RequisitionPendingApproval RequisitionStatus = "pending_approval"
	RequisitionApproved        RequisitionStatus = "approved"
	RequisitionRejected        RequisitionStatus = "rejected"
	RequisitionConverted       RequisitionStatus = "converted"
)

// POStatus enumerates purchase order lifecycle states.
type POStatus string

const (
	PODraft     POStatus = "draft"
	POSubmitted POStatus = "submitted"
	POApproved  POStatus = "approved"
	POOrdered   POStatus = "ordered"
	POPartial   POStatus = "partial"
	POReceived  POStatus = "received"
	POCancelled POStatus = "cancelled"
)

// FSM events shared by both document types.
const (
	EventSubmit  = "submit"
	EventApprove = "approve"
	EventReject  = "reject"
	EventConvert = "convert"
	EventOrder   = "order"
	EventReceive = "receive"
	EventFinish  = "finish"
	EventCancel  = "cancel"
)

var requisitionMachine = shared.NewStateMachine("requisition",
	shared.Transition{Event: EventSubmit, From: []string{string(RequisitionDraft)}, To: string(RequisitionPendingApproval)},
	shared.Transition{Event: EventApprove, From: []string{string(RequisitionPendingApproval)}, To: string(RequisitionApproved)},
	shared.Transition{Event: EventReject, From: []string{string(RequisitionPendingApproval)}, To: string(RequisitionRejected)},
	shared.Transition{Event: EventConvert, From: []string{string(RequisitionApproved)}, To: string(RequisitionConverted)},
)

// Receiving moves an ordered PO to partial, or straight to received when the
// receipt completes every line; finish closes a partial PO.
var purchaseOrderMachine = shared.NewStateMachine("purchase order",
	shared.Transition{Event: EventSubmit, From: []string{string(PODraft)}, To: string(POSubmitted)},
	shared.Transition{Event: EventApprove, From: []string{string(POSubmitted)}, To: string(POApproved)},
	shared.Transition{Event: EventOrder, From: []string{string(POApproved)}, To: string(POOrdered)},
	shared.Transition{Event: EventReceive, From: []string{string(POOrdered), string(POPartial)}, To: string(POPartial)},
	shared.Transition{Event: EventFinish, From: []string{string(POOrdered), string(POPartial)}, To: string(POReceived)},
	shared.Transition{Event: EventCancel, From: []string{string(PODraft), string(POSubmitted), string(POApproved), string(POOrdered)}, To: string(POCancelled)},
)

// Requisition is an internal purchase request.
type Requisition struct {
	ID              int64             `json:"id"`
	OrgID           int64             `json:"orgId"`
	Number          string            `json:"number"`
	Status          RequisitionStatus `json:"status"`
	VendorID        *int64            `json:"vendorId,omitempty"`
	TotalAmount     float64           `json:"totalAmount"`
	Notes           string            `json:"notes"`
	SubmittedAt     *time.Time        `json:"submittedAt,omitempty"`
	ApprovedAt      *time.Time        `json:"approvedAt,omitempty"`
	RejectedAt      *time.Time        `json:"rejectedAt,omitempty"`
	RejectionReason string            `json:"rejectionReason,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// RequisitionLine represents a requested item.
type RequisitionLine struct {
	ID            int64   `json:"id"`
	RequisitionID int64   `json:"requisitionId"`
	PartID        *int64  `json:"partId,omitempty"`
	Description   string  `json:"description"`
	Quantity      float64 `json:"quantity"`
	UnitCost      float64 `json:"unitCost"`
	TotalCost     float64 `json:"totalCost"`
}

// PurchaseOrder is an order placed with a vendor.
type PurchaseOrder struct {
	ID            int64      `json:"id"`
	OrgID         int64      `json:"orgId"`
	Number        string     `json:"number"`
	Status        POStatus   `json:"status"`
	VendorID      *int64     `json:"vendorId,omitempty"`
	RequisitionID *int64     `json:"requisitionId,omitempty"`
	TotalAmount   float64    `json:"totalAmount"`
	OrderedAt     *time.Time `json:"orderedAt,omitempty"`
	ReceivedDate  *time.Time `json:"receivedDate,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// POLine represents an ordered item.
type POLine struct {
	ID               int64   `json:"id"`
	PurchaseOrderID  int64   `json:"purchaseOrderId"`
	PartID           *int64  `json:"partId,omitempty"`
	Description      string  `json:"description"`
	Quantity         float64 `json:"quantity"`
	QuantityReceived float64 `json:"quantityReceived"`
	UnitCost         float64 `json:"unitCost"`
	TotalCost        float64 `json:"totalCost"`
}

// Outstanding is the quantity still expected on the line.
func (l POLine) Outstanding() float64 {
	if l.QuantityReceived >= l.Quantity {
		return 0
	}
	return shared.SumQuantities(l.Quantity, -l.QuantityReceived)
}

// RequisitionDetail bundles a requisition with its lines.
type RequisitionDetail struct {
	Requisition Requisition       `json:"requisition"`
	Lines       []RequisitionLine `json:"lines"`
}

// PurchaseOrderDetail bundles a purchase order with its lines.
type PurchaseOrderDetail struct {
	PurchaseOrder PurchaseOrder `json:"purchaseOrder"`
	Lines         []POLine      `json:"lines"`
}

// ListFilters narrows listings.
type ListFilters struct {
	Status string
	Limit  int
	Offset int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("procurement: %w", shared.ErrNotFound)
	// ErrLineNotFound indicates the line does not belong to the document.
	ErrLineNotFound = fmt.Errorf("procurement: line %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("procurement: %w", shared.ErrValidation)
	// ErrNotEditable indicates the requisition left draft.
	ErrNotEditable = fmt.Errorf("procurement: requisition is not editable: %w", shared.ErrInvalidTransition)
	// ErrAlreadyConverted indicates a concurrent conversion won.
	ErrAlreadyConverted = fmt.Errorf("procurement: requisition already converted: %w", shared.ErrInvalidTransition)
)
