package estimates

import (
	"fmt"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/organizations"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Status enumerates estimate approval states. Conversion is tracked separately
// through ConvertedToWorkOrderID.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
)

// Estimate FSM events.
const (
	EventSubmit  = "submit"
	EventApprove = "approve"
	EventReject  = "reject"
)

var statusMachine = shared.NewStateMachine("estimate",
	shared.Transition{Event: EventSubmit, From: []string{string(StatusDraft)}, To: string(StatusPendingApproval)},
	shared.Transition{Event: EventApprove, From: []string{string(StatusPendingApproval)}, To: string(StatusApproved)},
	shared.Transition{Event: EventReject, From: []string{string(StatusPendingApproval)}, To: string(StatusRejected)},
)

// Estimate is a priced repair proposal for an asset.
type Estimate struct {
	ID                     int64      `json:"id"`
	OrgID                  int64      `json:"orgId"`
	Number                 string     `json:"number"`
	AssetID                *int64     `json:"assetId,omitempty"`
	Title                  string     `json:"title"`
	Status                 Status     `json:"status"`
	ConvertedToWorkOrderID *int64     `json:"convertedToWorkOrderId,omitempty"`
	TotalAmount            float64    `json:"totalAmount"`
	SubmittedAt            *time.Time `json:"submittedAt,omitempty"`
	ApprovedAt             *time.Time `json:"approvedAt,omitempty"`
	RejectedAt             *time.Time `json:"rejectedAt,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// Editable reports whether lines may still change.
func (e Estimate) Editable() bool {
	return e.ConvertedToWorkOrderID == nil && (e.Status == StatusDraft || e.Status == StatusPendingApproval)
}

// Line is a priced entry on an estimate.
type Line struct {
	ID            int64           `json:"id"`
	EstimateID    int64           `json:"estimateId"`
	LineType      shared.LineType `json:"lineType"`
	PartID        *int64          `json:"partId,omitempty"`
	Description   string          `json:"description"`
	VMRSCode      string          `json:"vmrsCode"`
	VMRSTitle     string          `json:"vmrsTitle"`
	Quantity      float64         `json:"quantity"`
	UnitCost      float64         `json:"unitCost"`
	TotalCost     float64         `json:"totalCost"`
	NeedsOrdering bool            `json:"needsOrdering"`
}

// Detail bundles an estimate with its lines.
type Detail struct {
	Estimate Estimate `json:"estimate"`
	Lines    []Line   `json:"lines"`
}

// Eligibility explains whether an estimate can become a work order.
type Eligibility struct {
	CanConvert bool   `json:"canConvert"`
	Reason     string `json:"reason,omitempty"`
}

// Conversion is the outcome of converting an estimate.
type Conversion struct {
	WorkOrderID     int64    `json:"workOrderId"`
	WorkOrderNumber string   `json:"workOrderNumber"`
	Warnings        []string `json:"-"`
}

// CanConvert decides whether an estimate may be converted under the given
// organization settings.
func CanConvert(est Estimate, settings organizations.Settings, lines []Line) (bool, string) {
	switch {
	case est.ConvertedToWorkOrderID != nil:
		return false, "estimate already converted"
	case est.Status == StatusRejected:
		return false, "estimate was rejected"
	case len(lines) == 0:
		return false, "estimate has no lines"
	case settings.RequireEstimateApproval && est.Status != StatusApproved:
		return false, "estimate requires approval"
	}
	return true, ""
}

// ListFilters narrows listings.
type ListFilters struct {
	Status Status
	Limit  int
	Offset int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("estimates: %w", shared.ErrNotFound)
	// ErrLineNotFound indicates the line does not belong to the estimate.
	ErrLineNotFound = fmt.Errorf("estimates: line %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("estimates: %w", shared.ErrValidation)
	// ErrNotEditable indicates the estimate no longer accepts line changes.
	ErrNotEditable = fmt.Errorf("estimates: estimate is not editable: %w", shared.ErrInvalidTransition)
	// ErrNotConvertible indicates the eligibility check failed.
	ErrNotConvertible = fmt.Errorf("estimates: %w", shared.ErrInvalidTransition)
	// ErrAlreadyConverted indicates a concurrent conversion won.
	ErrAlreadyConverted = fmt.Errorf("estimates: estimate already converted: %w", shared.ErrInvalidTransition)
)
