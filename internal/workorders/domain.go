package workorders

import (
	"fmt"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Status enumerates work order lifecycle states.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status closes the work order. Every other
// status keeps the asset in maintenance.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Priority ranks work orders.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// SourceKind records what produced a work order.
type SourceKind string

const (
	SourceManual   SourceKind = "manual"
	SourceEstimate SourceKind = "estimate"
	SourcePM       SourceKind = "pm"
	SourceDVIR     SourceKind = "dvir"
)

// Work order FSM events.
const (
	EventStart    = "start"
	EventPause    = "pause"
	EventComplete = "complete"
	EventCancel   = "cancel"
)

var statusMachine = shared.NewStateMachine("work order",
	shared.Transition{Event: EventStart, From: []string{string(StatusOpen)}, To: string(StatusInProgress)},
	shared.Transition{Event: EventPause, From: []string{string(StatusInProgress)}, To: string(StatusOpen)},
	shared.Transition{Event: EventComplete, From: []string{string(StatusOpen), string(StatusInProgress)}, To: string(StatusCompleted)},
	shared.Transition{Event: EventCancel, From: []string{string(StatusOpen), string(StatusInProgress)}, To: string(StatusCancelled)},
)

// WorkOrder is a maintenance job against an asset.
type WorkOrder struct {
	ID          int64      `json:"id"`
	OrgID       int64      `json:"orgId"`
	Number      string     `json:"number"`
	AssetID     *int64     `json:"assetId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	SourceKind  SourceKind `json:"sourceKind"`
	SourceID    *int64     `json:"sourceId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Line is a part, item or labor entry on a work order.
type Line struct {
	ID            int64           `json:"id"`
	WorkOrderID   int64           `json:"workOrderId"`
	LineType      shared.LineType `json:"lineType"`
	PartID        *int64          `json:"partId,omitempty"`
	Description   string          `json:"description"`
	VMRSCode      string          `json:"vmrsCode"`
	VMRSTitle     string          `json:"vmrsTitle"`
	Quantity      float64         `json:"quantity"`
	UnitCost      float64         `json:"unitCost"`
	TotalCost     float64         `json:"totalCost"`
	NeedsOrdering bool            `json:"needsOrdering"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Result is a work order with its lines. Warnings describe side effects that
// could not be applied.
type Result struct {
	WorkOrder WorkOrder `json:"workOrder"`
	Lines     []Line    `json:"lines"`
	Warnings  []string  `json:"-"`
}

// ListFilters narrows work order listings.
type ListFilters struct {
	Status  Status
	AssetID int64
	Limit   int
	Offset  int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("workorders: %w", shared.ErrNotFound)
	// ErrLineNotFound indicates the line does not belong to the work order.
	ErrLineNotFound = fmt.Errorf("workorders: line %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("workorders: %w", shared.ErrValidation)
	// ErrClosed indicates the work order no longer accepts changes.
	ErrClosed = fmt.Errorf("workorders: work order is closed: %w", shared.ErrInvalidTransition)
)
