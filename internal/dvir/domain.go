package dvir

import (
	"fmt"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/shared"
	"github.com/fleetdesk/fleetdesk/internal/workorders"
)

// InspectionType distinguishes pre and post trip inspections.
type InspectionType string

const (
	PreTrip  InspectionType = "pre_trip"
	PostTrip InspectionType = "post_trip"
)

// Status summarises a report.
type Status string

const (
	StatusSatisfactory Status = "satisfactory"
	StatusDefectsFound Status = "defects_found"
	StatusResolved     Status = "resolved"
)

// Severity grades a defect.
type Severity string

const (
	SeverityMinor    Severity = "minor"
	SeverityMajor    Severity = "major"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityMinor || s == SeverityMajor || s == SeverityCritical
}

// Priority maps a defect severity onto a work order priority.
func (s Severity) Priority() workorders.Priority {
	switch s {
	case SeverityCritical:
		return workorders.PriorityCritical
	case SeverityMajor:
		return workorders.PriorityHigh
	default:
		return workorders.PriorityNormal
	}
}

// Report is a driver vehicle inspection report.
type Report struct {
	ID             int64          `json:"id"`
	OrgID          int64          `json:"orgId"`
	AssetID        int64          `json:"assetId"`
	DriverName     string         `json:"driverName"`
	InspectionType InspectionType `json:"inspectionType"`
	Odometer       float64        `json:"odometer"`
	Status         Status         `json:"status"`
	SubmittedAt    time.Time      `json:"submittedAt"`
	Defects        []Defect       `json:"defects"`
}

// Defect is a problem noted on a report.
type Defect struct {
	ID          int64      `json:"id"`
	DVIRID      int64      `json:"dvirId"`
	Component   string     `json:"component"`
	Description string     `json:"description"`
	Severity    Severity   `json:"severity"`
	WorkOrderID *int64     `json:"workOrderId,omitempty"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

// statusFor derives the report status from its defects.
func statusFor(defects []Defect) Status {
	if len(defects) == 0 {
		return StatusSatisfactory
	}
	for _, d := range defects {
		if !d.Resolved {
			return StatusDefectsFound
		}
	}
	return StatusResolved
}

// DefectWorkOrder is the outcome of raising a work order for a defect.
type DefectWorkOrder struct {
	Defect          Defect   `json:"defect"`
	WorkOrderID     int64    `json:"workOrderId"`
	WorkOrderNumber string   `json:"workOrderNumber"`
	Warnings        []string `json:"-"`
}

// ListFilters narrows listings.
type ListFilters struct {
	AssetID int64
	Status  Status
	Limit   int
	Offset  int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("dvir: %w", shared.ErrNotFound)
	// ErrDefectNotFound indicates the defect does not belong to the report.
	ErrDefectNotFound = fmt.Errorf("dvir: defect %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("dvir: %w", shared.ErrValidation)
	// ErrDefectResolved indicates the defect is already closed.
	ErrDefectResolved = fmt.Errorf("dvir: defect already resolved: %w", shared.ErrInvalidTransition)
	// ErrWorkOrderLinked indicates the defect already has a work order.
	ErrWorkOrderLinked = fmt.Errorf("dvir: defect already has a work order: %w", shared.ErrInvalidTransition)
)
