package pm

import (
	"fmt"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Schedule is a recurring preventive maintenance rule for one asset. Either
// interval may be unset; a schedule with both set is due when either elapses.
type Schedule struct {
	ID               int64      `json:"id"`
	OrgID            int64      `json:"orgId"`
	AssetID          int64      `json:"assetId"`
	Title            string     `json:"title"`
	VMRSCode         string     `json:"vmrsCode"`
	IntervalDays     *int       `json:"intervalDays,omitempty"`
	IntervalMeter    *float64   `json:"intervalMeter,omitempty"`
	LastServiceAt    *time.Time `json:"lastServiceAt,omitempty"`
	LastServiceMeter float64    `json:"lastServiceMeter"`
	LastWorkOrderID  *int64     `json:"lastWorkOrderId,omitempty"`
	Active           bool       `json:"active"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Due reports whether the schedule has elapsed at now for an asset whose meter
// reads meter. A schedule never serviced counts days from its creation.
func Due(s Schedule, meter float64, now time.Time) bool {
	if !s.Active {
		return false
	}
	if s.IntervalDays != nil && *s.IntervalDays > 0 {
		since := s.CreatedAt
		if s.LastServiceAt != nil {
			since = *s.LastServiceAt
		}
		if !now.Before(since.AddDate(0, 0, *s.IntervalDays)) {
			return true
		}
	}
	if s.IntervalMeter != nil && *s.IntervalMeter > 0 {
		if meter-s.LastServiceMeter >= *s.IntervalMeter {
			return true
		}
	}
	return false
}

// Generated describes a work order raised for a due schedule.
type Generated struct {
	ScheduleID      int64  `json:"scheduleId"`
	WorkOrderID     int64  `json:"workOrderId"`
	WorkOrderNumber string `json:"workOrderNumber"`
}

// GenerateSummary reports the outcome of one scan.
type GenerateSummary struct {
	Scanned   int         `json:"scanned"`
	Generated []Generated `json:"generated"`
	Skipped   int         `json:"skipped"`
	Failed    int         `json:"failed"`
	Warnings  []string    `json:"-"`
}

// ListFilters narrows listings.
type ListFilters struct {
	AssetID    int64
	ActiveOnly bool
	Limit      int
	Offset     int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("pm: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("pm: %w", shared.ErrValidation)
	// ErrInactive indicates the schedule was deactivated.
	ErrInactive = fmt.Errorf("pm: schedule inactive: %w", shared.ErrInvalidTransition)
)
