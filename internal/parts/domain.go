package parts

import (
	"fmt"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// SmartClass is the stock-health classification of a part.
type SmartClass string

const (
	ClassUnclassified SmartClass = "unclassified"
	ClassCritical     SmartClass = "critical"
	ClassLow          SmartClass = "low"
	ClassHealthy      SmartClass = "healthy"
	ClassOverstock    SmartClass = "overstock"
)

// Part is an inventory item.
type Part struct {
	ID             int64      `json:"id"`
	OrgID          int64      `json:"orgId"`
	PartNumber     string     `json:"partNumber"`
	Name           string     `json:"name"`
	UnitCost       float64    `json:"unitCost"`
	QuantityOnHand float64    `json:"quantityOnHand"`
	ReorderPoint   float64    `json:"reorderPoint"`
	MaxQuantity    float64    `json:"maxQuantity"`
	SmartClass     SmartClass `json:"smartClass"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Classify derives the SMART class from static stock thresholds.
func Classify(p Part) SmartClass {
	switch {
	case p.QuantityOnHand <= 0:
		return ClassCritical
	case p.QuantityOnHand <= p.ReorderPoint:
		return ClassLow
	case p.MaxQuantity > 0 && p.QuantityOnHand > p.MaxQuantity:
		return ClassOverstock
	default:
		return ClassHealthy
	}
}

// AtOrBelowReorder reports whether the part should be reordered.
func AtOrBelowReorder(p Part) bool {
	return p.QuantityOnHand <= p.ReorderPoint
}

// ClassSummary counts parts per class after a reclassification.
type ClassSummary struct {
	Total   int                `json:"total"`
	Changed int                `json:"changed"`
	ByClass map[SmartClass]int `json:"byClass"`
}

// ListFilters narrows part listings.
type ListFilters struct {
	Search     string
	SmartClass SmartClass
	BelowOnly  bool
	Limit      int
	Offset     int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("parts: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("parts: %w", shared.ErrValidation)
	// ErrDuplicatePartNumber indicates the part number is taken.
	ErrDuplicatePartNumber = fmt.Errorf("parts: part number already used: %w", shared.ErrConflict)
)
