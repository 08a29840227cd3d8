package assets

import (
	"fmt"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Status is the operational state of an asset.
type Status string

const (
	StatusOperational   Status = "operational"
	StatusInMaintenance Status = "in_maintenance"
	StatusDown          Status = "down"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOperational, StatusInMaintenance, StatusDown:
		return true
	}
	return false
}

// Asset is a vehicle or piece of equipment under maintenance.
type Asset struct {
	ID        int64     `json:"id"`
	OrgID     int64     `json:"orgId"`
	Number    string    `json:"number"`
	Name      string    `json:"name"`
	AssetType string    `json:"assetType"`
	Status    Status    `json:"status"`
	Meter     float64   `json:"meter"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListFilters narrows asset listings.
type ListFilters struct {
	Status Status
	Search string
	Limit  int
	Offset int
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("assets: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("assets: %w", shared.ErrValidation)
	// ErrDuplicateNumber indicates the asset number is taken.
	ErrDuplicateNumber = fmt.Errorf("assets: number already used: %w", shared.ErrConflict)
)
