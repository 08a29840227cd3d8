// Package dashboard computes read-only fleet counts for the landing page.
package dashboard

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetdesk/fleetdesk/internal/assets"
	"github.com/fleetdesk/fleetdesk/internal/estimates"
	"github.com/fleetdesk/fleetdesk/internal/parts"
	"github.com/fleetdesk/fleetdesk/internal/procurement"
	"github.com/fleetdesk/fleetdesk/internal/workorders"
)

// AssetSource lists assets.
type AssetSource interface {
	List(ctx context.Context, orgID int64, filters assets.ListFilters) ([]assets.Asset, int, error)
}

// WorkOrderSource lists work orders.
type WorkOrderSource interface {
	List(ctx context.Context, orgID int64, filters workorders.ListFilters) ([]workorders.WorkOrder, int, error)
}

// PartSource lists parts.
type PartSource interface {
	List(ctx context.Context, orgID int64, filters parts.ListFilters) ([]parts.Part, int, error)
}

// RequisitionSource lists requisitions.
type RequisitionSource interface {
	ListRequisitions(ctx context.Context, orgID int64, filters procurement.ListFilters) ([]procurement.Requisition, int, error)
}

// EstimateSource lists estimates.
type EstimateSource interface {
	List(ctx context.Context, orgID int64, filters estimates.ListFilters) ([]estimates.Estimate, int, error)
}

// AssetCounts breaks assets down by status.
type AssetCounts struct {
	Total         int `json:"total"`
	Operational   int `json:"operational"`
	InMaintenance int `json:"inMaintenance"`
	Down          int `json:"down"`
}

// Stats is the dashboard payload.
type Stats struct {
	Assets                  AssetCounts `json:"assets"`
	OpenWorkOrders          int         `json:"openWorkOrders"`
	OverdueWorkOrders       int         `json:"overdueWorkOrders"`
	PartsBelowReorder       int         `json:"partsBelowReorder"`
	PendingRequisitions     int         `json:"pendingRequisitions"`
	EstimatesAwaitingReview int         `json:"estimatesAwaitingReview"`
}

// Service aggregates counts across modules.
type Service struct {
	assets       AssetSource
	workOrders   WorkOrderSource
	parts        PartSource
	requisitions RequisitionSource
	estimates    EstimateSource
	now          func() time.Time
}

// NewService constructs the dashboard service.
func NewService(assets AssetSource, workOrders WorkOrderSource, parts PartSource, requisitions RequisitionSource, estimates EstimateSource) *Service {
	return &Service{
		assets:       assets,
		workOrders:   workOrders,
		parts:        parts,
		requisitions: requisitions,
		estimates:    estimates,
		now:          time.Now,
	}
}

// Stats loads every source concurrently and counts in memory. A zero limit
// asks each source for all rows.
func (s *Service) Stats(ctx context.Context, orgID int64) (Stats, error) {
	var (
		fleet   []assets.Asset
		orders  []workorders.WorkOrder
		stock   []parts.Part
		pending int
		review  int
	)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		items, _, err := s.assets.List(ctx, orgID, assets.ListFilters{})
		fleet = items
		return err
	})
	g.Go(func() error {
		items, _, err := s.workOrders.List(ctx, orgID, workorders.ListFilters{})
		orders = items
		return err
	})
	g.Go(func() error {
		items, _, err := s.parts.List(ctx, orgID, parts.ListFilters{})
		stock = items
		return err
	})
	g.Go(func() error {
		_, total, err := s.requisitions.ListRequisitions(ctx, orgID, procurement.ListFilters{
			Status: string(procurement.RequisitionPendingApproval),
			Limit:  1,
		})
		pending = total
		return err
	})
	g.Go(func() error {
		_, total, err := s.estimates.List(ctx, orgID, estimates.ListFilters{
			Status: estimates.StatusPendingApproval,
			Limit:  1,
		})
		review = total
		return err
	})

	if err := g.Wait(); err != nil {
		return Stats{}, err
	}
	stats := Count(fleet, orders, stock, s.now())
	stats.PendingRequisitions = pending
	stats.EstimatesAwaitingReview = review
	return stats, nil
}

// Count derives the in-memory figures.
func Count(fleet []assets.Asset, orders []workorders.WorkOrder, stock []parts.Part, now time.Time) Stats {
	var stats Stats
	stats.Assets.Total = len(fleet)
	for _, a := range fleet {
		switch a.Status {
		case assets.StatusOperational:
			stats.Assets.Operational++
		case assets.StatusInMaintenance:
			stats.Assets.InMaintenance++
		case assets.StatusDown:
			stats.Assets.Down++
		}
	}
	for _, wo := range orders {
		if wo.Status.Terminal() {
			continue
		}
		stats.OpenWorkOrders++
		if wo.DueDate != nil && wo.DueDate.Before(now) {
			stats.OverdueWorkOrders++
		}
	}
	for _, p := range stock {
		if parts.AtOrBelowReorder(p) {
			stats.PartsBelowReorder++
		}
	}
	return stats
}
