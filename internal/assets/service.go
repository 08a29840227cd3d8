package assets

import (
	"context"
	"fmt"
	"strings"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, asset Asset) (Asset, error)
	Get(ctx context.Context, orgID, id int64) (Asset, error)
	List(ctx context.Context, orgID int64, filters ListFilters) ([]Asset, int, error)
	Update(ctx context.Context, asset Asset) error
}

// Service manages assets. Status changes driven by work orders happen in the
// workorders package inside its own transaction.
type Service struct {
	repo RepositoryPort
}

// NewService constructs asset service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateInput describes creation payload.
type CreateInput struct {
	Number    string
	Name      string
	AssetType string
	Status    Status
	Meter     float64
}

// UpdateInput carries optional field changes.
type UpdateInput struct {
	Name      *string
	AssetType *string
	Status    *Status
	Meter     *float64
}

// Create persists a new asset, operational unless told otherwise.
func (s *Service) Create(ctx context.Context, orgID int64, input CreateInput) (Asset, error) {
	input.Number = strings.TrimSpace(input.Number)
	input.Name = strings.TrimSpace(input.Name)
	if input.Number == "" || input.Name == "" {
		return Asset{}, fmt.Errorf("%w: number and name required", ErrValidation)
	}
	if input.Status == "" {
		input.Status = StatusOperational
	}
	if !input.Status.Valid() {
		return Asset{}, fmt.Errorf("%w: unknown status %q", ErrValidation, input.Status)
	}
	if input.Meter < 0 {
		return Asset{}, fmt.Errorf("%w: meter must not be negative", ErrValidation)
	}
	return s.repo.Create(ctx, Asset{
		OrgID:     orgID,
		Number:    input.Number,
		Name:      input.Name,
		AssetType: input.AssetType,
		Status:    input.Status,
		Meter:     input.Meter,
	})
}

// Get returns one asset.
func (s *Service) Get(ctx context.Context, orgID, id int64) (Asset, error) {
	return s.repo.Get(ctx, orgID, id)
}

// List returns a page of assets and the total count.
func (s *Service) List(ctx context.Context, orgID int64, filters ListFilters) ([]Asset, int, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, filters.Status)
	}
	return s.repo.List(ctx, orgID, filters)
}

// Update applies a patch. Meter readings never go backwards.
func (s *Service) Update(ctx context.Context, orgID, id int64, input UpdateInput) (Asset, error) {
	asset, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Asset{}, err
	}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return Asset{}, fmt.Errorf("%w: name required", ErrValidation)
		}
		asset.Name = name
	}
	if input.AssetType != nil {
		asset.AssetType = *input.AssetType
	}
	if input.Status != nil {
		if !input.Status.Valid() {
			return Asset{}, fmt.Errorf("%w: unknown status %q", ErrValidation, *input.Status)
		}
		asset.Status = *input.Status
	}
	if input.Meter != nil {
		if *input.Meter < asset.Meter {
			return Asset{}, fmt.Errorf("%w: meter reading %.1f is below current %.1f", ErrValidation, *input.Meter, asset.Meter)
		}
		asset.Meter = *input.Meter
	}
	if err := s.repo.Update(ctx, asset); err != nil {
		return Asset{}, err
	}
	return asset, nil
}
