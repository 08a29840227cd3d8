// Package organizations owns tenants and their workflow settings.
package organizations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Organization is a tenant.
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Settings  Settings  `json:"settings"`
	CreatedAt time.Time `json:"createdAt"`
}

// Settings are the per-organization workflow policies.
type Settings struct {
	RequireEstimateApproval bool `json:"requireEstimateApproval"`
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("organizations: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("organizations: %w", shared.ErrValidation)
)

// RepositoryPort describes persistence used by Service.
type RepositoryPort interface {
	Create(ctx context.Context, org Organization) (Organization, error)
	Get(ctx context.Context, id int64) (Organization, error)
	UpdateSettings(ctx context.Context, id int64, settings Settings) error
	ListIDs(ctx context.Context) ([]int64, error)
}

// Service exposes organization settings to the workflow packages.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Create registers a tenant.
func (s *Service) Create(ctx context.Context, name string, settings Settings) (Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	return s.repo.Create(ctx, Organization{Name: name, Settings: settings})
}

// Get returns an organization.
func (s *Service) Get(ctx context.Context, id int64) (Organization, error) {
	return s.repo.Get(ctx, id)
}

// Settings returns the policies for orgID.
func (s *Service) Settings(ctx context.Context, orgID int64) (Settings, error) {
	org, err := s.repo.Get(ctx, orgID)
	if err != nil {
		return Settings{}, err
	}
	return org.Settings, nil
}

// IDs lists every organization. Background jobs use it to fan out per tenant.
func (s *Service) IDs(ctx context.Context) ([]int64, error) {
	return s.repo.ListIDs(ctx)
}

// UpdateSettings replaces the policies for orgID.
func (s *Service) UpdateSettings(ctx context.Context, orgID int64, settings Settings) (Settings, error) {
	if _, err := s.repo.Get(ctx, orgID); err != nil {
		return Settings{}, err
	}
	if err := s.repo.UpdateSettings(ctx, orgID, settings); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts an organization.
func (r *Repository) Create(ctx context.Context, org Organization) (Organization, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO organizations (name, require_estimate_approval)
VALUES ($1, $2) RETURNING id, created_at`, org.Name, org.Settings.RequireEstimateApproval).Scan(&org.ID, &org.CreatedAt)
	return org, err
}

// Get fetches an organization by id.
func (r *Repository) Get(ctx context.Context, id int64) (Organization, error) {
	var org Organization
	err := r.pool.QueryRow(ctx, `SELECT id, name, require_estimate_approval, created_at FROM organizations WHERE id=$1`, id).
		Scan(&org.ID, &org.Name, &org.Settings.RequireEstimateApproval, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, err
	}
	return org, nil
}

// UpdateSettings persists settings.
func (r *Repository) UpdateSettings(ctx context.Context, id int64, settings Settings) error {
	tag, err := r.pool.Exec(ctx, `UPDATE organizations SET require_estimate_approval=$1, updated_at=NOW() WHERE id=$2`, settings.RequireEstimateApproval, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIDs returns organization ids in ascending order.
func (r *Repository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM organizations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
