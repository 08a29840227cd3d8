package parts

import (
	"context"
	"fmt"
	"strings"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context) error) error
	Create(ctx context.Context, part Part) (Part, error)
	Get(ctx context.Context, orgID, id int64) (Part, error)
	List(ctx context.Context, orgID int64, filters ListFilters) ([]Part, int, error)
	Update(ctx context.Context, part Part) error
	AdjustOnHand(ctx context.Context, orgID, id int64, delta float64) (Part, error)
	SetClass(ctx context.Context, orgID, id int64, class SmartClass) error
	UpsertByNumber(ctx context.Context, part Part) (Part, error)
	CreateImportJob(ctx context.Context, job ImportJob) (ImportJob, error)
	GetImportJob(ctx context.Context, orgID, id int64) (ImportJob, error)
}

// Service manages the parts inventory.
type Service struct {
	repo RepositoryPort
}

// NewService constructs parts service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Input carries part fields for create and update.
type Input struct {
	PartNumber     string
	Name           string
	UnitCost       float64
	QuantityOnHand float64
	ReorderPoint   float64
	MaxQuantity    float64
}

func (in Input) validate() error {
	if strings.TrimSpace(in.PartNumber) == "" || strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: part number and name required", ErrValidation)
	}
	if in.UnitCost < 0 || in.QuantityOnHand < 0 || in.ReorderPoint < 0 || in.MaxQuantity < 0 {
		return fmt.Errorf("%w: amounts must not be negative", ErrValidation)
	}
	return nil
}

// Create persists a new part with its initial classification.
func (s *Service) Create(ctx context.Context, orgID int64, input Input) (Part, error) {
	if err := input.validate(); err != nil {
		return Part{}, err
	}
	part := Part{
		OrgID:          orgID,
		PartNumber:     strings.TrimSpace(input.PartNumber),
		Name:           strings.TrimSpace(input.Name),
		UnitCost:       input.UnitCost,
		QuantityOnHand: input.QuantityOnHand,
		ReorderPoint:   input.ReorderPoint,
		MaxQuantity:    input.MaxQuantity,
	}
	part.SmartClass = Classify(part)
	return s.repo.Create(ctx, part)
}

// Get returns a part.
func (s *Service) Get(ctx context.Context, orgID, id int64) (Part, error) {
	return s.repo.Get(ctx, orgID, id)
}

// Lookup returns a part for line pricing and ordering decisions.
func (s *Service) Lookup(ctx context.Context, orgID, id int64) (Part, error) {
	return s.repo.Get(ctx, orgID, id)
}

// List returns a page of parts.
func (s *Service) List(ctx context.Context, orgID int64, filters ListFilters) ([]Part, int, error) {
	return s.repo.List(ctx, orgID, filters)
}

// Update replaces the editable fields of a part.
func (s *Service) Update(ctx context.Context, orgID, id int64, input Input) (Part, error) {
	if err := input.validate(); err != nil {
		return Part{}, err
	}
	part, err := s.repo.Get(ctx, orgID, id)
	if err != nil {
		return Part{}, err
	}
	part.PartNumber = strings.TrimSpace(input.PartNumber)
	part.Name = strings.TrimSpace(input.Name)
	part.UnitCost = input.UnitCost
	part.QuantityOnHand = input.QuantityOnHand
	part.ReorderPoint = input.ReorderPoint
	part.MaxQuantity = input.MaxQuantity
	part.SmartClass = Classify(part)
	if err := s.repo.Update(ctx, part); err != nil {
		return Part{}, err
	}
	return part, nil
}

// ReceiveStock adds received quantity to on-hand stock. Called from purchase
// order receiving inside its transaction.
func (s *Service) ReceiveStock(ctx context.Context, orgID, partID int64, qty float64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: received quantity must be positive", ErrValidation)
	}
	part, err := s.repo.AdjustOnHand(ctx, orgID, partID, qty)
	if err != nil {
		return err
	}
	if class := Classify(part); class != part.SmartClass {
		return s.repo.SetClass(ctx, orgID, partID, class)
	}
	return nil
}

// Reclassify recomputes the SMART class of every part in the organization.
func (s *Service) Reclassify(ctx context.Context, orgID int64) (ClassSummary, error) {
	items, _, err := s.repo.List(ctx, orgID, ListFilters{})
	if err != nil {
		return ClassSummary{}, err
	}
	var summary ClassSummary
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		summary = ClassSummary{Total: len(items), ByClass: make(map[SmartClass]int)}
		for _, part := range items {
			class := Classify(part)
			summary.ByClass[class]++
			if class == part.SmartClass {
				continue
			}
			if err := s.repo.SetClass(ctx, orgID, part.ID, class); err != nil {
				return err
			}
			summary.Changed++
		}
		return nil
	})
	if err != nil {
		return ClassSummary{}, err
	}
	return summary, nil
}
