package organizations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

type memoryOrgRepo struct {
	orgs   map[int64]Organization
	nextID int64
}

func newMemoryOrgRepo() *memoryOrgRepo {
	return &memoryOrgRepo{orgs: make(map[int64]Organization)}
}

func (r *memoryOrgRepo) Create(ctx context.Context, org Organization) (Organization, error) {
	r.nextID++
	org.ID = r.nextID
	org.CreatedAt = time.Now()
	r.orgs[org.ID] = org
	return org, nil
}

func (r *memoryOrgRepo) Get(ctx context.Context, id int64) (Organization, error) {
	org, ok := r.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

func (r *memoryOrgRepo) UpdateSettings(ctx context.Context, id int64, settings Settings) error {
	org, ok := r.orgs[id]
	if !ok {
		return ErrNotFound
	}
	org.Settings = settings
	r.orgs[id] = org
	return nil
}

func (r *memoryOrgRepo) ListIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for id := int64(1); id <= r.nextID; id++ {
		if _, ok := r.orgs[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func TestSettingsRoundTrip(t *testing.T) {
	svc := NewService(newMemoryOrgRepo())
	ctx := context.Background()

	org, err := svc.Create(ctx, "  Acme Haulage ", Settings{})
	require.NoError(t, err)
	require.Equal(t, "Acme Haulage", org.Name)

	settings, err := svc.Settings(ctx, org.ID)
	require.NoError(t, err)
	require.False(t, settings.RequireEstimateApproval)

	_, err = svc.UpdateSettings(ctx, org.ID, Settings{RequireEstimateApproval: true})
	require.NoError(t, err)
	settings, err = svc.Settings(ctx, org.ID)
	require.NoError(t, err)
	require.True(t, settings.RequireEstimateApproval)
}

func TestSettingsUnknownOrg(t *testing.T) {
	svc := NewService(newMemoryOrgRepo())
	_, err := svc.Settings(context.Background(), 42)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Create(context.Background(), " ", Settings{})
	require.ErrorIs(t, err, shared.ErrValidation)
}
