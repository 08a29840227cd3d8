package assets

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetdesk/fleetdesk/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const assetColumns = `id, org_id, number, name, asset_type, status, meter::float8, created_at, updated_at`

func scanAsset(row pgx.Row) (Asset, error) {
	var a Asset
	err := row.Scan(&a.ID, &a.OrgID, &a.Number, &a.Name, &a.AssetType, &a.Status, &a.Meter, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// Create inserts an asset.
func (r *Repository) Create(ctx context.Context, asset Asset) (Asset, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO assets (org_id, number, name, asset_type, status, meter)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+assetColumns,
		asset.OrgID, asset.Number, asset.Name, asset.AssetType, asset.Status, asset.Meter)
	created, err := scanAsset(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Asset{}, ErrDuplicateNumber
		}
		return Asset{}, err
	}
	return created, nil
}

// Get fetches an asset scoped to its organization.
func (r *Repository) Get(ctx context.Context, orgID, id int64) (Asset, error) {
	asset, err := scanAsset(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE org_id=$1 AND id=$2`, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Asset{}, ErrNotFound
		}
		return Asset{}, err
	}
	return asset, nil
}

// List returns filtered assets and the unpaged total. A zero limit returns every row.
func (r *Repository) List(ctx context.Context, orgID int64, filters ListFilters) ([]Asset, int, error) {
	where := []string{"org_id=$1"}
	args := []any{orgID}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where = append(where, "status=$"+strconv.Itoa(len(args)))
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		where = append(where, "(number ILIKE $"+strconv.Itoa(len(args))+" OR name ILIKE $"+strconv.Itoa(len(args))+")")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM assets WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + assetColumns + ` FROM assets WHERE ` + clause + ` ORDER BY number`
	if filters.Limit > 0 {
		args = append(args, filters.Limit, filters.Offset)
		query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Update writes mutable fields.
func (r *Repository) Update(ctx context.Context, asset Asset) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE assets SET name=$1, asset_type=$2, status=$3, meter=$4, updated_at=NOW()
WHERE org_id=$5 AND id=$6`, asset.Name, asset.AssetType, asset.Status, asset.Meter, asset.OrgID, asset.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
