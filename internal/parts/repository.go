package parts

import (
	"context"
	"encoding/json"
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

// WithTx runs fn inside a transaction, joining one already bound to ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx)
	})
}

const partColumns = `id, org_id, part_number, name, unit_cost::float8, quantity_on_hand::float8,
reorder_point::float8, max_quantity::float8, smart_class, created_at, updated_at`

func scanPart(row pgx.Row) (Part, error) {
	var p Part
	err := row.Scan(&p.ID, &p.OrgID, &p.PartNumber, &p.Name, &p.UnitCost, &p.QuantityOnHand,
		&p.ReorderPoint, &p.MaxQuantity, &p.SmartClass, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Create inserts a part.
func (r *Repository) Create(ctx context.Context, part Part) (Part, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO parts
(org_id, part_number, name, unit_cost, quantity_on_hand, reorder_point, max_quantity, smart_class)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+partColumns,
		part.OrgID, part.PartNumber, part.Name, part.UnitCost, part.QuantityOnHand,
		part.ReorderPoint, part.MaxQuantity, part.SmartClass)
	created, err := scanPart(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Part{}, ErrDuplicatePartNumber
		}
		return Part{}, err
	}
	return created, nil
}

// UpsertByNumber inserts a part or overwrites the one sharing its part number.
func (r *Repository) UpsertByNumber(ctx context.Context, part Part) (Part, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO parts
(org_id, part_number, name, unit_cost, quantity_on_hand, reorder_point, max_quantity, smart_class)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (org_id, part_number) DO UPDATE SET
    name=EXCLUDED.name, unit_cost=EXCLUDED.unit_cost, quantity_on_hand=EXCLUDED.quantity_on_hand,
    reorder_point=EXCLUDED.reorder_point, max_quantity=EXCLUDED.max_quantity,
    smart_class=EXCLUDED.smart_class, updated_at=NOW()
RETURNING `+partColumns,
		part.OrgID, part.PartNumber, part.Name, part.UnitCost, part.QuantityOnHand,
		part.ReorderPoint, part.MaxQuantity, part.SmartClass)
	return scanPart(row)
}

// Get fetches a part scoped to its organization.
func (r *Repository) Get(ctx context.Context, orgID, id int64) (Part, error) {
	part, err := scanPart(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+partColumns+` FROM parts WHERE org_id=$1 AND id=$2`, orgID, id))
	if err != nil {
		return Part{}, notFound(err)
	}
	return part, nil
}

// List returns filtered parts and the unpaged total. A zero limit returns every row.
func (r *Repository) List(ctx context.Context, orgID int64, filters ListFilters) ([]Part, int, error) {
	where := []string{"org_id=$1"}
	args := []any{orgID}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where = append(where, "(part_number ILIKE $"+n+" OR name ILIKE $"+n+")")
	}
	if filters.SmartClass != "" {
		args = append(args, filters.SmartClass)
		where = append(where, "smart_class=$"+strconv.Itoa(len(args)))
	}
	if filters.BelowOnly {
		where = append(where, "quantity_on_hand <= reorder_point")
	}
	clause := strings.Join(where, " AND ")

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM parts WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + partColumns + ` FROM parts WHERE ` + clause + ` ORDER BY part_number`
	if filters.Limit > 0 {
		args = append(args, filters.Limit, filters.Offset)
		query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Part
	for rows.Next() {
		part, err := scanPart(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, part)
	}
	return out, total, rows.Err()
}

// Update writes mutable fields.
func (r *Repository) Update(ctx context.Context, part Part) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE parts SET part_number=$1, name=$2, unit_cost=$3,
quantity_on_hand=$4, reorder_point=$5, max_quantity=$6, smart_class=$7, updated_at=NOW()
WHERE org_id=$8 AND id=$9`,
		part.PartNumber, part.Name, part.UnitCost, part.QuantityOnHand, part.ReorderPoint,
		part.MaxQuantity, part.SmartClass, part.OrgID, part.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicatePartNumber
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustOnHand adds delta to on-hand stock and returns the updated part.
func (r *Repository) AdjustOnHand(ctx context.Context, orgID, id int64, delta float64) (Part, error) {
	part, err := scanPart(db.Conn(ctx, r.pool).QueryRow(ctx, `UPDATE parts
SET quantity_on_hand = quantity_on_hand + $1, updated_at=NOW()
WHERE org_id=$2 AND id=$3 RETURNING `+partColumns, delta, orgID, id))
	if err != nil {
		return Part{}, notFound(err)
	}
	return part, nil
}

// SetClass stores a part's SMART class.
func (r *Repository) SetClass(ctx context.Context, orgID, id int64, class SmartClass) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE parts SET smart_class=$1, updated_at=NOW() WHERE org_id=$2 AND id=$3`, class, orgID, id)
	return err
}

// CreateImportJob persists an import run.
func (r *Repository) CreateImportJob(ctx context.Context, job ImportJob) (ImportJob, error) {
	payload, err := json.Marshal(job.Errors)
	if err != nil {
		return ImportJob{}, err
	}
	err = db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO import_jobs
(org_id, entity, file_name, status, total_rows, imported_rows, error_rows, errors)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at`,
		job.OrgID, job.Entity, job.FileName, job.Status, job.TotalRows, job.ImportedRows, job.ErrorRows, payload,
	).Scan(&job.ID, &job.CreatedAt)
	return job, err
}

// GetImportJob loads an import run.
func (r *Repository) GetImportJob(ctx context.Context, orgID, id int64) (ImportJob, error) {
	var (
		job     ImportJob
		payload []byte
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, org_id, entity, file_name, status, total_rows,
imported_rows, error_rows, errors, created_at FROM import_jobs WHERE org_id=$1 AND id=$2`, orgID, id).
		Scan(&job.ID, &job.OrgID, &job.Entity, &job.FileName, &job.Status, &job.TotalRows,
			&job.ImportedRows, &job.ErrorRows, &payload, &job.CreatedAt)
	if err != nil {
		return ImportJob{}, notFound(err)
	}
	if err := json.Unmarshal(payload, &job.Errors); err != nil {
		return ImportJob{}, err
	}
	return job, nil
}
