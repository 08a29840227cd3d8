package workorders

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

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetForUpdate(ctx context.Context, orgID, id int64) (WorkOrder, error)
	Create(ctx context.Context, wo WorkOrder) (WorkOrder, error)
	Update(ctx context.Context, wo WorkOrder) error
	InsertLine(ctx context.Context, line Line) (Line, error)
	DeleteLine(ctx context.Context, workOrderID, lineID int64) error
	// HoldAsset marks the asset in maintenance. found is false when no asset row matched.
	HoldAsset(ctx context.Context, orgID, assetID int64) (found bool, err error)
	// LockAsset writes the asset row so concurrent holds and releases of the
	// same asset serialize, and returns its current status.
	LockAsset(ctx context.Context, orgID, assetID int64) (status string, found bool, err error)
	// ReleaseAsset returns an asset in maintenance to operational.
	ReleaseAsset(ctx context.Context, orgID, assetID int64) error
	CountOpenOnAsset(ctx context.Context, orgID, assetID, excludeID int64) (int, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction, joining one already bound to ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const workOrderColumns = `id, org_id, number, asset_id, title, description, priority, status, due_date,
completed_at, source_kind, source_id, created_at, updated_at`

func scanWorkOrder(row pgx.Row) (WorkOrder, error) {
	var wo WorkOrder
	err := row.Scan(&wo.ID, &wo.OrgID, &wo.Number, &wo.AssetID, &wo.Title, &wo.Description, &wo.Priority,
		&wo.Status, &wo.DueDate, &wo.CompletedAt, &wo.SourceKind, &wo.SourceID, &wo.CreatedAt, &wo.UpdatedAt)
	return wo, err
}

const lineColumns = `id, work_order_id, line_type, part_id, description, vmrs_code, vmrs_title,
quantity::float8, unit_cost::float8, total_cost::float8, needs_ordering, created_at`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.WorkOrderID, &l.LineType, &l.PartID, &l.Description, &l.VMRSCode, &l.VMRSTitle,
		&l.Quantity, &l.UnitCost, &l.TotalCost, &l.NeedsOrdering, &l.CreatedAt)
	return l, err
}

// Get fetches a work order scoped to its organization.
func (r *Repository) Get(ctx context.Context, orgID, id int64) (WorkOrder, error) {
	wo, err := scanWorkOrder(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders WHERE org_id=$1 AND id=$2`, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrNotFound
		}
		return WorkOrder{}, err
	}
	return wo, nil
}

// ListLines returns the lines of a work order in insertion order.
func (r *Repository) ListLines(ctx context.Context, workOrderID int64) ([]Line, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+lineColumns+` FROM work_order_lines WHERE work_order_id=$1 ORDER BY id`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// List returns filtered work orders and the unpaged total. A zero limit returns every row.
func (r *Repository) List(ctx context.Context, orgID int64, filters ListFilters) ([]WorkOrder, int, error) {
	where := []string{"org_id=$1"}
	args := []any{orgID}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where = append(where, "status=$"+strconv.Itoa(len(args)))
	}
	if filters.AssetID > 0 {
		args = append(args, filters.AssetID)
		where = append(where, "asset_id=$"+strconv.Itoa(len(args)))
	}
	clause := strings.Join(where, " AND ")

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM work_orders WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE ` + clause + ` ORDER BY created_at DESC, id DESC`
	if filters.Limit > 0 {
		args = append(args, filters.Limit, filters.Offset)
		query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, wo)
	}
	return out, total, rows.Err()
}

func (t *txRepo) GetForUpdate(ctx context.Context, orgID, id int64) (WorkOrder, error) {
	wo, err := scanWorkOrder(t.tx.QueryRow(ctx,
		`SELECT `+workOrderColumns+` FROM work_orders WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrNotFound
		}
		return WorkOrder{}, err
	}
	return wo, nil
}

func (t *txRepo) Create(ctx context.Context, wo WorkOrder) (WorkOrder, error) {
	return scanWorkOrder(t.tx.QueryRow(ctx, `INSERT INTO work_orders
(org_id, number, asset_id, title, description, priority, status, due_date, completed_at, source_kind, source_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING `+workOrderColumns,
		wo.OrgID, wo.Number, wo.AssetID, wo.Title, wo.Description, wo.Priority, wo.Status,
		wo.DueDate, wo.CompletedAt, wo.SourceKind, wo.SourceID))
}

func (t *txRepo) Update(ctx context.Context, wo WorkOrder) error {
	tag, err := t.tx.Exec(ctx, `UPDATE work_orders SET asset_id=$1, title=$2, description=$3, priority=$4,
status=$5, due_date=$6, completed_at=$7, updated_at=NOW() WHERE org_id=$8 AND id=$9`,
		wo.AssetID, wo.Title, wo.Description, wo.Priority, wo.Status, wo.DueDate, wo.CompletedAt, wo.OrgID, wo.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) (Line, error) {
	return scanLine(t.tx.QueryRow(ctx, `INSERT INTO work_order_lines
(work_order_id, line_type, part_id, description, vmrs_code, vmrs_title, quantity, unit_cost, total_cost, needs_ordering)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING `+lineColumns,
		line.WorkOrderID, line.LineType, line.PartID, line.Description, line.VMRSCode, line.VMRSTitle,
		line.Quantity, line.UnitCost, line.TotalCost, line.NeedsOrdering))
}

func (t *txRepo) DeleteLine(ctx context.Context, workOrderID, lineID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM work_order_lines WHERE work_order_id=$1 AND id=$2`, workOrderID, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (t *txRepo) HoldAsset(ctx context.Context, orgID, assetID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE assets SET status='in_maintenance', updated_at=NOW()
WHERE org_id=$1 AND id=$2`, orgID, assetID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepo) LockAsset(ctx context.Context, orgID, assetID int64) (string, bool, error) {
	// A bare FOR UPDATE does not abort a repeatable read transaction whose
	// snapshot predates the other writer's commit; touching the row does.
	var status string
	err := t.tx.QueryRow(ctx, `UPDATE assets SET updated_at=NOW() WHERE org_id=$1 AND id=$2 RETURNING status`,
		orgID, assetID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func (t *txRepo) ReleaseAsset(ctx context.Context, orgID, assetID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE assets SET status='operational', updated_at=NOW()
WHERE org_id=$1 AND id=$2 AND status='in_maintenance'`, orgID, assetID)
	return err
}

func (t *txRepo) CountOpenOnAsset(ctx context.Context, orgID, assetID, excludeID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM work_orders
WHERE org_id=$1 AND asset_id=$2 AND id<>$3 AND status NOT IN ('completed','cancelled')`,
		orgID, assetID, excludeID).Scan(&n)
	return n, err
}
