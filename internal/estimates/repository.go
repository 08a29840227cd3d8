package estimates

import (
	"context"
	"errors"
	"strconv"

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
	Lock(ctx context.Context, orgID, id int64) (Estimate, error)
	Create(ctx context.Context, est Estimate) (Estimate, error)
	InsertLine(ctx context.Context, line Line) (Line, error)
	DeleteLine(ctx context.Context, estimateID, lineID int64) error
	ListLines(ctx context.Context, estimateID int64) ([]Line, error)
	SetTotal(ctx context.Context, estimateID int64, total float64) error
	UpdateStatus(ctx context.Context, est Estimate) error
	// MarkConverted links the estimate to its work order. It reports false when
	// another conversion got there first.
	MarkConverted(ctx context.Context, orgID, id, workOrderID int64) (bool, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a transaction. A transaction already bound to ctx is joined.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const estimateColumns = `id, org_id, number, asset_id, title, status, converted_to_work_order_id,
total_amount::float8, submitted_at, approved_at, rejected_at, created_at, updated_at`

func scanEstimate(row pgx.Row) (Estimate, error) {
	var e Estimate
	err := row.Scan(&e.ID, &e.OrgID, &e.Number, &e.AssetID, &e.Title, &e.Status, &e.ConvertedToWorkOrderID,
		&e.TotalAmount, &e.SubmittedAt, &e.ApprovedAt, &e.RejectedAt, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

const lineColumns = `id, estimate_id, line_type, part_id, description, vmrs_code, vmrs_title,
quantity::float8, unit_cost::float8, total_cost::float8, needs_ordering`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.EstimateID, &l.LineType, &l.PartID, &l.Description, &l.VMRSCode, &l.VMRSTitle,
		&l.Quantity, &l.UnitCost, &l.TotalCost, &l.NeedsOrdering)
	return l, err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func estimateLines(ctx context.Context, q db.Querier, estimateID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM estimate_lines WHERE estimate_id=$1 ORDER BY id`, estimateID)
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

// Get loads an estimate and its lines.
func (r *Repository) Get(ctx context.Context, orgID, id int64) (Estimate, []Line, error) {
	conn := db.Conn(ctx, r.pool)
	est, err := scanEstimate(conn.QueryRow(ctx, `SELECT `+estimateColumns+` FROM estimates WHERE org_id=$1 AND id=$2`, orgID, id))
	if err != nil {
		return Estimate{}, nil, notFound(err)
	}
	lines, err := estimateLines(ctx, conn, id)
	if err != nil {
		return Estimate{}, nil, err
	}
	return est, lines, nil
}

// List returns estimates and the unpaged total.
func (r *Repository) List(ctx context.Context, orgID int64, filters ListFilters) ([]Estimate, int, error) {
	clause := "org_id=$1"
	args := []any{orgID}
	if filters.Status != "" {
		args = append(args, filters.Status)
		clause += " AND status=$" + strconv.Itoa(len(args))
	}
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM estimates WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + estimateColumns + ` FROM estimates WHERE ` + clause + ` ORDER BY id DESC`
	if filters.Limit > 0 {
		args = append(args, filters.Limit, filters.Offset)
		query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Estimate
	for rows.Next() {
		est, err := scanEstimate(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, est)
	}
	return out, total, rows.Err()
}

func (t *txRepo) Lock(ctx context.Context, orgID, id int64) (Estimate, error) {
	est, err := scanEstimate(t.tx.QueryRow(ctx, `SELECT `+estimateColumns+` FROM estimates
WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
	if err != nil {
		return Estimate{}, notFound(err)
	}
	return est, nil
}

func (t *txRepo) Create(ctx context.Context, est Estimate) (Estimate, error) {
	return scanEstimate(t.tx.QueryRow(ctx, `INSERT INTO estimates (org_id, number, asset_id, title, status, total_amount)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+estimateColumns,
		est.OrgID, est.Number, est.AssetID, est.Title, est.Status, est.TotalAmount))
}

func (t *txRepo) InsertLine(ctx context.Context, line Line) (Line, error) {
	return scanLine(t.tx.QueryRow(ctx, `INSERT INTO estimate_lines
(estimate_id, line_type, part_id, description, vmrs_code, vmrs_title, quantity, unit_cost, total_cost, needs_ordering)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING `+lineColumns,
		line.EstimateID, line.LineType, line.PartID, line.Description, line.VMRSCode, line.VMRSTitle,
		line.Quantity, line.UnitCost, line.TotalCost, line.NeedsOrdering))
}

func (t *txRepo) DeleteLine(ctx context.Context, estimateID, lineID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM estimate_lines WHERE estimate_id=$1 AND id=$2`, estimateID, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (t *txRepo) ListLines(ctx context.Context, estimateID int64) ([]Line, error) {
	return estimateLines(ctx, t.tx, estimateID)
}

func (t *txRepo) SetTotal(ctx context.Context, estimateID int64, total float64) error {
	_, err := t.tx.Exec(ctx, `UPDATE estimates SET total_amount=$1, updated_at=NOW() WHERE id=$2`, total, estimateID)
	return err
}

func (t *txRepo) UpdateStatus(ctx context.Context, est Estimate) error {
	_, err := t.tx.Exec(ctx, `UPDATE estimates SET status=$1, submitted_at=$2, approved_at=$3, rejected_at=$4, updated_at=NOW()
WHERE org_id=$5 AND id=$6`, est.Status, est.SubmittedAt, est.ApprovedAt, est.RejectedAt, est.OrgID, est.ID)
	return err
}

func (t *txRepo) MarkConverted(ctx context.Context, orgID, id, workOrderID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE estimates SET converted_to_work_order_id=$1, updated_at=NOW()
WHERE org_id=$2 AND id=$3 AND converted_to_work_order_id IS NULL`, workOrderID, orgID, id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
