package dvir

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

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
	Create(ctx context.Context, report Report) (Report, error)
	InsertDefect(ctx context.Context, defect Defect) (Defect, error)
	// Lock loads a report with its defects and holds the row until commit.
	Lock(ctx context.Context, orgID, id int64) (Report, error)
	LinkWorkOrder(ctx context.Context, defectID, workOrderID int64) error
	ResolveDefect(ctx context.Context, defectID int64, at time.Time) error
	SetStatus(ctx context.Context, id int64, status Status) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn in a transaction, joining one already bound to ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const reportColumns = `id, org_id, asset_id, driver_name, inspection_type, odometer::float8, status, submitted_at`

func scanReport(row pgx.Row) (Report, error) {
	var r Report
	err := row.Scan(&r.ID, &r.OrgID, &r.AssetID, &r.DriverName, &r.InspectionType, &r.Odometer, &r.Status, &r.SubmittedAt)
	return r, err
}

const defectColumns = `id, dvir_id, component, description, severity, work_order_id, resolved, resolved_at`

func scanDefect(row pgx.Row) (Defect, error) {
	var d Defect
	err := row.Scan(&d.ID, &d.DVIRID, &d.Component, &d.Description, &d.Severity, &d.WorkOrderID, &d.Resolved, &d.ResolvedAt)
	return d, err
}

func loadReport(ctx context.Context, q db.Querier, query string, orgID, id int64) (Report, error) {
	report, err := scanReport(q.QueryRow(ctx, query, orgID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, ErrNotFound
		}
		return Report{}, err
	}
	rows, err := q.Query(ctx, `SELECT `+defectColumns+` FROM dvir_defects WHERE dvir_id=$1 ORDER BY id`, id)
	if err != nil {
		return Report{}, err
	}
	defer rows.Close()
	report.Defects = []Defect{}
	for rows.Next() {
		d, err := scanDefect(rows)
		if err != nil {
			return Report{}, err
		}
		report.Defects = append(report.Defects, d)
	}
	return report, rows.Err()
}

// Get loads a report with its defects.
func (r *Repository) Get(ctx context.Context, orgID, id int64) (Report, error) {
	return loadReport(ctx, db.Conn(ctx, r.pool),
		`SELECT `+reportColumns+` FROM dvirs WHERE org_id=$1 AND id=$2`, orgID, id)
}

// List returns reports, newest first, and the unpaged total.
func (r *Repository) List(ctx context.Context, orgID int64, filters ListFilters) ([]Report, int, error) {
	where := []string{"org_id=$1"}
	args := []any{orgID}
	if filters.AssetID > 0 {
		args = append(args, filters.AssetID)
		where = append(where, "asset_id=$"+strconv.Itoa(len(args)))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where = append(where, "status=$"+strconv.Itoa(len(args)))
	}
	clause := strings.Join(where, " AND ")
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM dvirs WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + reportColumns + ` FROM dvirs WHERE ` + clause + ` ORDER BY submitted_at DESC, id DESC`
	if filters.Limit > 0 {
		args = append(args, filters.Limit, filters.Offset)
		query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Report, error) {
		return scanReport(row)
	})
	return out, total, err
}

func (t *txRepo) Create(ctx context.Context, report Report) (Report, error) {
	return scanReport(t.tx.QueryRow(ctx, `INSERT INTO dvirs
(org_id, asset_id, driver_name, inspection_type, odometer, status, submitted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+reportColumns,
		report.OrgID, report.AssetID, report.DriverName, report.InspectionType, report.Odometer, report.Status, report.SubmittedAt))
}

func (t *txRepo) InsertDefect(ctx context.Context, d Defect) (Defect, error) {
	return scanDefect(t.tx.QueryRow(ctx, `INSERT INTO dvir_defects (dvir_id, component, description, severity)
VALUES ($1,$2,$3,$4) RETURNING `+defectColumns, d.DVIRID, d.Component, d.Description, d.Severity))
}

func (t *txRepo) Lock(ctx context.Context, orgID, id int64) (Report, error) {
	return loadReport(ctx, t.tx, `SELECT `+reportColumns+` FROM dvirs WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id)
}

func (t *txRepo) LinkWorkOrder(ctx context.Context, defectID, workOrderID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE dvir_defects SET work_order_id=$1 WHERE id=$2`, workOrderID, defectID)
	return err
}

func (t *txRepo) ResolveDefect(ctx context.Context, defectID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE dvir_defects SET resolved=TRUE, resolved_at=$1 WHERE id=$2`, at, defectID)
	return err
}

func (t *txRepo) SetStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE dvirs SET status=$1 WHERE id=$2`, status, id)
	return err
}
