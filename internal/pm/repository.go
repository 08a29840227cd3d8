package pm

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

// WithTx runs fn inside a transaction, joining one already bound to ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context, _ pgx.Tx) error {
		return fn(ctx)
	})
}

const scheduleColumns = `id, org_id, asset_id, title, vmrs_code, interval_days, interval_meter::float8,
last_service_at, last_service_meter::float8, last_work_order_id, active, created_at, updated_at`

func scanSchedule(row pgx.Row) (Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.OrgID, &s.AssetID, &s.Title, &s.VMRSCode, &s.IntervalDays, &s.IntervalMeter,
		&s.LastServiceAt, &s.LastServiceMeter, &s.LastWorkOrderID, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// Create inserts a schedule.
func (r *Repository) Create(ctx context.Context, s Schedule) (Schedule, error) {
	return scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO pm_schedules
(org_id, asset_id, title, vmrs_code, interval_days, interval_meter, last_service_meter, active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+scheduleColumns,
		s.OrgID, s.AssetID, s.Title, s.VMRSCode, s.IntervalDays, s.IntervalMeter, s.LastServiceMeter, s.Active))
}

// Get fetches a schedule.
func (r *Repository) Get(ctx context.Context, orgID, id int64) (Schedule, error) {
	s, err := scanSchedule(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM pm_schedules WHERE org_id=$1 AND id=$2`, orgID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Schedule{}, ErrNotFound
	}
	return s, err
}

// List returns schedules and the unpaged total.
func (r *Repository) List(ctx context.Context, orgID int64, filters ListFilters) ([]Schedule, int, error) {
	where := []string{"org_id=$1"}
	args := []any{orgID}
	if filters.AssetID > 0 {
		args = append(args, filters.AssetID)
		where = append(where, "asset_id=$"+strconv.Itoa(len(args)))
	}
	if filters.ActiveOnly {
		where = append(where, "active")
	}
	clause := strings.Join(where, " AND ")
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM pm_schedules WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + scheduleColumns + ` FROM pm_schedules WHERE ` + clause + ` ORDER BY id`
	if filters.Limit > 0 {
		args = append(args, filters.Limit, filters.Offset)
		query += " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args))
	}
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// SetActive toggles a schedule.
func (r *Repository) SetActive(ctx context.Context, orgID, id int64, active bool) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE pm_schedules SET active=$1, updated_at=NOW() WHERE org_id=$2 AND id=$3`, active, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLastWorkOrder links the most recent generated work order.
func (r *Repository) SetLastWorkOrder(ctx context.Context, id, workOrderID int64) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE pm_schedules SET last_work_order_id=$1, updated_at=NOW() WHERE id=$2`, workOrderID, id)
	return err
}

// MarkServiced stores the new service baseline.
func (r *Repository) MarkServiced(ctx context.Context, orgID, id int64, at time.Time, meter float64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE pm_schedules SET last_service_at=$1, last_service_meter=$2,
updated_at=NOW() WHERE org_id=$3 AND id=$4`, at, meter, orgID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// OrgsWithActiveSchedules lists organizations owning at least one active schedule.
func (r *Repository) OrgsWithActiveSchedules(ctx context.Context) ([]int64, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT DISTINCT org_id FROM pm_schedules WHERE active ORDER BY org_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
