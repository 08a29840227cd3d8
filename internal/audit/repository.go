package audit

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository reads audit_logs from Postgres.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const windowSQL = `SELECT occurred_at, actor_id, action, entity, entity_id, meta
FROM audit_logs
WHERE org_id = $1
  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
  AND ($3::timestamptz IS NULL OR occurred_at < $3)
  AND ($4::bigint IS NULL OR actor_id = $4)
  AND ($5::text IS NULL OR entity = $5)
  AND ($6::text IS NULL OR entity_id = $6)
  AND ($7::text IS NULL OR action = $7)
ORDER BY occurred_at DESC, id DESC
LIMIT $8 OFFSET $9`

// Window runs the filtered timeline query.
func (r *PgRepository) Window(ctx context.Context, p WindowParams) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, windowSQL, p.OrgID, p.FromAt, p.ToAt, p.ActorID, p.Entity, p.EntityID, p.Action, p.Limit, p.Offset)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (TimelineRow, error) {
		var out TimelineRow
		err := row.Scan(&out.At, &out.ActorID, &out.Action, &out.Entity, &out.EntityID, &out.Meta)
		return out, err
	})
}
