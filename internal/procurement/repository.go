package procurement

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
	LockRequisition(ctx context.Context, orgID, id int64) (Requisition, error)
	CreateRequisition(ctx context.Context, req Requisition) (Requisition, error)
	InsertRequisitionLine(ctx context.Context, line RequisitionLine) (RequisitionLine, error)
	DeleteRequisitionLine(ctx context.Context, requisitionID, lineID int64) error
	ListRequisitionLines(ctx context.Context, requisitionID int64) ([]RequisitionLine, error)
	SetRequisitionTotal(ctx context.Context, requisitionID int64, total float64) error
	UpdateRequisitionStatus(ctx context.Context, req Requisition) error
	// MarkRequisitionConverted flips an approved requisition to converted.
	// It reports false when the requisition was no longer approved.
	MarkRequisitionConverted(ctx context.Context, orgID, id int64) (bool, error)
	CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	InsertPOLine(ctx context.Context, line POLine) (POLine, error)
	LockPurchaseOrder(ctx context.Context, orgID, id int64) (PurchaseOrder, []POLine, error)
	UpdatePurchaseOrderStatus(ctx context.Context, po PurchaseOrder) error
	SetPOLineReceived(ctx context.Context, lineID int64, received float64) error
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

const requisitionColumns = `id, org_id, number, status, vendor_id, total_amount::float8, notes, submitted_at,
approved_at, rejected_at, rejection_reason, created_at, updated_at`

func scanRequisition(row pgx.Row) (Requisition, error) {
	var r Requisition
	err := row.Scan(&r.ID, &r.OrgID, &r.Number, &r.Status, &r.VendorID, &r.TotalAmount, &r.Notes, &r.SubmittedAt,
		&r.ApprovedAt, &r.RejectedAt, &r.RejectionReason, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

const requisitionLineColumns = `id, requisition_id, part_id, description, quantity::float8, unit_cost::float8, total_cost::float8`

func scanRequisitionLine(row pgx.Row) (RequisitionLine, error) {
	var l RequisitionLine
	err := row.Scan(&l.ID, &l.RequisitionID, &l.PartID, &l.Description, &l.Quantity, &l.UnitCost, &l.TotalCost)
	return l, err
}

const purchaseOrderColumns = `id, org_id, number, status, vendor_id, requisition_id, total_amount::float8,
ordered_at, received_date, created_at, updated_at`

func scanPurchaseOrder(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.OrgID, &po.Number, &po.Status, &po.VendorID, &po.RequisitionID, &po.TotalAmount,
		&po.OrderedAt, &po.ReceivedDate, &po.CreatedAt, &po.UpdatedAt)
	return po, err
}

const poLineColumns = `id, purchase_order_id, part_id, description, quantity::float8, quantity_received::float8,
unit_cost::float8, total_cost::float8`

func scanPOLine(row pgx.Row) (POLine, error) {
	var l POLine
	err := row.Scan(&l.ID, &l.PurchaseOrderID, &l.PartID, &l.Description, &l.Quantity, &l.QuantityReceived,
		&l.UnitCost, &l.TotalCost)
	return l, err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func requisitionLines(ctx context.Context, q db.Querier, requisitionID int64) ([]RequisitionLine, error) {
	rows, err := q.Query(ctx, `SELECT `+requisitionLineColumns+` FROM requisition_lines WHERE requisition_id=$1 ORDER BY id`, requisitionID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanRequisitionLine)
}

func purchaseOrderLines(ctx context.Context, q db.Querier, poID int64) ([]POLine, error) {
	rows, err := q.Query(ctx, `SELECT `+poLineColumns+` FROM purchase_order_lines WHERE purchase_order_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanPOLine)
}

// GetRequisition loads a requisition and its lines.
func (r *Repository) GetRequisition(ctx context.Context, orgID, id int64) (Requisition, []RequisitionLine, error) {
	conn := db.Conn(ctx, r.pool)
	req, err := scanRequisition(conn.QueryRow(ctx, `SELECT `+requisitionColumns+` FROM purchase_requisitions WHERE org_id=$1 AND id=$2`, orgID, id))
	if err != nil {
		return Requisition{}, nil, notFound(err)
	}
	lines, err := requisitionLines(ctx, conn, id)
	if err != nil {
		return Requisition{}, nil, err
	}
	return req, lines, nil
}

func listWhere(orgID int64, filters ListFilters) (string, []any) {
	where := []string{"org_id=$1"}
	args := []any{orgID}
	if filters.Status != "" {
		args = append(args, filters.Status)
		where = append(where, "status=$"+strconv.Itoa(len(args)))
	}
	return strings.Join(where, " AND "), args
}

func pageClause(args []any, filters ListFilters) (string, []any) {
	if filters.Limit <= 0 {
		return "", args
	}
	args = append(args, filters.Limit, filters.Offset)
	return " LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args)), args
}

// ListRequisitions returns requisitions and the unpaged total. A zero limit returns every row.
func (r *Repository) ListRequisitions(ctx context.Context, orgID int64, filters ListFilters) ([]Requisition, int, error) {
	clause, args := listWhere(orgID, filters)
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_requisitions WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := pageClause(args, filters)
	rows, err := conn.Query(ctx, `SELECT `+requisitionColumns+` FROM purchase_requisitions WHERE `+clause+` ORDER BY id DESC`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collect(rows, scanRequisition)
	return out, total, err
}

// GetPurchaseOrder loads a purchase order and its lines.
func (r *Repository) GetPurchaseOrder(ctx context.Context, orgID, id int64) (PurchaseOrder, []POLine, error) {
	conn := db.Conn(ctx, r.pool)
	po, err := scanPurchaseOrder(conn.QueryRow(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE org_id=$1 AND id=$2`, orgID, id))
	if err != nil {
		return PurchaseOrder{}, nil, notFound(err)
	}
	lines, err := purchaseOrderLines(ctx, conn, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

// ListPurchaseOrders returns purchase orders and the unpaged total.
func (r *Repository) ListPurchaseOrders(ctx context.Context, orgID int64, filters ListFilters) ([]PurchaseOrder, int, error) {
	clause, args := listWhere(orgID, filters)
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	page, args := pageClause(args, filters)
	rows, err := conn.Query(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders WHERE `+clause+` ORDER BY id DESC`+page, args...)
	if err != nil {
		return nil, 0, err
	}
	out, err := collect(rows, scanPurchaseOrder)
	return out, total, err
}

func (t *txRepo) LockRequisition(ctx context.Context, orgID, id int64) (Requisition, error) {
	req, err := scanRequisition(t.tx.QueryRow(ctx, `SELECT `+requisitionColumns+` FROM purchase_requisitions
WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
	if err != nil {
		return Requisition{}, notFound(err)
	}
	return req, nil
}

func (t *txRepo) CreateRequisition(ctx context.Context, req Requisition) (Requisition, error) {
	return scanRequisition(t.tx.QueryRow(ctx, `INSERT INTO purchase_requisitions (org_id, number, status, vendor_id, total_amount, notes)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+requisitionColumns,
		req.OrgID, req.Number, req.Status, req.VendorID, req.TotalAmount, req.Notes))
}

func (t *txRepo) InsertRequisitionLine(ctx context.Context, line RequisitionLine) (RequisitionLine, error) {
	return scanRequisitionLine(t.tx.QueryRow(ctx, `INSERT INTO requisition_lines
(requisition_id, part_id, description, quantity, unit_cost, total_cost)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+requisitionLineColumns,
		line.RequisitionID, line.PartID, line.Description, line.Quantity, line.UnitCost, line.TotalCost))
}

func (t *txRepo) DeleteRequisitionLine(ctx context.Context, requisitionID, lineID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM requisition_lines WHERE requisition_id=$1 AND id=$2`, requisitionID, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (t *txRepo) ListRequisitionLines(ctx context.Context, requisitionID int64) ([]RequisitionLine, error) {
	return requisitionLines(ctx, t.tx, requisitionID)
}

func (t *txRepo) SetRequisitionTotal(ctx context.Context, requisitionID int64, total float64) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_requisitions SET total_amount=$1, updated_at=NOW() WHERE id=$2`, total, requisitionID)
	return err
}

func (t *txRepo) UpdateRequisitionStatus(ctx context.Context, req Requisition) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_requisitions SET status=$1, submitted_at=$2, approved_at=$3, rejected_at=$4,
rejection_reason=$5, updated_at=NOW() WHERE org_id=$6 AND id=$7`,
		req.Status, req.SubmittedAt, req.ApprovedAt, req.RejectedAt, req.RejectionReason, req.OrgID, req.ID)
	return err
}

func (t *txRepo) MarkRequisitionConverted(ctx context.Context, orgID, id int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_requisitions SET status='converted', updated_at=NOW()
WHERE org_id=$1 AND id=$2 AND status='approved'`, orgID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepo) CreatePurchaseOrder(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	created, err := scanPurchaseOrder(t.tx.QueryRow(ctx, `INSERT INTO purchase_orders
(org_id, number, status, vendor_id, requisition_id, total_amount)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING `+purchaseOrderColumns,
		po.OrgID, po.Number, po.Status, po.VendorID, po.RequisitionID, po.TotalAmount))
	if err != nil {
		if db.IsUniqueViolation(err) && po.RequisitionID != nil {
			return PurchaseOrder{}, ErrAlreadyConverted
		}
		return PurchaseOrder{}, err
	}
	return created, nil
}

func (t *txRepo) InsertPOLine(ctx context.Context, line POLine) (POLine, error) {
	return scanPOLine(t.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines
(purchase_order_id, part_id, description, quantity, quantity_received, unit_cost, total_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING `+poLineColumns,
		line.PurchaseOrderID, line.PartID, line.Description, line.Quantity, line.QuantityReceived, line.UnitCost, line.TotalCost))
}

func (t *txRepo) LockPurchaseOrder(ctx context.Context, orgID, id int64) (PurchaseOrder, []POLine, error) {
	po, err := scanPurchaseOrder(t.tx.QueryRow(ctx, `SELECT `+purchaseOrderColumns+` FROM purchase_orders
WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, id))
	if err != nil {
		return PurchaseOrder{}, nil, notFound(err)
	}
	lines, err := purchaseOrderLines(ctx, t.tx, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

func (t *txRepo) UpdatePurchaseOrderStatus(ctx context.Context, po PurchaseOrder) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET status=$1, ordered_at=$2, received_date=$3, updated_at=NOW()
WHERE org_id=$4 AND id=$5`, po.Status, po.OrderedAt, po.ReceivedDate, po.OrgID, po.ID)
	return err
}

func (t *txRepo) SetPOLineReceived(ctx context.Context, lineID int64, received float64) error {
	_, err := t.tx.Exec(ctx, `UPDATE purchase_order_lines SET quantity_received=$1 WHERE id=$2`, received, lineID)
	return err
}
