package stockrequests

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/platform/db"
)

const lineColumns = `i.id, i.stock_request_id, i.item_id, i.uom_id, i.requested_qty, i.received_qty,
       r.code, r.status, r.requesting_warehouse_id, r.fulfilling_warehouse_id, r.priority, r.required_date`

// Repository provides PostgreSQL backed persistence for stock requests.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListEligibleLines returns items of requests whose requesting warehouse
// belongs to businessUnitID and whose status is one of statuses.
func (r *Repository) ListEligibleLines(ctx context.Context, businessUnitID int64, statuses []Status) ([]Line, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+`
FROM stock_request_items i
JOIN stock_requests r ON r.id = i.stock_request_id
JOIN warehouses w ON w.id = r.requesting_warehouse_id
WHERE w.business_unit_id = $1 AND r.status = ANY($2)
ORDER BY r.priority DESC, r.required_date NULLS LAST, r.id, i.id`, businessUnitID, names)
	if err != nil {
		return nil, err
	}
	return collectLines(rows)
}

// GetRequest loads a stock request with its items.
func (r *Repository) GetRequest(ctx context.Context, id int64) (StockRequest, error) {
	return getRequest(ctx, r.pool, id, false)
}

// TxRepository is the transactional surface shared with the delivery engine.
type TxRepository interface {
	LockLines(ctx context.Context, itemIDs []int64) ([]Line, error)
	IncrementReceived(ctx context.Context, itemID int64, qty decimal.Decimal) error
	GetRequestForUpdate(ctx context.Context, id int64) (StockRequest, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

// WithTx runs fn inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// TxStore exposes stock request writes scoped to a caller-owned transaction
// so they commit or roll back together with the caller's other writes.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore wraps a transaction.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// LockLines locks the given items and their parent requests and returns them.
// Unknown ids are absent from the result.
func (s *TxStore) LockLines(ctx context.Context, itemIDs []int64) ([]Line, error) {
	rows, err := s.tx.Query(ctx, `SELECT `+lineColumns+`
FROM stock_request_items i
JOIN stock_requests r ON r.id = i.stock_request_id
WHERE i.id = ANY($1)
ORDER BY i.id
FOR UPDATE OF i, r`, itemIDs)
	if err != nil {
		return nil, err
	}
	return collectLines(rows)
}

var _ TxRepository = (*TxStore)(nil)

// IncrementReceived adds qty to an item's received quantity, refusing to
// exceed the requested quantity.
func (s *TxStore) IncrementReceived(ctx context.Context, itemID int64, qty decimal.Decimal) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_request_items
SET received_qty = received_qty + $2, updated_at = NOW()
WHERE id = $1 AND received_qty + $2 <= requested_qty`, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM stock_request_items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("item %d: %w", itemID, ErrItemNotFound)
	}
	return fmt.Errorf("item %d: %w", itemID, ErrOverReceipt)
}

// GetRequestForUpdate loads and locks a request with its items.
func (s *TxStore) GetRequestForUpdate(ctx context.Context, id int64) (StockRequest, error) {
	return getRequest(ctx, s.tx, id, true)
}

// UpdateStatus sets the request status.
func (s *TxStore) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := s.tx.Exec(ctx, `UPDATE stock_requests SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getRequest(ctx context.Context, q querier, id int64, lock bool) (StockRequest, error) {
	query := `SELECT id, code, requesting_warehouse_id, fulfilling_warehouse_id, status, priority, request_date, required_date
FROM stock_requests WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var sr StockRequest
	var status string
	err := q.QueryRow(ctx, query, id).Scan(&sr.ID, &sr.Code, &sr.RequestingWarehouseID, &sr.FulfillingWarehouseID,
		&status, &sr.Priority, &sr.RequestDate, &sr.RequiredDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRequest{}, ErrRequestNotFound
		}
		return StockRequest{}, err
	}
	sr.Status = Status(status)

	rows, err := q.Query(ctx, `SELECT id, stock_request_id, item_id, uom_id, requested_qty, received_qty
FROM stock_request_items WHERE stock_request_id = $1 ORDER BY id`, id)
	if err != nil {
		return StockRequest{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.StockRequestID, &it.ItemID, &it.UOMID, &it.RequestedQty, &it.ReceivedQty); err != nil {
			return StockRequest{}, err
		}
		sr.Items = append(sr.Items, it)
	}
	return sr, rows.Err()
}

func collectLines(rows pgx.Rows) ([]Line, error) {
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		var status string
		if err := rows.Scan(&l.ID, &l.StockRequestID, &l.ItemID, &l.UOMID, &l.RequestedQty, &l.ReceivedQty,
			&l.RequestCode, &status, &l.RequestingWarehouseID, &l.FulfillingWarehouseID, &l.Priority, &l.RequiredDate); err != nil {
			return nil, err
		}
		l.RequestStatus = Status(status)
		out = append(out, l)
	}
	return out, rows.Err()
}
