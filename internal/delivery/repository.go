package delivery

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/platform/db"
	"github.com/odyssey-erp/fulfillment/internal/stockrequests"
)

// Repository is the read side plus the transaction entry point.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDeliveryNote(ctx context.Context, id int64) (DeliveryNote, error)
	ListDeliveryNotes(ctx context.Context, filters ListFilters) ([]DeliveryNote, int, error)
	GetPickList(ctx context.Context, id int64) (PickList, error)
	ListPickLists(ctx context.Context, deliveryNoteID int64) ([]PickList, error)
}

// TxRepository exposes transactional operations. Every write of one
// transition goes through the same TxRepository so it commits atomically.
type TxRepository interface {
	NextDeliveryNoteNumber(ctx context.Context, at time.Time) (string, error)
	NextPickListNumber(ctx context.Context, at time.Time) (string, error)

	LockStockRequestLines(ctx context.Context, itemIDs []int64) ([]stockrequests.Line, error)
	IncrementStockRequestReceived(ctx context.Context, itemID int64, qty decimal.Decimal) error

	InsertDeliveryNote(ctx context.Context, dn DeliveryNote) (int64, error)
	InsertItems(ctx context.Context, deliveryNoteID int64, items []Item) error
	GetDeliveryNoteForUpdate(ctx context.Context, id int64) (DeliveryNote, error)
	UpdateStatus(ctx context.Context, id int64, change StatusChange) error
	UpdateItems(ctx context.Context, items []Item) error

	ActivePickListForUpdate(ctx context.Context, deliveryNoteID int64) (*PickList, error)
	GetPickListForUpdate(ctx context.Context, id int64) (PickList, error)
	InsertPickList(ctx context.Context, pl PickList) (int64, error)
	UpdatePickListStatus(ctx context.Context, id int64, change PickListChange) error
}

// StatusChange describes one guarded status update and the stamps it writes.
type StatusChange struct {
	Action          Action
	From            Status
	To              Status
	At              time.Time
	By              int64
	DriverName      *string
	VehicleNumber   *string
	DriverSignature *string
	Notes           *string
	Reason          *string
}

// PickListChange describes one guarded pick list status update.
type PickListChange struct {
	From   PickListStatus
	To     PickListStatus
	At     time.Time
	Reason *string
}

// PostgresRepository provides PostgreSQL backed persistence for delivery notes.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// WithTx wraps callback in a read-committed transaction. Transitions lock the
// delivery note row with SELECT ... FOR UPDATE before reading it, so a
// concurrent transition waits and then observes the committed status.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, newTxRepo(tx))
	})
}

const noteColumns = `id, number, requesting_warehouse_id, fulfilling_warehouse_id, status, notes,
       driver_name, vehicle_number, driver_signature, dispatch_notes, receive_notes, void_reason,
       created_by, confirmed_by, confirmed_at, picking_started_by, picking_started_at,
       picking_completed_by, picking_completed_at, dispatched_by, dispatched_at,
       received_by, received_at, voided_by, voided_at, created_at, updated_at`

const itemColumns = `id, delivery_note_id, line_no, stock_request_id, stock_request_item_id, item_id, uom_id,
       allocated_qty, picked_qty, pick_recorded, short_qty, dispatched_qty, received_qty`

const pickListColumns = `id, delivery_note_id, number, status, picker_ids, instructions, cancel_reason,
       created_by, created_at, started_at, completed_at, cancelled_at, deleted_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func scanNote(row pgx.Row) (DeliveryNote, error) {
	var dn DeliveryNote
	var status string
	err := row.Scan(
		&dn.ID, &dn.Number, &dn.RequestingWarehouseID, &dn.FulfillingWarehouseID, &status, &dn.Notes,
		&dn.DriverName, &dn.VehicleNumber, &dn.DriverSignature, &dn.DispatchNotes, &dn.ReceiveNotes, &dn.VoidReason,
		&dn.CreatedBy, &dn.ConfirmedBy, &dn.ConfirmedAt, &dn.PickingStartedBy, &dn.PickingStartedAt,
		&dn.PickingCompletedBy, &dn.PickingCompletedAt, &dn.DispatchedBy, &dn.DispatchedAt,
		&dn.ReceivedBy, &dn.ReceivedAt, &dn.VoidedBy, &dn.VoidedAt, &dn.CreatedAt, &dn.UpdatedAt,
	)
	dn.Status = Status(status)
	return dn, err
}

func scanPickList(row pgx.Row) (PickList, error) {
	var pl PickList
	var status string
	err := row.Scan(&pl.ID, &pl.DeliveryNoteID, &pl.Number, &status, &pl.PickerIDs, &pl.Instructions, &pl.CancelReason,
		&pl.CreatedBy, &pl.CreatedAt, &pl.StartedAt, &pl.CompletedAt, &pl.CancelledAt, &pl.DeletedAt)
	pl.Status = PickListStatus(status)
	return pl, err
}

func loadItems(ctx context.Context, q querier, deliveryNoteID int64, lock bool) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM delivery_note_items WHERE delivery_note_id = $1 ORDER BY line_no, id`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, deliveryNoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.DeliveryNoteID, &it.LineNo, &it.StockRequestID, &it.StockRequestItemID,
			&it.ItemID, &it.UOMID, &it.AllocatedQty, &it.PickedQty, &it.PickRecorded, &it.ShortQty,
			&it.DispatchedQty, &it.ReceivedQty); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func getNote(ctx context.Context, q querier, id int64, lock bool) (DeliveryNote, error) {
	query := `SELECT ` + noteColumns + ` FROM delivery_notes WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	dn, err := scanNote(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DeliveryNote{}, noteNotFound(id)
		}
		return DeliveryNote{}, err
	}
	dn.Items, err = loadItems(ctx, q, id, lock)
	if err != nil {
		return DeliveryNote{}, err
	}
	return dn, nil
}

// GetDeliveryNote retrieves a delivery note with its items.
func (r *PostgresRepository) GetDeliveryNote(ctx context.Context, id int64) (DeliveryNote, error) {
	return getNote(ctx, r.pool, id, false)
}

// ListDeliveryNotes lists delivery note headers newest first.
func (r *PostgresRepository) ListDeliveryNotes(ctx context.Context, filters ListFilters) ([]DeliveryNote, int, error) {
	where := []string{"1=1"}
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, strings.Replace(clause, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if filters.Status != nil {
		add("status = ?", string(*filters.Status))
	}
	if filters.RequestingWarehouseID != nil {
		add("requesting_warehouse_id = ?", *filters.RequestingWarehouseID)
	}
	if filters.FulfillingWarehouseID != nil {
		add("fulfilling_warehouse_id = ?", *filters.FulfillingWarehouseID)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_notes WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit, offset := filters.PerPage, (filters.Page-1)*filters.PerPage
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)
	query := `SELECT ` + noteColumns + ` FROM delivery_notes WHERE ` + cond +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var notes []DeliveryNote
	for rows.Next() {
		dn, err := scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		notes = append(notes, dn)
	}
	return notes, total, rows.Err()
}

// GetPickList retrieves one pick list.
func (r *PostgresRepository) GetPickList(ctx context.Context, id int64) (PickList, error) {
	pl, err := scanPickList(r.pool.QueryRow(ctx, `SELECT `+pickListColumns+` FROM pick_lists WHERE id = $1 AND deleted_at IS NULL`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PickList{}, pickListNotFound(id)
		}
		return PickList{}, err
	}
	return pl, nil
}

// ListPickLists returns the non-deleted pick lists of a note, newest first.
func (r *PostgresRepository) ListPickLists(ctx context.Context, deliveryNoteID int64) ([]PickList, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+pickListColumns+` FROM pick_lists
WHERE delivery_note_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC, id DESC`, deliveryNoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lists []PickList
	for rows.Next() {
		pl, err := scanPickList(rows)
		if err != nil {
			return nil, err
		}
		lists = append(lists, pl)
	}
	return lists, rows.Err()
}

var _ Repository = (*PostgresRepository)(nil)
