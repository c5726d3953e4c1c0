package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/stockrequests"
)

type txRepo struct {
	tx     pgx.Tx
	stocks *stockrequests.TxStore
}

func newTxRepo(tx pgx.Tx) *txRepo {
	return &txRepo{tx: tx, stocks: stockrequests.NewTxStore(tx)}
}

var _ TxRepository = (*txRepo)(nil)

func (r *txRepo) nextNumber(ctx context.Context, prefix, sequence string, at time.Time) (string, error) {
	var seq int64
	if err := r.tx.QueryRow(ctx, `SELECT nextval('`+sequence+`')`).Scan(&seq); err != nil {
		return "", fmt.Errorf("next %s number: %w", prefix, err)
	}
	return fmt.Sprintf("%s-%s-%06d", prefix, at.Format("20060102"), seq), nil
}

func (r *txRepo) NextDeliveryNoteNumber(ctx context.Context, at time.Time) (string, error) {
	return r.nextNumber(ctx, "DN", "delivery_note_number_seq", at)
}

func (r *txRepo) NextPickListNumber(ctx context.Context, at time.Time) (string, error) {
	return r.nextNumber(ctx, "PL", "pick_list_number_seq", at)
}

func (r *txRepo) LockStockRequestLines(ctx context.Context, itemIDs []int64) ([]stockrequests.Line, error) {
	return r.stocks.LockLines(ctx, itemIDs)
}

func (r *txRepo) IncrementStockRequestReceived(ctx context.Context, itemID int64, qty decimal.Decimal) error {
	return r.stocks.IncrementReceived(ctx, itemID, qty)
}

func (r *txRepo) InsertDeliveryNote(ctx context.Context, dn DeliveryNote) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO delivery_notes
    (number, requesting_warehouse_id, fulfilling_warehouse_id, status, notes, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
RETURNING id`, dn.Number, dn.RequestingWarehouseID, dn.FulfillingWarehouseID, string(dn.Status), dn.Notes,
		dn.CreatedBy, dn.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) InsertItems(ctx context.Context, deliveryNoteID int64, items []Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`INSERT INTO delivery_note_items
    (delivery_note_id, line_no, stock_request_id, stock_request_item_id, item_id, uom_id,
     allocated_qty, picked_qty, pick_recorded, short_qty, dispatched_qty, received_qty)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, FALSE, 0, 0, 0)`,
			deliveryNoteID, it.LineNo, it.StockRequestID, it.StockRequestItemID, it.ItemID, it.UOMID, it.AllocatedQty)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepo) GetDeliveryNoteForUpdate(ctx context.Context, id int64) (DeliveryNote, error) {
	return getNote(ctx, r.tx, id, true)
}

// stampColumns lists the per-action columns written alongside the status.
func stampColumns(change StatusChange) map[string]any {
	cols := map[string]any{}
	switch change.Action {
	case ActionConfirm:
		cols["confirmed_at"] = change.At
		cols["confirmed_by"] = change.By
	case ActionStartPicking, ActionRecordPicks:
		cols["picking_started_at = COALESCE(picking_started_at, ?)"] = change.At
		cols["picking_started_by = COALESCE(picking_started_by, ?)"] = change.By
	case ActionCompletePicking:
		cols["picking_started_at = COALESCE(picking_started_at, ?)"] = change.At
		cols["picking_started_by = COALESCE(picking_started_by, ?)"] = change.By
		cols["picking_completed_at"] = change.At
		cols["picking_completed_by"] = change.By
	case ActionDispatch:
		cols["dispatched_at"] = change.At
		cols["dispatched_by"] = change.By
		cols["driver_name"] = change.DriverName
		cols["vehicle_number"] = change.VehicleNumber
		cols["driver_signature"] = change.DriverSignature
		cols["dispatch_notes"] = change.Notes
	case ActionReceive:
		cols["received_at"] = change.At
		cols["received_by"] = change.By
		cols["receive_notes"] = change.Notes
	case ActionVoid:
		cols["voided_at"] = change.At
		cols["voided_by"] = change.By
		cols["void_reason"] = change.Reason
	}
	return cols
}

func (r *txRepo) UpdateStatus(ctx context.Context, id int64, change StatusChange) error {
	args := []any{id, string(change.From), string(change.To), change.At}
	sets := []string{"status = $3", "updated_at = $4"}
	for col, value := range stampColumns(change) {
		args = append(args, value)
		placeholder := "$" + strconv.Itoa(len(args))
		if strings.Contains(col, "?") {
			sets = append(sets, strings.Replace(col, "?", placeholder, 1))
		} else {
			sets = append(sets, col+" = "+placeholder)
		}
	}
	tag, err := r.tx.Exec(ctx, `UPDATE delivery_notes SET `+strings.Join(sets, ", ")+`
WHERE id = $1 AND status = $2`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}

func (r *txRepo) UpdateItems(ctx context.Context, items []Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`UPDATE delivery_note_items
SET picked_qty = $2, pick_recorded = $3, short_qty = $4, dispatched_qty = $5, received_qty = $6
WHERE id = $1`, it.ID, it.PickedQty, it.PickRecorded, it.ShortQty, it.DispatchedQty, it.ReceivedQty)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

// ActivePickListForUpdate resolves the active pick list: the latest
// non-deleted list by creation time, unless it is cancelled.
func (r *txRepo) ActivePickListForUpdate(ctx context.Context, deliveryNoteID int64) (*PickList, error) {
	pl, err := scanPickList(r.tx.QueryRow(ctx, `SELECT `+pickListColumns+` FROM pick_lists
WHERE delivery_note_id = $1 AND deleted_at IS NULL
ORDER BY created_at DESC, id DESC
LIMIT 1
FOR UPDATE`, deliveryNoteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if pl.Status == PickListCancelled {
		return nil, nil
	}
	return &pl, nil
}

func (r *txRepo) GetPickListForUpdate(ctx context.Context, id int64) (PickList, error) {
	pl, err := scanPickList(r.tx.QueryRow(ctx, `SELECT `+pickListColumns+` FROM pick_lists
WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PickList{}, pickListNotFound(id)
		}
		return PickList{}, err
	}
	return pl, nil
}

func (r *txRepo) InsertPickList(ctx context.Context, pl PickList) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO pick_lists
    (delivery_note_id, number, status, picker_ids, instructions, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, pl.DeliveryNoteID, pl.Number, string(pl.Status), pl.PickerIDs, pl.Instructions,
		pl.CreatedBy, pl.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepo) UpdatePickListStatus(ctx context.Context, id int64, change PickListChange) error {
	var stamp string
	switch change.To {
	case PickListInProgress:
		stamp = "started_at = $4"
	case PickListCompleted:
		stamp = "completed_at = $4, started_at = COALESCE(started_at, $4)"
	case PickListCancelled:
		stamp = "cancelled_at = $4, cancel_reason = $5"
	default:
		return fmt.Errorf("unsupported pick list status %s", change.To)
	}
	args := []any{id, string(change.From), string(change.To), change.At}
	if change.To == PickListCancelled {
		args = append(args, change.Reason)
	}
	tag, err := r.tx.Exec(ctx, `UPDATE pick_lists SET status = $3, `+stamp+`
WHERE id = $1 AND status = $2`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusChanged
	}
	return nil
}
