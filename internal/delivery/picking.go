package delivery

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/shared"
)

// pickListOp runs fn with the pick list's delivery note and the pick list
// locked, in that order. The pick list must be the note's active one.
func (s *Service) pickListOp(ctx context.Context, op string, pickListID int64, actor shared.Actor,
	fn func(ctx context.Context, tx TxRepository, dn DeliveryNote, pl PickList) (Status, error),
) (DeliveryNote, error) {
	ref, err := s.repo.GetPickList(ctx, pickListID)
	if err != nil {
		return DeliveryNote{}, s.fail(ctx, op, 0, err)
	}

	var before DeliveryNote
	var next Status
	var number string
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		dn, err := tx.GetDeliveryNoteForUpdate(ctx, ref.DeliveryNoteID)
		if err != nil {
			return err
		}
		before = dn
		pl, err := tx.GetPickListForUpdate(ctx, pickListID)
		if err != nil {
			return err
		}
		number = pl.Number
		active, err := tx.ActivePickListForUpdate(ctx, dn.ID)
		if err != nil {
			return fmt.Errorf("resolve active pick list: %w", err)
		}
		if active == nil || active.ID != pl.ID {
			return invalidPickListState(pl, op+" (pick list is not active)")
		}
		next, err = fn(ctx, tx, dn, pl)
		return err
	})
	if err != nil {
		return DeliveryNote{}, s.fail(ctx, op, ref.DeliveryNoteID, err)
	}
	s.committed(ctx, before, before.Status, next, op, actor, map[string]any{"pick_list_number": number})
	return s.GetDeliveryNote(ctx, before.ID)
}

// StartPickList moves a queued pick list to in progress and the note to picking_in_progress.
func (s *Service) StartPickList(ctx context.Context, pickListID int64, actor shared.Actor) (DeliveryNote, error) {
	return s.pickListOp(ctx, "start_picking", pickListID, actor, func(ctx context.Context, tx TxRepository, dn DeliveryNote, pl PickList) (Status, error) {
		if pl.Status != PickListQueued {
			return "", invalidPickListState(pl, "start")
		}
		next, ok := dn.Status.Next(ActionStartPicking)
		if !ok {
			return "", invalidNoteState(dn, ActionStartPicking)
		}
		now := s.now()
		if err := tx.UpdatePickListStatus(ctx, pl.ID, PickListChange{From: pl.Status, To: PickListInProgress, At: now}); err != nil {
			return "", fmt.Errorf("start pick list: %w", err)
		}
		return next, s.updateStatus(ctx, tx, dn, StatusChange{Action: ActionStartPicking, To: next, At: now, By: actor.UserID})
	})
}

// RecordPicks stores interim picked quantities. A queued pick list is started
// implicitly. Quantities are not frozen until the pick list completes.
func (s *Service) RecordPicks(ctx context.Context, pickListID int64, input PickInput, actor shared.Actor) (DeliveryNote, error) {
	return s.pickListOp(ctx, "record_picks", pickListID, actor, func(ctx context.Context, tx TxRepository, dn DeliveryNote, pl PickList) (Status, error) {
		if pl.Status != PickListQueued && pl.Status != PickListInProgress {
			return "", invalidPickListState(pl, "record picks")
		}
		next, ok := dn.Status.Next(ActionRecordPicks)
		if !ok {
			return "", invalidNoteState(dn, ActionRecordPicks)
		}
		if len(input.Lines) == 0 {
			return "", shared.Validation("lines", "at least one picked quantity is required")
		}
		explicit, err := explicitQuantities(dn.Items, input.Lines)
		if err != nil {
			return "", err
		}
		var changed []Item
		for _, it := range dn.Items {
			qty, ok := explicit[it.ID]
			if !ok {
				continue
			}
			if err := checkPicked(it, qty); err != nil {
				return "", err
			}
			it.PickedQty = qty
			it.PickRecorded = true
			changed = append(changed, it)
		}
		if err := tx.UpdateItems(ctx, changed); err != nil {
			return "", fmt.Errorf("update picked quantities: %w", err)
		}
		now := s.now()
		if pl.Status == PickListQueued {
			if err := tx.UpdatePickListStatus(ctx, pl.ID, PickListChange{From: pl.Status, To: PickListInProgress, At: now}); err != nil {
				return "", fmt.Errorf("start pick list: %w", err)
			}
		}
		if dn.Status == next {
			return next, nil
		}
		return next, s.updateStatus(ctx, tx, dn, StatusChange{Action: ActionRecordPicks, To: next, At: now, By: actor.UserID})
	})
}

// CompletePickList freezes picked and short quantities on every line, completes
// the pick list and moves the note to dispatch_ready in one transaction. Lines
// without an explicit quantity take their recorded pick, or the allocated
// quantity when nothing was recorded.
func (s *Service) CompletePickList(ctx context.Context, pickListID int64, input PickInput, actor shared.Actor) (DeliveryNote, error) {
	return s.pickListOp(ctx, "complete_picking", pickListID, actor, func(ctx context.Context, tx TxRepository, dn DeliveryNote, pl PickList) (Status, error) {
		if pl.Status != PickListQueued && pl.Status != PickListInProgress {
			return "", invalidPickListState(pl, "complete")
		}
		next, ok := dn.Status.Next(ActionCompletePicking)
		if !ok {
			return "", invalidNoteState(dn, ActionCompletePicking)
		}
		explicit, err := explicitQuantities(dn.Items, input.Lines)
		if err != nil {
			return "", err
		}
		items := make([]Item, len(dn.Items))
		for i, it := range dn.Items {
			qty, ok := explicit[it.ID]
			switch {
			case ok:
			case it.PickRecorded:
				qty = it.PickedQty
			default:
				qty = it.AllocatedQty
			}
			if err := checkPicked(it, qty); err != nil {
				return "", err
			}
			it.PickedQty = qty
			it.PickRecorded = true
			it.ShortQty = it.AllocatedQty.Sub(qty)
			items[i] = it
		}
		if err := tx.UpdateItems(ctx, items); err != nil {
			return "", fmt.Errorf("freeze picked quantities: %w", err)
		}
		now := s.now()
		if err := tx.UpdatePickListStatus(ctx, pl.ID, PickListChange{From: pl.Status, To: PickListCompleted, At: now}); err != nil {
			return "", fmt.Errorf("complete pick list: %w", err)
		}
		return next, s.updateStatus(ctx, tx, dn, StatusChange{Action: ActionCompletePicking, To: next, At: now, By: actor.UserID})
	})
}

// CancelPickList cancels a queued pick list and returns the note to confirmed
// so another pick list can be queued.
func (s *Service) CancelPickList(ctx context.Context, pickListID int64, input ReasonInput, actor shared.Actor) (DeliveryNote, error) {
	return s.pickListOp(ctx, "cancel_picking", pickListID, actor, func(ctx context.Context, tx TxRepository, dn DeliveryNote, pl PickList) (Status, error) {
		if pl.Status != PickListQueued {
			return "", invalidPickListState(pl, "cancel")
		}
		next, ok := dn.Status.Next(ActionCancelPicking)
		if !ok {
			return "", invalidNoteState(dn, ActionCancelPicking)
		}
		now := s.now()
		if err := tx.UpdatePickListStatus(ctx, pl.ID, PickListChange{From: pl.Status, To: PickListCancelled, At: now, Reason: input.Reason}); err != nil {
			return "", fmt.Errorf("cancel pick list: %w", err)
		}
		return next, s.updateStatus(ctx, tx, dn, StatusChange{Action: ActionCancelPicking, To: next, At: now, By: actor.UserID})
	})
}

// ListPickLists returns every pick list of a note, newest first, flagging the active one.
func (s *Service) ListPickLists(ctx context.Context, deliveryNoteID int64) ([]PickList, error) {
	if _, err := s.repo.GetDeliveryNote(ctx, deliveryNoteID); err != nil {
		return nil, fmt.Errorf("get delivery note: %w", err)
	}
	lists, err := s.repo.ListPickLists(ctx, deliveryNoteID)
	if err != nil {
		return nil, fmt.Errorf("list pick lists: %w", err)
	}
	SortPickLists(lists)
	active := ActivePickList(lists)
	ptrs := make([]*PickList, len(lists))
	for i := range lists {
		lists[i].Active = active != nil && lists[i].ID == active.ID
		ptrs[i] = &lists[i]
	}
	s.attachPickerNames(ctx, ptrs)
	return lists, nil
}

func checkPicked(it Item, qty decimal.Decimal) error {
	field := fmt.Sprintf("lines[item_id=%d].qty", it.ID)
	if qty.IsNegative() {
		return shared.Validation(field, "picked quantity %s must not be negative", qty)
	}
	if qty.GreaterThan(it.AllocatedQty) {
		return shared.Validation(field, "picked %s exceeds allocated %s on line %d", qty, it.AllocatedQty, it.LineNo)
	}
	return nil
}
