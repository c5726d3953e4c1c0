package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/stockrequests"
)

// Quantities cascade downward: dispatched defaults to picked and received
// defaults to dispatched. Only explicit reductions create a shortfall.

// DispatchDeliveryNote records the shipment of a dispatch_ready note.
func (s *Service) DispatchDeliveryNote(ctx context.Context, id int64, input DispatchInput, actor shared.Actor) (DeliveryNote, error) {
	const op = "dispatch"
	var before DeliveryNote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		dn, err := tx.GetDeliveryNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before = dn
		next, ok := dn.Status.Next(ActionDispatch)
		if !ok {
			return invalidNoteState(dn, ActionDispatch)
		}
		if s.policy.RequireDriverSignature && blank(input.DriverSignature) {
			return shared.Validation("driver_signature", "is required by dispatch policy")
		}
		explicit, err := explicitQuantities(dn.Items, input.Lines)
		if err != nil {
			return err
		}
		items := make([]Item, len(dn.Items))
		for i, it := range dn.Items {
			qty, ok := explicit[it.ID]
			if !ok {
				qty = it.PickedQty
			}
			field := fmt.Sprintf("lines[item_id=%d].qty", it.ID)
			if qty.IsNegative() {
				return shared.Validation(field, "dispatched quantity %s must not be negative", qty)
			}
			if qty.GreaterThan(it.PickedQty) {
				return shared.Validation(field, "dispatched %s exceeds picked %s on line %d", qty, it.PickedQty, it.LineNo)
			}
			it.DispatchedQty = qty
			items[i] = it
		}
		if err := tx.UpdateItems(ctx, items); err != nil {
			return fmt.Errorf("update dispatched quantities: %w", err)
		}
		return s.updateStatus(ctx, tx, dn, StatusChange{
			Action:          ActionDispatch,
			To:              next,
			At:              s.now(),
			By:              actor.UserID,
			DriverName:      trimmed(input.DriverName),
			VehicleNumber:   trimmed(input.VehicleNumber),
			DriverSignature: trimmed(input.DriverSignature),
			Notes:           input.Notes,
		})
	})
	if err != nil {
		return DeliveryNote{}, s.fail(ctx, op, id, err)
	}
	s.committed(ctx, before, before.Status, StatusDispatched, op, actor, nil)
	return s.GetDeliveryNote(ctx, id)
}

// ReceiveDeliveryNote records receipt of a dispatched note and increments the
// received quantity of every contributing stock request item in the same
// transaction.
func (s *Service) ReceiveDeliveryNote(ctx context.Context, id int64, input ReceiveInput, actor shared.Actor) (DeliveryNote, error) {
	const op = "receive"
	var before DeliveryNote
	var requestIDs []int64
	receivedAt := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		dn, err := tx.GetDeliveryNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before = dn
		next, ok := dn.Status.Next(ActionReceive)
		if !ok {
			return invalidNoteState(dn, ActionReceive)
		}
		if err := s.checkReceiver(ctx, dn, actor); err != nil {
			return err
		}
		explicit, err := explicitQuantities(dn.Items, input.Lines)
		if err != nil {
			return err
		}
		items := make([]Item, len(dn.Items))
		for i, it := range dn.Items {
			qty, ok := explicit[it.ID]
			if !ok {
				qty = it.DispatchedQty
			}
			field := fmt.Sprintf("lines[item_id=%d].qty", it.ID)
			if qty.IsNegative() {
				return shared.Validation(field, "received quantity %s must not be negative", qty)
			}
			if qty.GreaterThan(it.DispatchedQty) {
				return shared.Validation(field, "received %s exceeds dispatched %s on line %d", qty, it.DispatchedQty, it.LineNo)
			}
			it.ReceivedQty = qty
			items[i] = it
		}
		if err := tx.UpdateItems(ctx, items); err != nil {
			return fmt.Errorf("update received quantities: %w", err)
		}
		seen := map[int64]bool{}
		for _, it := range items {
			if !seen[it.StockRequestID] {
				seen[it.StockRequestID] = true
				requestIDs = append(requestIDs, it.StockRequestID)
			}
			if !it.ReceivedQty.IsPositive() {
				continue
			}
			if err := tx.IncrementStockRequestReceived(ctx, it.StockRequestItemID, it.ReceivedQty); err != nil {
				if errors.Is(err, stockrequests.ErrOverReceipt) {
					return shared.Validation(fmt.Sprintf("lines[item_id=%d].qty", it.ID),
						"receiving %s would exceed the requested quantity of stock request item %d", it.ReceivedQty, it.StockRequestItemID)
				}
				return fmt.Errorf("increment stock request item %d: %w", it.StockRequestItemID, err)
			}
		}
		return s.updateStatus(ctx, tx, dn, StatusChange{
			Action: ActionReceive, To: next, At: receivedAt, By: actor.UserID, Notes: input.Notes,
		})
	})
	if err != nil {
		return DeliveryNote{}, s.fail(ctx, op, id, err)
	}
	s.committed(ctx, before, before.Status, StatusReceived, op, actor, nil)
	s.publishReceived(ctx, NoteReceived{
		DeliveryNoteID:  before.ID,
		Number:          before.Number,
		StockRequestIDs: requestIDs,
		ActorID:         actor.UserID,
		ReceivedAt:      receivedAt,
	})
	return s.GetDeliveryNote(ctx, id)
}

// checkReceiver applies the self-receive policy.
func (s *Service) checkReceiver(ctx context.Context, dn DeliveryNote, actor shared.Actor) error {
	if !s.policy.SegregateReceiving {
		return nil
	}
	if actor.BusinessUnitID <= 0 {
		return &shared.ForbiddenError{Reason: "receiving requires the actor's business unit"}
	}
	if s.warehouses == nil {
		return fmt.Errorf("warehouse directory not configured")
	}
	owner, err := s.warehouses.BusinessUnitOf(ctx, dn.FulfillingWarehouseID)
	if err != nil {
		return fmt.Errorf("resolve business unit of warehouse %d: %w", dn.FulfillingWarehouseID, err)
	}
	if owner == actor.BusinessUnitID {
		return &shared.ForbiddenError{Reason: fmt.Sprintf(
			"business unit %d owns fulfilling warehouse %d and cannot receive its own shipment %s",
			owner, dn.FulfillingWarehouseID, dn.Number)}
	}
	return nil
}

func (s *Service) publishReceived(ctx context.Context, evt NoteReceived) {
	if s.publisher == nil {
		return
	}
	sort.Slice(evt.StockRequestIDs, func(i, j int) bool { return evt.StockRequestIDs[i] < evt.StockRequestIDs[j] })
	if err := s.publisher.PublishNoteReceived(ctx, evt); err != nil {
		s.logger.Error("publish note received",
			slog.Int64("dn_id", evt.DeliveryNoteID),
			slog.String("dn_number", evt.Number),
			slog.Any("error", err),
		)
	}
}

// explicitQuantities indexes caller-supplied quantities by item row id,
// rejecting unknown and repeated ids.
func explicitQuantities(items []Item, lines []LineQty) (map[int64]decimal.Decimal, error) {
	known := make(map[int64]bool, len(items))
	for _, it := range items {
		known[it.ID] = true
	}
	out := make(map[int64]decimal.Decimal, len(lines))
	for i, l := range lines {
		field := fmt.Sprintf("lines[%d].item_id", i)
		if !known[l.ItemID] {
			return nil, shared.Validation(field, "item %d is not a line of this delivery note", l.ItemID)
		}
		if _, dup := out[l.ItemID]; dup {
			return nil, shared.Validation(field, "item %d given more than once", l.ItemID)
		}
		out[l.ItemID] = l.Qty
	}
	return out, nil
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

func trimmed(s *string) *string {
	if blank(s) {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
