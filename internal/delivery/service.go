package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/stockrequests"
)

// ServiceConfig collects the collaborators of the delivery service.
type ServiceConfig struct {
	Repository Repository
	Oracle     AvailabilityOracle
	Warehouses WarehouseDirectory
	Users      UserDirectory
	Publisher  EventPublisher
	Audit      shared.AuditRecorder
	Metrics    *Metrics
	Policy     Policy
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Service provides the delivery note state machine, pick list coordination
// and the dispatch/receive ledger.
type Service struct {
	repo       Repository
	oracle     AvailabilityOracle
	warehouses WarehouseDirectory
	users      UserDirectory
	publisher  EventPublisher
	audit      shared.AuditRecorder
	metrics    *Metrics
	policy     Policy
	logger     *slog.Logger
	clock      func() time.Time
}

// NewService constructs a delivery service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:       cfg.Repository,
		oracle:     cfg.Oracle,
		warehouses: cfg.Warehouses,
		users:      cfg.Users,
		publisher:  cfg.Publisher,
		audit:      cfg.Audit,
		metrics:    cfg.Metrics,
		policy:     cfg.Policy,
		logger:     cfg.Logger,
		clock:      cfg.Clock,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.clock == nil {
		s.clock = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// Policy returns the active policy.
func (s *Service) Policy() Policy { return s.policy }

func (s *Service) now() time.Time { return s.clock() }

// ============================================================================
// CREATE
// ============================================================================

// CreateDeliveryNote creates a draft delivery note from stock request lines.
// Stock request lines are locked and availability is re-read inside the
// transaction; any failed precondition rejects the whole note.
func (s *Service) CreateDeliveryNote(ctx context.Context, input CreateInput, actor shared.Actor) (DeliveryNote, error) {
	const op = "create"
	if err := validateCreateInput(input); err != nil {
		return DeliveryNote{}, s.fail(ctx, op, 0, err)
	}

	var created DeliveryNote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids := make([]int64, len(input.Lines))
		for i, l := range input.Lines {
			ids[i] = l.StockRequestItemID
		}
		locked, err := tx.LockStockRequestLines(ctx, ids)
		if err != nil {
			return fmt.Errorf("lock stock request lines: %w", err)
		}
		items, demand, err := buildItems(input, locked)
		if err != nil {
			return err
		}
		if err := s.checkAvailability(ctx, input.FulfillingWarehouseID, demand); err != nil {
			return err
		}

		now := s.now()
		number, err := tx.NextDeliveryNoteNumber(ctx, now)
		if err != nil {
			return err
		}
		created = DeliveryNote{
			Number:                number,
			RequestingWarehouseID: input.RequestingWarehouseID,
			FulfillingWarehouseID: input.FulfillingWarehouseID,
			Status:                StatusDraft,
			Notes:                 input.Notes,
			CreatedBy:             actor.UserID,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		id, err := tx.InsertDeliveryNote(ctx, created)
		if err != nil {
			return fmt.Errorf("insert delivery note: %w", err)
		}
		created.ID = id
		if err := tx.InsertItems(ctx, id, items); err != nil {
			return fmt.Errorf("insert delivery note items: %w", err)
		}
		return nil
	})
	if err != nil {
		return DeliveryNote{}, s.fail(ctx, op, 0, err)
	}

	s.committed(ctx, created, "", StatusDraft, "create", actor, map[string]any{"lines": len(input.Lines)})
	return s.GetDeliveryNote(ctx, created.ID)
}

func validateCreateInput(input CreateInput) error {
	if input.RequestingWarehouseID <= 0 {
		return shared.Validation("requesting_warehouse_id", "is required")
	}
	if input.FulfillingWarehouseID <= 0 {
		return shared.Validation("fulfilling_warehouse_id", "is required")
	}
	if input.RequestingWarehouseID == input.FulfillingWarehouseID {
		return shared.Validation("fulfilling_warehouse_id", "must differ from requesting warehouse %d", input.RequestingWarehouseID)
	}
	if len(input.Lines) == 0 {
		return shared.Validation("lines", "at least one line is required")
	}
	seen := make(map[int64]int, len(input.Lines))
	for i, l := range input.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		if l.StockRequestItemID <= 0 {
			return shared.Validation(field+".stock_request_item_id", "is required")
		}
		if prev, dup := seen[l.StockRequestItemID]; dup {
			return shared.Validation(field+".stock_request_item_id", "stock request item %d already allocated by lines[%d]", l.StockRequestItemID, prev)
		}
		seen[l.StockRequestItemID] = i
		if !l.AllocatedQty.IsPositive() {
			return shared.Validation(field+".allocated_qty", "must be greater than zero, got %s", l.AllocatedQty)
		}
	}
	return nil
}

// buildItems checks every line against its locked stock request line and
// returns the items to insert plus the total demand per item id.
func buildItems(input CreateInput, locked []stockrequests.Line) ([]Item, map[int64]decimal.Decimal, error) {
	byID := make(map[int64]stockrequests.Line, len(locked))
	for _, l := range locked {
		byID[l.ID] = l
	}
	items := make([]Item, 0, len(input.Lines))
	demand := make(map[int64]decimal.Decimal)
	for i, line := range input.Lines {
		field := fmt.Sprintf("lines[%d]", i)
		src, ok := byID[line.StockRequestItemID]
		if !ok {
			return nil, nil, shared.Validation(field+".stock_request_item_id", "stock request item %d does not exist", line.StockRequestItemID)
		}
		if line.StockRequestID != 0 && src.StockRequestID != line.StockRequestID {
			return nil, nil, shared.Validation(field+".stock_request_id", "stock request item %d belongs to stock request %d, not %d",
				src.ID, src.StockRequestID, line.StockRequestID)
		}
		if !src.RequestStatus.IsSelectable() {
			return nil, nil, shared.Validation(field, "stock request %s is %s and cannot be allocated", src.RequestCode, src.RequestStatus)
		}
		if src.FulfillingWarehouseID == nil {
			return nil, nil, shared.Validation(field, "stock request %s has no fulfilling warehouse", src.RequestCode)
		}
		if src.RequestingWarehouseID != input.RequestingWarehouseID || *src.FulfillingWarehouseID != input.FulfillingWarehouseID {
			return nil, nil, shared.Validation(field, "stock request %s moves stock from warehouse %d to %d, delivery note moves from %d to %d",
				src.RequestCode, *src.FulfillingWarehouseID, src.RequestingWarehouseID, input.FulfillingWarehouseID, input.RequestingWarehouseID)
		}
		allocatable := src.Allocatable()
		if line.AllocatedQty.GreaterThan(allocatable) {
			return nil, nil, shared.Validation(field+".allocated_qty", "%s exceeds allocatable %s (requested %s, received %s) on stock request %s",
				line.AllocatedQty, allocatable, src.RequestedQty, src.ReceivedQty, src.RequestCode)
		}
		demand[src.ItemID] = demand[src.ItemID].Add(line.AllocatedQty)
		items = append(items, Item{
			LineNo:             i + 1,
			StockRequestID:     src.StockRequestID,
			StockRequestItemID: src.ID,
			ItemID:             src.ItemID,
			UOMID:              src.UOMID,
			AllocatedQty:       line.AllocatedQty,
		})
	}
	return items, demand, nil
}

func (s *Service) checkAvailability(ctx context.Context, warehouseID int64, demand map[int64]decimal.Decimal) error {
	itemIDs := make([]int64, 0, len(demand))
	for id := range demand {
		itemIDs = append(itemIDs, id)
	}
	sort.Slice(itemIDs, func(i, j int) bool { return itemIDs[i] < itemIDs[j] })
	available, err := s.oracle.GetAvailableBatch(ctx, warehouseID, itemIDs)
	if err != nil {
		return fmt.Errorf("check availability: %w", err)
	}
	for _, id := range itemIDs {
		if demand[id].GreaterThan(available[id]) {
			return shared.Validation("lines", "item %d: allocated %s exceeds available %s at warehouse %d",
				id, demand[id], available[id], warehouseID)
		}
	}
	return nil
}

// ============================================================================
// CONFIRM / QUEUE / VOID
// ============================================================================

// ConfirmDeliveryNote moves a draft note to confirmed.
func (s *Service) ConfirmDeliveryNote(ctx context.Context, id int64, actor shared.Actor) (DeliveryNote, error) {
	return s.simpleTransition(ctx, id, ActionConfirm, actor, StatusChange{})
}

// QueuePicking creates the pick list of a confirmed note. An existing active
// pick list is reported as a conflict naming it, whatever the note's status.
func (s *Service) QueuePicking(ctx context.Context, id int64, input QueuePickingInput, actor shared.Actor) (DeliveryNote, error) {
	const op = "queue_picking"
	for _, pid := range input.PickerIDs {
		if pid <= 0 {
			return DeliveryNote{}, s.fail(ctx, op, id, shared.Validation("picker_ids", "picker id %d is not a valid user id", pid))
		}
	}
	pickers := uniquePositive(input.PickerIDs)
	if len(pickers) == 0 {
		return DeliveryNote{}, s.fail(ctx, op, id, shared.Validation("picker_ids", "at least one picker is required"))
	}

	var before DeliveryNote
	var plNumber string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		dn, err := tx.GetDeliveryNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before = dn
		active, err := tx.ActivePickListForUpdate(ctx, dn.ID)
		if err != nil {
			return fmt.Errorf("resolve active pick list: %w", err)
		}
		// A note already in picking reports the list that holds it; any other
		// state outside the transition table is an invalid state.
		picking := dn.Status == StatusQueuedForPicking || dn.Status == StatusPickingInProgress
		if active != nil && picking {
			return activePickListConflict(dn, *active)
		}
		next, ok := dn.Status.Next(ActionQueuePicking)
		if !ok {
			return invalidNoteState(dn, ActionQueuePicking)
		}
		if active != nil {
			return activePickListConflict(dn, *active)
		}
		now := s.now()
		plNumber, err = tx.NextPickListNumber(ctx, now)
		if err != nil {
			return err
		}
		if _, err := tx.InsertPickList(ctx, PickList{
			DeliveryNoteID: dn.ID,
			Number:         plNumber,
			Status:         PickListQueued,
			PickerIDs:      pickers,
			Instructions:   input.Instructions,
			CreatedBy:      actor.UserID,
			CreatedAt:      now,
		}); err != nil {
			return fmt.Errorf("insert pick list: %w", err)
		}
		return s.updateStatus(ctx, tx, dn, StatusChange{Action: ActionQueuePicking, To: next, At: now, By: actor.UserID})
	})
	if err != nil {
		return DeliveryNote{}, s.fail(ctx, op, id, err)
	}
	s.committed(ctx, before, before.Status, StatusQueuedForPicking, op, actor, map[string]any{
		"pick_list_number": plNumber,
		"picker_ids":       pickers,
	})
	return s.GetDeliveryNote(ctx, id)
}

// VoidDeliveryNote voids a note that has not been dispatched. The active pick
// list, if still open, is cancelled with it. Stock requests are not touched.
func (s *Service) VoidDeliveryNote(ctx context.Context, id int64, input ReasonInput, actor shared.Actor) (DeliveryNote, error) {
	const op = "void"
	var before DeliveryNote
	var cancelled *PickList
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		dn, err := tx.GetDeliveryNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before = dn
		next, ok := dn.Status.Next(ActionVoid)
		if !ok {
			return invalidNoteState(dn, ActionVoid)
		}
		now := s.now()
		active, err := tx.ActivePickListForUpdate(ctx, dn.ID)
		if err != nil {
			return fmt.Errorf("resolve active pick list: %w", err)
		}
		if active != nil && (active.Status == PickListQueued || active.Status == PickListInProgress) {
			reason := "delivery note " + dn.Number + " voided"
			if err := tx.UpdatePickListStatus(ctx, active.ID, PickListChange{
				From: active.Status, To: PickListCancelled, At: now, Reason: &reason,
			}); err != nil {
				return fmt.Errorf("cancel pick list %d: %w", active.ID, err)
			}
			cancelled = active
		}
		return s.updateStatus(ctx, tx, dn, StatusChange{
			Action: ActionVoid, To: next, At: now, By: actor.UserID, Reason: input.Reason,
		})
	})
	if err != nil {
		return DeliveryNote{}, s.fail(ctx, op, id, err)
	}
	meta := map[string]any{}
	if input.Reason != nil {
		meta["reason"] = *input.Reason
	}
	if cancelled != nil {
		meta["cancelled_pick_list"] = cancelled.Number
	}
	s.committed(ctx, before, before.Status, StatusVoided, op, actor, meta)
	return s.GetDeliveryNote(ctx, id)
}

// simpleTransition applies an action that changes nothing but status and stamps.
func (s *Service) simpleTransition(ctx context.Context, id int64, action Action, actor shared.Actor, change StatusChange) (DeliveryNote, error) {
	op := string(action)
	var before DeliveryNote
	var next Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		dn, err := tx.GetDeliveryNoteForUpdate(ctx, id)
		if err != nil {
			return err
		}
		before = dn
		var ok bool
		next, ok = dn.Status.Next(action)
		if !ok {
			return invalidNoteState(dn, action)
		}
		change.Action, change.To, change.At, change.By = action, next, s.now(), actor.UserID
		return s.updateStatus(ctx, tx, dn, change)
	})
	if err != nil {
		return DeliveryNote{}, s.fail(ctx, op, id, err)
	}
	s.committed(ctx, before, before.Status, next, op, actor, nil)
	return s.GetDeliveryNote(ctx, id)
}

// updateStatus writes a guarded status change. A guard miss means another
// writer got there first and is reported as an invalid state.
func (s *Service) updateStatus(ctx context.Context, tx TxRepository, dn DeliveryNote, change StatusChange) error {
	change.From = dn.Status
	if err := tx.UpdateStatus(ctx, dn.ID, change); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			current, gerr := tx.GetDeliveryNoteForUpdate(ctx, dn.ID)
			if gerr == nil {
				return invalidNoteState(current, change.Action)
			}
		}
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

// ============================================================================
// READS
// ============================================================================

// GetDeliveryNote returns the aggregate with its active pick list and display labels.
func (s *Service) GetDeliveryNote(ctx context.Context, id int64) (DeliveryNote, error) {
	dn, err := s.repo.GetDeliveryNote(ctx, id)
	if err != nil {
		return DeliveryNote{}, fmt.Errorf("get delivery note: %w", err)
	}
	lists, err := s.repo.ListPickLists(ctx, id)
	if err != nil {
		return DeliveryNote{}, fmt.Errorf("list pick lists: %w", err)
	}
	if active := ActivePickList(lists); active != nil {
		active.Active = true
		s.attachPickerNames(ctx, []*PickList{active})
		dn.ActivePickList = active
	}
	s.attachLabels(ctx, []*DeliveryNote{&dn})
	return dn, nil
}

// ListDeliveryNotes lists note headers, optionally filtered by status and warehouses.
func (s *Service) ListDeliveryNotes(ctx context.Context, filters ListFilters) ([]DeliveryNote, shared.Pagination, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, shared.Pagination{}, shared.Validation("status", "unknown status %q", *filters.Status)
	}
	filters.Page, filters.PerPage = shared.NormalizePage(filters.Page, filters.PerPage)
	notes, total, err := s.repo.ListDeliveryNotes(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("list delivery notes: %w", err)
	}
	ptrs := make([]*DeliveryNote, len(notes))
	for i := range notes {
		ptrs[i] = &notes[i]
	}
	s.attachLabels(ctx, ptrs)
	return notes, shared.NewPagination(filters.Page, filters.PerPage, total), nil
}

func (s *Service) attachLabels(ctx context.Context, notes []*DeliveryNote) {
	if s.warehouses == nil || len(notes) == 0 {
		return
	}
	var ids []int64
	for _, dn := range notes {
		ids = append(ids, dn.RequestingWarehouseID, dn.FulfillingWarehouseID)
	}
	labels, err := s.warehouses.Labels(ctx, uniquePositive(ids))
	if err != nil {
		s.logger.Warn("resolve warehouse labels", slog.Any("error", err))
		return
	}
	for _, dn := range notes {
		dn.RequestingWarehouseLabel = labels[dn.RequestingWarehouseID]
		dn.FulfillingWarehouseLabel = labels[dn.FulfillingWarehouseID]
	}
}

func (s *Service) attachPickerNames(ctx context.Context, lists []*PickList) {
	if s.users == nil || len(lists) == 0 {
		return
	}
	var ids []int64
	for _, pl := range lists {
		ids = append(ids, pl.PickerIDs...)
	}
	names, err := s.users.DisplayNames(ctx, uniquePositive(ids))
	if err != nil {
		s.logger.Warn("resolve picker names", slog.Any("error", err))
		return
	}
	for _, pl := range lists {
		pl.PickerNames = make(map[int64]string, len(pl.PickerIDs))
		for _, id := range pl.PickerIDs {
			if name, ok := names[id]; ok {
				pl.PickerNames[id] = name
			}
		}
	}
}

// ============================================================================
// HELPERS
// ============================================================================

// committed runs the post-commit side effects of a transition. None of them
// can undo the committed change.
func (s *Service) committed(ctx context.Context, dn DeliveryNote, from, to Status, op string, actor shared.Actor, meta map[string]any) {
	s.logger.Info("delivery note transition",
		slog.Int64("dn_id", dn.ID),
		slog.String("dn_number", dn.Number),
		slog.String("op", op),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.Int64("actor_id", actor.UserID),
	)
	if from != to {
		s.metrics.transitioned(from, to)
	}
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["number"] = dn.Number
	meta["from"] = string(from)
	meta["to"] = string(to)
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.UserID,
		Action:   "delivery_note." + op,
		Entity:   "delivery_note",
		EntityID: strconv.FormatInt(dn.ID, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("record audit log", slog.Int64("dn_id", dn.ID), slog.String("op", op), slog.Any("error", err))
	}
}

// fail logs and counts a failed operation and returns the error with context.
func (s *Service) fail(_ context.Context, op string, id int64, err error) error {
	s.metrics.failed(op, err)
	attrs := []any{slog.String("op", op), slog.Any("error", err)}
	if id != 0 {
		attrs = append(attrs, slog.Int64("dn_id", id))
	}
	if isDomainError(err) {
		s.logger.Warn("delivery note operation rejected", attrs...)
	} else {
		s.logger.Error("delivery note operation failed", attrs...)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func uniquePositive(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
