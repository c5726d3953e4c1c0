package delivery

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================================
// DELIVERY NOTE STATUS
// ============================================================================

// Status represents the lifecycle of a delivery note.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusConfirmed         Status = "confirmed"
	StatusQueuedForPicking  Status = "queued_for_picking"
	StatusPickingInProgress Status = "picking_in_progress"
	StatusDispatchReady     Status = "dispatch_ready"
	StatusDispatched        Status = "dispatched"
	StatusReceived          Status = "received"
	StatusVoided            Status = "voided"
)

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusConfirmed, StatusQueuedForPicking, StatusPickingInProgress,
		StatusDispatchReady, StatusDispatched, StatusReceived, StatusVoided:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusReceived || s == StatusVoided
}

// Action names a state machine transition.
type Action string

const (
	ActionConfirm         Action = "confirm"
	ActionQueuePicking    Action = "queue_picking"
	ActionStartPicking    Action = "start_picking"
	ActionRecordPicks     Action = "record_picks"
	ActionCompletePicking Action = "complete_picking"
	ActionCancelPicking   Action = "cancel_picking"
	ActionDispatch        Action = "dispatch"
	ActionReceive         Action = "receive"
	ActionVoid            Action = "void"
)

type transition struct {
	from []Status
	to   Status
}

// transitions is the complete state machine. An action not listed for the
// current status is rejected. Record picks leaves the status where start
// picking put it.
var transitions = map[Action]transition{
	ActionConfirm:         {from: []Status{StatusDraft}, to: StatusConfirmed},
	ActionQueuePicking:    {from: []Status{StatusConfirmed}, to: StatusQueuedForPicking},
	ActionStartPicking:    {from: []Status{StatusQueuedForPicking}, to: StatusPickingInProgress},
	ActionRecordPicks:     {from: []Status{StatusQueuedForPicking, StatusPickingInProgress}, to: StatusPickingInProgress},
	ActionCompletePicking: {from: []Status{StatusQueuedForPicking, StatusPickingInProgress}, to: StatusDispatchReady},
	ActionCancelPicking:   {from: []Status{StatusQueuedForPicking}, to: StatusConfirmed},
	ActionDispatch:        {from: []Status{StatusDispatchReady}, to: StatusDispatched},
	ActionReceive:         {from: []Status{StatusDispatched}, to: StatusReceived},
	ActionVoid: {
		from: []Status{StatusDraft, StatusConfirmed, StatusQueuedForPicking, StatusPickingInProgress, StatusDispatchReady},
		to:   StatusVoided,
	},
}

// Next returns the status reached by applying a from s, and whether a is permitted.
func (s Status) Next(a Action) (Status, bool) {
	t, ok := transitions[a]
	if !ok {
		return s, false
	}
	for _, from := range t.from {
		if from == s {
			return t.to, true
		}
	}
	return s, false
}

// Can reports whether the action is permitted from s.
func (s Status) Can(a Action) bool {
	_, ok := s.Next(a)
	return ok
}

// ============================================================================
// DELIVERY NOTE ENTITY
// ============================================================================

// DeliveryNote moves stock from a fulfilling warehouse to a requesting one.
type DeliveryNote struct {
	ID                    int64   `json:"id"`
	Number                string  `json:"number"`
	RequestingWarehouseID int64   `json:"requesting_warehouse_id"`
	FulfillingWarehouseID int64   `json:"fulfilling_warehouse_id"`
	Status                Status  `json:"status"`
	Notes                 *string `json:"notes,omitempty"`

	DriverName      *string `json:"driver_name,omitempty"`
	VehicleNumber   *string `json:"vehicle_number,omitempty"`
	DriverSignature *string `json:"driver_signature,omitempty"`
	DispatchNotes   *string `json:"dispatch_notes,omitempty"`
	ReceiveNotes    *string `json:"receive_notes,omitempty"`
	VoidReason      *string `json:"void_reason,omitempty"`

	CreatedBy          int64      `json:"created_by"`
	ConfirmedBy        *int64     `json:"confirmed_by,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	PickingStartedBy   *int64     `json:"picking_started_by,omitempty"`
	PickingStartedAt   *time.Time `json:"picking_started_at,omitempty"`
	PickingCompletedBy *int64     `json:"picking_completed_by,omitempty"`
	PickingCompletedAt *time.Time `json:"picking_completed_at,omitempty"`
	DispatchedBy       *int64     `json:"dispatched_by,omitempty"`
	DispatchedAt       *time.Time `json:"dispatched_at,omitempty"`
	ReceivedBy         *int64     `json:"received_by,omitempty"`
	ReceivedAt         *time.Time `json:"received_at,omitempty"`
	VoidedBy           *int64     `json:"voided_by,omitempty"`
	VoidedAt           *time.Time `json:"voided_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`

	Items []Item `json:"items,omitempty"`

	// Populated on reads only.
	ActivePickList           *PickList `json:"active_pick_list,omitempty"`
	RequestingWarehouseLabel string    `json:"requesting_warehouse_label,omitempty"`
	FulfillingWarehouseLabel string    `json:"fulfilling_warehouse_label,omitempty"`
}

// Item is one allocation line of a delivery note.
type Item struct {
	ID                 int64           `json:"id"`
	DeliveryNoteID     int64           `json:"delivery_note_id"`
	LineNo             int             `json:"line_no"`
	StockRequestID     int64           `json:"stock_request_id"`
	StockRequestItemID int64           `json:"stock_request_item_id"`
	ItemID             int64           `json:"item_id"`
	UOMID              int64           `json:"uom_id"`
	AllocatedQty       decimal.Decimal `json:"allocated_qty"`
	PickedQty          decimal.Decimal `json:"picked_qty"`
	PickRecorded       bool            `json:"pick_recorded"`
	ShortQty           decimal.Decimal `json:"short_qty"`
	DispatchedQty      decimal.Decimal `json:"dispatched_qty"`
	ReceivedQty        decimal.Decimal `json:"received_qty"`
}

// PickShortfall is allocated minus picked.
func (i Item) PickShortfall() decimal.Decimal { return i.AllocatedQty.Sub(i.PickedQty) }

// DispatchShortfall is picked minus dispatched.
func (i Item) DispatchShortfall() decimal.Decimal { return i.PickedQty.Sub(i.DispatchedQty) }

// ReceiveShortfall is dispatched minus received.
func (i Item) ReceiveShortfall() decimal.Decimal { return i.DispatchedQty.Sub(i.ReceivedQty) }

// CheckQuantities verifies 0 <= received <= dispatched <= picked <= allocated.
func (i Item) CheckQuantities() bool {
	if i.ReceivedQty.IsNegative() {
		return false
	}
	return i.ReceivedQty.LessThanOrEqual(i.DispatchedQty) &&
		i.DispatchedQty.LessThanOrEqual(i.PickedQty) &&
		i.PickedQty.LessThanOrEqual(i.AllocatedQty)
}

// ============================================================================
// PICK LIST
// ============================================================================

// PickListStatus represents the lifecycle of a pick list.
type PickListStatus string

const (
	PickListQueued     PickListStatus = "queued"
	PickListInProgress PickListStatus = "in_progress"
	PickListCompleted  PickListStatus = "completed"
	PickListCancelled  PickListStatus = "cancelled"
)

// PickList is a picking work order spawned from a delivery note.
type PickList struct {
	ID             int64          `json:"id"`
	DeliveryNoteID int64          `json:"delivery_note_id"`
	Number         string         `json:"number"`
	Status         PickListStatus `json:"status"`
	PickerIDs      []int64        `json:"picker_ids"`
	Instructions   *string        `json:"instructions,omitempty"`
	CancelReason   *string        `json:"cancel_reason,omitempty"`
	CreatedBy      int64          `json:"created_by"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CancelledAt    *time.Time     `json:"cancelled_at,omitempty"`
	DeletedAt      *time.Time     `json:"-"`

	// Populated on reads only.
	PickerNames map[int64]string `json:"picker_names,omitempty"`
	Active      bool             `json:"active"`
}

// ActivePickList applies the active pick list rule: among pick lists that are
// not soft-deleted, take the most recently created (ties broken by the higher
// id); it is active unless cancelled. Returns nil when there is none.
func ActivePickList(lists []PickList) *PickList {
	var latest *PickList
	for i := range lists {
		pl := &lists[i]
		if pl.DeletedAt != nil {
			continue
		}
		if latest == nil || pl.CreatedAt.After(latest.CreatedAt) ||
			(pl.CreatedAt.Equal(latest.CreatedAt) && pl.ID > latest.ID) {
			latest = pl
		}
	}
	if latest == nil || latest.Status == PickListCancelled {
		return nil
	}
	out := *latest
	return &out
}

// SortPickLists orders pick lists newest first using the same ordering as ActivePickList.
func SortPickLists(lists []PickList) {
	sort.SliceStable(lists, func(i, j int) bool {
		if lists[i].CreatedAt.Equal(lists[j].CreatedAt) {
			return lists[i].ID > lists[j].ID
		}
		return lists[i].CreatedAt.After(lists[j].CreatedAt)
	})
}

// ============================================================================
// FILTERS & POLICY
// ============================================================================

// ListFilters narrows listDeliveryNotes.
type ListFilters struct {
	Status                *Status
	RequestingWarehouseID *int64
	FulfillingWarehouseID *int64
	Page                  int
	PerPage               int
}

// Policy holds the configurable business rules of the engine.
type Policy struct {
	// RequireDriverSignature makes the driver signature mandatory at dispatch.
	RequireDriverSignature bool
	// SegregateReceiving forbids an actor from the fulfilling warehouse's
	// business unit from receiving the shipment.
	SegregateReceiving bool
}
