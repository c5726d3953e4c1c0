package delivery

import "github.com/shopspring/decimal"

// ============================================================================
// REQUEST DTOs
// ============================================================================

// CreateInput is the createDeliveryNote request.
type CreateInput struct {
	RequestingWarehouseID int64        `json:"requesting_warehouse_id" validate:"required,gt=0"`
	FulfillingWarehouseID int64        `json:"fulfilling_warehouse_id" validate:"required,gt=0,nefield=RequestingWarehouseID"`
	Notes                 *string      `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Lines                 []CreateLine `json:"lines" validate:"required,min=1,dive"`
}

// CreateLine allocates a quantity of one stock request item.
type CreateLine struct {
	StockRequestID     int64           `json:"stock_request_id" validate:"required,gt=0"`
	StockRequestItemID int64           `json:"stock_request_item_id" validate:"required,gt=0"`
	AllocatedQty       decimal.Decimal `json:"allocated_qty"`
}

// QueuePickingInput creates the pick list for a confirmed note.
type QueuePickingInput struct {
	PickerIDs    []int64 `json:"picker_ids" validate:"required,min=1,dive,gt=0"`
	Instructions *string `json:"instructions,omitempty" validate:"omitempty,max=1000"`
}

// LineQty sets a quantity on one delivery note item, addressed by item row id.
type LineQty struct {
	ItemID int64           `json:"item_id" validate:"required,gt=0"`
	Qty    decimal.Decimal `json:"qty"`
}

// PickInput carries picked quantities. Omitted lines use their defaults.
type PickInput struct {
	Lines []LineQty `json:"lines" validate:"omitempty,dive"`
}

// DispatchInput is the dispatchDeliveryNote request.
type DispatchInput struct {
	DriverName      *string   `json:"driver_name,omitempty" validate:"omitempty,max=200"`
	VehicleNumber   *string   `json:"vehicle_number,omitempty" validate:"omitempty,max=50"`
	DriverSignature *string   `json:"driver_signature,omitempty"`
	Notes           *string   `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Lines           []LineQty `json:"lines,omitempty" validate:"omitempty,dive"`
}

// ReceiveInput is the receiveDeliveryNote request.
type ReceiveInput struct {
	Notes *string   `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Lines []LineQty `json:"lines,omitempty" validate:"omitempty,dive"`
}

// ReasonInput carries an optional free-text reason (void, pick list cancel).
type ReasonInput struct {
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=500"`
}
