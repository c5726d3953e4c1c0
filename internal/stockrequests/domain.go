// Package stockrequests owns Stock Request bookkeeping that the fulfillment
// engine reads and, on receipt, increments.
package stockrequests

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the stock request lifecycle status.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusSubmitted    Status = "submitted"
	StatusApproved     Status = "approved"
	StatusReadyForPick Status = "ready_for_pick"
	StatusPicked       Status = "picked"
	StatusDelivered    Status = "delivered"
	StatusReceived     Status = "received"
	StatusCompleted    Status = "completed"
	StatusCancelled    Status = "cancelled"
)

// SelectableStatuses are the statuses whose lines may be allocated.
var SelectableStatuses = []Status{StatusSubmitted, StatusApproved, StatusReadyForPick, StatusPicked}

// IsSelectable reports whether lines of a request in this status may be allocated.
func (s Status) IsSelectable() bool {
	for _, sel := range SelectableStatuses {
		if s == sel {
			return true
		}
	}
	return false
}

// IsClosed reports whether the owner no longer recalculates the request.
func (s Status) IsClosed() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusDraft
}

var (
	// ErrRequestNotFound indicates an unknown stock request.
	ErrRequestNotFound = errors.New("stock request not found")
	// ErrItemNotFound indicates an unknown stock request item.
	ErrItemNotFound = errors.New("stock request item not found")
	// ErrOverReceipt indicates an increment would push received above requested.
	ErrOverReceipt = errors.New("received quantity would exceed requested quantity")
)

// StockRequest is a warehouse's demand document.
type StockRequest struct {
	ID                    int64
	Code                  string
	RequestingWarehouseID int64
	FulfillingWarehouseID *int64
	Status                Status
	Priority              int
	RequestDate           time.Time
	RequiredDate          *time.Time
	Items                 []Item
}

// Item is one requested line.
type Item struct {
	ID             int64
	StockRequestID int64
	ItemID         int64
	UOMID          int64
	RequestedQty   decimal.Decimal
	ReceivedQty    decimal.Decimal
}

// Allocatable is requested minus received, floored at zero.
func (i Item) Allocatable() decimal.Decimal {
	rem := i.RequestedQty.Sub(i.ReceivedQty)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// FullyReceived reports whether nothing remains to receive.
func (i Item) FullyReceived() bool {
	return i.ReceivedQty.GreaterThanOrEqual(i.RequestedQty)
}

// Line is an item joined with its parent request header.
type Line struct {
	Item
	RequestCode           string
	RequestStatus         Status
	RequestingWarehouseID int64
	FulfillingWarehouseID *int64
	Priority              int
	RequiredDate          *time.Time
}
