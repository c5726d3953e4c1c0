// Package planner proposes delivery note allocations from eligible stock
// request lines, capped by warehouse availability. Plans are advisory: the
// delivery note create operation re-checks everything before committing.
package planner

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSessionNotFound is returned by a SessionStore for unknown or expired sessions.
var ErrSessionNotFound = errors.New("planning session not found")

// Line is one candidate allocation for a stock request item.
type Line struct {
	StockRequestID        int64      `json:"stock_request_id"`
	StockRequestItemID    int64      `json:"stock_request_item_id"`
	RequestCode           string     `json:"request_code"`
	Priority              int        `json:"priority"`
	RequiredDate          *time.Time `json:"required_date,omitempty"`
	RequestingWarehouseID int64      `json:"requesting_warehouse_id"`
	FulfillingWarehouseID int64      `json:"fulfilling_warehouse_id"`
	ItemID                int64      `json:"item_id"`
	UOMID                 int64      `json:"uom_id"`

	RequestedQty  decimal.Decimal `json:"requested_qty"`
	ReceivedQty   decimal.Decimal `json:"received_qty"`
	Allocatable   decimal.Decimal `json:"allocatable_qty"`
	Available     decimal.Decimal `json:"available_qty"`
	MaxAllowedQty decimal.Decimal `json:"max_allowed_qty"`
	ProposedQty   decimal.Decimal `json:"proposed_qty"`
}

// Plan is a planning session. Loaded stays false until availability for every
// line has been read.
type Plan struct {
	SessionID      string    `json:"session_id"`
	BusinessUnitID int64     `json:"business_unit_id"`
	Loaded         bool      `json:"loaded"`
	Lines          []Line    `json:"lines"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

func (p Plan) line(stockRequestItemID int64) (Line, bool) {
	for _, l := range p.Lines {
		if l.StockRequestItemID == stockRequestItemID {
			return l, true
		}
	}
	return Line{}, false
}

// PlanInput starts a planning session.
type PlanInput struct {
	BusinessUnitID int64 `json:"business_unit_id" validate:"omitempty,gt=0"`
}

// Selection is an operator-chosen quantity for one planned line.
type Selection struct {
	StockRequestItemID int64           `json:"stock_request_item_id" validate:"required,gt=0"`
	Qty                decimal.Decimal `json:"qty"`
}

// SubmitInput turns selected plan lines into a delivery note.
type SubmitInput struct {
	Notes      *string     `json:"notes,omitempty" validate:"omitempty,max=1000"`
	Selections []Selection `json:"selections" validate:"required,min=1,dive"`
}
