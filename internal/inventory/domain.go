package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidQuery indicates an availability lookup without a warehouse or items.
var ErrInvalidQuery = errors.New("inventory: warehouse and at least one item required")

// Balance summarises stock of one item in one warehouse.
type Balance struct {
	WarehouseID int64
	ItemID      int64
	OnHand      decimal.Decimal
	Reserved    decimal.Decimal
	UpdatedAt   time.Time
}

// Available is on-hand minus reserved, never negative.
func (b Balance) Available() decimal.Decimal {
	avail := b.OnHand.Sub(b.Reserved)
	if avail.IsNegative() {
		return decimal.Zero
	}
	return avail
}

// Availability is the answer for one item at one warehouse.
type Availability struct {
	WarehouseID int64           `json:"warehouse_id"`
	ItemID      int64           `json:"item_id"`
	Available   decimal.Decimal `json:"available"`
}
