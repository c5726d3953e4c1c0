package warehouses

import "errors"

// ErrWarehouseNotFound indicates an unknown warehouse id.
var ErrWarehouseNotFound = errors.New("warehouse not found")

// Warehouse is the slice of warehouse master data the fulfillment engine reads.
type Warehouse struct {
	ID             int64  `json:"id"`
	BusinessUnitID int64  `json:"business_unit_id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	Address        string `json:"address"`
}

// Label renders the display label used on delivery notes.
func (w Warehouse) Label() string {
	if w.Code == "" {
		return w.Name
	}
	return w.Code + " - " + w.Name
}
