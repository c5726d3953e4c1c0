package delivery

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fulfillment/internal/inventory"
	"github.com/odyssey-erp/fulfillment/internal/masterdata/warehouses"
)

// AvailabilityOracle reports current available stock. Create re-checks
// allocations against it inside its own transaction.
type AvailabilityOracle interface {
	GetAvailable(ctx context.Context, warehouseID, itemID int64) (decimal.Decimal, error)
	GetAvailableBatch(ctx context.Context, warehouseID int64, itemIDs []int64) (map[int64]decimal.Decimal, error)
}

// WarehouseDirectory resolves warehouse ownership and labels.
type WarehouseDirectory interface {
	BusinessUnitOf(ctx context.Context, warehouseID int64) (int64, error)
	Labels(ctx context.Context, warehouseIDs []int64) (map[int64]string, error)
}

// UserDirectory resolves display names. Used for display only.
type UserDirectory interface {
	DisplayNames(ctx context.Context, userIDs []int64) (map[int64]string, error)
}

// InventoryAdapter adapts inventory.Service to AvailabilityOracle.
type InventoryAdapter struct {
	service *inventory.Service
	shared  bool
}

// NewInventoryAdapter creates an adapter whose every batch is its own query.
// Delivery note creation must use it.
func NewInventoryAdapter(service *inventory.Service) *InventoryAdapter {
	return &InventoryAdapter{service: service}
}

// NewPlanningInventoryAdapter creates an adapter for advisory reads, where
// concurrent identical batches share one query.
func NewPlanningInventoryAdapter(service *inventory.Service) *InventoryAdapter {
	return &InventoryAdapter{service: service, shared: true}
}

// GetAvailable implements AvailabilityOracle.
func (a *InventoryAdapter) GetAvailable(ctx context.Context, warehouseID, itemID int64) (decimal.Decimal, error) {
	if a.service == nil {
		return decimal.Zero, fmt.Errorf("inventory service not initialized")
	}
	return a.service.GetAvailable(ctx, warehouseID, itemID)
}

// GetAvailableBatch implements AvailabilityOracle.
func (a *InventoryAdapter) GetAvailableBatch(ctx context.Context, warehouseID int64, itemIDs []int64) (map[int64]decimal.Decimal, error) {
	if a.service == nil {
		return nil, fmt.Errorf("inventory service not initialized")
	}
	read := a.service.GetAvailableBatch
	if a.shared {
		read = a.service.GetAvailableBatchShared
	}
	result, err := read(ctx, warehouseID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("availability at warehouse %d: %w", warehouseID, err)
	}
	return result, nil
}

// WarehouseAdapter adapts warehouses.Service to WarehouseDirectory.
type WarehouseAdapter struct {
	service *warehouses.Service
}

// NewWarehouseAdapter creates a new warehouse adapter.
func NewWarehouseAdapter(service *warehouses.Service) *WarehouseAdapter {
	return &WarehouseAdapter{service: service}
}

// BusinessUnitOf implements WarehouseDirectory.
func (a *WarehouseAdapter) BusinessUnitOf(ctx context.Context, warehouseID int64) (int64, error) {
	return a.service.BusinessUnitOf(ctx, warehouseID)
}

// Labels implements WarehouseDirectory.
func (a *WarehouseAdapter) Labels(ctx context.Context, warehouseIDs []int64) (map[int64]string, error) {
	found, err := a.service.Lookup(ctx, warehouseIDs)
	if err != nil {
		return nil, err
	}
	labels := make(map[int64]string, len(found))
	for id, w := range found {
		labels[id] = w.Label()
	}
	return labels, nil
}
