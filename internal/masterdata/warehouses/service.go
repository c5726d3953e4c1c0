package warehouses

import (
	"context"
	"fmt"
)

// Service is the warehouse/business-unit directory.
type Service struct {
	repo Repository
}

// NewService builds the directory.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// BusinessUnitOf resolves the business unit a warehouse belongs to.
func (s *Service) BusinessUnitOf(ctx context.Context, warehouseID int64) (int64, error) {
	if warehouseID <= 0 {
		return 0, ErrWarehouseNotFound
	}
	w, err := s.repo.Get(ctx, warehouseID)
	if err != nil {
		return 0, fmt.Errorf("warehouse %d: %w", warehouseID, err)
	}
	return w.BusinessUnitID, nil
}

// Lookup returns the known warehouses among ids keyed by id. Unknown ids are omitted.
func (s *Service) Lookup(ctx context.Context, ids []int64) (map[int64]Warehouse, error) {
	out := make(map[int64]Warehouse, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	list, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, w := range list {
		out[w.ID] = w
	}
	return out, nil
}
