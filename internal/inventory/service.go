package inventory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// BalanceReader is the persistence contract the oracle depends on.
type BalanceReader interface {
	ListBalances(ctx context.Context, warehouseID int64, itemIDs []int64) ([]Balance, error)
}

// Service answers availability questions. It never caches: every call reads
// the current balances. Planning reads may share one in-flight query through
// GetAvailableBatchShared; GetAvailableBatch always issues its own.
type Service struct {
	repo   BalanceReader
	flight singleflight.Group
}

// sharedReadTimeout bounds a shared query, which outlives any single caller.
const sharedReadTimeout = 10 * time.Second

// NewService builds the availability oracle.
func NewService(repo BalanceReader) *Service {
	return &Service{repo: repo}
}

// GetAvailable returns the available quantity of one item at a warehouse.
func (s *Service) GetAvailable(ctx context.Context, warehouseID, itemID int64) (decimal.Decimal, error) {
	result, err := s.GetAvailableBatch(ctx, warehouseID, []int64{itemID})
	if err != nil {
		return decimal.Zero, err
	}
	return result[itemID], nil
}

// GetAvailableBatch returns the available quantity of each item at a warehouse
// using a single query started by this call. Items without stock map to zero.
func (s *Service) GetAvailableBatch(ctx context.Context, warehouseID int64, itemIDs []int64) (map[int64]decimal.Decimal, error) {
	ids := uniqueIDs(itemIDs)
	if warehouseID <= 0 || len(ids) == 0 {
		return nil, ErrInvalidQuery
	}
	balances, err := s.listBalances(ctx, warehouseID, ids)
	if err != nil {
		return nil, err
	}
	return availability(ids, balances), nil
}

// GetAvailableBatchShared is GetAvailableBatch for advisory reads: identical
// batches requested concurrently join one in-flight query. The query runs
// detached from any caller, so one caller giving up does not fail the others.
func (s *Service) GetAvailableBatchShared(ctx context.Context, warehouseID int64, itemIDs []int64) (map[int64]decimal.Decimal, error) {
	ids := uniqueIDs(itemIDs)
	if warehouseID <= 0 || len(ids) == 0 {
		return nil, ErrInvalidQuery
	}
	detached := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(flightKey(warehouseID, ids), func() (any, error) {
		qctx, cancel := context.WithTimeout(detached, sharedReadTimeout)
		defer cancel()
		return s.listBalances(qctx, warehouseID, ids)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return availability(ids, res.Val.([]Balance)), nil
	}
}

func (s *Service) listBalances(ctx context.Context, warehouseID int64, ids []int64) ([]Balance, error) {
	balances, err := s.repo.ListBalances(ctx, warehouseID, ids)
	if err != nil {
		return nil, fmt.Errorf("inventory: list balances warehouse %d: %w", warehouseID, err)
	}
	return balances, nil
}

func availability(ids []int64, balances []Balance) map[int64]decimal.Decimal {
	result := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		result[id] = decimal.Zero
	}
	for _, bal := range balances {
		if _, ok := result[bal.ItemID]; ok {
			result[bal.ItemID] = bal.Available()
		}
	}
	return result
}

func flightKey(warehouseID int64, ids []int64) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(warehouseID, 10))
	for _, id := range ids {
		b.WriteByte(':')
		b.WriteString(strconv.FormatInt(id, 10))
	}
	return b.String()
}

func uniqueIDs(ids []int64) []int64 {
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
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
