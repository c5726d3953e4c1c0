package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/fulfillment/internal/delivery"
	"github.com/odyssey-erp/fulfillment/internal/shared"
	"github.com/odyssey-erp/fulfillment/internal/stockrequests"
)

// maxConcurrentWarehouses bounds the availability fan-out.
const maxConcurrentWarehouses = 4

// LineSource lists stock request lines eligible for allocation.
type LineSource interface {
	EligibleLines(ctx context.Context, businessUnitID int64) ([]stockrequests.Line, error)
}

// NoteCreator is the authoritative delivery note create operation.
type NoteCreator interface {
	CreateDeliveryNote(ctx context.Context, input delivery.CreateInput, actor shared.Actor) (delivery.DeliveryNote, error)
}

// Service computes and submits allocation plans.
type Service struct {
	lines    LineSource
	oracle   delivery.AvailabilityOracle
	sessions SessionStore
	creator  NoteCreator
	logger   *slog.Logger
	clock    func() time.Time
}

// NewService builds the planner.
func NewService(lines LineSource, oracle delivery.AvailabilityOracle, sessions SessionStore, creator NoteCreator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		lines:    lines,
		oracle:   oracle,
		sessions: sessions,
		creator:  creator,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Plan proposes an allocation for every eligible line of the business unit's
// stock requests. The session is stored unloaded first and only marked loaded
// once availability has been read for every fulfilling warehouse.
func (s *Service) Plan(ctx context.Context, businessUnitID int64) (Plan, error) {
	if businessUnitID <= 0 {
		return Plan{}, shared.Validation("business_unit_id", "is required")
	}
	now := s.clock()
	plan := Plan{
		SessionID:      uuid.NewString(),
		BusinessUnitID: businessUnitID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.sessions.TTL()),
	}
	if err := s.sessions.Save(ctx, plan); err != nil {
		return Plan{}, err
	}

	eligible, err := s.lines.EligibleLines(ctx, businessUnitID)
	if err != nil {
		return Plan{}, fmt.Errorf("planner: eligible lines: %w", err)
	}
	candidates := candidateLines(eligible)

	available, err := s.loadAvailability(ctx, candidates)
	if err != nil {
		s.logger.Warn("planner availability load failed",
			slog.String("session_id", plan.SessionID),
			slog.Any("error", err),
		)
		return Plan{}, fmt.Errorf("planner: availability: %w", err)
	}
	for i := range candidates {
		l := &candidates[i]
		l.Available = available[l.FulfillingWarehouseID][l.ItemID]
		l.MaxAllowedQty = decimal.Min(l.Allocatable, l.Available)
		if l.MaxAllowedQty.IsNegative() {
			l.MaxAllowedQty = decimal.Zero
		}
		l.ProposedQty = l.MaxAllowedQty
	}

	plan.Lines = candidates
	plan.Loaded = true
	if err := s.sessions.Save(ctx, plan); err != nil {
		return Plan{}, err
	}
	s.logger.Info("allocation plan computed",
		slog.String("session_id", plan.SessionID),
		slog.Int64("business_unit_id", businessUnitID),
		slog.Int("lines", len(plan.Lines)),
	)
	return plan, nil
}

// Get returns a stored plan.
func (s *Service) Get(ctx context.Context, sessionID string) (Plan, error) {
	plan, err := s.sessions.Load(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return Plan{}, staleSession(sessionID, "expired or unknown")
	}
	return plan, err
}

// Submit validates the operator's selections against the plan and creates a
// delivery note from them. Any selection above its line's maximum rejects the
// whole submission.
func (s *Service) Submit(ctx context.Context, sessionID string, input SubmitInput, actor shared.Actor) (delivery.DeliveryNote, error) {
	plan, err := s.Get(ctx, sessionID)
	if err != nil {
		return delivery.DeliveryNote{}, err
	}
	if !plan.Loaded {
		return delivery.DeliveryNote{}, staleSession(sessionID, "inventory data has not finished loading")
	}
	if len(input.Selections) == 0 {
		return delivery.DeliveryNote{}, shared.Validation("selections", "at least one line must be selected")
	}

	var create delivery.CreateInput
	seen := make(map[int64]bool, len(input.Selections))
	for i, sel := range input.Selections {
		field := fmt.Sprintf("selections[%d]", i)
		if seen[sel.StockRequestItemID] {
			return delivery.DeliveryNote{}, shared.Validation(field+".stock_request_item_id", "stock request item %d selected twice", sel.StockRequestItemID)
		}
		seen[sel.StockRequestItemID] = true
		line, ok := plan.line(sel.StockRequestItemID)
		if !ok {
			return delivery.DeliveryNote{}, shared.Validation(field+".stock_request_item_id", "stock request item %d is not part of plan %s", sel.StockRequestItemID, sessionID)
		}
		if !sel.Qty.IsPositive() {
			return delivery.DeliveryNote{}, shared.Validation(field+".qty", "must be greater than zero, got %s", sel.Qty)
		}
		if sel.Qty.GreaterThan(line.MaxAllowedQty) {
			return delivery.DeliveryNote{}, shared.Validation(field+".qty", "%s exceeds max allowed %s (allocatable %s, available %s) for %s item %d",
				sel.Qty, line.MaxAllowedQty, line.Allocatable, line.Available, line.RequestCode, line.ItemID)
		}
		if i == 0 {
			create.RequestingWarehouseID = line.RequestingWarehouseID
			create.FulfillingWarehouseID = line.FulfillingWarehouseID
		} else if line.RequestingWarehouseID != create.RequestingWarehouseID || line.FulfillingWarehouseID != create.FulfillingWarehouseID {
			return delivery.DeliveryNote{}, shared.Validation(field, "moves stock from warehouse %d to %d; selection must stay on %d to %d",
				line.FulfillingWarehouseID, line.RequestingWarehouseID, create.FulfillingWarehouseID, create.RequestingWarehouseID)
		}
		create.Lines = append(create.Lines, delivery.CreateLine{
			StockRequestID:     line.StockRequestID,
			StockRequestItemID: line.StockRequestItemID,
			AllocatedQty:       sel.Qty,
		})
	}
	create.Notes = input.Notes

	dn, err := s.creator.CreateDeliveryNote(ctx, create, actor)
	if err != nil {
		return delivery.DeliveryNote{}, err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("planner session cleanup failed", slog.String("session_id", sessionID), slog.Any("error", err))
	}
	return dn, nil
}

// candidateLines drops fully received lines and lines without a fulfilling
// warehouse, then orders the rest for the operator.
func candidateLines(eligible []stockrequests.Line) []Line {
	out := make([]Line, 0, len(eligible))
	for _, src := range eligible {
		if src.FulfillingWarehouseID == nil {
			continue
		}
		allocatable := src.Allocatable()
		if !allocatable.IsPositive() {
			continue
		}
		out = append(out, Line{
			StockRequestID:        src.StockRequestID,
			StockRequestItemID:    src.ID,
			RequestCode:           src.RequestCode,
			Priority:              src.Priority,
			RequiredDate:          src.RequiredDate,
			RequestingWarehouseID: src.RequestingWarehouseID,
			FulfillingWarehouseID: *src.FulfillingWarehouseID,
			ItemID:                src.ItemID,
			UOMID:                 src.UOMID,
			RequestedQty:          src.RequestedQty,
			ReceivedQty:           src.ReceivedQty,
			Allocatable:           allocatable,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if (a.RequiredDate == nil) != (b.RequiredDate == nil) {
			return a.RequiredDate != nil
		}
		if a.RequiredDate != nil && !a.RequiredDate.Equal(*b.RequiredDate) {
			return a.RequiredDate.Before(*b.RequiredDate)
		}
		if a.RequestCode != b.RequestCode {
			return a.RequestCode < b.RequestCode
		}
		return a.StockRequestItemID < b.StockRequestItemID
	})
	return out
}

// loadAvailability issues one batch query per distinct fulfilling warehouse.
func (s *Service) loadAvailability(ctx context.Context, lines []Line) (map[int64]map[int64]decimal.Decimal, error) {
	byWarehouse := make(map[int64][]int64)
	for _, l := range lines {
		byWarehouse[l.FulfillingWarehouseID] = append(byWarehouse[l.FulfillingWarehouseID], l.ItemID)
	}

	var mu sync.Mutex
	result := make(map[int64]map[int64]decimal.Decimal, len(byWarehouse))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentWarehouses)
	for warehouseID, itemIDs := range byWarehouse {
		warehouseID, itemIDs := warehouseID, itemIDs
		g.Go(func() error {
			available, err := s.oracle.GetAvailableBatch(ctx, warehouseID, itemIDs)
			if err != nil {
				return fmt.Errorf("warehouse %d: %w", warehouseID, err)
			}
			mu.Lock()
			result[warehouseID] = available
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func staleSession(sessionID, reason string) error {
	return shared.Validation("session_id", "planning session %s is stale: %s; plan again", sessionID, reason)
}
