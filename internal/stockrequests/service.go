package stockrequests

import (
	"context"
	"fmt"
	"log/slog"
)

// RepositoryPort is the persistence contract of the service.
type RepositoryPort interface {
	ListEligibleLines(ctx context.Context, businessUnitID int64, statuses []Status) ([]Line, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Service exposes stock request reads and status recalculation.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds the service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// EligibleLines returns the selectable lines for a business unit.
func (s *Service) EligibleLines(ctx context.Context, businessUnitID int64) ([]Line, error) {
	return s.repo.ListEligibleLines(ctx, businessUnitID, SelectableStatuses)
}

// Recalculate derives a request's status from its items' received quantities.
// Only a request whose every item is fully received moves to completed; a
// partial receipt keeps the current status so the remainder stays
// allocatable. Closed requests are left untouched.
func (s *Service) Recalculate(ctx context.Context, requestID int64) (Status, error) {
	var result Status
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sr, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		result = sr.Status
		if sr.Status.IsClosed() {
			return nil
		}
		next := deriveStatus(sr)
		if next == sr.Status {
			return nil
		}
		if err := tx.UpdateStatus(ctx, sr.ID, next); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		s.logger.Info("stock request status recalculated",
			slog.Int64("stock_request_id", sr.ID),
			slog.String("from", string(sr.Status)),
			slog.String("to", string(next)),
		)
		result = next
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("recalculate stock request %d: %w", requestID, err)
	}
	return result, nil
}

func deriveStatus(sr StockRequest) Status {
	if len(sr.Items) == 0 {
		return sr.Status
	}
	for _, it := range sr.Items {
		if !it.FullyReceived() {
			return sr.Status
		}
	}
	return StatusCompleted
}
