package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fulfillment/internal/jobs"
	"github.com/odyssey-erp/fulfillment/internal/stockrequests"
)

// StockRequestRecalculator re-derives a stock request's status from its items.
type StockRequestRecalculator interface {
	Recalculate(ctx context.Context, requestID int64) (stockrequests.Status, error)
}

// NoteReceivedJob asks the stock request owner to recalculate every request a
// received delivery note contributed to.
type NoteReceivedJob struct {
	Requests StockRequestRecalculator
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewNoteReceivedJob initialises the handler.
func NewNoteReceivedJob(requests StockRequestRecalculator, logger *slog.Logger, metrics *jobmetrics.Metrics) *NoteReceivedJob {
	return &NoteReceivedJob{Requests: requests, Logger: logger, Metrics: metrics}
}

// Handle processes TaskDeliveryNoteReceived tasks. Recalculation is idempotent
// so a retried task repeats every request.
func (j *NoteReceivedJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Requests == nil {
		return errors.New("note received: handler not configured")
	}
	var payload NoteReceivedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("note received: decode payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskDeliveryNoteReceived)
	defer func() { err = tracker.End(err) }()

	logger := loggerOrDefault(j.Logger).With(
		slog.Int64("dn_id", payload.DeliveryNoteID),
		slog.String("dn_number", payload.Number),
	)

	var errs []error
	for _, id := range payload.StockRequestIDs {
		status, rerr := j.Requests.Recalculate(ctx, id)
		if rerr != nil {
			logger.Error("stock request recalculation failed", slog.Int64("stock_request_id", id), slog.Any("error", rerr))
			errs = append(errs, rerr)
			continue
		}
		j.Metrics.RecordRecalculation(string(status))
		logger.Info("stock request recalculated", slog.Int64("stock_request_id", id), slog.String("status", string(status)))
	}
	return errors.Join(errs...)
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
