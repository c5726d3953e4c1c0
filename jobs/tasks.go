package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fulfillment/internal/delivery"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDeliveryNoteReceived follows a committed delivery note receipt.
	TaskDeliveryNoteReceived = "delivery:note_received"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// NoteReceivedPayload is the task form of delivery.NoteReceived.
type NoteReceivedPayload struct {
	DeliveryNoteID  int64     `json:"delivery_note_id"`
	Number          string    `json:"number"`
	StockRequestIDs []int64   `json:"stock_request_ids"`
	ActorID         int64     `json:"actor_id"`
	ReceivedAt      time.Time `json:"received_at"`
}

// NewNoteReceivedTask constructs the post-receipt task. The task id is derived
// from the delivery note so a repeated publish is rejected by asynq.
func NewNoteReceivedTask(evt delivery.NoteReceived) (*asynq.Task, error) {
	data, err := json.Marshal(NoteReceivedPayload(evt))
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliveryNoteReceived, data,
		asynq.TaskID("dn-received-"+evt.Number),
		asynq.MaxRetry(10),
		asynq.Queue(QueueDefault),
	), nil
}

// IdempotencyCleanupPayload configures a cleanup run.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
