package delivery

import (
	"context"
	"time"
)

// NoteReceived is published after a receive transition commits.
type NoteReceived struct {
	DeliveryNoteID  int64     `json:"delivery_note_id"`
	Number          string    `json:"number"`
	StockRequestIDs []int64   `json:"stock_request_ids"`
	ActorID         int64     `json:"actor_id"`
	ReceivedAt      time.Time `json:"received_at"`
}

// EventPublisher hands committed fulfillment events to asynchronous consumers.
type EventPublisher interface {
	PublishNoteReceived(ctx context.Context, evt NoteReceived) error
}
