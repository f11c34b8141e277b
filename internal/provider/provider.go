package provider

import (
	"context"
	"time"

	"github.com/ricirt/docqueue/internal/domain"
	"github.com/ricirt/docqueue/internal/queue"
)

// Outcome tells the worker what to do with an item its handler finished.
// The zero value means done: the item is closed.
type Outcome struct {
	RescheduleAt *time.Time
}

// Done is the outcome for completed work.
func Done() Outcome { return Outcome{} }

// RescheduleAt defers the item to t instead of closing it.
func RescheduleAt(t time.Time) Outcome { return Outcome{RescheduleAt: &t} }

// DeliveryRequest is the JSON body posted to the webhook.
type DeliveryRequest struct {
	ID       string           `json:"id"`
	Queue    string           `json:"queue"`
	Payload  domain.Payload   `json:"payload"`
	Schedule *domain.Schedule `json:"schedule,omitempty"`
}

// DeliveryResponse is the optional JSON body the webhook may answer with.
type DeliveryResponse struct {
	RescheduleAt *time.Time `json:"reschedule_at,omitempty"`
}

// Handler processes one claimed item.
// Returning an error leaves the lease to expire so another consumer can reclaim the item.
type Handler interface {
	Handle(ctx context.Context, item *queue.Item) (Outcome, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, item *queue.Item) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, item *queue.Item) (Outcome, error) {
	return f(ctx, item)
}
