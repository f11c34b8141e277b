package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/domain"
)

// Item is the handle for one claimed lease. The payload is a read-only view;
// every operation addresses the stored document by id only.
type Item struct {
	q        *Queue
	id       string
	payload  domain.Payload
	lease    *domain.Lease
	schedule *domain.Schedule
}

func newItem(q *Queue, doc *domain.Document) *Item {
	return &Item{
		q:        q,
		id:       doc.ID,
		payload:  doc.Payload,
		lease:    doc.Lease,
		schedule: doc.Schedule,
	}
}

func (it *Item) ID() string        { return it.id }
func (it *Item) QueueName() string { return it.q.name }

// Payload returns a copy of the claimed payload.
func (it *Item) Payload() domain.Payload { return it.payload.Clone() }

// Lease returns the lease as last known to this handle.
func (it *Item) Lease() *domain.Lease {
	if it.lease == nil {
		return nil
	}
	l := *it.lease
	return &l
}

// Schedule returns the schedule as it was when the item was claimed.
func (it *Item) Schedule() *domain.Schedule {
	if it.schedule == nil {
		return nil
	}
	s := *it.schedule
	return &s
}

// Update records a progress message and pushes the lease expiry out by a full
// MaxProcessingTime, so a slow but alive holder keeps its claim.
func (it *Item) Update(ctx context.Context, message string) error {
	expiresAt := it.q.now().UTC().Add(it.q.maxProcessingTime)
	err := it.q.repo.UpdateByID(ctx, it.q.collection, it.id, domain.DocumentUpdate{
		LeaseMessage:   &message,
		LeaseExpiresAt: &expiresAt,
	})
	if err != nil {
		return it.benign("update", err)
	}
	if it.lease != nil {
		it.lease.Message = message
		it.lease.ExpiresAt = expiresAt
	}
	fire(it.q.hooks.OnUpdate, it.q.name)
	return nil
}

// Close deletes the item. Deletion is the only way an item completes;
// closing an item that is already gone is a no-op.
func (it *Item) Close(ctx context.Context) error {
	err := it.q.repo.DeleteByID(ctx, it.q.collection, it.id)
	if err != nil {
		return it.benign("close", err)
	}
	fire(it.q.hooks.OnClose, it.q.name)
	return nil
}

// Reschedule releases the lease and hides the item until nextRun, after which
// it is claimable as if freshly pushed. Repeat is recorded as custom.
func (it *Item) Reschedule(ctx context.Context, nextRun time.Time) error {
	sched := domain.Schedule{NextRun: nextRun.UTC(), Repeat: domain.RepeatCustom}
	err := it.q.repo.UpdateByID(ctx, it.q.collection, it.id, domain.DocumentUpdate{
		Schedule:   &sched,
		ClearLease: true,
	})
	if err != nil {
		return it.benign("reschedule", err)
	}
	it.lease = nil
	it.schedule = &sched
	fire(it.q.hooks.OnReschedule, it.q.name)
	return nil
}

// benign drops ErrNotFound: another consumer may already have closed or
// reclaimed the item. Other errors are returned wrapped.
func (it *Item) benign(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		it.q.logger.Debug("item already gone", zap.String("op", op), zap.String("id", it.id))
		return nil
	}
	return fmt.Errorf("%s %s: %w", op, it.id, err)
}
