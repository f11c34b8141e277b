// Package queue implements a lease-based work queue over a shared document store.
//
// Many logical queues share one collection and are told apart by name. A
// consumer claims one item with Pop, which leases it for MaxProcessingTime;
// while the lease is live no other Pop returns that item. The holder then
// Closes the item (done), Reschedules it (run again later) or lets the lease
// lapse, after which any consumer may reclaim it.
//
// All exclusivity comes from the repository's atomic FindAndLease. Nothing
// in this package locks, so the guarantees hold across processes.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/domain"
	"github.com/ricirt/docqueue/internal/repository"
)

const (
	DefaultMaxProcessingTime = 30 * time.Minute
	DefaultCollection        = "docqueue"
)

// Hooks carries optional callbacks fired after each successful store operation.
// Nil members are no-ops.
type Hooks struct {
	OnPush       func(queue string)
	OnClaim      func(queue string)
	OnEmpty      func(queue string)
	OnUpdate     func(queue string)
	OnClose      func(queue string)
	OnReschedule func(queue string)
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxProcessingTime sets the lease duration granted by Pop and Update.
func WithMaxProcessingTime(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.maxProcessingTime = d
		}
	}
}

// WithCollection sets the physical collection shared by logical queues.
func WithCollection(name string) Option {
	return func(q *Queue) { q.collection = name }
}

// WithHolder sets the identity recorded on leases. Defaults to the host name.
func WithHolder(holder string) Option {
	return func(q *Queue) {
		if holder != "" {
			q.holder = holder
		}
	}
}

// WithClock replaces time.Now; tests use it to step over lease boundaries.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(q *Queue) { q.hooks = h }
}

// Queue mediates push and claim access to one logical queue.
type Queue struct {
	repo              repository.DocumentRepository
	name              string
	collection        string
	maxProcessingTime time.Duration
	holder            string
	now               func() time.Time
	logger            *zap.Logger
	hooks             Hooks
}

// New binds a Queue to name within repo. It fails with domain.ErrInvalidArgument
// when name is blank or repo is nil.
func New(repo repository.DocumentRepository, name string, opts ...Option) (*Queue, error) {
	if strings.TrimSpace(name) == "" {
		return nil, domain.ErrEmptyQueueName
	}
	if repo == nil {
		return nil, domain.ErrNilRepository
	}

	q := &Queue{
		repo:              repo,
		name:              name,
		collection:        DefaultCollection,
		maxProcessingTime: DefaultMaxProcessingTime,
		holder:            defaultHolder(),
		now:               time.Now,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if strings.TrimSpace(q.collection) == "" {
		return nil, domain.ErrEmptyCollection
	}
	q.logger = q.logger.With(zap.String("queue", name), zap.String("collection", q.collection))
	return q, nil
}

func (q *Queue) Name() string                     { return q.name }
func (q *Queue) Collection() string               { return q.collection }
func (q *Queue) MaxProcessingTime() time.Duration { return q.maxProcessingTime }
func (q *Queue) Holder() string                   { return q.holder }

// Push stores payload as a new item. A nil schedule means runnable now with no repeat.
// It returns the id assigned by the store.
func (q *Queue) Push(ctx context.Context, payload domain.Payload, schedule *domain.Schedule) (string, error) {
	if payload == nil {
		return "", domain.ErrNilPayload
	}

	sched := domain.Schedule{NextRun: q.now().UTC(), Repeat: domain.RepeatNone}
	if schedule != nil {
		sched = *schedule
		if sched.Repeat == "" {
			sched.Repeat = domain.RepeatNone
		}
		if !sched.Repeat.IsValid() {
			return "", domain.ErrInvalidRepeat
		}
	}

	id, err := q.repo.Insert(ctx, q.collection, &domain.Document{
		QueueName: q.name,
		Payload:   payload,
		Schedule:  &sched,
	})
	if err != nil {
		return "", fmt.Errorf("push: %w", err)
	}

	fire(q.hooks.OnPush, q.name)
	q.logger.Debug("item pushed", zap.String("id", id), zap.Time("next_run", sched.NextRun))
	return id, nil
}

// Pop claims one eligible item, or returns (nil, nil) when none is available.
// It never blocks waiting for work; callers poll.
func (q *Queue) Pop(ctx context.Context) (*Item, error) {
	return q.PopWithMessage(ctx, "")
}

// PopWithMessage is Pop with an initial status message recorded in the same
// atomic step as the claim.
func (q *Queue) PopWithMessage(ctx context.Context, message string) (*Item, error) {
	now := q.now().UTC()
	lease := domain.Lease{
		Holder:    q.holder,
		ExpiresAt: now.Add(q.maxProcessingTime),
		Message:   message,
	}

	doc, err := q.repo.FindAndLease(ctx, q.collection, q.name, now, lease)
	if errors.Is(err, domain.ErrNoItem) {
		fire(q.hooks.OnEmpty, q.name)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop: %w", err)
	}

	fire(q.hooks.OnClaim, q.name)
	q.logger.Debug("item claimed", zap.String("id", doc.ID), zap.Time("expires_at", lease.ExpiresAt))
	return newItem(q, doc), nil
}

// Handle returns a handle for an item claimed earlier, addressed only by id.
// Its Payload is nil; remote consumers use it to Update, Close or Reschedule.
func (q *Queue) Handle(id string) *Item {
	return &Item{q: q, id: id}
}

// Depth counts the items stored for this queue, leased or not.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.repo.Count(ctx, q.collection, q.name)
	if err != nil {
		return 0, fmt.Errorf("depth: %w", err)
	}
	return n, nil
}

func defaultHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

func fire(fn func(string), queue string) {
	if fn != nil {
		fn(queue)
	}
}
