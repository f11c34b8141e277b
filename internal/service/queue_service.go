package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/domain"
	"github.com/ricirt/docqueue/internal/queue"
	"github.com/ricirt/docqueue/internal/repository"
)

// Stats is the snapshot returned for GET /queues/{queue}/stats.
type Stats struct {
	Queue      string `json:"queue"`
	Collection string `json:"collection"`
	Depth      int64  `json:"depth"`
}

// QueueService resolves logical queue names to *queue.Queue values sharing one
// repository and one set of options.
// HTTP handlers and workers depend on this service, not on each other.
type QueueService struct {
	repo   repository.DocumentRepository
	opts   []queue.Option
	logger *zap.Logger

	mu     sync.Mutex
	queues map[string]*queue.Queue
}

func NewQueueService(
	repo repository.DocumentRepository,
	logger *zap.Logger,
	opts ...queue.Option,
) *QueueService {
	return &QueueService{
		repo:   repo,
		opts:   append([]queue.Option{queue.WithLogger(logger)}, opts...),
		logger: logger,
		queues: make(map[string]*queue.Queue),
	}
}

// Queue returns the queue bound to name, constructing it on first use.
func (s *QueueService) Queue(name string) (*queue.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[name]; ok {
		return q, nil
	}
	q, err := queue.New(s.repo, name, s.opts...)
	if err != nil {
		return nil, err
	}
	s.queues[name] = q
	return q, nil
}

// Names lists the queues resolved so far, sorted.
func (s *QueueService) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.queues))
	for name := range s.queues {
		names = append(names, name)
	}
	s.mu.Unlock()
	slices.Sort(names)
	return names
}

// Push validates and enqueues one payload, returning the new item id.
func (s *QueueService) Push(ctx context.Context, name string, req domain.PushRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	q, err := s.Queue(name)
	if err != nil {
		return "", err
	}
	return q.Push(ctx, req.Payload, req.Schedule)
}

// Pop claims one item for a remote consumer. A nil document means the queue is empty.
func (s *QueueService) Pop(ctx context.Context, name string, req domain.PopRequest) (*domain.Document, error) {
	q, err := s.Queue(name)
	if err != nil {
		return nil, err
	}
	item, err := q.PopWithMessage(ctx, req.Message)
	if err != nil || item == nil {
		return nil, err
	}
	return &domain.Document{
		ID:        item.ID(),
		QueueName: item.QueueName(),
		Payload:   item.Payload(),
		Lease:     item.Lease(),
		Schedule:  item.Schedule(),
	}, nil
}

func (s *QueueService) Update(ctx context.Context, name, id string, req domain.UpdateRequest) error {
	q, err := s.owned(ctx, name, id)
	if err != nil {
		return err
	}
	return q.Handle(id).Update(ctx, req.Message)
}

func (s *QueueService) Close(ctx context.Context, name, id string) error {
	q, err := s.owned(ctx, name, id)
	if err != nil {
		return err
	}
	return q.Handle(id).Close(ctx)
}

func (s *QueueService) Reschedule(ctx context.Context, name, id string, req domain.RescheduleRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	q, err := s.owned(ctx, name, id)
	if err != nil {
		return err
	}
	return q.Handle(id).Reschedule(ctx, *req.NextRun)
}

// owned resolves name and rejects ids stored under another queue of the
// same collection with ErrNotFound. A missing id passes, so the lease
// operation that follows treats it as a no-op.
func (s *QueueService) owned(ctx context.Context, name, id string) (*queue.Queue, error) {
	q, err := s.Queue(name)
	if err != nil {
		return nil, err
	}
	doc, err := s.repo.GetByID(ctx, q.Collection(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return q, nil
	case err != nil:
		return nil, fmt.Errorf("lookup %s: %w", id, err)
	case doc.QueueName != name:
		return nil, domain.ErrNotFound
	}
	return q, nil
}

// Get reads one stored item. Items that belong to another queue in the same
// collection are reported as not found.
func (s *QueueService) Get(ctx context.Context, name, id string) (*domain.Document, error) {
	q, err := s.Queue(name)
	if err != nil {
		return nil, err
	}
	doc, err := s.repo.GetByID(ctx, q.Collection(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if doc.QueueName != name {
		return nil, domain.ErrNotFound
	}
	return doc, nil
}

func (s *QueueService) Stats(ctx context.Context, name string) (*Stats, error) {
	q, err := s.Queue(name)
	if err != nil {
		return nil, err
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{Queue: name, Collection: q.Collection(), Depth: depth}, nil
}
