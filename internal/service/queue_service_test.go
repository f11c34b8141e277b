package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/domain"
	"github.com/ricirt/docqueue/internal/queue"
	"github.com/ricirt/docqueue/internal/repository"
	"github.com/ricirt/docqueue/internal/service"
)

func newService(opts ...queue.Option) (*service.QueueService, *repository.MemoryDocumentRepository) {
	repo := repository.NewMemoryDocumentRepository()
	svc := service.NewQueueService(repo, zap.NewNop(), opts...)
	return svc, repo
}

func TestQueueService_QueueIsCached(t *testing.T) {
	svc, _ := newService()

	a, err := svc.Queue("emails")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := svc.Queue("emails")
	if a != b {
		t.Fatal("expected the same *queue.Queue for repeated lookups")
	}

	_, _ = svc.Queue("alerts")
	if names := svc.Names(); len(names) != 2 || names[0] != "alerts" || names[1] != "emails" {
		t.Fatalf("unexpected names %v", names)
	}

	if _, err := svc.Queue("  "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for blank name, got %v", err)
	}
}

func TestQueueService_PushPopClose(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	id, err := svc.Push(ctx, "emails", domain.PushRequest{Payload: domain.Payload{"to": "a@b.c"}})
	if err != nil {
		t.Fatalf("push: %v", err)
	}

	doc, err := svc.Pop(ctx, "emails", domain.PopRequest{Message: "picked"})
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if doc == nil || doc.ID != id {
		t.Fatalf("expected to claim %s, got %+v", id, doc)
	}
	if doc.Lease == nil || doc.Lease.Message != "picked" {
		t.Fatalf("expected lease message 'picked', got %+v", doc.Lease)
	}
	if doc.Payload["to"] != "a@b.c" {
		t.Fatalf("unexpected payload %v", doc.Payload)
	}

	again, err := svc.Pop(ctx, "emails", domain.PopRequest{})
	if err != nil || again != nil {
		t.Fatalf("expected empty pop while leased, got %+v err=%v", again, err)
	}

	if err := svc.Close(ctx, "emails", id); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := repo.Len(queue.DefaultCollection); n != 0 {
		t.Fatalf("expected empty collection after close, got %d", n)
	}
}

func TestQueueService_Push_Invalid(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	tests := []struct {
		name  string
		queue string
		req   domain.PushRequest
	}{
		{"nil payload", "emails", domain.PushRequest{}},
		{"bad repeat", "emails", domain.PushRequest{
			Payload:  domain.Payload{},
			Schedule: &domain.Schedule{NextRun: time.Now(), Repeat: "yearly"},
		}},
		{"blank queue", "", domain.PushRequest{Payload: domain.Payload{}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Push(ctx, tc.queue, tc.req); !errors.Is(err, domain.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}

func TestQueueService_UpdateAndReschedule(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newService(queue.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	id, _ := svc.Push(ctx, "reports", domain.PushRequest{Payload: domain.Payload{"n": 1}})
	if _, err := svc.Pop(ctx, "reports", domain.PopRequest{}); err != nil {
		t.Fatalf("pop: %v", err)
	}

	if err := svc.Update(ctx, "reports", id, domain.UpdateRequest{Message: "50%"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	doc, err := svc.Get(ctx, "reports", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc.Lease == nil || doc.Lease.Message != "50%" {
		t.Fatalf("expected lease message 50%%, got %+v", doc.Lease)
	}

	if err := svc.Reschedule(ctx, "reports", id, domain.RescheduleRequest{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument without next_run, got %v", err)
	}

	next := now.Add(time.Hour)
	if err := svc.Reschedule(ctx, "reports", id, domain.RescheduleRequest{NextRun: &next}); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	doc, _ = svc.Get(ctx, "reports", id)
	if doc.Lease != nil {
		t.Fatalf("expected lease cleared, got %+v", doc.Lease)
	}
	if doc.Schedule == nil || !doc.Schedule.NextRun.Equal(next) || doc.Schedule.Repeat != domain.RepeatCustom {
		t.Fatalf("unexpected schedule %+v", doc.Schedule)
	}
}

func TestQueueService_Get_OtherQueueIsNotFound(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	id, _ := svc.Push(ctx, "emails", domain.PushRequest{Payload: domain.Payload{}})

	if _, err := svc.Get(ctx, "reports", id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound across queues, got %v", err)
	}
	if _, err := svc.Get(ctx, "emails", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func TestQueueService_LeaseOperationsStayInTheirQueue(t *testing.T) {
	svc, repo := newService()
	ctx := context.Background()

	id, _ := svc.Push(ctx, "emails", domain.PushRequest{Payload: domain.Payload{}})
	if _, err := svc.Pop(ctx, "emails", domain.PopRequest{}); err != nil {
		t.Fatalf("pop: %v", err)
	}
	next := time.Now().Add(time.Hour)

	tests := []struct {
		name string
		op   func() error
	}{
		{"update", func() error { return svc.Update(ctx, "reports", id, domain.UpdateRequest{Message: "x"}) }},
		{"reschedule", func() error {
			return svc.Reschedule(ctx, "reports", id, domain.RescheduleRequest{NextRun: &next})
		}},
		{"close", func() error { return svc.Close(ctx, "reports", id) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.op(); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}

	doc, err := svc.Get(ctx, "emails", id)
	if err != nil {
		t.Fatalf("item must survive: %v", err)
	}
	if doc.Lease == nil || doc.Lease.Message != "" {
		t.Fatalf("lease must be untouched, got %+v", doc.Lease)
	}
	if repo.Len(queue.DefaultCollection) != 1 {
		t.Fatal("expected the item to remain stored")
	}

	// Unknown ids remain a no-op.
	if err := svc.Close(ctx, "reports", "missing"); err != nil {
		t.Fatalf("expected no-op for unknown id, got %v", err)
	}
}

func TestQueueService_Stats(t *testing.T) {
	svc, _ := newService(queue.WithCollection("jobs"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Push(ctx, "emails", domain.PushRequest{Payload: domain.Payload{"i": i}}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	_, _ = svc.Push(ctx, "reports", domain.PushRequest{Payload: domain.Payload{}})

	st, err := svc.Stats(ctx, "emails")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Depth != 3 || st.Collection != "jobs" || st.Queue != "emails" {
		t.Fatalf("unexpected stats %+v", st)
	}
}
