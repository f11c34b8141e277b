package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/config"
	"github.com/ricirt/docqueue/internal/domain"
	"github.com/ricirt/docqueue/internal/provider"
	"github.com/ricirt/docqueue/internal/queue"
	"github.com/ricirt/docqueue/internal/ratelimiter"
	"github.com/ricirt/docqueue/internal/repository"
	"github.com/ricirt/docqueue/internal/service"
	"github.com/ricirt/docqueue/internal/worker"
)

func testConfig(queues ...string) *config.Config {
	return &config.Config{
		ConsumerQueues:    queues,
		WorkersPerQueue:   2,
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: 0,
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startPool(t *testing.T, cfg *config.Config, svc *service.QueueService, h provider.Handler, hooks worker.MetricHooks) func() {
	t.Helper()
	pool, err := worker.NewPool(cfg, svc, h, ratelimiter.New(0, nil), zap.NewNop(), hooks)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	return func() {
		cancel()
		pool.Wait()
	}
}

func TestNewPool_Size(t *testing.T) {
	svc := service.NewQueueService(repository.NewMemoryDocumentRepository(), zap.NewNop())
	pool, err := worker.NewPool(testConfig("emails", "reports"), svc, provider.HandlerFunc(nil), ratelimiter.New(0, nil), zap.NewNop(), worker.MetricHooks{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pool.Size() != 4 {
		t.Fatalf("expected 4 workers, got %d", pool.Size())
	}

	if _, err := worker.NewPool(testConfig(""), svc, nil, ratelimiter.New(0, nil), zap.NewNop(), worker.MetricHooks{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for blank queue, got %v", err)
	}
}

func TestWorker_DoneClosesItems(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	svc := service.NewQueueService(repo, zap.NewNop())
	ctx := context.Background()

	const n = 10
	for i := 0; i < n; i++ {
		if _, err := svc.Push(ctx, "emails", domain.PushRequest{Payload: domain.Payload{"i": i}}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		done atomic.Int64
	)
	h := provider.HandlerFunc(func(_ context.Context, item *queue.Item) (provider.Outcome, error) {
		mu.Lock()
		seen[item.ID()]++
		mu.Unlock()
		return provider.Done(), nil
	})
	stop := startPool(t, testConfig("emails"), svc, h, worker.MetricHooks{
		OnDone: func(string, time.Duration) { done.Add(1) },
	})
	defer stop()

	eventually(t, "all items closed", func() bool { return repo.Len(queue.DefaultCollection) == 0 })
	eventually(t, "done hooks", func() bool { return done.Load() == n })

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != n {
		t.Fatalf("expected %d distinct items handled, got %d", n, len(seen))
	}
	for id, c := range seen {
		if c != 1 {
			t.Fatalf("item %s handled %d times", id, c)
		}
	}
}

func TestWorker_RescheduleOutcome(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	svc := service.NewQueueService(repo, zap.NewNop())
	ctx := context.Background()

	id, _ := svc.Push(ctx, "reports", domain.PushRequest{Payload: domain.Payload{}})
	later := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	var calls atomic.Int64
	h := provider.HandlerFunc(func(context.Context, *queue.Item) (provider.Outcome, error) {
		calls.Add(1)
		return provider.RescheduleAt(later), nil
	})
	stop := startPool(t, testConfig("reports"), svc, h, worker.MetricHooks{})
	defer stop()

	eventually(t, "item rescheduled", func() bool {
		doc, err := svc.Get(ctx, "reports", id)
		return err == nil && doc.Lease == nil && doc.Schedule != nil && doc.Schedule.NextRun.Equal(later)
	})

	// Not due for an hour, so no second delivery.
	time.Sleep(30 * time.Millisecond)
	if c := calls.Load(); c != 1 {
		t.Fatalf("expected exactly one delivery, got %d", c)
	}
	if repo.Len(queue.DefaultCollection) != 1 {
		t.Fatal("expected rescheduled item to stay stored")
	}
}

func TestWorker_FailureLeavesLease(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	svc := service.NewQueueService(repo, zap.NewNop())
	ctx := context.Background()

	id, _ := svc.Push(ctx, "emails", domain.PushRequest{Payload: domain.Payload{}})

	var failed atomic.Int64
	h := provider.HandlerFunc(func(context.Context, *queue.Item) (provider.Outcome, error) {
		return provider.Outcome{}, errors.New("downstream unavailable")
	})
	stop := startPool(t, testConfig("emails"), svc, h, worker.MetricHooks{
		OnFailed: func(string) { failed.Add(1) },
	})
	defer stop()

	eventually(t, "failure hook", func() bool { return failed.Load() >= 1 })

	doc, err := svc.Get(ctx, "emails", id)
	if err != nil {
		t.Fatalf("expected item to survive a failed handler: %v", err)
	}
	if !doc.Lease.Live(time.Now()) {
		t.Fatalf("expected lease to still be live, got %+v", doc.Lease)
	}
	if c := failed.Load(); c != 1 {
		t.Fatalf("expected no redelivery before the lease expires, got %d failures", c)
	}
}

func TestWorker_HeartbeatRenewsLease(t *testing.T) {
	repo := repository.NewMemoryDocumentRepository()
	svc := service.NewQueueService(repo, zap.NewNop())
	ctx := context.Background()

	id, _ := svc.Push(ctx, "emails", domain.PushRequest{Payload: domain.Payload{}})

	renewed := make(chan struct{})
	h := provider.HandlerFunc(func(hctx context.Context, _ *queue.Item) (provider.Outcome, error) {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			doc, err := repo.GetByID(hctx, queue.DefaultCollection, id)
			if err == nil && doc.Lease != nil && doc.Lease.Message == "processing" {
				close(renewed)
				return provider.Done(), nil
			}
			time.Sleep(5 * time.Millisecond)
		}
		return provider.Outcome{}, errors.New("lease never renewed")
	})

	cfg := testConfig("emails")
	cfg.WorkersPerQueue = 1
	cfg.HeartbeatInterval = 10 * time.Millisecond
	stop := startPool(t, cfg, svc, h, worker.MetricHooks{})
	defer stop()

	select {
	case <-renewed:
	case <-time.After(4 * time.Second):
		t.Fatal("expected heartbeat to record the processing message")
	}
	eventually(t, "item closed", func() bool { return repo.Len(queue.DefaultCollection) == 0 })
}

func TestDepthWorker_SamplesKnownQueues(t *testing.T) {
	svc := service.NewQueueService(repository.NewMemoryDocumentRepository(), zap.NewNop())
	ctx := context.Background()

	_, _ = svc.Push(ctx, "emails", domain.PushRequest{Payload: domain.Payload{}})
	_, _ = svc.Push(ctx, "emails", domain.PushRequest{Payload: domain.Payload{}})
	_, _ = svc.Push(ctx, "reports", domain.PushRequest{Payload: domain.Payload{}})

	var (
		mu     sync.Mutex
		depths = make(map[string]int64)
	)
	dw := worker.NewDepthWorker(svc, 5*time.Millisecond, zap.NewNop(), func(q string, d int64) {
		mu.Lock()
		depths[q] = d
		mu.Unlock()
	})

	runCtx, cancel := context.WithCancel(ctx)
	finished := make(chan struct{})
	go func() {
		dw.Run(runCtx)
		close(finished)
	}()

	eventually(t, "depth samples", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return depths["emails"] == 2 && depths["reports"] == 1
	})

	cancel()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("depth worker did not stop after cancel")
	}
}
