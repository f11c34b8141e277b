package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/config"
	"github.com/ricirt/docqueue/internal/provider"
	"github.com/ricirt/docqueue/internal/ratelimiter"
	"github.com/ricirt/docqueue/internal/service"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the pool constructor signature clean.
type MetricHooks struct {
	OnDone   func(queue string, latency time.Duration)
	OnFailed func(queue string)
}

// Pool manages the lifecycle of all consumers.
// Workers never coordinate with each other: exclusivity comes from the lease
// taken by Pop, so several pools in several processes can share the store.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
}

// NewPool creates cfg.WorkersPerQueue workers for every queue in cfg.ConsumerQueues.
func NewPool(
	cfg *config.Config,
	svc *service.QueueService,
	handler provider.Handler,
	limiter *ratelimiter.QueueLimiters,
	logger *zap.Logger,
	hooks MetricHooks,
) (*Pool, error) {
	var workers []*Worker
	for _, name := range cfg.ConsumerQueues {
		q, err := svc.Queue(name)
		if err != nil {
			return nil, err
		}
		for i := 0; i < cfg.WorkersPerQueue; i++ {
			id := len(workers)
			workers = append(workers, NewWorker(
				id, q, handler, limiter,
				cfg.PollInterval,
				cfg.HeartbeatInterval,
				logger.With(zap.Int("worker_id", id), zap.String("queue", name)),
				hooks.OnDone,
				hooks.OnFailed,
			))
		}
	}
	return &Pool{workers: workers}, nil
}

// Size is the number of workers the pool runs.
func (p *Pool) Size() int { return len(p.workers) }

// Start launches all workers as goroutines.
// The provided ctx is forwarded to every worker; cancelling it
// triggers a graceful shutdown of the entire pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned after ctx is cancelled.
// Call this after cancelling the context to ensure in-flight items are settled.
func (p *Pool) Wait() {
	p.wg.Wait()
}
