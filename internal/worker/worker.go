package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/provider"
	"github.com/ricirt/docqueue/internal/queue"
	"github.com/ricirt/docqueue/internal/ratelimiter"
)

const (
	heartbeatMessage = "processing"
	settleTimeout    = 10 * time.Second
)

// Worker is a single goroutine that polls one queue, hands each claimed item
// to the handler and settles it according to the outcome.
type Worker struct {
	id           int
	q            *queue.Queue
	handler      provider.Handler
	limiter      *ratelimiter.QueueLimiters
	pollInterval time.Duration
	heartbeat    time.Duration
	logger       *zap.Logger

	// Hooks for metrics; injected by the pool so the worker stays metrics-agnostic.
	onDone   func(queue string, latency time.Duration)
	onFailed func(queue string)
}

// NewWorker constructs a worker. onDone and onFailed are optional (nil = no-op).
// A heartbeat <= 0 disables lease renewal while the handler runs.
func NewWorker(
	id int,
	q *queue.Queue,
	handler provider.Handler,
	limiter *ratelimiter.QueueLimiters,
	pollInterval time.Duration,
	heartbeat time.Duration,
	logger *zap.Logger,
	onDone func(string, time.Duration),
	onFailed func(string),
) *Worker {
	if onDone == nil {
		onDone = func(string, time.Duration) {}
	}
	if onFailed == nil {
		onFailed = func(string) {}
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		id: id, q: q, handler: handler, limiter: limiter,
		pollInterval: pollInterval, heartbeat: heartbeat, logger: logger,
		onDone: onDone, onFailed: onFailed,
	}
}

// Run blocks until ctx is cancelled, claiming at most one item per iteration.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started", zap.Int("id", w.id))
	defer w.logger.Info("worker stopping", zap.Int("id", w.id))

	for {
		if err := w.limiter.Wait(ctx, w.q.Name()); err != nil {
			return
		}

		item, err := w.q.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("pop failed", zap.Error(err))
		}
		if item == nil {
			if !sleep(ctx, w.pollInterval) {
				return
			}
			continue
		}

		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item *queue.Item) {
	start := time.Now()
	log := w.logger.With(zap.String("item_id", item.ID()))

	hbCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.keepAlive(hbCtx, item, log)
	}()

	outcome, err := w.handler.Handle(ctx, item)
	stop()
	wg.Wait()

	if err != nil {
		// The lease is left in place; once it expires another consumer reclaims the item.
		log.Warn("handler failed", zap.Error(err))
		w.onFailed(w.q.Name())
		return
	}

	// Settle even during shutdown so finished work is not redelivered.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	if outcome.RescheduleAt != nil {
		if err := item.Reschedule(settleCtx, *outcome.RescheduleAt); err != nil {
			log.Error("failed to reschedule item", zap.Error(err))
			return
		}
		log.Info("item rescheduled", zap.Time("next_run", *outcome.RescheduleAt))
	} else {
		if err := item.Close(settleCtx); err != nil {
			log.Error("failed to close item", zap.Error(err))
			return
		}
		log.Info("item done")
	}

	elapsed := time.Since(start)
	w.onDone(w.q.Name(), elapsed)
	log.Debug("item settled", zap.Duration("latency", elapsed))
}

// keepAlive renews the lease every heartbeat until ctx is cancelled.
func (w *Worker) keepAlive(ctx context.Context, item *queue.Item, log *zap.Logger) {
	if w.heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(w.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := item.Update(ctx, heartbeatMessage); err != nil && ctx.Err() == nil {
				log.Warn("lease renewal failed", zap.Error(err))
			}
		}
	}
}

// sleep waits for d or until ctx is done; it reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
