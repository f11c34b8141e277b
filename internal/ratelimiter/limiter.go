package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// QueueLimiters holds one token bucket per consumed queue.
// It caps how often the worker pool polls the store for each queue,
// so idle consumers cannot hammer the store with empty Pops.
type QueueLimiters struct {
	limiters map[string]*rate.Limiter
}

// New creates a limiter per queue allowing ratePerSec polls per second.
// Burst equals the rate so no credit is saved up beyond one second.
// A non-positive rate disables limiting.
func New(ratePerSec int, queues []string) *QueueLimiters {
	cl := &QueueLimiters{limiters: make(map[string]*rate.Limiter, len(queues))}
	if ratePerSec <= 0 {
		return cl
	}
	for _, q := range queues {
		cl.limiters[q] = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return cl
}

// Wait blocks until the queue's limiter grants a token. Queues without a
// limiter pass straight through. Returns a non-nil error only if ctx is
// cancelled while waiting.
func (cl *QueueLimiters) Wait(ctx context.Context, queue string) error {
	l, ok := cl.limiters[queue]
	if !ok {
		return ctx.Err()
	}
	return l.Wait(ctx)
}
