package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/service"
)

// DepthWorker periodically samples the depth of every queue the service has
// resolved and reports it through onDepth.
type DepthWorker struct {
	svc      *service.QueueService
	interval time.Duration
	logger   *zap.Logger
	onDepth  func(queue string, depth int64)
}

func NewDepthWorker(
	svc *service.QueueService,
	interval time.Duration,
	logger *zap.Logger,
	onDepth func(string, int64),
) *DepthWorker {
	if onDepth == nil {
		onDepth = func(string, int64) {}
	}
	return &DepthWorker{svc: svc, interval: interval, logger: logger, onDepth: onDepth}
}

// Run ticks every interval and samples each known queue.
// Stops cleanly when ctx is cancelled.
func (dw *DepthWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(dw.interval)
	defer ticker.Stop()

	dw.logger.Info("depth worker started", zap.Duration("interval", dw.interval))

	for {
		select {
		case <-ctx.Done():
			dw.logger.Info("depth worker stopping")
			return
		case <-ticker.C:
			dw.sample(ctx)
		}
	}
}

func (dw *DepthWorker) sample(ctx context.Context) {
	for _, name := range dw.svc.Names() {
		st, err := dw.svc.Stats(ctx, name)
		if err != nil {
			dw.logger.Error("depth sample failed", zap.String("queue", name), zap.Error(err))
			continue
		}
		dw.onDepth(name, st.Depth)
	}
}
