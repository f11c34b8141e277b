package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/api"
	"github.com/ricirt/docqueue/internal/config"
	"github.com/ricirt/docqueue/internal/db"
	"github.com/ricirt/docqueue/internal/metrics"
	"github.com/ricirt/docqueue/internal/provider"
	"github.com/ricirt/docqueue/internal/queue"
	"github.com/ricirt/docqueue/internal/ratelimiter"
	"github.com/ricirt/docqueue/internal/repository"
	"github.com/ricirt/docqueue/internal/service"
	"github.com/ricirt/docqueue/internal/worker"
)

// store bundles the selected backend with its health probe and cleanup.
type store struct {
	repo  repository.DocumentRepository
	ping  func(ctx context.Context) error
	close func()
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- document store ----
	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open document store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer st.close()

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := service.NewQueueService(st.repo, logger,
		queue.WithCollection(cfg.CollectionName),
		queue.WithMaxProcessingTime(cfg.MaxProcessingTime),
		queue.WithHolder(cfg.HolderID),
		queue.WithHooks(m.QueueHooks()),
	)

	// ---- consumers ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	onDone, onFailed, onDepth := m.WorkerHooks()

	var pool *worker.Pool
	if len(cfg.ConsumerQueues) > 0 {
		handler := provider.NewWebhookHandler(cfg.WebhookURL, cfg.WebhookTimeout)
		limiter := ratelimiter.New(cfg.PollRateLimit, cfg.ConsumerQueues)
		pool, err = worker.NewPool(cfg, svc, handler, limiter, logger, worker.MetricHooks{
			OnDone:   onDone,
			OnFailed: onFailed,
		})
		if err != nil {
			logger.Fatal("failed to build worker pool", zap.Error(err))
		}
		pool.Start(workerCtx)
		logger.Info("consumers started",
			zap.Strings("queues", cfg.ConsumerQueues),
			zap.Int("workers", pool.Size()),
		)
	}

	depthW := worker.NewDepthWorker(svc, cfg.DepthInterval, logger, onDepth)
	go depthW.Run(workerCtx)

	// ---- HTTP server ----
	router := api.NewRouter(svc, reg, st.ping, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("backend", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Signal all consumers to stop claiming.
	cancelWorkers()

	// 3. Wait for in-flight items to be settled. Items whose handler was
	// interrupted keep their lease and are reclaimed after it expires.
	if pool != nil {
		pool.Wait()
	}

	logger.Info("server stopped cleanly")
}

// openStore connects the backend named by cfg.StoreBackend and prepares its schema.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pgPool, err := db.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			pgPool.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
		return &store{
			repo:  repository.NewPgDocumentRepository(pgPool),
			ping:  pgPool.Ping,
			close: pgPool.Close,
		}, nil

	case config.BackendMongo:
		client, database, err := db.ConnectMongo(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := repository.EnsureMongoIndexes(ctx, database, cfg.CollectionName); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return &store{
			repo: repository.NewMongoDocumentRepository(database),
			ping: func(ctx context.Context) error { return client.Ping(ctx, nil) },
			close: func() {
				if err := client.Disconnect(context.Background()); err != nil {
					logger.Warn("mongo disconnect failed", zap.Error(err))
				}
			},
		}, nil

	case config.BackendRedis:
		rdb, err := db.ConnectRedis(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &store{
			repo: repository.NewRedisDocumentRepository(rdb, cfg.RedisKeyPrefix),
			ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			close: func() {
				if err := rdb.Close(); err != nil {
					logger.Warn("redis close failed", zap.Error(err))
				}
			},
		}, nil
	}

	logger.Warn("using in-memory store; items are lost on restart")
	return &store{
		repo:  repository.NewMemoryDocumentRepository(),
		close: func() {},
	}, nil
}
