package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/api/handler"
	apimw "github.com/ricirt/docqueue/internal/api/middleware"
	"github.com/ricirt/docqueue/internal/service"
)

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(
	svc *service.QueueService,
	reg prometheus.Gatherer,
	ping func(ctx context.Context) error,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)            // recover panics, return 500
	r.Use(chimw.RealIP)               // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1 << 20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)        // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	qh := handler.NewQueueHandler(svc, logger)
	hh := handler.NewHealthHandler(ping)

	r.Get("/health", hh.Health)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	r.Route("/api/v1/queues/{queue}", func(r chi.Router) {
		r.Post("/items", qh.Push)
		r.Post("/pop", qh.Pop)
		r.Get("/stats", qh.Stats)

		r.Route("/items/{id}", func(r chi.Router) {
			r.Get("/", qh.Get)
			r.Patch("/", qh.Update)
			r.Delete("/", qh.Close)
			r.Post("/reschedule", qh.Reschedule)
		})
	})

	return r
}
