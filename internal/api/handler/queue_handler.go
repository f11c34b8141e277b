package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/ricirt/docqueue/internal/api/middleware"
	"github.com/ricirt/docqueue/internal/domain"
	"github.com/ricirt/docqueue/internal/service"
)

// QueueHandler exposes push, claim and lease operations for remote consumers.
// Every route is scoped by the {queue} URL parameter.
type QueueHandler struct {
	svc    *service.QueueService
	logger *zap.Logger
}

func NewQueueHandler(svc *service.QueueService, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{svc: svc, logger: logger}
}

// Push handles POST /api/v1/queues/{queue}/items
//
// @Summary     Push an item
// @Tags        items
// @Accept      json
// @Produce     json
// @Param       queue  path      string              true  "Queue name"
// @Param       body   body      domain.PushRequest  true  "Payload and optional schedule"
// @Success     201    {object}  map[string]string
// @Failure     422    {object}  map[string]string
// @Router      /api/v1/queues/{queue}/items [post]
func (h *QueueHandler) Push(w http.ResponseWriter, r *http.Request) {
	var req domain.PushRequest
	if err := decodeBody(r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, err := h.svc.Push(r.Context(), chi.URLParam(r, "queue"), req)
	if err != nil {
		h.warn(r, "push failed", err)
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Pop handles POST /api/v1/queues/{queue}/pop
//
// @Summary     Claim one item
// @Tags        items
// @Accept      json
// @Produce     json
// @Param       queue  path      string             true   "Queue name"
// @Param       body   body      domain.PopRequest  false  "Initial lease message"
// @Success     200    {object}  domain.Document
// @Success     204    "Queue is empty"
// @Router      /api/v1/queues/{queue}/pop [post]
func (h *QueueHandler) Pop(w http.ResponseWriter, r *http.Request) {
	var req domain.PopRequest
	if err := decodeBody(r, &req, true); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	doc, err := h.svc.Pop(r.Context(), chi.URLParam(r, "queue"), req)
	if err != nil {
		h.warn(r, "pop failed", err)
		mapError(w, err)
		return
	}
	if doc == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// Get handles GET /api/v1/queues/{queue}/items/{id}
//
// @Summary  Read a stored item
// @Tags     items
// @Produce  json
// @Param    queue  path      string  true  "Queue name"
// @Param    id     path      string  true  "Item id"
// @Success  200    {object}  domain.Document
// @Failure  404    {object}  map[string]string
// @Router   /api/v1/queues/{queue}/items/{id} [get]
func (h *QueueHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// Update handles PATCH /api/v1/queues/{queue}/items/{id}
// It renews the lease and records the progress message.
func (h *QueueHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateRequest
	if err := decodeBody(r, &req, true); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.svc.Update(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"), req); err != nil {
		h.warn(r, "update failed", err)
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Close handles DELETE /api/v1/queues/{queue}/items/{id}
func (h *QueueHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Close(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id")); err != nil {
		h.warn(r, "close failed", err)
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reschedule handles POST /api/v1/queues/{queue}/items/{id}/reschedule
//
// @Summary  Release the lease and defer the item
// @Tags     items
// @Accept   json
// @Param    queue  path  string                    true  "Queue name"
// @Param    id     path  string                    true  "Item id"
// @Param    body   body  domain.RescheduleRequest  true  "Next run time"
// @Success  204
// @Failure  422    {object}  map[string]string
// @Router   /api/v1/queues/{queue}/items/{id}/reschedule [post]
func (h *QueueHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req domain.RescheduleRequest
	if err := decodeBody(r, &req, false); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.svc.Reschedule(r.Context(), chi.URLParam(r, "queue"), chi.URLParam(r, "id"), req); err != nil {
		h.warn(r, "reschedule failed", err)
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/v1/queues/{queue}/stats
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context(), chi.URLParam(r, "queue"))
	if err != nil {
		mapError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *QueueHandler) warn(r *http.Request, msg string, err error) {
	h.logger.Warn(msg,
		zap.String("queue", chi.URLParam(r, "queue")),
		zap.String("correlation_id", apimw.GetCorrelationID(r.Context())),
		zap.Error(err),
	)
}
