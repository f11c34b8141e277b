package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ricirt/docqueue/internal/api"
	"github.com/ricirt/docqueue/internal/domain"
	"github.com/ricirt/docqueue/internal/metrics"
	"github.com/ricirt/docqueue/internal/queue"
	"github.com/ricirt/docqueue/internal/repository"
	"github.com/ricirt/docqueue/internal/service"
)

type testServer struct {
	t    *testing.T
	h    http.Handler
	repo *repository.MemoryDocumentRepository
}

func newTestServer(t *testing.T, ping func(context.Context) error) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	repo := repository.NewMemoryDocumentRepository()
	svc := service.NewQueueService(repo, zap.NewNop(), queue.WithHooks(m.QueueHooks()))
	return &testServer{t: t, h: api.NewRouter(svc, reg, ping, zap.NewNop()), repo: repo}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) push(queueName string, payload domain.Payload) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/queues/"+queueName+"/items", map[string]any{"payload": payload})
	if rec.Code != http.StatusCreated {
		s.t.Fatalf("push: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp["id"] == "" {
		s.t.Fatal("push: expected an id")
	}
	return resp["id"]
}

func TestRouter_PushPopClose(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.push("emails", domain.Payload{"to": "a@b.c"})

	rec := s.do(http.MethodPost, "/api/v1/queues/emails/pop", map[string]string{"message": "started"})
	if rec.Code != http.StatusOK {
		t.Fatalf("pop: expected 200, got %d", rec.Code)
	}
	var doc domain.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.ID != id || doc.Lease == nil || doc.Lease.Message != "started" {
		t.Fatalf("unexpected claimed document %+v", doc)
	}

	// Leased, so the queue looks empty to the next consumer.
	if rec := s.do(http.MethodPost, "/api/v1/queues/emails/pop", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("second pop: expected 204, got %d", rec.Code)
	}

	if rec := s.do(http.MethodPatch, "/api/v1/queues/emails/items/"+id, map[string]string{"message": "half"}); rec.Code != http.StatusNoContent {
		t.Fatalf("update: expected 204, got %d", rec.Code)
	}
	rec = s.do(http.MethodGet, "/api/v1/queues/emails/items/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	_ = json.NewDecoder(rec.Body).Decode(&doc)
	if doc.Lease == nil || doc.Lease.Message != "half" {
		t.Fatalf("expected updated lease message, got %+v", doc.Lease)
	}

	if rec := s.do(http.MethodDelete, "/api/v1/queues/emails/items/"+id, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("close: expected 204, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/v1/queues/emails/items/"+id, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("get after close: expected 404, got %d", rec.Code)
	}
	// Closing twice is a no-op.
	if rec := s.do(http.MethodDelete, "/api/v1/queues/emails/items/"+id, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("second close: expected 204, got %d", rec.Code)
	}
}

func TestRouter_LeaseRoutesAreScopedToTheQueue(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.push("emails", domain.Payload{})

	// A progress update before any claim must not hide the item.
	if rec := s.do(http.MethodPatch, "/api/v1/queues/emails/items/"+id, map[string]string{"message": "early"}); rec.Code != http.StatusNoContent {
		t.Fatalf("update unclaimed: expected 204, got %d", rec.Code)
	}

	if rec := s.do(http.MethodDelete, "/api/v1/queues/reports/items/"+id, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("close from another queue: expected 404, got %d", rec.Code)
	}
	if rec := s.do(http.MethodGet, "/api/v1/queues/emails/items/"+id, nil); rec.Code != http.StatusOK {
		t.Fatalf("item must survive, got %d", rec.Code)
	}

	if rec := s.do(http.MethodPost, "/api/v1/queues/emails/pop", nil); rec.Code != http.StatusOK {
		t.Fatalf("pop: expected 200, got %d", rec.Code)
	}
}

func TestRouter_Reschedule(t *testing.T) {
	s := newTestServer(t, nil)
	id := s.push("reports", domain.Payload{"n": 1})

	if rec := s.do(http.MethodPost, "/api/v1/queues/reports/pop", nil); rec.Code != http.StatusOK {
		t.Fatalf("pop: expected 200, got %d", rec.Code)
	}

	path := "/api/v1/queues/reports/items/" + id + "/reschedule"
	if rec := s.do(http.MethodPost, path, map[string]any{}); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reschedule without next_run: expected 422, got %d", rec.Code)
	}

	next := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if rec := s.do(http.MethodPost, path, map[string]any{"next_run": next}); rec.Code != http.StatusNoContent {
		t.Fatalf("reschedule: expected 204, got %d", rec.Code)
	}

	rec := s.do(http.MethodGet, "/api/v1/queues/reports/items/"+id, nil)
	var doc domain.Document
	_ = json.NewDecoder(rec.Body).Decode(&doc)
	if doc.Lease != nil || doc.Schedule == nil || !doc.Schedule.NextRun.Equal(next) {
		t.Fatalf("unexpected document after reschedule %+v", doc)
	}

	// Future next_run hides the item.
	if rec := s.do(http.MethodPost, "/api/v1/queues/reports/pop", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("pop before next_run: expected 204, got %d", rec.Code)
	}
}

func TestRouter_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed push", http.MethodPost, "/api/v1/queues/emails/items", "{", http.StatusBadRequest},
		{"missing payload", http.MethodPost, "/api/v1/queues/emails/items", map[string]any{}, http.StatusUnprocessableEntity},
		{"bad repeat", http.MethodPost, "/api/v1/queues/emails/items", map[string]any{
			"payload":  map[string]any{},
			"schedule": map[string]any{"next_run": time.Now(), "repeat": "yearly"},
		}, http.StatusUnprocessableEntity},
		{"unknown item", http.MethodGet, "/api/v1/queues/emails/items/nope", nil, http.StatusNotFound},
		{"malformed pop", http.MethodPost, "/api/v1/queues/emails/pop", "[", http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if rec := s.do(tc.method, tc.path, tc.body); rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRouter_StoreFailureIs500(t *testing.T) {
	s := newTestServer(t, nil)
	s.repo.InsertErr = errors.New("disk on fire")

	rec := s.do(http.MethodPost, "/api/v1/queues/emails/items", map[string]any{"payload": map[string]any{}})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("disk on fire")) {
		t.Fatal("internal error detail leaked to the client")
	}
}

func TestRouter_Stats(t *testing.T) {
	s := newTestServer(t, nil)
	s.push("emails", domain.Payload{})
	s.push("emails", domain.Payload{})

	rec := s.do(http.MethodGet, "/api/v1/queues/emails/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st service.Stats
	_ = json.NewDecoder(rec.Body).Decode(&st)
	if st.Queue != "emails" || st.Depth != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	s.push("emails", domain.Payload{})

	if rec := s.do(http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}

	rec := s.do(http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`docqueue_items_pushed_total{queue="emails"} 1`)) {
		t.Fatalf("expected push counter in scrape output:\n%s", rec.Body.String())
	}

	down := newTestServer(t, func(context.Context) error { return errors.New("connection refused") })
	if rec := down.do(http.MethodGet, "/health", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("health with failing store: expected 503, got %d", rec.Code)
	}
}
