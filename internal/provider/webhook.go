package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ricirt/docqueue/internal/queue"
)

// WebhookHandler delivers each claimed payload by POSTing it to a URL.
// The URL is injected from config so tests can point to a local server.
type WebhookHandler struct {
	url        string
	httpClient *http.Client
}

func NewWebhookHandler(url string, timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Handle posts the item and maps the reply: any 2xx is success, and a body
// carrying reschedule_at asks for the item to run again at that time.
func (h *WebhookHandler) Handle(ctx context.Context, item *queue.Item) (Outcome, error) {
	body, err := json.Marshal(DeliveryRequest{
		ID:       item.ID(),
		Queue:    item.QueueName(),
		Payload:  item.Payload(),
		Schedule: item.Schedule(),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{}, fmt.Errorf("unexpected webhook status: %d", resp.StatusCode)
	}

	var dr DeliveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil && !errors.Is(err, io.EOF) {
		return Outcome{}, fmt.Errorf("decode response: %w", err)
	}
	if dr.RescheduleAt != nil {
		return RescheduleAt(*dr.RescheduleAt), nil
	}
	return Done(), nil
}

// compile-time check that WebhookHandler implements Handler
var _ Handler = (*WebhookHandler)(nil)
