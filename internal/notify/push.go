package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"jamroom/pkg/logger"
)

// HTTPTransport posts notice batches to an external push delivery
// service.
type HTTPTransport struct {
	url    string
	client *http.Client
}

func NewHTTPTransport(url string) *HTTPTransport {
	return &HTTPTransport{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type pushRequest struct {
	Tokens []string `json:"tokens"`
	Notice Notice   `json:"notice"`
}

func (t *HTTPTransport) Deliver(ctx context.Context, tokens []string, notice Notice) error {
	body, err := json.Marshal(pushRequest{Tokens: tokens, Notice: notice})
	if err != nil {
		return fmt.Errorf("failed to encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

// NopTransport drops notices, used when no push service is configured.
type NopTransport struct{}

func (NopTransport) Deliver(_ context.Context, tokens []string, notice Notice) error {
	logger.Debug("Push disabled, dropping %q for %d recipients", notice.Title, len(tokens))
	return nil
}
