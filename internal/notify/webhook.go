package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSink POSTs each announcement as JSON to an arbitrary endpoint, the
// integration path for API consumers.
type WebhookSink struct {
	name string
	url  string
	http *http.Client
}

func NewWebhookSink(name, url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookSink{name: name, url: url, http: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Name() string { return s.name }

func (s *WebhookSink) Notify(ctx context.Context, a Announcement) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status=%d body=%s", ErrDelivery, resp.StatusCode, string(b))
	}
	return nil
}
