package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const slackAPIURL = "https://slack.com/api/chat.postMessage"

// SlackSink posts announcements to a Slack channel via chat.postMessage.
type SlackSink struct {
	name      string
	token     string
	channelID string
	apiURL    string
	http      *http.Client
}

// NewSlackSink creates a Slack sink.
func NewSlackSink(name, token, channelID string, timeout time.Duration) *SlackSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackSink{
		name:      name,
		token:     token,
		channelID: channelID,
		apiURL:    slackAPIURL,
		http:      &http.Client{Timeout: timeout},
	}
}

// WithAPIURL overrides the Slack endpoint, used in tests.
func (s *SlackSink) WithAPIURL(u string) *SlackSink {
	s2 := *s
	if strings.TrimSpace(u) != "" {
		s2.apiURL = u
	}
	return &s2
}

func (s *SlackSink) Name() string { return s.name }

func (s *SlackSink) Notify(ctx context.Context, a Announcement) error {
	excerpt := Excerpt(a.Description, 500)
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": "New victim posted", "emoji": true},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": "*Group:*\n" + a.SourceID},
				{"type": "mrkdwn", "text": "*Victim:*\n" + a.Title},
			},
		},
	}
	if excerpt != "" {
		blocks = append(blocks, map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": "*Description:*\n" + excerpt},
		})
	}
	if a.Link != "" {
		blocks = append(blocks, map[string]any{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": a.Link},
			},
		})
	}
	payload := map[string]any{
		"channel": s.channelID,
		"text":    fmt.Sprintf("New post from %s: %s", a.SourceID, a.Title),
		"blocks":  blocks,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
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
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrDelivery, err)
	}
	if !out.OK {
		return fmt.Errorf("%w: slack: %s", ErrDelivery, out.Error)
	}
	return nil
}
