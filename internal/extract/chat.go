package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"leaklook/internal/model"
)

// Chat extracts messages from a JSON dump of a chat channel. The expected
// shape is an array of {id, text, link} objects, the format produced by the
// channel export tooling. Malformed elements are skipped.
type Chat struct{}

type chatMessage struct {
	ID   json.Number `json:"id"`
	Text string      `json:"text"`
	Link string      `json:"link"`
}

func (Chat) Extract(content string) ([]model.Candidate, error) {
	var msgs []chatMessage
	if err := json.Unmarshal([]byte(content), &msgs); err != nil {
		return nil, fmt.Errorf("chat dump: %w", err)
	}
	out := make([]model.Candidate, 0, len(msgs))
	for _, m := range msgs {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			continue
		}
		title := text
		if i := strings.IndexByte(title, '\n'); i > 0 {
			title = title[:i]
		}
		out = append(out, model.Candidate{
			Title:       title,
			Description: text,
			Link:        m.Link,
			OriginToken: m.ID.String(),
		})
	}
	return out, nil
}
