// Package notify carries announcements of newly discovered records to
// external channels. All sinks are treated uniformly and independently.
package notify

import (
	"context"
	"errors"
	"unicode/utf8"
)

// ErrDelivery marks a sink call that failed; the poller keeps its cursor on
// the failing record so delivery is retried.
var ErrDelivery = errors.New("sink delivery failed")

// Announcement is the outbound shape for one record. Link and description are
// already defanged by the poller.
type Announcement struct {
	SourceID    string `json:"source_id"`
	Title       string `json:"title"`
	Description string `json:"description_excerpt"`
	Link        string `json:"link"`
}

// Sink accepts one announcement. Implementations must be safe to retry with
// the same announcement (delivery is at-least-once).
type Sink interface {
	Name() string
	Notify(ctx context.Context, a Announcement) error
}

// Excerpt caps s at max bytes without splitting a multi-byte rune, appending
// an ellipsis when anything was cut.
func Excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
