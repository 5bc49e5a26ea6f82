package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Category classifies what kind of entity a source is.
type Category string

const (
	CategoryGroup   Category = "group"
	CategoryMarket  Category = "market"
	CategoryChat    Category = "chat-channel"
	CategorySocial  Category = "social-account"
)

// Tier is the scheduling cadence class of a source.
type Tier string

const (
	TierPriority Tier = "priority"
	TierStandard Tier = "standard"
)

// Visibility controls whether a location appears in external listings.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Location is one fetchable address (mirror) of a source.
type Location struct {
	Address       string        `json:"address"`
	Visibility    Visibility    `json:"visibility"`
	Capabilities  []string      `json:"capabilities,omitempty"` // file-server, chat, admin-panel
	LastAttemptAt time.Time     `json:"last_attempt_at"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	Available     bool          `json:"available"`
	FetchTimeout  time.Duration `json:"fetch_timeout,omitempty"` // 0 means use the configured default
	FetchDelay    time.Duration `json:"fetch_delay,omitempty"`
	SchemaVersion int           `json:"schema_version"`

	// AttemptSeq is the sequence number of the last applied attempt; used to
	// deduplicate retried deliveries of the same attempt.
	AttemptSeq int64 `json:"attempt_seq"`
	// FailureStreak counts consecutive failed attempts since the last success.
	FailureStreak int `json:"failure_streak"`
}

// Source is a monitored group, market, chat channel or social account.
type Source struct {
	ID        string     `json:"id"`
	Category  Category   `json:"category"`
	Tier      Tier       `json:"tier"`
	Locations []Location `json:"locations"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"created_at"`
}

// Record is one extracted victim/leak/message entry. Immutable once stored.
type Record struct {
	SourceID     string    `json:"source_id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Link         string    `json:"link"`
	OriginToken  string    `json:"origin_token"`
	DiscoveredAt time.Time `json:"discovered_at"`
	ContentHash  string    `json:"content_hash"`
}

// Candidate is an extracted entry not yet deduplicated against history.
type Candidate struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Link        string `json:"link"`
	OriginToken string `json:"origin_token"`
}

// Hash derives the dedup key for a candidate from title, description and link.
func (c Candidate) Hash() string {
	h := sha256.New()
	h.Write([]byte(c.Title))
	h.Write([]byte{0})
	h.Write([]byte(c.Description))
	h.Write([]byte{0})
	h.Write([]byte(c.Link))
	return hex.EncodeToString(h.Sum(nil))
}
