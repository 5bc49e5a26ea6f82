// Package extract resolves a source identifier to its registered extraction
// routine and invokes it against fetched content.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"leaklook/internal/model"
)

var (
	// ErrNotRegistered means no extraction routine exists for the source.
	// Callers treat this as a normal miss: raw content is already retained.
	ErrNotRegistered = errors.New("no extractor registered")

	// ErrExtractionFailed wraps a routine-level fault (error or panic).
	ErrExtractionFailed = errors.New("extraction failed")
)

// Extractor turns one fetched content blob into candidate records.
// Implementations skip malformed entries and continue; a returned error means
// the whole blob was unusable.
type Extractor interface {
	Extract(content string) ([]model.Candidate, error)
}

// Result is the outcome of one dispatch call.
type Result struct {
	Candidates []model.Candidate
	Skipped    int // entries dropped for violating the output contract
}

// Registry maps source ids to extraction routines. Lookup is by exact,
// case-sensitive name.
type Registry struct {
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register binds an extractor to a source id, replacing any previous binding.
func (r *Registry) Register(sourceID string, e Extractor) {
	r.extractors[sourceID] = e
}

// Names returns the registered source ids.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.extractors))
	for k := range r.extractors {
		out = append(out, k)
	}
	return out
}

// Extract dispatches content to the routine registered for sourceID.
// The routine is untrusted: a panic inside it is recovered and surfaced as
// ErrExtractionFailed so one source can never take down the tick. Candidates
// violating the output contract (empty title or link) are dropped and counted.
func (r *Registry) Extract(sourceID, originToken, content string) (res Result, err error) {
	e, ok := r.extractors[sourceID]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNotRegistered, sourceID)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: panic: %v", ErrExtractionFailed, sourceID, p)
		}
	}()
	cands, err := e.Extract(content)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrExtractionFailed, sourceID, err)
	}
	out := make([]model.Candidate, 0, len(cands))
	skipped := 0
	for _, c := range cands {
		if strings.TrimSpace(c.Title) == "" || strings.TrimSpace(c.Link) == "" {
			skipped++
			continue
		}
		if c.OriginToken == "" {
			c.OriginToken = originToken
		}
		out = append(out, c)
	}
	return Result{Candidates: out, Skipped: skipped}, nil
}
