// Package registry holds the durable description of every monitored source
// and its mirror locations, including liveness metadata.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"leaklook/internal/model"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidIdentifier = errors.New("invalid source identifier")
	ErrDuplicateLocation = errors.New("location already exists for source")
	ErrSourceNotFound    = errors.New("source not found")
	ErrLocationNotFound  = errors.New("location not found")
)

// Outcome classifies a scrape attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Filter narrows ListSources results.
type Filter struct {
	IncludePrivate  bool
	IncludeInactive bool
	Category        model.Category // empty means all
}

// Registry is the redis-backed source registry.
type Registry struct {
	rdb *redis.Client

	// FailureThreshold is the number of consecutive failures after which a
	// location flips to unavailable. Defaults to 3.
	FailureThreshold int

	// OnLivenessChange, when set, is invoked after a location crosses from
	// available to unavailable or back.
	OnLivenessChange func(sourceID, address string, available bool)
}

func New(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb, FailureThreshold: 3}
}

func sourceKey(id string) string {
	return fmt.Sprintf("src:source:%s", id)
}

func attemptSeqKey(id, address string) string {
	return fmt.Sprintf("src:seq:%s:%s", id, address)
}

const indexKey = "src:index"

// maxTxRetries bounds optimistic-lock retries on a contended source.
const maxTxRetries = 16

// errNoChange signals an update callback decided the write is unnecessary.
var errNoChange = errors.New("no change")

// update applies fn to a source under an optimistic WATCH transaction, so two
// concurrent mutations of the same source never lose each other's writes.
// fn may run more than once and must be side-effect free.
func (r *Registry) update(ctx context.Context, id string, fn func(*model.Source) error) error {
	key := sourceKey(id)
	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			b, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return fmt.Errorf("%w: %s", ErrSourceNotFound, id)
			}
			if err != nil {
				return err
			}
			var src model.Source
			if err := json.Unmarshal(b, &src); err != nil {
				return err
			}
			if err := fn(&src); err != nil {
				return err
			}
			out, err := json.Marshal(src)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, out, 0)
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	return fmt.Errorf("update source %s: too many concurrent writers", id)
}

// ValidIdentifier reports whether id is a well-formed source identifier:
// non-empty, lowercase, restricted to alphanumerics, space, dash, underscore.
func ValidIdentifier(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == ' ' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// UpsertSource creates a source or updates its mutable fields. Locations and
// liveness state of an existing source are preserved; use AddLocation and
// MarkAttempt for those.
func (r *Registry) UpsertSource(ctx context.Context, src model.Source) error {
	if !ValidIdentifier(src.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, src.ID)
	}
	err := r.update(ctx, src.ID, func(existing *model.Source) error {
		existing.Category = src.Category
		existing.Tier = src.Tier
		existing.Active = src.Active
		return nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSourceNotFound):
		if src.CreatedAt.IsZero() {
			src.CreatedAt = time.Now().UTC()
		}
		if src.Tier == "" {
			src.Tier = model.TierStandard
		}
		if err := r.save(ctx, src); err != nil {
			return err
		}
		return r.rdb.SAdd(ctx, indexKey, src.ID).Err()
	default:
		return err
	}
}

// AddLocation registers a new mirror for a source.
func (r *Registry) AddLocation(ctx context.Context, sourceID string, loc model.Location) error {
	return r.update(ctx, sourceID, func(src *model.Source) error {
		for _, l := range src.Locations {
			if l.Address == loc.Address {
				return fmt.Errorf("%w: %s", ErrDuplicateLocation, loc.Address)
			}
		}
		l := loc
		if l.Visibility == "" {
			l.Visibility = model.VisibilityPublic
		}
		l.Available = true
		src.Locations = append(src.Locations, l)
		return nil
	})
}

// GetSource loads one source by id.
func (r *Registry) GetSource(ctx context.Context, id string) (*model.Source, error) {
	b, err := r.rdb.Get(ctx, sourceKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var src model.Source
	if err := json.Unmarshal(b, &src); err != nil {
		return nil, err
	}
	return &src, nil
}

// ListSources returns sources matching the filter. Private locations are
// stripped unless IncludePrivate is set; inactive sources are skipped unless
// IncludeInactive is set.
func (r *Registry) ListSources(ctx context.Context, f Filter) ([]model.Source, error) {
	ids, err := r.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]model.Source, 0, len(ids))
	for _, id := range ids {
		src, err := r.GetSource(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSourceNotFound) {
				continue // index entry without a body; skip
			}
			return nil, err
		}
		if !f.IncludeInactive && !src.Active {
			continue
		}
		if f.Category != "" && src.Category != f.Category {
			continue
		}
		if !f.IncludePrivate {
			public := make([]model.Location, 0, len(src.Locations))
			for _, l := range src.Locations {
				if l.Visibility != model.VisibilityPrivate {
					public = append(public, l)
				}
			}
			src.Locations = public
		}
		out = append(out, *src)
	}
	return out, nil
}

// NextAttemptSeq allocates the sequence number for an upcoming attempt against
// a location. Allocation is a redis INCR, so two attempts never share a seq
// even when scheduled from a stale registry snapshot.
func (r *Registry) NextAttemptSeq(ctx context.Context, sourceID, address string) (int64, error) {
	return r.rdb.Incr(ctx, attemptSeqKey(sourceID, address)).Result()
}

// MarkAttempt records the outcome of one scrape attempt against a location.
// It is the only mutator of liveness fields. Attempts are deduplicated by
// their per-location sequence number: a seq at or below the last applied one
// is a no-op, so retried delivery of the same attempt is safe. Sibling
// locations of one source are updated independently even when their attempts
// land concurrently.
func (r *Registry) MarkAttempt(ctx context.Context, sourceID, address string, outcome Outcome, seq int64, at time.Time) error {
	var flipped bool
	var available bool
	var streak int
	err := r.update(ctx, sourceID, func(src *model.Source) error {
		flipped = false
		idx := -1
		for i := range src.Locations {
			if src.Locations[i].Address == address {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s %s", ErrLocationNotFound, sourceID, address)
		}
		loc := &src.Locations[idx]
		if seq <= loc.AttemptSeq {
			return errNoChange
		}
		loc.AttemptSeq = seq
		loc.LastAttemptAt = at
		wasAvailable := loc.Available
		if outcome == OutcomeSuccess {
			loc.LastSuccessAt = at
			loc.FailureStreak = 0
			loc.Available = true
		} else {
			loc.FailureStreak++
			if loc.FailureStreak >= r.threshold() {
				loc.Available = false
			}
		}
		flipped = loc.Available != wasAvailable
		available = loc.Available
		streak = loc.FailureStreak
		return nil
	})
	if err != nil {
		return err
	}
	if flipped {
		slog.Warn("registry: location liveness changed",
			"source", sourceID, "address", address, "available", available, "streak", streak)
		if r.OnLivenessChange != nil {
			r.OnLivenessChange(sourceID, address, available)
		}
	}
	return nil
}

// SetTier changes the scheduling cadence class of a source.
func (r *Registry) SetTier(ctx context.Context, sourceID string, tier model.Tier) error {
	return r.update(ctx, sourceID, func(src *model.Source) error {
		src.Tier = tier
		return nil
	})
}

// SetVisibility marks a location public or private.
func (r *Registry) SetVisibility(ctx context.Context, sourceID, address string, v model.Visibility) error {
	return r.update(ctx, sourceID, func(src *model.Source) error {
		for i := range src.Locations {
			if src.Locations[i].Address == address {
				src.Locations[i].Visibility = v
				return nil
			}
		}
		return fmt.Errorf("%w: %s %s", ErrLocationNotFound, sourceID, address)
	})
}

// Deactivate soft-removes a source: it is hidden from scheduling and default
// listings but its historical records remain referable.
func (r *Registry) Deactivate(ctx context.Context, sourceID string) error {
	return r.update(ctx, sourceID, func(src *model.Source) error {
		src.Active = false
		return nil
	})
}

func (r *Registry) save(ctx context.Context, src model.Source) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, sourceKey(src.ID), b, 0).Err()
}

func (r *Registry) threshold() int {
	if r.FailureThreshold <= 0 {
		return 3
	}
	return r.FailureThreshold
}
