package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"leaklook/internal/extract"
	"leaklook/internal/model"
	"leaklook/internal/registry"
	"leaklook/internal/scrape"
	"leaklook/internal/storage"
)

// Cadence holds the per-tier re-fetch intervals.
type Cadence struct {
	Priority time.Duration
	Standard time.Duration
}

// DefaultCadence matches the operational defaults: priority sources every
// 15 minutes, standard sources every 2 hours.
var DefaultCadence = Cadence{Priority: 15 * time.Minute, Standard: 2 * time.Hour}

// Job is one unit of fetch work: a single location of a source.
type Job struct {
	Source   model.Source
	Location model.Location
}

// DueLocations computes which locations must be fetched now. It is a pure
// function of its inputs so scheduling decisions are replayable in tests.
// A source named in triggers bypasses cadence; inactive sources never run.
func DueLocations(now time.Time, sources []model.Source, triggers map[string]struct{}, c Cadence) []Job {
	var due []Job
	for _, src := range sources {
		if !src.Active {
			continue
		}
		interval := c.Standard
		if src.Tier == model.TierPriority {
			interval = c.Priority
		}
		_, triggered := triggers[src.ID]
		for _, loc := range src.Locations {
			if triggered || loc.LastAttemptAt.IsZero() || now.Sub(loc.LastAttemptAt) >= interval {
				due = append(due, Job{Source: src, Location: loc})
			}
		}
	}
	return due
}

// TriggerQueue hands manual run-now requests to the scheduler.
type TriggerQueue interface {
	Drain(ctx context.Context) ([]string, error)
}

// Scheduler drives the scrape loop: each tick it computes the due set and
// drains it through a bounded worker pool. One location is never fetched
// concurrently with itself; work that does not fit in the pool carries over
// to the next tick.
type Scheduler struct {
	Registry   *registry.Registry
	Store      *storage.RedisStore
	Fetcher    scrape.Fetcher
	Extractors *extract.Registry
	Triggers   TriggerQueue

	Tick           time.Duration
	Workers        int
	Cadence        Cadence
	DefaultTimeout time.Duration
	RawTTL         time.Duration

	// Now is the scheduling clock, overridable in tests.
	Now func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{} // location address
	pending  map[string]struct{} // triggered sources not yet submitted
	sem      chan struct{}
	wg       sync.WaitGroup
}

func (s *Scheduler) Start(ctx context.Context) error {
	if s.Tick <= 0 {
		s.Tick = time.Minute
	}
	if s.Workers <= 0 {
		s.Workers = 8
	}
	if s.Cadence.Priority <= 0 || s.Cadence.Standard <= 0 {
		s.Cadence = DefaultCadence
	}
	if s.DefaultTimeout <= 0 {
		s.DefaultTimeout = 90 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	s.inflight = make(map[string]struct{})
	s.pending = make(map[string]struct{})
	s.sem = make(chan struct{}, s.Workers)

	s.runTick(ctx)

	t := time.NewTicker(s.Tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-t.C:
			s.runTick(ctx)
		}
	}
}

// runTick computes the due set and submits what fits in the pool. The tick
// itself never blocks on fetch work.
func (s *Scheduler) runTick(ctx context.Context) {
	if s.Triggers != nil {
		names, err := s.Triggers.Drain(ctx)
		if err != nil {
			slog.Error("scheduler: drain triggers", "error", err)
		}
		s.mu.Lock()
		for _, n := range names {
			s.pending[n] = struct{}{}
		}
		s.mu.Unlock()
	}

	sources, err := s.Registry.ListSources(ctx, registry.Filter{IncludePrivate: true})
	if err != nil {
		slog.Error("scheduler: list sources", "error", err)
		return
	}

	s.mu.Lock()
	triggers := make(map[string]struct{}, len(s.pending))
	for k := range s.pending {
		triggers[k] = struct{}{}
	}
	s.mu.Unlock()

	due := DueLocations(s.Now(), sources, triggers, s.Cadence)

	carried := make(map[string]struct{})
	for _, job := range due {
		job := job
		s.mu.Lock()
		if _, busy := s.inflight[job.Location.Address]; busy {
			// run-now for an in-flight location queues behind it: the trigger
			// is consumed, the attempt is not doubled
			s.mu.Unlock()
			continue
		}
		select {
		case s.sem <- struct{}{}:
			s.inflight[job.Location.Address] = struct{}{}
			s.mu.Unlock()
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() {
					s.mu.Lock()
					delete(s.inflight, job.Location.Address)
					s.mu.Unlock()
					<-s.sem
				}()
				s.runJob(ctx, job)
			}()
		default:
			s.mu.Unlock()
			// pool full; the location stays due for the next tick
			if _, ok := triggers[job.Source.ID]; ok {
				carried[job.Source.ID] = struct{}{}
			}
		}
	}

	s.mu.Lock()
	s.pending = carried
	s.mu.Unlock()
}

// runJob performs one isolated fetch+extract+merge attempt. Failures are
// recorded as liveness state and never propagate past this job.
func (s *Scheduler) runJob(ctx context.Context, job Job) {
	loc := job.Location
	src := job.Source

	if loc.FetchDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(loc.FetchDelay):
		}
	}

	timeout := loc.FetchTimeout
	if timeout <= 0 {
		timeout = s.DefaultTimeout
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The seq comes from the registry, not the tick's snapshot: a snapshot
	// taken while a sibling attempt was in flight would hand out a stale,
	// already-used number.
	seq, err := s.Registry.NextAttemptSeq(ctx, src.ID, loc.Address)
	if err != nil {
		slog.Error("scheduler: allocate attempt seq", "source", src.ID, "address", loc.Address, "error", err)
		return
	}
	content, err := s.Fetcher.Fetch(fctx, loc.Address)
	at := s.Now().UTC()
	if err != nil {
		kind := scrape.Kind(err)
		slog.Warn("scheduler: fetch failed", "source", src.ID, "address", loc.Address, "kind", kind, "error", err)
		if merr := s.Registry.MarkAttempt(ctx, src.ID, loc.Address, registry.OutcomeFailure, seq, at); merr != nil {
			slog.Error("scheduler: mark attempt", "source", src.ID, "address", loc.Address, "error", merr)
		}
		return
	}
	if merr := s.Registry.MarkAttempt(ctx, src.ID, loc.Address, registry.OutcomeSuccess, seq, at); merr != nil {
		slog.Error("scheduler: mark attempt", "source", src.ID, "address", loc.Address, "error", merr)
	}
	if err := s.Store.SaveRaw(ctx, src.ID, loc.Address, content, s.RawTTL); err != nil {
		slog.Error("scheduler: retain raw content", "source", src.ID, "address", loc.Address, "error", err)
	}

	res, err := s.Extractors.Extract(src.ID, loc.Address, content)
	switch {
	case errors.Is(err, extract.ErrNotRegistered):
		slog.Info("scheduler: no extractor, raw content retained", "source", src.ID)
		return
	case err != nil:
		slog.Error("scheduler: extraction failed", "source", src.ID, "error", err)
		return
	}
	if res.Skipped > 0 {
		slog.Warn("scheduler: extractor skipped malformed entries", "source", src.ID, "skipped", res.Skipped)
	}
	merged, err := s.Store.Merge(ctx, src.ID, src.Category, res.Candidates)
	if err != nil {
		slog.Error("scheduler: merge failed", "source", src.ID, "error", err)
		return
	}
	slog.Info("scheduler: scraped", "source", src.ID, "address", loc.Address,
		"candidates", len(res.Candidates), "inserted", merged.Inserted, "deduped", merged.Skipped)
}
