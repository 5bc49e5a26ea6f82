package worker

import (
	"context"
	"log/slog"
	"time"

	"leaklook/internal/defang"
	"leaklook/internal/model"
	"leaklook/internal/notify"
	"leaklook/internal/storage"
)

// Poller announces newly stored records through one sink. Each sink gets its
// own poller and its own cursor; sinks never block each other.
//
// On first activation the cursor is initialized to now without announcing
// anything, so a restart never floods the channel with historical backlog.
// Thereafter delivery is at-least-once: the cursor is only persisted up to
// the last acknowledged record.
type Poller struct {
	Store    *storage.RedisStore
	Sink     notify.Sink
	Interval time.Duration

	// BatchLimit caps how many records one cycle announces. 0 means all.
	BatchLimit int

	// Now is the cold-start clock, overridable in tests.
	Now func() time.Time

	cursor time.Time
}

func (p *Poller) Start(ctx context.Context) error {
	if p.Interval <= 0 {
		p.Interval = time.Minute
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	cursor, ok, err := p.Store.Cursor(ctx, p.Sink.Name())
	if err != nil {
		// losing the shared store is the one fatal condition
		return err
	}
	if !ok {
		cursor = p.Now().UTC()
		if err := p.Store.SetCursor(ctx, p.Sink.Name(), cursor); err != nil {
			return err
		}
		slog.Info("poller: cold start, backlog suppressed", "sink", p.Sink.Name(), "cursor", cursor)
	}
	p.cursor = cursor

	p.runOnce(ctx)

	t := time.NewTicker(p.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	recs, err := p.Store.RecordsSince(ctx, p.cursor, p.BatchLimit)
	if err != nil {
		slog.Error("poller: read records", "sink", p.Sink.Name(), "error", err)
		return
	}
	if len(recs) == 0 {
		return
	}
	announced := 0
	for _, rec := range recs {
		if err := p.Sink.Notify(ctx, announcement(rec)); err != nil {
			// cursor stays before the failing record; this batch tail is
			// retried next cycle
			slog.Warn("poller: delivery failed", "sink", p.Sink.Name(), "source", rec.SourceID, "error", err)
			break
		}
		p.cursor = rec.DiscoveredAt
		announced++
	}
	if announced > 0 {
		if err := p.Store.SetCursor(ctx, p.Sink.Name(), p.cursor); err != nil {
			slog.Error("poller: persist cursor", "sink", p.Sink.Name(), "error", err)
		}
		slog.Info("poller: announced", "sink", p.Sink.Name(), "count", announced)
	}
}

// announcement maps a record to its outbound, defanged form.
func announcement(rec model.Record) notify.Announcement {
	return notify.Announcement{
		SourceID:    rec.SourceID,
		Title:       defang.Text(rec.Title),
		Description: defang.Text(notify.Excerpt(rec.Description, 300)),
		Link:        defang.URL(rec.Link),
	}
}
