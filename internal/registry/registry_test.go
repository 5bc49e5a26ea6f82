package registry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"leaklook/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb)
}

func TestValidIdentifier(t *testing.T) {
	cases := []struct {
		id string
		ok bool
	}{
		{"lockbit3", true},
		{"play news", true},
		{"black_basta", true},
		{"ransom-house", true},
		{"", false},
		{"LockBit", false},
		{"evil.onion", false},
		{"grp/1", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, ValidIdentifier(c.id), "id=%q", c.id)
	}
}

func TestUpsertSourceRejectsInvalidID(t *testing.T) {
	r := newTestRegistry(t)
	err := r.UpsertSource(context.Background(), model.Source{ID: "LockBit", Category: model.CategoryGroup, Active: true})
	require.ErrorIs(t, err, ErrInvalidIdentifier)
}

func TestUpsertPreservesLocations(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertSource(ctx, model.Source{ID: "lockbit3", Category: model.CategoryGroup, Tier: model.TierPriority, Active: true}))
	require.NoError(t, r.AddLocation(ctx, "lockbit3", model.Location{Address: "http://a.onion"}))

	// Re-upsert with a changed tier must not drop the location.
	require.NoError(t, r.UpsertSource(ctx, model.Source{ID: "lockbit3", Category: model.CategoryGroup, Tier: model.TierStandard, Active: true}))
	src, err := r.GetSource(ctx, "lockbit3")
	require.NoError(t, err)
	assert.Equal(t, model.TierStandard, src.Tier)
	require.Len(t, src.Locations, 1)
	assert.Equal(t, "http://a.onion", src.Locations[0].Address)
}

func TestAddLocationDuplicate(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertSource(ctx, model.Source{ID: "play", Category: model.CategoryGroup, Active: true}))
	require.NoError(t, r.AddLocation(ctx, "play", model.Location{Address: "http://a.onion"}))
	err := r.AddLocation(ctx, "play", model.Location{Address: "http://a.onion"})
	require.ErrorIs(t, err, ErrDuplicateLocation)
}

func TestMarkAttemptLiveness(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertSource(ctx, model.Source{ID: "play", Category: model.CategoryGroup, Active: true}))
	require.NoError(t, r.AddLocation(ctx, "play", model.Location{Address: "http://a.onion"}))

	var flips []bool
	r.OnLivenessChange = func(_, _ string, available bool) { flips = append(flips, available) }

	at := time.Now().UTC()
	// Three consecutive failures flip the location to unavailable.
	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, r.MarkAttempt(ctx, "play", "http://a.onion", OutcomeFailure, seq, at))
	}
	src, err := r.GetSource(ctx, "play")
	require.NoError(t, err)
	assert.False(t, src.Locations[0].Available)
	assert.Equal(t, []bool{false}, flips)

	// A success restores availability and resets the streak.
	require.NoError(t, r.MarkAttempt(ctx, "play", "http://a.onion", OutcomeSuccess, 4, at.Add(time.Minute)))
	src, err = r.GetSource(ctx, "play")
	require.NoError(t, err)
	assert.True(t, src.Locations[0].Available)
	assert.Equal(t, 0, src.Locations[0].FailureStreak)
	assert.Equal(t, []bool{false, true}, flips)
}

func TestMarkAttemptIdempotentBySeq(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertSource(ctx, model.Source{ID: "play", Category: model.CategoryGroup, Active: true}))
	require.NoError(t, r.AddLocation(ctx, "play", model.Location{Address: "http://a.onion"}))

	at := time.Now().UTC()
	require.NoError(t, r.MarkAttempt(ctx, "play", "http://a.onion", OutcomeFailure, 1, at))
	// Redelivery of the same attempt must not grow the failure streak.
	require.NoError(t, r.MarkAttempt(ctx, "play", "http://a.onion", OutcomeFailure, 1, at))
	src, err := r.GetSource(ctx, "play")
	require.NoError(t, err)
	assert.Equal(t, 1, src.Locations[0].FailureStreak)
	assert.Equal(t, int64(1), src.Locations[0].AttemptSeq)
}

func TestMarkAttemptConcurrentSiblings(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertSource(ctx, model.Source{ID: "play", Category: model.CategoryGroup, Active: true}))
	require.NoError(t, r.AddLocation(ctx, "play", model.Location{Address: "http://a.onion"}))
	require.NoError(t, r.AddLocation(ctx, "play", model.Location{Address: "http://b.onion"}))

	const attempts = 25
	at := time.Now().UTC()
	var wg sync.WaitGroup
	for _, addr := range []string{"http://a.onion", "http://b.onion"} {
		addr := addr
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := int64(1); seq <= attempts; seq++ {
				assert.NoError(t, r.MarkAttempt(ctx, "play", addr, OutcomeSuccess, seq, at))
			}
		}()
	}
	wg.Wait()

	// Neither location may lose updates to the sibling's concurrent attempts.
	src, err := r.GetSource(ctx, "play")
	require.NoError(t, err)
	require.Len(t, src.Locations, 2)
	for _, loc := range src.Locations {
		assert.Equal(t, int64(attempts), loc.AttemptSeq, "address=%s", loc.Address)
		assert.False(t, loc.LastAttemptAt.IsZero(), "address=%s", loc.Address)
	}
}

func TestNextAttemptSeq(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertSource(ctx, model.Source{ID: "play", Category: model.CategoryGroup, Active: true}))
	require.NoError(t, r.AddLocation(ctx, "play", model.Location{Address: "http://a.onion"}))
	require.NoError(t, r.AddLocation(ctx, "play", model.Location{Address: "http://b.onion"}))

	// Allocation never hands out the same number twice, even to a caller
	// holding a stale snapshot of the source, and is scoped per location.
	seq1, err := r.NextAttemptSeq(ctx, "play", "http://a.onion")
	require.NoError(t, err)
	seq2, err := r.NextAttemptSeq(ctx, "play", "http://a.onion")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1)
	assert.Equal(t, int64(2), seq2)

	other, err := r.NextAttemptSeq(ctx, "play", "http://b.onion")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)

	at := time.Now().UTC()
	require.NoError(t, r.MarkAttempt(ctx, "play", "http://a.onion", OutcomeSuccess, seq1, at))
	require.NoError(t, r.MarkAttempt(ctx, "play", "http://a.onion", OutcomeSuccess, seq2, at.Add(time.Minute)))
	src, err := r.GetSource(ctx, "play")
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.Locations[0].AttemptSeq)
	assert.True(t, src.Locations[0].LastAttemptAt.Equal(at.Add(time.Minute)))
}

func TestListSourcesFiltering(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.UpsertSource(ctx, model.Source{ID: "lockbit3", Category: model.CategoryGroup, Active: true}))
	require.NoError(t, r.AddLocation(ctx, "lockbit3", model.Location{Address: "http://a.onion"}))
	require.NoError(t, r.AddLocation(ctx, "lockbit3", model.Location{Address: "http://hidden.onion", Visibility: model.VisibilityPrivate}))
	require.NoError(t, r.UpsertSource(ctx, model.Source{ID: "tg feed", Category: model.CategoryChat, Active: true}))
	require.NoError(t, r.UpsertSource(ctx, model.Source{ID: "oldgroup", Category: model.CategoryGroup, Active: true}))
	require.NoError(t, r.Deactivate(ctx, "oldgroup"))

	all, err := r.ListSources(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2) // deactivated source hidden by default
	for _, s := range all {
		for _, l := range s.Locations {
			assert.NotEqual(t, model.VisibilityPrivate, l.Visibility)
		}
	}

	groups, err := r.ListSources(ctx, Filter{Category: model.CategoryGroup})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "lockbit3", groups[0].ID)
	assert.Len(t, groups[0].Locations, 1)

	withPrivate, err := r.ListSources(ctx, Filter{IncludePrivate: true, Category: model.CategoryGroup})
	require.NoError(t, err)
	require.Len(t, withPrivate, 1)
	assert.Len(t, withPrivate[0].Locations, 2)

	withInactive, err := r.ListSources(ctx, Filter{IncludeInactive: true})
	require.NoError(t, err)
	assert.Len(t, withInactive, 3)
}

func TestSeedFileRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "sources.yaml")
	content := "" +
		"sources:\n" +
		"  - id: lockbit3\n" +
		"    category: group\n" +
		"    tier: priority\n" +
		"    locations:\n" +
		"      - address: http://a.onion\n" +
		"        fetch_timeout: 45s\n" +
		"      - address: http://b.onion\n" +
		"        visibility: private\n" +
		"    selectors:\n" +
		"      entry: article\n" +
		"      title: h2.entry-title\n" +
		"      link: a\n" +
		"  - id: tg leaks\n" +
		"    category: chat-channel\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	seeds, err := LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	require.NotNil(t, seeds[0].Selectors)
	assert.Equal(t, "h2.entry-title", seeds[0].Selectors.Title)

	r := newTestRegistry(t)
	ctx := context.Background()
	applied, skipped := r.ApplySeed(ctx, seeds)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 0, skipped)

	src, err := r.GetSource(ctx, "lockbit3")
	require.NoError(t, err)
	assert.Equal(t, model.TierPriority, src.Tier)
	require.Len(t, src.Locations, 2)
	assert.Equal(t, 45*time.Second, src.Locations[0].FetchTimeout)
	assert.Equal(t, model.VisibilityPrivate, src.Locations[1].Visibility)

	// Re-applying the seed is idempotent.
	applied, skipped = r.ApplySeed(ctx, seeds)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 0, skipped)
	src, err = r.GetSource(ctx, "lockbit3")
	require.NoError(t, err)
	assert.Len(t, src.Locations, 2)
}
