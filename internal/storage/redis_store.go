package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"leaklook/internal/model"

	"github.com/redis/go-redis/v9"
)

// RedisStore deduplicates and persists extracted records, retains raw fetched
// content, and keeps per-sink announcement cursors.
type RedisStore struct {
	rdb *redis.Client

	// Now is the clock used to stamp merged records. Overridable in tests.
	Now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, Now: time.Now}
}

// partition maps a source category to its storage partition prefix.
func partition(cat model.Category) string {
	switch cat {
	case model.CategoryChat:
		return "chat"
	case model.CategorySocial:
		return "social"
	default:
		return "post"
	}
}

func recordKey(part, source, hash string) string {
	return fmt.Sprintf("%s:item:%s:%s", part, source, hash)
}

func sourceZKey(source string) string {
	return fmt.Sprintf("records:source:%s", source)
}

func cursorKey(sink string) string {
	return fmt.Sprintf("notify:cursor:%s", sink)
}

func rawKey(source, address string) string {
	sum := sha256.Sum256([]byte(address))
	return fmt.Sprintf("raw:%s:%s", source, hex.EncodeToString(sum[:8]))
}

const (
	timeZKey      = "records:by_time"
	sourcesSetKey = "records:sources"
	scoreSeqKey   = "records:score_seq"
)

// maxTxRetries bounds optimistic-lock retries on contended keys.
const maxTxRetries = 16

// nextScore allocates a store-wide monotonic score: the clock in microseconds,
// bumped past the last allocated score whenever the clock has not advanced.
// Scores are strictly increasing across all writers, so a timestamp cursor can
// never end up ahead of a record merged after the cursor was taken.
func (s *RedisStore) nextScore(ctx context.Context, nowMicros int64) (int64, error) {
	var score int64
	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			last, err := tx.Get(ctx, scoreSeqKey).Int64()
			if err == redis.Nil {
				last = 0
			} else if err != nil {
				return err
			}
			score = nowMicros
			if score <= last {
				score = last + 1
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, scoreSeqKey, score, 0)
				return nil
			})
			return err
		}, scoreSeqKey)
		if err == redis.TxFailedErr {
			continue
		}
		return score, err
	}
	return 0, errors.New("allocate record score: too many concurrent writers")
}

// MergeResult reports how a candidate batch was absorbed.
type MergeResult struct {
	Inserted int
	Skipped  int
}

// Merge deduplicates candidates against history and appends the new ones.
// The dedup key is (source, content hash); re-merging unchanged content is a
// no-op. DiscoveredAt is the merge time, never a timestamp from the source.
func (s *RedisStore) Merge(ctx context.Context, sourceID string, cat model.Category, candidates []model.Candidate) (MergeResult, error) {
	var res MergeResult
	part := partition(cat)
	for _, c := range candidates {
		hash := c.Hash()
		key := recordKey(part, sourceID, hash)
		n, err := s.rdb.Exists(ctx, key).Result()
		if err != nil {
			return res, err
		}
		if n > 0 {
			res.Skipped++
			continue
		}
		score, err := s.nextScore(ctx, s.now().UTC().UnixMicro())
		if err != nil {
			return res, err
		}
		rec := model.Record{
			SourceID:    sourceID,
			Title:       c.Title,
			Description: c.Description,
			Link:        c.Link,
			OriginToken: c.OriginToken,
			// DiscoveredAt mirrors the allocated score so the announcement
			// cursor and the zset order can never disagree
			DiscoveredAt: time.UnixMicro(score).UTC(),
			ContentHash:  hash,
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return res, err
		}
		inserted, err := s.commitRecord(ctx, key, sourceID, b, score)
		if err != nil {
			return res, err
		}
		if inserted {
			res.Inserted++
		} else {
			res.Skipped++
		}
	}
	return res, nil
}

// commitRecord writes the record body and all its index entries in one
// transaction: a record is either fully reachable or absent, never committed
// without its indexes. The duplicate check lives inside the transaction so a
// concurrent merge of the same candidate cannot re-score an existing record.
func (s *RedisStore) commitRecord(ctx context.Context, key, sourceID string, body []byte, score int64) (bool, error) {
	for i := 0; i < maxTxRetries; i++ {
		var inserted bool
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				inserted = false
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, body, 0)
				z := redis.Z{Score: float64(score), Member: key}
				pipe.ZAdd(ctx, timeZKey, z)
				pipe.ZAdd(ctx, sourceZKey(sourceID), z)
				pipe.SAdd(ctx, sourcesSetKey, sourceID)
				return nil
			})
			if err != nil {
				return err
			}
			inserted = true
			return nil
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		return inserted, err
	}
	return false, fmt.Errorf("commit record %s: too many concurrent writers", key)
}

// RecordsSince returns records discovered strictly after the given time,
// ordered ascending. limit <= 0 means no limit.
func (s *RedisStore) RecordsSince(ctx context.Context, after time.Time, limit int) ([]model.Record, error) {
	rng := &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(after.UnixMicro(), 10),
		Max: "+inf",
	}
	if limit > 0 {
		rng.Count = int64(limit)
	}
	keys, err := s.rdb.ZRangeByScore(ctx, timeZKey, rng).Result()
	if err != nil {
		return nil, err
	}
	return s.fetchRecords(ctx, keys)
}

// ListFilter narrows ListRecords output.
type ListFilter struct {
	SourceID  string
	SinceDays int
	Keyword   string
	Limit     int
}

// ListRecords is the read path for UIs, bots and CLIs: newest first,
// optionally narrowed by source, recency window and keyword.
func (s *RedisStore) ListRecords(ctx context.Context, f ListFilter) ([]model.Record, error) {
	zkey := timeZKey
	if f.SourceID != "" {
		zkey = sourceZKey(f.SourceID)
	}
	min := "-inf"
	if f.SinceDays > 0 {
		cut := s.now().UTC().AddDate(0, 0, -f.SinceDays)
		min = strconv.FormatInt(cut.UnixMicro(), 10)
	}
	keys, err := s.rdb.ZRevRangeByScore(ctx, zkey, &redis.ZRangeBy{Min: min, Max: "+inf"}).Result()
	if err != nil {
		return nil, err
	}
	recs, err := s.fetchRecords(ctx, keys)
	if err != nil {
		return nil, err
	}
	if kw := strings.ToLower(strings.TrimSpace(f.Keyword)); kw != "" {
		kept := recs[:0]
		for _, r := range recs {
			if strings.Contains(strings.ToLower(r.Title), kw) || strings.Contains(strings.ToLower(r.Description), kw) {
				kept = append(kept, r)
			}
		}
		recs = kept
	}
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}
	return recs, nil
}

// StatsByPeriod counts records per source discovered within [start, end].
func (s *RedisStore) StatsByPeriod(ctx context.Context, start, end time.Time) (map[string]int64, error) {
	ids, err := s.rdb.SMembers(ctx, sourcesSetKey).Result()
	if err != nil {
		return nil, err
	}
	min := strconv.FormatInt(start.UnixMicro(), 10)
	max := strconv.FormatInt(end.UnixMicro(), 10)
	out := make(map[string]int64, len(ids))
	for _, id := range ids {
		n, err := s.rdb.ZCount(ctx, sourceZKey(id), min, max).Result()
		if err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, nil
}

// SaveRaw retains fetched content for later manual or backfill extraction.
func (s *RedisStore) SaveRaw(ctx context.Context, sourceID, address, content string, ttl time.Duration) error {
	return s.rdb.Set(ctx, rawKey(sourceID, address), content, ttl).Err()
}

// GetRaw returns previously retained content for a location, if still present.
func (s *RedisStore) GetRaw(ctx context.Context, sourceID, address string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, rawKey(sourceID, address)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Cursor returns the announcement cursor for a sink. ok is false when the
// sink has never polled before.
func (s *RedisStore) Cursor(ctx context.Context, sink string) (time.Time, bool, error) {
	v, err := s.rdb.Get(ctx, cursorKey(sink)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	micros, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt cursor for sink %s: %w", sink, err)
	}
	return time.UnixMicro(micros).UTC(), true, nil
}

// SetCursor advances the announcement cursor for a sink.
func (s *RedisStore) SetCursor(ctx context.Context, sink string, t time.Time) error {
	return s.rdb.Set(ctx, cursorKey(sink), strconv.FormatInt(t.UnixMicro(), 10), 0).Err()
}

func (s *RedisStore) fetchRecords(ctx context.Context, keys []string) ([]model.Record, error) {
	out := make([]model.Record, 0, len(keys))
	for _, k := range keys {
		b, err := s.rdb.Get(ctx, k).Bytes()
		if err == redis.Nil {
			continue // index entry for an expired/removed record
		}
		if err != nil {
			return nil, err
		}
		var rec model.Record
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
