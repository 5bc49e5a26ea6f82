package storage

import (
	"context"
)

const triggersKey = "scrape:triggers"

// EnqueueTrigger requests an out-of-cadence scrape of one source. Requests
// are set-valued: triggering the same source twice before the next tick is
// the same as triggering it once.
func (s *RedisStore) EnqueueTrigger(ctx context.Context, sourceID string) error {
	return s.rdb.SAdd(ctx, triggersKey, sourceID).Err()
}

// Drain returns and clears all pending triggers.
func (s *RedisStore) Drain(ctx context.Context) ([]string, error) {
	names, err := s.rdb.SMembers(ctx, triggersKey).Result()
	if err != nil {
		return nil, err
	}
	if len(names) > 0 {
		if err := s.rdb.Del(ctx, triggersKey).Err(); err != nil {
			return nil, err
		}
	}
	return names, nil
}
