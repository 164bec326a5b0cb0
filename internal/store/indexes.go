// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// AddToIndex adds the session id to one of the state sets.
func (s *Store) AddToIndex(ctx context.Context, idx Index, id string) error {
	return unavailable("sadd "+string(idx), s.client.SAdd(ctx, string(idx), id).Err())
}

// RemoveFromIndex removes the id and reports whether it was a member. The
// removed flag is the transition guard: a MarkReady that fails to remove the
// id from session:starting lost the race against cleanup and must stand down.
func (s *Store) RemoveFromIndex(ctx context.Context, idx Index, id string) (bool, error) {
	n, err := s.client.SRem(ctx, string(idx), id).Result()
	if err != nil {
		return false, unavailable("srem "+string(idx), err)
	}
	return n > 0, nil
}

// InIndex reports membership.
func (s *Store) InIndex(ctx context.Context, idx Index, id string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, string(idx), id).Result()
	if err != nil {
		return false, unavailable("sismember "+string(idx), err)
	}
	return ok, nil
}

// IndexMembers returns all ids in the set.
func (s *Store) IndexMembers(ctx context.Context, idx Index) ([]string, error) {
	members, err := s.client.SMembers(ctx, string(idx)).Result()
	if err != nil {
		return nil, unavailable("smembers "+string(idx), err)
	}
	return members, nil
}

// IndexSize returns the cardinality of the set.
func (s *Store) IndexSize(ctx context.Context, idx Index) (int64, error) {
	n, err := s.client.SCard(ctx, string(idx)).Result()
	if err != nil {
		return 0, unavailable("scard "+string(idx), err)
	}
	return n, nil
}

// PopPoolReady atomically claims one pre-warmed session id. SPOP is the
// linearisation point for pool assignment: once an id is returned here no
// other caller can receive it.
func (s *Store) PopPoolReady(ctx context.Context) (string, bool, error) {
	id, err := s.client.SPop(ctx, string(IndexPool)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("spop pool", err)
	}
	return id, true, nil
}

// SetPoolTarget stores the desired pool size.
func (s *Store) SetPoolTarget(ctx context.Context, n int) error {
	return unavailable("set pool target", s.client.Set(ctx, keyPoolTarget, strconv.Itoa(n), 0).Err())
}

// PoolTarget reads the desired pool size; ok is false when unset.
func (s *Store) PoolTarget(ctx context.Context) (int, bool, error) {
	raw, err := s.client.Get(ctx, keyPoolTarget).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("get pool target", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// IncrPoolStat bumps a pool:stats counter field.
func (s *Store) IncrPoolStat(ctx context.Context, field string, delta int64) error {
	return unavailable("incr pool stat", s.client.HIncrBy(ctx, keyPoolStats, field, delta).Err())
}

// PoolStats returns the pool counters; missing fields read as zero.
func (s *Store) PoolStats(ctx context.Context) (map[string]int64, error) {
	raw, err := s.client.HGetAll(ctx, keyPoolStats).Result()
	if err != nil {
		return nil, unavailable("pool stats", err)
	}
	stats := make(map[string]int64, len(raw))
	for field, val := range raw {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		stats[field] = n
	}
	return stats, nil
}

// RateLimit counts a hit against the bucket and reports whether the caller
// is still inside the window's allowance. The first hit arms the window TTL.
// Store errors surface; the start path must not fail open.
func (s *Store) RateLimit(ctx context.Context, bucket string, window time.Duration, max int) (bool, error) {
	key := keyRateLimit(bucket)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, unavailable("rate limit incr", err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, key, window).Err(); err != nil {
			return false, unavailable("rate limit expire", err)
		}
	}
	return n <= int64(max), nil
}
