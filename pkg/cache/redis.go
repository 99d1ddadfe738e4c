package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "orders-cache:"
	redisTagPrefix = "orders-cache:tag:"

	// tagSetTTL bounds how long a tag index outlives the entries it points to.
	tagSetTTL = time.Hour
)

// RedisStore is a Store backed by Redis, shared by every process pointing at
// the same instance. Entry expiry uses native Redis TTLs; tags are Redis sets.
type RedisStore struct {
	redis *redis.Client
	now   func() time.Time
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(redisClient *redis.Client) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
		now:   time.Now,
	}
}

// Get retrieves an entry by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (s *RedisStore) Get(ctx context.Context, key Key) (*Entry, error) {
	redisKey := redisKeyPrefix + key.String()

	data, err := s.redis.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.WithLabelValues(backendRedis).Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	// Redis TTLs have second granularity on some servers; never serve past Expires.
	if entry.IsExpired(s.now()) {
		_ = s.redis.Del(ctx, redisKey).Err()
		CacheEvictions.WithLabelValues(backendRedis, "expired").Inc()
		CacheMisses.WithLabelValues(backendRedis).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(backendRedis).Inc()
	return &entry, nil
}

// Set stores an entry and indexes it under each tag. A non-positive ttl means DefaultTTL.
func (s *RedisStore) Set(ctx context.Context, key Key, value []byte, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := s.now()
	entry := Entry{
		Value:    value,
		Expires:  now.Add(ttl),
		Tags:     dedupeTags(tags),
		CachedAt: now,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	redisKey := redisKeyPrefix + key.String()
	indexTTL := tagSetTTL
	if ttl > indexTTL {
		indexTTL = ttl
	}

	pipe := s.redis.TxPipeline()
	for _, tag := range s.staleTags(ctx, redisKey, entry.Tags) {
		pipe.SRem(ctx, redisTagPrefix+tag, redisKey)
	}
	pipe.Set(ctx, redisKey, data, ttl)
	for _, tag := range entry.Tags {
		tagKey := redisTagPrefix + tag
		pipe.SAdd(ctx, tagKey, redisKey)
		pipe.Expire(ctx, tagKey, indexTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// staleTags returns the tags of the entry currently stored at redisKey that
// the replacement no longer carries.
func (s *RedisStore) staleTags(ctx context.Context, redisKey string, keep []string) []string {
	data, err := s.redis.Get(ctx, redisKey).Bytes()
	if err != nil {
		return nil
	}
	var prev Entry
	if json.Unmarshal(data, &prev) != nil {
		return nil
	}

	var stale []string
	for _, tag := range prev.Tags {
		if !containsTag(keep, tag) {
			stale = append(stale, tag)
		}
	}
	return stale
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Delete removes an entry. Stale tag set members are dropped on the next invalidation.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.redis.Del(ctx, redisKeyPrefix+key.String()).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Invalidate deletes every entry that still carries tag, then drops the tag
// set. Set members whose current entry no longer carries tag are left alone.
func (s *RedisStore) Invalidate(ctx context.Context, tag string) (int, error) {
	tagKey := redisTagPrefix + tag

	members, err := s.redis.SMembers(ctx, tagKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return 0, fmt.Errorf("redis smembers: %w", err)
	}

	if len(members) == 0 {
		return 0, nil
	}

	values, err := s.redis.MGet(ctx, members...).Result()
	if err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return 0, fmt.Errorf("redis mget: %w", err)
	}

	var tagged []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry Entry
		if json.Unmarshal([]byte(raw), &entry) != nil || entry.HasTag(tag) {
			tagged = append(tagged, members[i])
		}
	}

	pipe := s.redis.TxPipeline()
	var del *redis.IntCmd
	if len(tagged) > 0 {
		del = pipe.Del(ctx, tagged...)
	}
	pipe.Del(ctx, tagKey)
	if _, err := pipe.Exec(ctx); err != nil {
		CacheErrors.WithLabelValues("invalidate").Inc()
		return 0, fmt.Errorf("redis invalidate %q: %w", tag, err)
	}

	removed := 0
	if del != nil {
		removed = int(del.Val())
	}
	CacheInvalidations.WithLabelValues(backendRedis).Add(float64(removed))
	return removed, nil
}
