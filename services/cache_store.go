package services

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// HotStore is the optional fast layer in front of the ai_response_caches table
type HotStore interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil, nil on miss
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// StatsCounter keeps hit/miss counters for the AI response cache
type StatsCounter interface {
	Hit(ctx context.Context) error
	Miss(ctx context.Context) error
	Counts(ctx context.Context) (hits, misses int64, err error)
	Reset(ctx context.Context) error
}

type RedisHotStore struct {
	client *redis.Client
}

func NewRedisHotStore(client *redis.Client) *RedisHotStore {
	return &RedisHotStore{client: client}
}

func (r *RedisHotStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (r *RedisHotStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, val, ttl).Err()
}

func (r *RedisHotStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

const (
	statsHitsKey   = "ai_cache:stats:hits"
	statsMissesKey = "ai_cache:stats:misses"
)

// RedisStatsCounter shares counters across every process using the cache
type RedisStatsCounter struct {
	client *redis.Client
}

func NewRedisStatsCounter(client *redis.Client) *RedisStatsCounter {
	return &RedisStatsCounter{client: client}
}

func (r *RedisStatsCounter) Hit(ctx context.Context) error {
	return r.client.Incr(ctx, statsHitsKey).Err()
}

func (r *RedisStatsCounter) Miss(ctx context.Context) error {
	return r.client.Incr(ctx, statsMissesKey).Err()
}

func (r *RedisStatsCounter) Counts(ctx context.Context) (int64, int64, error) {
	vals, err := r.client.MGet(ctx, statsHitsKey, statsMissesKey).Result()
	if err != nil {
		return 0, 0, err
	}
	return redisInt(vals[0]), redisInt(vals[1]), nil
}

func (r *RedisStatsCounter) Reset(ctx context.Context) error {
	return r.client.Del(ctx, statsHitsKey, statsMissesKey).Err()
}

func redisInt(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// MemoryStatsCounter is used when Redis is disabled; counts are per process
type MemoryStatsCounter struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (m *MemoryStatsCounter) Hit(context.Context) error {
	m.hits.Add(1)
	return nil
}

func (m *MemoryStatsCounter) Miss(context.Context) error {
	m.misses.Add(1)
	return nil
}

func (m *MemoryStatsCounter) Counts(context.Context) (int64, int64, error) {
	return m.hits.Load(), m.misses.Load(), nil
}

func (m *MemoryStatsCounter) Reset(context.Context) error {
	m.hits.Store(0)
	m.misses.Store(0)
	return nil
}
