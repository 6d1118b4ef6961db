// Package cache keeps the workflow state list in Redis. States change rarely
// and every transition check needs all of them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flxbl-dev/kickass-cms-sub001/internal/workflow"
)

const (
	defaultPrefix = "cms:"
	statesKey     = "workflow:states"
	DefaultTTL    = 5 * time.Minute
)

type cachedStates struct {
	States   []workflow.State `json:"states"`
	CachedAt time.Time        `json:"cached_at"`
}

// RedisStore caches workflow states under a single key with a TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: defaultPrefix,
		ttl:    ttl,
	}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// States returns the cached list. ok is false on a miss.
func (s *RedisStore) States(ctx context.Context) (states []workflow.State, ok bool, err error) {
	raw, err := s.client.Get(ctx, s.key(statesKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached states: %w", err)
	}

	var data cachedStates
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached states: %w", err)
	}
	return data.States, true, nil
}

func (s *RedisStore) SaveStates(ctx context.Context, states []workflow.State) error {
	payload, err := json.Marshal(cachedStates{States: states, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal states: %w", err)
	}
	if err := s.client.Set(ctx, s.key(statesKey), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save states: %w", err)
	}
	return nil
}

// Invalidate drops the cached list; the next read goes to the graph store.
func (s *RedisStore) Invalidate(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key(statesKey)).Err(); err != nil {
		return fmt.Errorf("invalidate states: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
