package positionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// RedisStore implements Store with one Redis hash per pipeline:
// positions:<pipelineUuid> -> {nodeUuid: {"x":..,"y":..}}.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (redis://host:port/db)
	URL      string
	Password string
	DB       int

	// TTL for saved arrangements (0 = no expiry)
	TTL time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg *RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{client: client, ttl: cfg.TTL}, nil
}

// NewRedisStoreWithClient creates a store using an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Load returns the saved positions. Undecodable entries are skipped.
func (s *RedisStore) Load(ctx context.Context, pipelineUUID string) (map[string]types.Position, error) {
	raw, err := s.client.HGetAll(ctx, Key(pipelineUUID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	out := make(map[string]types.Position, len(raw))
	for nodeUUID, data := range raw {
		var p types.Position
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			continue
		}
		out[nodeUUID] = p
	}
	return out, nil
}

// Save replaces the hash atomically.
func (s *RedisStore) Save(ctx context.Context, pipelineUUID string, positions map[string]types.Position) error {
	fields := make(map[string]interface{}, len(positions))
	for nodeUUID, p := range positions {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}
		fields[nodeUUID] = string(data)
	}

	key := Key(pipelineUUID)
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save positions: %w", err)
	}
	return nil
}

// Clear deletes the hash.
func (s *RedisStore) Clear(ctx context.Context, pipelineUUID string) error {
	if err := s.client.Del(ctx, Key(pipelineUUID)).Err(); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
