package pipelinestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

const (
	pipelineKeyPrefix = "pipeline:"
	pipelineListKey   = "pipelines"

	// maxTxRetries bounds optimistic WATCH retries on concurrent writers.
	maxTxRetries = 5
)

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore implements Store using Redis. Each pipeline and its nodes are
// kept as one JSON document and updated under WATCH.
type RedisStore struct {
	client    *redis.Client
	validator NodeValidator
}

// NewRedisStore creates a new Redis-backed pipeline store.
func NewRedisStore(url, password string, db int, v NodeValidator) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client, validator: v}, nil
}

// NewRedisStoreWithClient creates a store using an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, v NodeValidator) *RedisStore {
	return &RedisStore{client: client, validator: v}
}

func (s *RedisStore) pipelineKey(id string) string {
	return pipelineKeyPrefix + id
}

// CreatePipeline saves a new pipeline.
func (s *RedisStore) CreatePipeline(ctx context.Context, req *CreatePipelineRequest) (*types.Pipeline, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	id := req.UUID
	if id == "" {
		id = uuid.New().String()
	}

	rec := newRecord(req, id, time.Now().UTC())
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.pipelineKey(id), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("save pipeline: %w", err)
	}
	if !ok {
		return nil, ErrPipelineExists
	}
	if err := s.client.SAdd(ctx, pipelineListKey, id).Err(); err != nil {
		return nil, fmt.Errorf("index pipeline: %w", err)
	}

	p := rec.Pipeline
	return &p, nil
}

func (s *RedisStore) load(ctx context.Context, c getter, id string) (*record, error) {
	data, err := c.Get(ctx, s.pipelineKey(id)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal pipeline: %w", err)
	}
	if rec.Nodes == nil {
		rec.Nodes = []types.Node{}
	}
	return &rec, nil
}

// GetPipeline retrieves a pipeline with its nodes.
func (s *RedisStore) GetPipeline(ctx context.Context, id string) (*types.PipelineGraph, error) {
	rec, err := s.load(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	return rec.graph(), nil
}

// ListPipelines returns pipelines ordered by creation time.
func (s *RedisStore) ListPipelines(ctx context.Context, opts *ListOptions) ([]*types.Pipeline, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	ids, err := s.client.SMembers(ctx, pipelineListKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list pipeline ids: %w", err)
	}

	pipelines := make([]*types.Pipeline, 0, len(ids))
	for _, id := range ids {
		rec, err := s.load(ctx, s.client, id)
		if errors.Is(err, ErrPipelineNotFound) {
			// Stale reference, clean up
			s.client.SRem(ctx, pipelineListKey, id)
			continue
		}
		if err != nil {
			continue // Skip on error
		}
		p := rec.Pipeline
		pipelines = append(pipelines, &p)
	}

	return paginate(pipelines, opts), nil
}

// DeletePipeline removes a pipeline.
func (s *RedisStore) DeletePipeline(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, s.pipelineKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if n == 0 {
		return ErrPipelineNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.pipelineKey(id))
	pipe.SRem(ctx, pipelineListKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete pipeline: %w", err)
	}
	return nil
}

// CreateNode adds a node to a pipeline.
func (s *RedisStore) CreateNode(ctx context.Context, pipelineUUID string, req *types.NewNodeRequest) (*types.Node, error) {
	var out *types.Node
	err := s.mutate(ctx, pipelineUUID, func(rec *record, now time.Time) error {
		_, err := rec.createNode(req, now)
		return err
	}, func(rec *record) {
		out = findClone(rec, req.UUID)
	})
	return out, err
}

// GetNode retrieves a node.
func (s *RedisStore) GetNode(ctx context.Context, pipelineUUID, nodeUUID string) (*types.Node, error) {
	rec, err := s.load(ctx, s.client, pipelineUUID)
	if err != nil {
		return nil, err
	}
	n, err := rec.node(nodeUUID)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// UpdateNode shallow-merges patch into a node.
func (s *RedisStore) UpdateNode(ctx context.Context, pipelineUUID, nodeUUID string, patch *types.NodePatch) (*types.Node, error) {
	var out *types.Node
	err := s.mutate(ctx, pipelineUUID, func(rec *record, now time.Time) error {
		_, err := rec.updateNode(nodeUUID, patch, now)
		return err
	}, func(rec *record) {
		out = findClone(rec, nodeUUID)
	})
	return out, err
}

// SetNodeStatus records the execution state of a node.
func (s *RedisStore) SetNodeStatus(ctx context.Context, pipelineUUID, nodeUUID string, status types.NodeStatus, output json.RawMessage) (*types.Node, error) {
	var out *types.Node
	err := s.mutate(ctx, pipelineUUID, func(rec *record, now time.Time) error {
		_, err := rec.setStatus(nodeUUID, status, output, now)
		return err
	}, func(rec *record) {
		out = findClone(rec, nodeUUID)
	})
	return out, err
}

// DeleteNode removes a node and prunes references to it.
func (s *RedisStore) DeleteNode(ctx context.Context, pipelineUUID, nodeUUID string) error {
	return s.mutate(ctx, pipelineUUID, func(rec *record, now time.Time) error {
		return rec.deleteNode(nodeUUID, now)
	}, nil)
}

// Connect adds source to the target's slot.
func (s *RedisStore) Connect(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error {
	return s.mutate(ctx, pipelineUUID, func(rec *record, now time.Time) error {
		return rec.connect(sourceUUID, targetUUID, slot, now)
	}, nil)
}

// Disconnect removes source from the target's slot.
func (s *RedisStore) Disconnect(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error {
	return s.mutate(ctx, pipelineUUID, func(rec *record, now time.Time) error {
		return rec.disconnect(sourceUUID, targetUUID, slot, now)
	}, nil)
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// mutate loads the pipeline document under WATCH, applies fn, and writes it
// back in a MULTI block. The transaction is retried when another writer
// touched the key in between. done sees the committed record.
func (s *RedisStore) mutate(ctx context.Context, pipelineUUID string, fn func(rec *record, now time.Time) error, done func(rec *record)) (err error) {
	defer func() {
		metrics.PipelineStoreOperations.WithLabelValues("mutate", resultLabel(err)).Inc()
	}()
	key := s.pipelineKey(pipelineUUID)

	var committed *record
	txf := func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, pipelineUUID)
		if err != nil {
			return err
		}
		if err := fn(rec, time.Now().UTC()); err != nil {
			return err
		}
		rec.annotate(s.validator)

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal pipeline: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			committed = rec
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			metrics.PipelineStoreOperations.WithLabelValues("tx_retry", "conflict").Inc()
			continue
		}
		if err != nil {
			return err
		}
		if done != nil {
			done(committed)
		}
		return nil
	}
	return fmt.Errorf("update pipeline %s: too many concurrent writers", pipelineUUID)
}

func findClone(rec *record, nodeUUID string) *types.Node {
	n, err := rec.node(nodeUUID)
	if err != nil {
		return nil
	}
	c := n.Clone()
	return &c
}

var _ Store = (*RedisStore)(nil)
