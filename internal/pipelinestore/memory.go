package pipelinestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for testing and local development.
type MemoryStore struct {
	mu        sync.RWMutex
	pipelines map[string]*record
	validator NodeValidator
	now       func() time.Time
}

// NewMemoryStore creates a new in-memory pipeline store. v may be nil, in
// which case only reference integrity feeds node validity.
func NewMemoryStore(v NodeValidator) *MemoryStore {
	return &MemoryStore{
		pipelines: make(map[string]*record),
		validator: v,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreatePipeline saves a new pipeline.
func (s *MemoryStore) CreatePipeline(ctx context.Context, req *CreatePipelineRequest) (*types.Pipeline, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := req.UUID
	if id == "" {
		id = uuid.New().String()
	}
	if _, exists := s.pipelines[id]; exists {
		return nil, ErrPipelineExists
	}

	rec := newRecord(req, id, s.now())
	s.pipelines[id] = rec
	p := rec.Pipeline
	return &p, nil
}

// GetPipeline retrieves a pipeline with its nodes.
func (s *MemoryStore) GetPipeline(ctx context.Context, id string) (*types.PipelineGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.pipelines[id]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	// Return a copy to prevent external mutation
	return rec.graph(), nil
}

// ListPipelines returns pipelines ordered by creation time.
func (s *MemoryStore) ListPipelines(ctx context.Context, opts *ListOptions) ([]*types.Pipeline, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	s.mu.RLock()
	pipelines := make([]*types.Pipeline, 0, len(s.pipelines))
	for _, rec := range s.pipelines {
		p := rec.Pipeline
		pipelines = append(pipelines, &p)
	}
	s.mu.RUnlock()

	return paginate(pipelines, opts), nil
}

// DeletePipeline removes a pipeline.
func (s *MemoryStore) DeletePipeline(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pipelines[id]; !ok {
		return ErrPipelineNotFound
	}
	delete(s.pipelines, id)
	return nil
}

// CreateNode adds a node to a pipeline.
func (s *MemoryStore) CreateNode(ctx context.Context, pipelineUUID string, req *types.NewNodeRequest) (*types.Node, error) {
	err := s.mutate(pipelineUUID, func(rec *record, now time.Time) error {
		_, err := rec.createNode(req, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetNode(ctx, pipelineUUID, req.UUID)
}

// GetNode retrieves a node.
func (s *MemoryStore) GetNode(ctx context.Context, pipelineUUID, nodeUUID string) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.pipelines[pipelineUUID]
	if !ok {
		return nil, ErrPipelineNotFound
	}
	n, err := rec.node(nodeUUID)
	if err != nil {
		return nil, err
	}
	c := n.Clone()
	return &c, nil
}

// UpdateNode shallow-merges patch into a node.
func (s *MemoryStore) UpdateNode(ctx context.Context, pipelineUUID, nodeUUID string, patch *types.NodePatch) (*types.Node, error) {
	err := s.mutate(pipelineUUID, func(rec *record, now time.Time) error {
		_, err := rec.updateNode(nodeUUID, patch, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetNode(ctx, pipelineUUID, nodeUUID)
}

// SetNodeStatus records the execution state of a node.
func (s *MemoryStore) SetNodeStatus(ctx context.Context, pipelineUUID, nodeUUID string, status types.NodeStatus, output json.RawMessage) (*types.Node, error) {
	err := s.mutate(pipelineUUID, func(rec *record, now time.Time) error {
		_, err := rec.setStatus(nodeUUID, status, output, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetNode(ctx, pipelineUUID, nodeUUID)
}

// DeleteNode removes a node and prunes references to it.
func (s *MemoryStore) DeleteNode(ctx context.Context, pipelineUUID, nodeUUID string) error {
	return s.mutate(pipelineUUID, func(rec *record, now time.Time) error {
		return rec.deleteNode(nodeUUID, now)
	})
}

// Connect adds source to the target's slot.
func (s *MemoryStore) Connect(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error {
	return s.mutate(pipelineUUID, func(rec *record, now time.Time) error {
		return rec.connect(sourceUUID, targetUUID, slot, now)
	})
}

// Disconnect removes source from the target's slot.
func (s *MemoryStore) Disconnect(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error {
	return s.mutate(pipelineUUID, func(rec *record, now time.Time) error {
		return rec.disconnect(sourceUUID, targetUUID, slot, now)
	})
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// mutate applies fn to a deep copy of the record and commits it only when fn
// succeeds, so a failed operation leaves the pipeline untouched.
func (s *MemoryStore) mutate(pipelineUUID string, fn func(rec *record, now time.Time) error) (err error) {
	defer func() {
		metrics.PipelineStoreOperations.WithLabelValues("mutate", resultLabel(err)).Inc()
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pipelines[pipelineUUID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineUUID)
	}
	next := &record{Pipeline: rec.Pipeline, Nodes: types.CloneNodes(rec.Nodes)}
	if err = fn(next, s.now()); err != nil {
		return err
	}
	next.annotate(s.validator)
	s.pipelines[pipelineUUID] = next
	return nil
}

func paginate(pipelines []*types.Pipeline, opts *ListOptions) []*types.Pipeline {
	sort.Slice(pipelines, func(i, j int) bool {
		if pipelines[i].CreatedAt.Equal(pipelines[j].CreatedAt) {
			return pipelines[i].UUID < pipelines[j].UUID
		}
		return pipelines[i].CreatedAt.Before(pipelines[j].CreatedAt)
	})

	// Apply offset and limit
	if opts.Offset > 0 {
		if opts.Offset >= len(pipelines) {
			return []*types.Pipeline{}
		}
		pipelines = pipelines[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(pipelines) {
		pipelines = pipelines[:opts.Limit]
	}
	return pipelines
}

var _ Store = (*MemoryStore)(nil)
