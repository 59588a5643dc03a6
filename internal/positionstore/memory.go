package positionstore

import (
	"context"
	"sync"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// MemoryStore implements Store in process memory.
// Suitable for testing and single-session editors.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]map[string]types.Position
}

// NewMemoryStore creates an empty in-memory position store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]map[string]types.Position)}
}

// Load returns a copy of the saved positions.
func (s *MemoryStore) Load(ctx context.Context, pipelineUUID string) (map[string]types.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePositions(s.slots[Key(pipelineUUID)]), nil
}

// Save replaces the saved positions.
func (s *MemoryStore) Save(ctx context.Context, pipelineUUID string, positions map[string]types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[Key(pipelineUUID)] = clonePositions(positions)
	return nil
}

// Clear removes the saved positions.
func (s *MemoryStore) Clear(ctx context.Context, pipelineUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, Key(pipelineUUID))
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
