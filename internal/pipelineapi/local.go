package pipelineapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/pipelinestore"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// Local implements API in-process over a pipeline store. It is used by
// tools and tests that embed the engine next to its backend.
type Local struct {
	store pipelinestore.Store
}

// NewLocal creates an in-process API over store.
func NewLocal(store pipelinestore.Store) *Local {
	return &Local{store: store}
}

// LoadPipeline returns a pipeline with its nodes.
func (l *Local) LoadPipeline(ctx context.Context, pipelineUUID string) (*types.PipelineGraph, error) {
	graph, err := l.store.GetPipeline(ctx, pipelineUUID)
	return graph, mapErr(err)
}

// UpdateNode patches a node.
func (l *Local) UpdateNode(ctx context.Context, pipelineUUID, nodeUUID string, patch *types.NodePatch) (*types.Node, error) {
	n, err := l.store.UpdateNode(ctx, pipelineUUID, nodeUUID, patch)
	return n, mapErr(err)
}

// ExecuteNode runs a node.
func (l *Local) ExecuteNode(ctx context.Context, pipelineUUID, nodeUUID string) error {
	_, err := pipelinestore.Execute(ctx, l.store, pipelineUUID, nodeUUID)
	return mapErr(err)
}

// ConnectNodes adds source to the target's slot.
func (l *Local) ConnectNodes(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error {
	return mapErr(l.store.Connect(ctx, pipelineUUID, sourceUUID, targetUUID, slot))
}

// DisconnectNodes reads the target node and patches the slot without source.
func (l *Local) DisconnectNodes(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error {
	target, err := l.store.GetNode(ctx, pipelineUUID, targetUUID)
	if err != nil {
		return mapErr(err)
	}
	patch, ok := disconnectPatch(target, sourceUUID, slot)
	if !ok {
		return nil
	}
	_, err = l.store.UpdateNode(ctx, pipelineUUID, targetUUID, patch)
	return mapErr(err)
}

// CreateNode creates a node.
func (l *Local) CreateNode(ctx context.Context, pipelineUUID string, req *types.NewNodeRequest) (*types.Node, error) {
	n, err := l.store.CreateNode(ctx, pipelineUUID, req)
	return n, mapErr(err)
}

// DeleteNode deletes a node.
func (l *Local) DeleteNode(ctx context.Context, pipelineUUID, nodeUUID string) error {
	return mapErr(l.store.DeleteNode(ctx, pipelineUUID, nodeUUID))
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pipelinestore.ErrPipelineNotFound) || errors.Is(err, pipelinestore.ErrNodeNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

var _ API = (*Local)(nil)
