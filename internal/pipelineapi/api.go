// Package pipelineapi defines the pipeline API consumed by the graph store
// and provides an HTTP client and an in-process implementation of it.
package pipelineapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// ErrNotFound is matched by errors for unknown pipelines or nodes.
var ErrNotFound = errors.New("not found")

// API is the external pipeline service. Node creation uses a caller-supplied
// uuid; executeNode only triggers execution, its outcome is observed by
// reloading the pipeline.
type API interface {
	LoadPipeline(ctx context.Context, pipelineUUID string) (*types.PipelineGraph, error)
	UpdateNode(ctx context.Context, pipelineUUID, nodeUUID string, patch *types.NodePatch) (*types.Node, error)
	ExecuteNode(ctx context.Context, pipelineUUID, nodeUUID string) error
	ConnectNodes(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error
	DisconnectNodes(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error
	CreateNode(ctx context.Context, pipelineUUID string, req *types.NewNodeRequest) (*types.Node, error)
	DeleteNode(ctx context.Context, pipelineUUID, nodeUUID string) error
}

// APIError is a non-2xx response of the pipeline service.
type APIError struct {
	Status    int    `json:"-"`
	Code      string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pipeline api: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("pipeline api: %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps 404 responses to ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// ConnectionRequest is the body of connect and disconnect calls.
type ConnectionRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Slot   string `json:"slot"`
}

// disconnectPatch computes the input patch removing source from the target's
// slot. It reports false when there is nothing to remove.
func disconnectPatch(target *types.Node, sourceUUID, slot string) (*types.NodePatch, bool) {
	current, ok := target.Inputs[slot]
	if !ok || !current.Contains(sourceUUID) {
		return nil, false
	}
	inputs := make(map[string]types.InputValue, len(target.Inputs))
	for k, v := range target.Inputs {
		inputs[k] = v
	}
	inputs[slot] = current.Without(sourceUUID)
	return &types.NodePatch{Inputs: inputs}, true
}

func findNode(graph *types.PipelineGraph, nodeUUID string) (*types.Node, error) {
	for i := range graph.Nodes {
		if graph.Nodes[i].UUID == nodeUUID {
			return &graph.Nodes[i], nil
		}
	}
	return nil, fmt.Errorf("node %s: %w", nodeUUID, ErrNotFound)
}
