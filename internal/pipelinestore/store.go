// Package pipelinestore provides pipeline and node persistence for the
// reference pipeline API.
package pipelinestore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrPipelineExists   = errors.New("pipeline already exists")
	ErrNodeNotFound     = errors.New("node not found")
	ErrNodeExists       = errors.New("node already exists")
	ErrSlotNotDeclared  = errors.New("input slot not declared for node type")
	ErrSlotFull         = errors.New("input slot is full")
	ErrSelfLoop         = errors.New("node cannot be connected to itself")
)

// CreatePipelineRequest is the input for creating a new pipeline.
type CreatePipelineRequest struct {
	UUID        string `json:"uuid,omitempty"` // Optional, auto-generated if empty
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Validate checks if a CreatePipelineRequest is valid.
func (r *CreatePipelineRequest) Validate() error {
	if r.Name == "" {
		return errors.New("pipeline name is required")
	}
	return nil
}

// ListOptions configures list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

// NodeValidator checks the config and asset payload of a node.
type NodeValidator interface {
	ValidateNode(n *types.Node) []string
}

// Store defines the interface for pipeline persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreatePipeline saves a new, empty pipeline. Returns ErrPipelineExists if the UUID is taken.
	CreatePipeline(ctx context.Context, req *CreatePipelineRequest) (*types.Pipeline, error)

	// GetPipeline returns a pipeline with its nodes. Returns ErrPipelineNotFound if not found.
	GetPipeline(ctx context.Context, uuid string) (*types.PipelineGraph, error)

	// ListPipelines returns pipeline headers ordered by creation time.
	ListPipelines(ctx context.Context, opts *ListOptions) ([]*types.Pipeline, error)

	// DeletePipeline removes a pipeline and its nodes.
	DeletePipeline(ctx context.Context, uuid string) error

	// CreateNode adds a node. Returns ErrNodeExists if the UUID is taken.
	CreateNode(ctx context.Context, pipelineUUID string, req *types.NewNodeRequest) (*types.Node, error)

	// GetNode returns a single node.
	GetNode(ctx context.Context, pipelineUUID, nodeUUID string) (*types.Node, error)

	// UpdateNode shallow-merges patch into a node.
	UpdateNode(ctx context.Context, pipelineUUID, nodeUUID string, patch *types.NodePatch) (*types.Node, error)

	// SetNodeStatus records an execution state and, when non-nil, its output.
	SetNodeStatus(ctx context.Context, pipelineUUID, nodeUUID string, status types.NodeStatus, output json.RawMessage) (*types.Node, error)

	// DeleteNode removes a node and prunes references to it from sibling inputs.
	DeleteNode(ctx context.Context, pipelineUUID, nodeUUID string) error

	// Connect adds source to the target's slot. Connecting twice is a no-op.
	Connect(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error

	// Disconnect removes source from the target's slot. Absent references are a no-op.
	Disconnect(ctx context.Context, pipelineUUID, sourceUUID, targetUUID, slot string) error

	// Close releases any resources.
	Close() error
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
