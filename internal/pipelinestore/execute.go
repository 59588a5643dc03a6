package pipelinestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// ExecutionOutput is recorded as the output of a completed node.
type ExecutionOutput struct {
	ExecutedAt time.Time `json:"executedAt"`
	Inputs     []string  `json:"inputs"`
}

// Execute runs a node: it is marked in_progress, then completed when every
// upstream node is completed, else failed. Callers observe the outcome by
// reloading the pipeline.
func Execute(ctx context.Context, s Store, pipelineUUID, nodeUUID string) (*types.Node, error) {
	graph, err := s.GetPipeline(ctx, pipelineUUID)
	if err != nil {
		return nil, err
	}

	var target *types.Node
	status := make(map[string]types.NodeStatus, len(graph.Nodes))
	for i := range graph.Nodes {
		status[graph.Nodes[i].UUID] = graph.Nodes[i].Status
		if graph.Nodes[i].UUID == nodeUUID {
			target = &graph.Nodes[i]
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeUUID)
	}

	if _, err := s.SetNodeStatus(ctx, pipelineUUID, nodeUUID, types.NodeStatusInProgress, nil); err != nil {
		return nil, err
	}

	sources := target.Sources()
	for _, id := range sources {
		if status[id] != types.NodeStatusCompleted {
			return s.SetNodeStatus(ctx, pipelineUUID, nodeUUID, types.NodeStatusFailed, nil)
		}
	}

	out, err := json.Marshal(ExecutionOutput{ExecutedAt: time.Now().UTC(), Inputs: sources})
	if err != nil {
		return nil, fmt.Errorf("marshal output: %w", err)
	}
	return s.SetNodeStatus(ctx, pipelineUUID, nodeUUID, types.NodeStatusCompleted, out)
}
