// Package positionstore persists manual node arrangements per pipeline in a
// durable key-value slot named positions:<pipelineUuid>.
package positionstore

import (
	"context"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

const keyPrefix = "positions:"

// Key returns the durable slot name for a pipeline.
func Key(pipelineUUID string) string {
	return keyPrefix + pipelineUUID
}

// Store defines durable position persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the saved positions of a pipeline. A pipeline with no
	// saved arrangement yields an empty map and no error.
	Load(ctx context.Context, pipelineUUID string) (map[string]types.Position, error)

	// Save replaces the saved positions of a pipeline.
	Save(ctx context.Context, pipelineUUID string, positions map[string]types.Position) error

	// Clear removes the saved positions of a pipeline.
	Clear(ctx context.Context, pipelineUUID string) error

	// Close releases any resources.
	Close() error
}

func clonePositions(in map[string]types.Position) map[string]types.Position {
	out := make(map[string]types.Position, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
