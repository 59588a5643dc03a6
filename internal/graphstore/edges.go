package graphstore

import (
	"fmt"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// Edge is a derived connection from a source node into a target slot.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	TargetHandle string `json:"targetHandle"`
	Animated     bool   `json:"animated"`
	Dashed       bool   `json:"dashed"`
	Color        string `json:"color"`
}

var outputColors = map[types.OutputType]string{
	types.OutputText:  "#64748b",
	types.OutputImage: "#f59e0b",
	types.OutputAudio: "#10b981",
	types.OutputVideo: "#6366f1",
	types.OutputJSON:  "#0ea5e9",
}

const defaultEdgeColor = "#94a3b8"

// EdgeColor returns the stroke color for edges leaving n.
func EdgeColor(n *types.Node) string {
	if c, ok := outputColors[types.OutputTypeOf(n)]; ok {
		return c
	}
	return defaultEdgeColor
}

// GetEdges derives the edge list from node inputs.
func (s *Store) GetEdges() []Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deriveEdges(s.nodes)
}

// deriveEdges emits one edge per source reference in a declared slot. Slots
// are visited in key order; empty references and unknown sources are skipped.
func deriveEdges(nodes []types.Node) []Edge {
	byID := make(map[string]*types.Node, len(nodes))
	for i := range nodes {
		byID[nodes[i].UUID] = &nodes[i]
	}

	var edges []Edge
	for i := range nodes {
		target := &nodes[i]
		for _, slot := range types.SortedSlotKeys(target.Inputs) {
			if !types.HasInputHandle(target.Type, slot) {
				continue
			}
			for idx, sourceID := range target.Inputs[slot].IDs() {
				source, ok := byID[sourceID]
				if sourceID == "" || !ok {
					continue
				}
				edges = append(edges, Edge{
					ID:           fmt.Sprintf("%s-%s-%s-%d", sourceID, target.UUID, slot, idx),
					Source:       sourceID,
					Target:       target.UUID,
					TargetHandle: slot,
					Animated:     target.Status == types.NodeStatusInProgress,
					Dashed:       source.Status != types.NodeStatusCompleted,
					Color:        EdgeColor(source),
				})
			}
		}
	}
	return edges
}
