package graphstore

import (
	"fmt"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// ValidateConnection is the gate editors run before Connect. Connect itself
// trusts its caller. A proposal is rejected when either node is unknown, it
// is a self loop, the slot is not declared for the target kind, the slot
// already holds its maximum number of edges, or the edge would close a cycle.
func (s *Store) ValidateConnection(sourceUUID, targetUUID, slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ti := s.indexLocked(targetUUID)
	if ti < 0 {
		return fmt.Errorf("%w: target %s", ErrNodeNotFound, targetUUID)
	}
	if s.indexLocked(sourceUUID) < 0 {
		return fmt.Errorf("%w: source %s", ErrNodeNotFound, sourceUUID)
	}
	if sourceUUID == targetUUID {
		return ErrSelfLoop
	}

	target := &s.nodes[ti]
	if !types.HasInputHandle(target.Type, slot) {
		return fmt.Errorf("%w: %s has no slot %q", ErrSlotNotDeclared, target.Type, slot)
	}

	edges := deriveEdges(s.nodes)
	if limit := types.GetMaxConnections(target.Type, slot); limit != types.Unlimited {
		count := 0
		for _, e := range edges {
			if e.Target == targetUUID && e.TargetHandle == slot {
				count++
			}
		}
		if count >= limit {
			return fmt.Errorf("%w: %s accepts %d connection(s)", ErrSlotFull, slot, limit)
		}
	}

	if reachable(edges, targetUUID, sourceUUID) {
		return ErrCycle
	}
	return nil
}

// reachable reports whether to can be reached from from along edges.
func reachable(edges []Edge, from, to string) bool {
	succ := make(map[string][]string)
	for _, e := range edges {
		succ[e.Source] = append(succ[e.Source], e.Target)
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == to {
			return true
		}
		for _, next := range succ[id] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}
