package graphstore

import (
	"log/slog"
	"time"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/layout"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// LayoutedNode is a node ready to render.
type LayoutedNode struct {
	types.Node
	Position    types.Position `json:"position"`
	HasPosition bool           `json:"-"`
	Selected    bool           `json:"selected"`
}

// LayoutConfigPatch is a partial layout configuration; nil fields are kept.
type LayoutConfigPatch struct {
	Algorithm   *layout.Algorithm `json:"algorithm,omitempty"`
	Direction   *layout.RankDir   `json:"direction,omitempty"`
	NodeWidth   *float64          `json:"nodeWidth,omitempty"`
	NodeHeight  *float64          `json:"nodeHeight,omitempty"`
	RankSep     *float64          `json:"rankSep,omitempty"`
	NodeSep     *float64          `json:"nodeSep,omitempty"`
	AutoSpacing *bool             `json:"autoSpacing,omitempty"`
}

func (p LayoutConfigPatch) apply(c layout.Config) layout.Config {
	if p.Algorithm != nil {
		c.Algorithm = *p.Algorithm
	}
	if p.Direction != nil {
		c.Direction = *p.Direction
	}
	if p.NodeWidth != nil {
		c.NodeWidth = *p.NodeWidth
	}
	if p.NodeHeight != nil {
		c.NodeHeight = *p.NodeHeight
	}
	if p.RankSep != nil {
		c.RankSep = *p.RankSep
	}
	if p.NodeSep != nil {
		c.NodeSep = *p.NodeSep
	}
	if p.AutoSpacing != nil {
		c.AutoSpacing = *p.AutoSpacing
	}
	return c
}

// NeedsLayout reports whether some node lacks a position or the layout was
// invalidated.
func (s *Store) NeedsLayout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsLayoutLocked()
}

func (s *Store) needsLayoutLocked() bool {
	if len(s.nodes) == 0 {
		return false
	}
	if !s.hasInitialLayout {
		return true
	}
	for i := range s.nodes {
		if _, ok := s.nodePositions[s.nodes[i].UUID]; !ok {
			return true
		}
	}
	return false
}

// ComputeAndCommitLayout positions every node lacking a position and
// persists the result. Without an initial layout the whole graph is laid
// out; otherwise existing positions are kept and only the missing nodes are
// placed, next to their first positioned upstream node when there is one.
// It reports whether anything was computed.
func (s *Store) ComputeAndCommitLayout() bool {
	committed := false
	s.update(func() {
		if !s.needsLayoutLocked() {
			return
		}
		start := time.Now()
		mode := "incremental"
		if !s.hasInitialLayout {
			mode = "full"
			s.fullLayoutLocked()
		} else {
			s.incrementalLayoutLocked()
		}
		s.hasInitialLayout = true
		s.persistLocked()
		committed = true
		metrics.LayoutDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
		s.logger.Debug("layout committed",
			slog.String("pipeline_uuid", s.pipelineUUID),
			slog.String("mode", mode),
			slog.Int("nodes", len(s.nodes)),
		)
	})
	return committed
}

// EnsureLayout commits a layout when one is needed and returns the
// render-ready nodes.
func (s *Store) EnsureLayout() []LayoutedNode {
	s.ComputeAndCommitLayout()
	return s.LayoutedNodes()
}

// LayoutedNodes returns the nodes with their stored positions without
// computing anything. Call EnsureLayout to fill missing positions first.
func (s *Store) LayoutedNodes() []LayoutedNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LayoutedNode, len(s.nodes))
	for i := range s.nodes {
		pos, ok := s.nodePositions[s.nodes[i].UUID]
		out[i] = LayoutedNode{
			Node:        s.nodes[i].Clone(),
			Position:    pos,
			HasPosition: ok,
			Selected:    s.nodes[i].UUID == s.selected,
		}
	}
	return out
}

func (s *Store) fullLayoutLocked() {
	nodes := make([]layout.Node, len(s.nodes))
	for i := range s.nodes {
		nodes[i] = layout.Node{ID: s.nodes[i].UUID, Size: s.dimensions[s.nodes[i].UUID]}
	}
	var edges []layout.Edge
	for _, e := range deriveEdges(s.nodes) {
		edges = append(edges, layout.Edge{Source: e.Source, Target: e.Target})
	}
	s.nodePositions = layout.Compute(nodes, edges, s.layoutConfig)
}

func (s *Store) incrementalLayoutLocked() {
	cfg := s.placementLocked()
	dir := layout.DirectionRight
	if s.layoutConfig.Direction == layout.RankDirTB {
		dir = layout.DirectionDown
	}

	occupied := make([]layout.Footprint, 0, len(s.nodePositions))
	for id, p := range s.nodePositions {
		occupied = append(occupied, layout.Footprint{Position: p, Size: s.dimensions[id]})
	}

	for i := range s.nodes {
		n := &s.nodes[i]
		if _, ok := s.nodePositions[n.UUID]; ok {
			continue
		}
		// a node measured before it was placed searches with its own size
		nodeCfg := cfg
		if d, ok := s.dimensions[n.UUID]; ok {
			nodeCfg.NodeWidth = max(nodeCfg.NodeWidth, d.Width)
			nodeCfg.NodeHeight = max(nodeCfg.NodeHeight, d.Height)
		}
		var pos types.Position
		placed := false
		for _, src := range n.Sources() {
			if anchor, ok := s.nodePositions[src]; ok {
				target := layout.Footprint{Position: anchor, Size: s.dimensions[src]}
				pos = layout.PlaceNear(target, dir, occupied, nodeCfg)
				placed = true
				break
			}
		}
		if !placed {
			pos = layout.PlaceNode(occupied, layout.Options{Config: nodeCfg})
		}
		s.nodePositions[n.UUID] = pos
		occupied = append(occupied, layout.Footprint{Position: pos, Size: s.dimensions[n.UUID]})
	}
}

func (s *Store) placementLocked() layout.PlacementConfig {
	cfg := s.placement
	if cfg == (layout.PlacementConfig{}) {
		cfg = layout.DefaultPlacementConfig()
	}
	if cfg.NodeWidth < s.layoutConfig.NodeWidth {
		cfg.NodeWidth = s.layoutConfig.NodeWidth
	}
	if cfg.NodeHeight < s.layoutConfig.NodeHeight {
		cfg.NodeHeight = s.layoutConfig.NodeHeight
	}
	return cfg
}

// UpdateNodePositions merges positions (typically after a drag) and
// persists the arrangement. Unknown node ids are ignored.
func (s *Store) UpdateNodePositions(delta map[string]types.Position) {
	s.update(func() {
		changed := false
		for id, pos := range delta {
			if s.indexLocked(id) < 0 {
				continue
			}
			s.nodePositions[id] = pos
			changed = true
		}
		if changed {
			s.persistLocked()
		}
	})
}

// ForceRelayout discards every position; the next layout pass recomputes
// the whole graph.
func (s *Store) ForceRelayout() {
	s.update(s.invalidateLayoutLocked)
}

func (s *Store) invalidateLayoutLocked() {
	s.hasInitialLayout = false
	s.nodePositions = make(map[string]types.Position)
	s.persistLocked()
}

// SetLayoutConfig merges p into the layout configuration and invalidates
// stored positions.
func (s *Store) SetLayoutConfig(p LayoutConfigPatch) {
	s.update(func() {
		s.layoutConfig = p.apply(s.layoutConfig)
		s.invalidateLayoutLocked()
	})
}

// ApplyLayout switches algorithm (and direction, when non-empty) and lays
// the graph out again right away.
func (s *Store) ApplyLayout(algorithm layout.Algorithm, direction layout.RankDir) {
	p := LayoutConfigPatch{Algorithm: &algorithm}
	if direction != "" {
		p.Direction = &direction
	}
	s.SetLayoutConfig(p)
	s.ComputeAndCommitLayout()
}
