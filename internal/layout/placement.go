// Package layout computes canvas coordinates for pipeline nodes: single-node
// placement that avoids overlaps, and full-graph layered or grid layouts.
package layout

import (
	"math"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// Direction is a compass direction for directional placement.
type Direction string

const (
	DirectionRight Direction = "right"
	DirectionLeft  Direction = "left"
	DirectionDown  Direction = "down"
	DirectionUp    Direction = "up"
)

// PlacementConfig holds the geometry used by single-node placement.
type PlacementConfig struct {
	NodeWidth       float64
	NodeHeight      float64
	MinSpacing      float64
	GridSize        float64
	CanvasCenter    types.Position
	MaxSearchRadius float64
}

// DefaultPlacementConfig returns the standard node footprint and search bounds.
func DefaultPlacementConfig() PlacementConfig {
	return PlacementConfig{
		NodeWidth:       280,
		NodeHeight:      180,
		MinSpacing:      50,
		GridSize:        50,
		CanvasCenter:    types.Position{X: 400, Y: 300},
		MaxSearchRadius: 2000,
	}
}

func (c PlacementConfig) withDefaults() PlacementConfig {
	d := DefaultPlacementConfig()
	if c == (PlacementConfig{}) {
		return d
	}
	if c.NodeWidth <= 0 {
		c.NodeWidth = d.NodeWidth
	}
	if c.NodeHeight <= 0 {
		c.NodeHeight = d.NodeHeight
	}
	if c.MinSpacing < 0 {
		c.MinSpacing = 0
	}
	if c.GridSize <= 0 {
		c.GridSize = d.GridSize
	}
	if c.MaxSearchRadius <= 0 {
		c.MaxSearchRadius = d.MaxSearchRadius
	}
	return c
}

// Options controls CalculateNodePosition. The zero value places around the
// centroid of existing nodes using a spiral search with default geometry.
type Options struct {
	// Center overrides the search origin (default: centroid of existing nodes).
	Center *types.Position
	// Direction switches from spiral to directional search.
	Direction Direction
	// Config is the placement geometry; zero fields take defaults.
	Config PlacementConfig
}

// SnapToGrid rounds p to the nearest grid intersection.
func SnapToGrid(p types.Position, grid float64) types.Position {
	if grid <= 0 {
		return p
	}
	return types.Position{
		X: math.Round(p.X/grid) * grid,
		Y: math.Round(p.Y/grid) * grid,
	}
}

// Overlaps reports whether nodes placed at a and b, both with the configured
// footprint plus spacing margin, intersect.
func Overlaps(a, b types.Position, cfg PlacementConfig) bool {
	return math.Abs(a.X-b.X) < cfg.NodeWidth+cfg.MinSpacing &&
		math.Abs(a.Y-b.Y) < cfg.NodeHeight+cfg.MinSpacing
}

// Footprint is an occupied area of the canvas anchored at its top-left
// corner. Each side is the larger of the configured and the measured size,
// so a zero Size occupies the configured footprint.
type Footprint struct {
	Position types.Position
	Size     types.Size
}

func (f Footprint) size(cfg PlacementConfig) (w, h float64) {
	return math.Max(cfg.NodeWidth, f.Size.Width), math.Max(cfg.NodeHeight, f.Size.Height)
}

// footprints gives every position the configured footprint.
func footprints(positions []types.Position) []Footprint {
	out := make([]Footprint, len(positions))
	for i, p := range positions {
		out[i] = Footprint{Position: p}
	}
	return out
}

// collides reports whether a new node of the configured footprint at p comes
// within MinSpacing of f.
func collides(p types.Position, f Footprint, cfg PlacementConfig) bool {
	w, h := f.size(cfg)
	q := f.Position
	return p.X < q.X+w+cfg.MinSpacing && q.X < p.X+cfg.NodeWidth+cfg.MinSpacing &&
		p.Y < q.Y+h+cfg.MinSpacing && q.Y < p.Y+cfg.NodeHeight+cfg.MinSpacing
}

func overlapsAny(p types.Position, occupied []Footprint, cfg PlacementConfig) bool {
	for _, f := range occupied {
		if collides(p, f, cfg) {
			return true
		}
	}
	return false
}

// Centroid returns the mean of the given positions.
func Centroid(positions []types.Position) types.Position {
	if len(positions) == 0 {
		return types.Position{}
	}
	var sx, sy float64
	for _, p := range positions {
		sx += p.X
		sy += p.Y
	}
	n := float64(len(positions))
	return types.Position{X: sx / n, Y: sy / n}
}

// CalculateNodePosition returns a grid-snapped position for a new node that
// does not overlap any existing position. It never fails: when the search
// radius is exhausted it falls back to a point right of every existing node.
func CalculateNodePosition(existing []types.Position, opts Options) types.Position {
	return PlaceNode(footprints(existing), opts)
}

// PlaceNode is CalculateNodePosition over occupied areas of individual size.
func PlaceNode(occupied []Footprint, opts Options) types.Position {
	cfg := opts.Config.withDefaults()
	if len(occupied) == 0 {
		return SnapToGrid(cfg.CanvasCenter, cfg.GridSize)
	}

	var origin types.Position
	if opts.Center != nil {
		origin = *opts.Center
	} else {
		positions := make([]types.Position, len(occupied))
		for i, f := range occupied {
			positions[i] = f.Position
		}
		origin = Centroid(positions)
	}

	var found *types.Position
	visit := func(p types.Position) bool {
		p = SnapToGrid(p, cfg.GridSize)
		if overlapsAny(p, occupied, cfg) {
			return false
		}
		found = &p
		return true
	}

	if opts.Direction != "" {
		directionalSweep(origin, opts.Direction, cfg, visit)
	} else {
		spiralSweep(origin, cfg, visit)
	}
	if found != nil {
		return *found
	}
	return fallbackPosition(origin, occupied, cfg)
}

// spiralSweep visits the origin and then rings of increasing radius whose
// point count grows with the circumference.
func spiralSweep(origin types.Position, cfg PlacementConfig, visit func(types.Position) bool) {
	if visit(origin) {
		return
	}
	for r := cfg.GridSize; r <= cfg.MaxSearchRadius; r += cfg.GridSize {
		count := int(2 * math.Pi * r / cfg.GridSize)
		if count < 8 {
			count = 8
		}
		for i := 0; i < count; i++ {
			angle := 2 * math.Pi * float64(i) / float64(count)
			p := types.Position{
				X: origin.X + r*math.Cos(angle),
				Y: origin.Y + r*math.Sin(angle),
			}
			if visit(p) {
				return
			}
		}
	}
}

// directionalSweep walks away from origin in one direction, trying the
// on-axis point and one point to each side at every step.
func directionalSweep(origin types.Position, dir Direction, cfg PlacementConfig, visit func(types.Position) bool) {
	dx, dy := unit(dir)
	// perpendicular offset is one footprint plus spacing across the axis
	perp := cfg.NodeHeight + cfg.MinSpacing
	if dx == 0 {
		perp = cfg.NodeWidth + cfg.MinSpacing
	}
	px, py := math.Abs(dy), math.Abs(dx)

	for d := cfg.GridSize; d <= cfg.MaxSearchRadius; d += cfg.GridSize {
		base := types.Position{X: origin.X + dx*d, Y: origin.Y + dy*d}
		candidates := [3]types.Position{
			base,
			{X: base.X + px*perp, Y: base.Y + py*perp},
			{X: base.X - px*perp, Y: base.Y - py*perp},
		}
		for _, c := range candidates {
			if visit(c) {
				return
			}
		}
	}
}

func fallbackPosition(origin types.Position, occupied []Footprint, cfg PlacementConfig) types.Position {
	right := origin.X + cfg.NodeWidth
	for _, f := range occupied {
		w, _ := f.size(cfg)
		right = math.Max(right, f.Position.X+w)
	}
	x := right + cfg.MinSpacing
	return types.Position{
		X: math.Ceil(x/cfg.GridSize) * cfg.GridSize,
		Y: math.Round(origin.Y/cfg.GridSize) * cfg.GridSize,
	}
}

func unit(dir Direction) (float64, float64) {
	switch dir {
	case DirectionLeft:
		return -1, 0
	case DirectionDown:
		return 0, 1
	case DirectionUp:
		return 0, -1
	default:
		return 1, 0
	}
}

// CalculatePositionNearNode places a node next to target in the given
// direction. The exact neighbouring slot is tried first; if it is taken the
// general directional search centered on target is used.
func CalculatePositionNearNode(target types.Position, dir Direction, existing []types.Position, cfg PlacementConfig) types.Position {
	return PlaceNear(Footprint{Position: target}, dir, footprints(existing), cfg)
}

// PlaceNear is CalculatePositionNearNode for a target and occupied areas of
// individual size. The neighbouring slot clears the target's full extent.
func PlaceNear(target Footprint, dir Direction, occupied []Footprint, cfg PlacementConfig) types.Position {
	cfg = cfg.withDefaults()
	if dir == "" {
		dir = DirectionRight
	}
	w, h := target.size(cfg)
	p := target.Position
	switch dir {
	case DirectionRight:
		p.X += w + cfg.MinSpacing
	case DirectionLeft:
		p.X -= cfg.NodeWidth + cfg.MinSpacing
	case DirectionDown:
		p.Y += h + cfg.MinSpacing
	case DirectionUp:
		p.Y -= cfg.NodeHeight + cfg.MinSpacing
	}
	p = SnapToGrid(p, cfg.GridSize)
	if !overlapsAny(p, occupied, cfg) {
		return p
	}
	center := target.Position
	return PlaceNode(occupied, Options{Center: &center, Direction: dir, Config: cfg})
}

// SuggestPlacementDirection picks where to grow the canvas: down when the
// layout is notably wider than tall, right otherwise.
func SuggestPlacementDirection(existing []types.Position, cfg PlacementConfig) Direction {
	cfg = cfg.withDefaults()
	if len(existing) == 0 {
		return DirectionRight
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range existing {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	width := maxX - minX + cfg.NodeWidth
	height := maxY - minY + cfg.NodeHeight

	const ratio = 1.5
	switch {
	case width > height*ratio:
		return DirectionDown
	case height > width*ratio:
		return DirectionRight
	default:
		return DirectionRight
	}
}
