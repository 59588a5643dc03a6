package layout

import (
	"math"
	"sort"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// Algorithm selects the full-graph layout strategy.
type Algorithm string

const (
	AlgorithmLayered Algorithm = "layered"
	AlgorithmGrid    Algorithm = "grid"
)

// RankDir is the flow direction of a layered layout.
type RankDir string

const (
	RankDirLR RankDir = "LR"
	RankDirTB RankDir = "TB"
)

// Config is the full-graph layout configuration.
type Config struct {
	Algorithm   Algorithm `json:"algorithm"`
	Direction   RankDir   `json:"direction"`
	NodeWidth   float64   `json:"nodeWidth"`
	NodeHeight  float64   `json:"nodeHeight"`
	RankSep     float64   `json:"rankSep"`
	NodeSep     float64   `json:"nodeSep"`
	AutoSpacing bool      `json:"autoSpacing"`
}

// DefaultConfig returns the left-to-right layered layout.
func DefaultConfig() Config {
	return Config{
		Algorithm:   AlgorithmLayered,
		Direction:   RankDirLR,
		NodeWidth:   280,
		NodeHeight:  180,
		RankSep:     150,
		NodeSep:     60,
		AutoSpacing: true,
	}
}

// Node is a layout input: an id and its measured size (zero if unmeasured).
type Node struct {
	ID   string
	Size types.Size
}

// Edge is a directed dependency from Source to Target.
type Edge struct {
	Source string
	Target string
}

// Compute runs the configured algorithm and returns a top-left position per node id.
func Compute(nodes []Node, edges []Edge, cfg Config) map[string]types.Position {
	if cfg.Algorithm == AlgorithmGrid {
		return Grid(nodes, cfg)
	}
	return Layered(nodes, edges, cfg)
}

func (c Config) sizeOf(n Node) types.Size {
	return types.Size{
		Width:  math.Max(c.NodeWidth, n.Size.Width),
		Height: math.Max(c.NodeHeight, n.Size.Height),
	}
}

// Layered assigns nodes to ranks by longest path from the sources, orders
// each rank with barycenter sweeps and stacks ranks along the flow direction.
func Layered(nodes []Node, edges []Edge, cfg Config) map[string]types.Position {
	out := make(map[string]types.Position, len(nodes))
	if len(nodes) == 0 {
		return out
	}

	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n.ID] = i
	}
	succ, pred := adjacency(nodes, edges, index)
	ranks := assignRanks(nodes, succ, pred)

	maxRank := 0
	for _, r := range ranks {
		maxRank = max(maxRank, r)
	}
	layers := make([][]string, maxRank+1)
	for _, n := range nodes {
		layers[ranks[n.ID]] = append(layers[ranks[n.ID]], n.ID)
	}
	orderLayers(layers, succ, pred)

	sizes := make(map[string]types.Size, len(nodes))
	for _, n := range nodes {
		sizes[n.ID] = cfg.sizeOf(n)
	}

	// along: extent in the flow direction, across: perpendicular extent
	along := func(s types.Size) float64 {
		if cfg.Direction == RankDirTB {
			return s.Height
		}
		return s.Width
	}
	across := func(s types.Size) float64 {
		if cfg.Direction == RankDirTB {
			return s.Width
		}
		return s.Height
	}

	rankSep, nodeSep := cfg.RankSep, cfg.NodeSep
	if cfg.AutoSpacing {
		var maxAlong, maxAcross float64
		for _, s := range sizes {
			maxAlong = math.Max(maxAlong, along(s))
			maxAcross = math.Max(maxAcross, across(s))
		}
		rankSep = math.Max(rankSep, maxAlong*0.25)
		nodeSep = math.Max(nodeSep, maxAcross*0.2)
	}

	var offset float64
	for _, layer := range layers {
		var depth, span float64
		for _, id := range layer {
			depth = math.Max(depth, along(sizes[id]))
			span += across(sizes[id])
		}
		span += nodeSep * float64(max(len(layer)-1, 0))

		cursor := -span / 2
		for _, id := range layer {
			s := sizes[id]
			a := offset + (depth-along(s))/2
			b := cursor
			cursor += across(s) + nodeSep
			if cfg.Direction == RankDirTB {
				out[id] = types.Position{X: b, Y: a}
			} else {
				out[id] = types.Position{X: a, Y: b}
			}
		}
		offset += depth + rankSep
	}
	normalize(out)
	return out
}

func adjacency(nodes []Node, edges []Edge, index map[string]int) (map[string][]string, map[string][]string) {
	succ := make(map[string][]string, len(nodes))
	pred := make(map[string][]string, len(nodes))
	seen := make(map[Edge]bool, len(edges))
	for _, e := range edges {
		_, okS := index[e.Source]
		_, okT := index[e.Target]
		if !okS || !okT || e.Source == e.Target || seen[e] {
			continue
		}
		seen[e] = true
		succ[e.Source] = append(succ[e.Source], e.Target)
		pred[e.Target] = append(pred[e.Target], e.Source)
	}
	removeBackEdges(nodes, succ, pred)
	return succ, pred
}

// removeBackEdges drops edges closing a cycle so ranking terminates.
func removeBackEdges(nodes []Node, succ, pred map[string][]string) {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(nodes))
	var visit func(string)
	visit = func(id string) {
		color[id] = grey
		kept := succ[id][:0:0]
		for _, t := range succ[id] {
			switch color[t] {
			case grey:
				pred[t] = remove(pred[t], id)
				continue
			case white:
				visit(t)
			}
			kept = append(kept, t)
		}
		succ[id] = kept
		color[id] = black
	}
	for _, n := range nodes {
		if color[n.ID] == white {
			visit(n.ID)
		}
	}
}

func remove(ids []string, id string) []string {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

// assignRanks places every node one rank after its deepest predecessor
// (Kahn's algorithm, longest path).
func assignRanks(nodes []Node, succ, pred map[string][]string) map[string]int {
	inDegree := make(map[string]int, len(nodes))
	ranks := make(map[string]int, len(nodes))
	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] = len(pred[n.ID])
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range succ[cur] {
			if r := ranks[cur] + 1; r > ranks[child] {
				ranks[child] = r
			}
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	return ranks
}

// orderLayers reduces crossings with alternating barycenter sweeps.
func orderLayers(layers [][]string, succ, pred map[string][]string) {
	const sweeps = 4
	for i := 0; i < sweeps; i++ {
		for l := 1; l < len(layers); l++ {
			sortByBarycenter(layers[l], layers[l-1], pred)
		}
		for l := len(layers) - 2; l >= 0; l-- {
			sortByBarycenter(layers[l], layers[l+1], succ)
		}
	}
}

func sortByBarycenter(layer, fixed []string, neighbours map[string][]string) {
	pos := make(map[string]int, len(fixed))
	for i, id := range fixed {
		pos[id] = i
	}
	bary := make(map[string]float64, len(layer))
	for i, id := range layer {
		var sum float64
		var n int
		for _, nb := range neighbours[id] {
			if p, ok := pos[nb]; ok {
				sum += float64(p)
				n++
			}
		}
		if n == 0 {
			bary[id] = float64(i)
			continue
		}
		bary[id] = sum / float64(n)
	}
	sort.SliceStable(layer, func(a, b int) bool {
		return bary[layer[a]] < bary[layer[b]]
	})
}

// Grid arranges nodes row by row (TB) or column by column (LR) in input order.
func Grid(nodes []Node, cfg Config) map[string]types.Position {
	out := make(map[string]types.Position, len(nodes))
	if len(nodes) == 0 {
		return out
	}
	var cell types.Size
	for _, n := range nodes {
		s := cfg.sizeOf(n)
		cell.Width = math.Max(cell.Width, s.Width)
		cell.Height = math.Max(cell.Height, s.Height)
	}
	perLine := int(math.Ceil(math.Sqrt(float64(len(nodes)))))
	for i, n := range nodes {
		line, slot := i/perLine, i%perLine
		col, row := slot, line
		if cfg.Direction == RankDirLR {
			col, row = line, slot
		}
		out[n.ID] = types.Position{
			X: float64(col) * (cell.Width + cfg.NodeSep),
			Y: float64(row) * (cell.Height + cfg.RankSep),
		}
	}
	return out
}

// normalize shifts positions so the top-left-most corner is at the origin.
func normalize(pos map[string]types.Position) {
	minX, minY := math.Inf(1), math.Inf(1)
	for _, p := range pos {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
	}
	for id, p := range pos {
		pos[id] = types.Position{X: p.X - minX, Y: p.Y - minY}
	}
}
