// Package graphstore holds the editing state of one pipeline: its nodes,
// their canvas positions, the selection and the layout configuration. It
// derives edges from node inputs, applies commands optimistically against
// the pipeline API with rollback on failure, and keeps a bounded linear
// undo/redo history of full snapshots.
//
// A Store is created when a pipeline is opened and discarded when the
// editor navigates away; there is no package-level state.
package graphstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/layout"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/notify"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/pipelineapi"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/positionstore"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/tracing"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// Errors returned by store commands and the connection gate.
var (
	ErrNotLoaded       = errors.New("pipeline not loaded")
	ErrNodeNotFound    = errors.New("node not found")
	ErrNodeExists      = errors.New("node already exists")
	ErrSlotNotDeclared = errors.New("input slot not declared for node type")
	ErrSlotFull        = errors.New("input slot is full")
	ErrSelfLoop        = errors.New("node cannot be connected to itself")
	ErrCycle           = errors.New("connection would create a cycle")
)

// DefaultHistoryLimit is the number of retained history entries.
const DefaultHistoryLimit = 50

const persistTimeout = 5 * time.Second

// Options configures a Store. The zero value is usable.
type Options struct {
	// Positions persists manual arrangements (default: in-memory).
	Positions positionstore.Store

	// Notifier receives command notifications (default: logged).
	Notifier notify.Notifier

	Logger *slog.Logger

	// Layout is the initial layout configuration (zero = layout.DefaultConfig()).
	Layout layout.Config

	// Placement is the geometry for placing single nodes; node size
	// defaults to the layout node size.
	Placement layout.PlacementConfig

	// HistoryLimit caps retained history entries (default 50, minimum 2).
	HistoryLimit int

	// Clock stamps history entries and optimistic records (default time.Now).
	Clock func() time.Time
}

// Snapshot is a deep copy of the undoable part of the state.
type Snapshot struct {
	Nodes          []types.Node              `json:"nodes"`
	NodePositions  map[string]types.Position `json:"nodePositions"`
	SelectedNodeID string                    `json:"selectedNodeId,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{
		Nodes:          types.CloneNodes(s.Nodes),
		NodePositions:  clonePositions(s.NodePositions),
		SelectedNodeID: s.SelectedNodeID,
	}
}

// State is a copy of the store state handed to readers and subscribers.
type State struct {
	Pipeline         *types.Pipeline           `json:"pipeline"`
	Nodes            []types.Node              `json:"nodes"`
	SelectedNodeID   string                    `json:"selectedNodeId,omitempty"`
	NodePositions    map[string]types.Position `json:"nodePositions"`
	HasInitialLayout bool                      `json:"hasInitialLayout"`
	LayoutConfig     layout.Config             `json:"layoutConfig"`
	Loading          bool                      `json:"loading"`
	Error            string                    `json:"error,omitempty"`
	IsSaving         bool                      `json:"isSaving"`
	HistoryLength    int                       `json:"historyLength"`
	HistoryIndex     int                       `json:"historyIndex"`
	CanUndo          bool                      `json:"canUndo"`
	CanRedo          bool                      `json:"canRedo"`
}

// Store is the graph state of one open pipeline. It is safe for concurrent
// use. The mutex is only held while state is read or changed; it is released
// across pipeline API calls, so two in-flight commands touching the same node
// interleave their optimistic changes and a rollback of one restores the
// snapshot taken before it, discarding changes the other applied meanwhile.
type Store struct {
	api       pipelineapi.API
	positions positionstore.Store
	notifier  notify.Notifier
	logger    *slog.Logger
	tracer    trace.Tracer
	placement layout.PlacementConfig
	now       func() time.Time

	mu               sync.Mutex
	pipelineUUID     string
	pipeline         *types.Pipeline
	nodes            []types.Node
	selected         string
	nodePositions    map[string]types.Position
	dimensions       map[string]types.Size
	hasInitialLayout bool
	layoutConfig     layout.Config
	loading          bool
	lastErr          error
	saving           bool

	history      []HistoryEntry
	historyIndex int
	historyLimit int

	subs    map[int]func(State)
	nextSub int

	persistSeq   uint64
	persistMu    sync.Mutex
	persistedSeq uint64
	persistWG    sync.WaitGroup
}

// New creates a store backed by api.
func New(api pipelineapi.API, opts *Options) *Store {
	if opts == nil {
		opts = &Options{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	positions := opts.Positions
	if positions == nil {
		positions = positionstore.NewMemoryStore()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	cfg := opts.Layout
	if cfg == (layout.Config{}) {
		cfg = layout.DefaultConfig()
	}
	limit := opts.HistoryLimit
	if limit == 0 {
		limit = DefaultHistoryLimit
	}
	if limit < 2 {
		limit = 2
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Store{
		api:           api,
		positions:     positions,
		notifier:      notifier,
		logger:        logger.With("component", "graphstore"),
		tracer:        tracing.Tracer(),
		placement:     opts.Placement,
		now:           clock,
		nodePositions: make(map[string]types.Position),
		dimensions:    make(map[string]types.Size),
		layoutConfig:  cfg,
		historyLimit:  limit,
		subs:          make(map[int]func(State)),
	}
}

// Load fetches the pipeline and its saved arrangement, replacing all state
// and clearing history. Saved positions of nodes that still exist are kept;
// if any survive, the arrangement counts as the initial layout and nodes
// without a position are placed incrementally.
func (s *Store) Load(ctx context.Context, pipelineUUID string) error {
	ctx, span := s.tracer.Start(ctx, "graphstore.Load")
	defer span.End()

	s.update(func() {
		s.pipelineUUID = pipelineUUID
		s.loading = true
		s.lastErr = nil
	})

	graph, err := s.api.LoadPipeline(ctx, pipelineUUID)
	if err != nil {
		tracing.Fail(span, err)
		s.logger.Error("failed to load pipeline",
			slog.String("pipeline_uuid", pipelineUUID),
			slog.String("error", err.Error()),
		)
		s.update(func() {
			s.loading = false
			s.lastErr = err
		})
		return err
	}

	saved, err := s.positions.Load(ctx, pipelineUUID)
	metrics.PositionStoreOperations.WithLabelValues("load", resultLabel(err)).Inc()
	if err != nil {
		s.logger.Warn("failed to load saved positions",
			slog.String("pipeline_uuid", pipelineUUID),
			slog.String("error", err.Error()),
		)
		saved = nil
	}

	s.update(func() {
		p := graph.Pipeline
		s.pipeline = &p
		s.nodes = types.CloneNodes(graph.Nodes)
		if s.nodes == nil {
			s.nodes = []types.Node{}
		}
		s.nodePositions = make(map[string]types.Position, len(saved))
		for i := range s.nodes {
			if pos, ok := saved[s.nodes[i].UUID]; ok {
				s.nodePositions[s.nodes[i].UUID] = pos
			}
		}
		s.hasInitialLayout = len(s.nodePositions) > 0
		s.selected = ""
		s.dimensions = make(map[string]types.Size)
		s.history = nil
		s.historyIndex = 0
		s.loading = false
		s.saving = false
	})

	s.logger.Info("pipeline loaded",
		slog.String("pipeline_uuid", pipelineUUID),
		slog.Int("nodes", len(graph.Nodes)),
		slog.Int("saved_positions", len(saved)),
	)
	return nil
}

// Reload re-fetches the nodes from the API, keeping positions, selection and
// history. Positions and selection of nodes that disappeared are dropped.
func (s *Store) Reload(ctx context.Context) error {
	s.mu.Lock()
	pipelineUUID := s.pipelineUUID
	loaded := s.pipeline != nil
	s.mu.Unlock()
	if !loaded {
		return ErrNotLoaded
	}

	graph, err := s.api.LoadPipeline(ctx, pipelineUUID)
	if err != nil {
		return err
	}

	s.update(func() {
		if s.pipelineUUID != pipelineUUID {
			return
		}
		p := graph.Pipeline
		s.pipeline = &p
		s.nodes = types.CloneNodes(graph.Nodes)
		if s.nodes == nil {
			s.nodes = []types.Node{}
		}
		if s.pruneLocked() {
			s.persistLocked()
		}
	})
	return nil
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Node returns a copy of a node.
func (s *Store) Node(uuid string) (types.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(uuid); i >= 0 {
		return s.nodes[i].Clone(), true
	}
	return types.Node{}, false
}

// SelectNode selects a node; an empty or unknown uuid clears the selection.
func (s *Store) SelectNode(uuid string) {
	s.update(func() {
		if s.indexLocked(uuid) < 0 {
			uuid = ""
		}
		s.selected = uuid
	})
}

// SetNodeDimensions records measured node sizes. Layout uses the larger of
// the configured and measured size.
func (s *Store) SetNodeDimensions(sizes map[string]types.Size) {
	s.update(func() {
		for id, size := range sizes {
			if s.indexLocked(id) >= 0 {
				s.dimensions[id] = size
			}
		}
	})
}

// Subscribe registers fn to receive the state after every change. fn runs on
// the goroutine that made the change, outside the store lock.
func (s *Store) Subscribe(fn func(State)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Close waits for in-flight position writes.
func (s *Store) Close() error {
	s.persistWG.Wait()
	return nil
}

// update runs fn under the lock, then publishes the new state.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	st := s.stateLocked()
	subs := make([]func(State), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(st)
	}
}

func (s *Store) stateLocked() State {
	st := State{
		Nodes:            types.CloneNodes(s.nodes),
		SelectedNodeID:   s.selected,
		NodePositions:    clonePositions(s.nodePositions),
		HasInitialLayout: s.hasInitialLayout,
		LayoutConfig:     s.layoutConfig,
		Loading:          s.loading,
		IsSaving:         s.saving,
		HistoryLength:    len(s.history),
		HistoryIndex:     s.historyIndex,
		CanUndo:          s.canUndoLocked(),
		CanRedo:          s.canRedoLocked(),
	}
	if s.pipeline != nil {
		p := *s.pipeline
		st.Pipeline = &p
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Nodes:          types.CloneNodes(s.nodes),
		NodePositions:  clonePositions(s.nodePositions),
		SelectedNodeID: s.selected,
	}
}

// restoreLocked replaces nodes, positions and selection with snap and
// persists the restored arrangement.
func (s *Store) restoreLocked(snap Snapshot) {
	c := snap.clone()
	s.nodes = c.Nodes
	if s.nodes == nil {
		s.nodes = []types.Node{}
	}
	s.nodePositions = c.NodePositions
	s.selected = c.SelectedNodeID
	for id := range s.dimensions {
		if s.indexLocked(id) < 0 {
			delete(s.dimensions, id)
		}
	}
	s.persistLocked()
}

func (s *Store) indexLocked(uuid string) int {
	if uuid == "" {
		return -1
	}
	for i := range s.nodes {
		if s.nodes[i].UUID == uuid {
			return i
		}
	}
	return -1
}

// pruneLocked drops positions, sizes and selection of unknown nodes. It
// reports whether positions changed.
func (s *Store) pruneLocked() bool {
	changed := false
	for id := range s.nodePositions {
		if s.indexLocked(id) < 0 {
			delete(s.nodePositions, id)
			changed = true
		}
	}
	for id := range s.dimensions {
		if s.indexLocked(id) < 0 {
			delete(s.dimensions, id)
		}
	}
	if s.selected != "" && s.indexLocked(s.selected) < 0 {
		s.selected = ""
	}
	return changed
}

// persistLocked writes the position map in the background. Writes are
// ordered: a write that finds a newer one already saved is dropped.
// Failures are logged and never surfaced.
func (s *Store) persistLocked() {
	if s.pipelineUUID == "" {
		return
	}
	s.persistSeq++
	seq := s.persistSeq
	pipelineUUID := s.pipelineUUID
	positions := clonePositions(s.nodePositions)

	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		s.persistMu.Lock()
		defer s.persistMu.Unlock()
		if seq <= s.persistedSeq {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		err := s.positions.Save(ctx, pipelineUUID, positions)
		metrics.PositionStoreOperations.WithLabelValues("save", resultLabel(err)).Inc()
		if err != nil {
			s.logger.Warn("failed to persist node positions",
				slog.String("pipeline_uuid", pipelineUUID),
				slog.String("error", err.Error()),
			)
			return
		}
		s.persistedSeq = seq
	}()
}

func clonePositions(in map[string]types.Position) map[string]types.Position {
	out := make(map[string]types.Position, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
