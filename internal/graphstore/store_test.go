package graphstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/layout"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/notify"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/pipelineapi"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/pipelinestore"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/positionstore"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

var errBoom = errors.New("boom")

// flakyAPI wraps a working API, records calls and fails the ones it is told to.
type flakyAPI struct {
	pipelineapi.API

	mu         sync.Mutex
	calls      []string
	fail       map[string]error
	failDelete map[string]error
}

func (f *flakyAPI) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail[call]
}

func (f *flakyAPI) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *flakyAPI) failOn(call string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[call] = err
}

func (f *flakyAPI) LoadPipeline(ctx context.Context, p string) (*types.PipelineGraph, error) {
	if err := f.record("LoadPipeline"); err != nil {
		return nil, err
	}
	return f.API.LoadPipeline(ctx, p)
}

func (f *flakyAPI) UpdateNode(ctx context.Context, p, n string, patch *types.NodePatch) (*types.Node, error) {
	if err := f.record("UpdateNode"); err != nil {
		return nil, err
	}
	return f.API.UpdateNode(ctx, p, n, patch)
}

func (f *flakyAPI) ExecuteNode(ctx context.Context, p, n string) error {
	if err := f.record("ExecuteNode"); err != nil {
		return err
	}
	return f.API.ExecuteNode(ctx, p, n)
}

func (f *flakyAPI) ConnectNodes(ctx context.Context, p, src, tgt, slot string) error {
	if err := f.record("ConnectNodes"); err != nil {
		return err
	}
	return f.API.ConnectNodes(ctx, p, src, tgt, slot)
}

func (f *flakyAPI) DisconnectNodes(ctx context.Context, p, src, tgt, slot string) error {
	if err := f.record("DisconnectNodes"); err != nil {
		return err
	}
	return f.API.DisconnectNodes(ctx, p, src, tgt, slot)
}

func (f *flakyAPI) CreateNode(ctx context.Context, p string, req *types.NewNodeRequest) (*types.Node, error) {
	if err := f.record("CreateNode"); err != nil {
		return nil, err
	}
	return f.API.CreateNode(ctx, p, req)
}

func (f *flakyAPI) DeleteNode(ctx context.Context, p, n string) error {
	if err := f.record("DeleteNode"); err != nil {
		return err
	}
	f.mu.Lock()
	err := f.failDelete[n]
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.API.DeleteNode(ctx, p, n)
}

type fixture struct {
	store     *Store
	api       *flakyAPI
	backend   pipelinestore.Store
	notes     *notify.Center
	positions *positionstore.MemoryStore
}

// newFixture loads pipeline p1 holding two code renders (v1, v2), a
// voiceover (a1) and a video merge (m1).
func newFixture(t *testing.T, connect ...[3]string) *fixture {
	t.Helper()
	ctx := context.Background()

	backend := pipelinestore.NewMemoryStore(nil)
	if _, err := backend.CreatePipeline(ctx, &pipelinestore.CreatePipelineRequest{UUID: "p1", Name: "Promo"}); err != nil {
		t.Fatalf("CreatePipeline failed: %v", err)
	}
	for _, req := range []*types.NewNodeRequest{
		{UUID: "v1", Type: types.NodeTypeRenderCode},
		{UUID: "v2", Type: types.NodeTypeRenderCode},
		{UUID: "a1", Type: types.NodeTypeGenerateVoiceover},
		{UUID: "m1", Type: types.NodeTypeMergeVideos},
	} {
		if _, err := backend.CreateNode(ctx, "p1", req); err != nil {
			t.Fatalf("CreateNode %s failed: %v", req.UUID, err)
		}
	}
	for _, c := range connect {
		if err := backend.Connect(ctx, "p1", c[0], c[1], c[2]); err != nil {
			t.Fatalf("Connect %v failed: %v", c, err)
		}
	}

	f := &fixture{
		api: &flakyAPI{
			API:        pipelineapi.NewLocal(backend),
			fail:       make(map[string]error),
			failDelete: make(map[string]error),
		},
		backend:   backend,
		notes:     notify.NewCenter(),
		positions: positionstore.NewMemoryStore(),
	}
	f.store = New(f.api, &Options{
		Positions: f.positions,
		Notifier:  f.notes,
		Clock:     func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err := f.store.Load(ctx, "p1"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	t.Cleanup(func() { f.store.Close() })
	return f
}

func (f *fixture) inputs(t *testing.T, uuid, slot string) types.InputValue {
	t.Helper()
	n, ok := f.store.Node(uuid)
	if !ok {
		t.Fatalf("node %s not found", uuid)
	}
	return n.Inputs[slot]
}

func TestLoad(t *testing.T) {
	f := newFixture(t)
	st := f.store.State()

	if st.Pipeline == nil || st.Pipeline.UUID != "p1" {
		t.Fatalf("expected pipeline p1, got %+v", st.Pipeline)
	}
	if len(st.Nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(st.Nodes))
	}
	if st.HistoryLength != 0 || st.CanUndo || st.CanRedo {
		t.Errorf("expected empty history, got length %d", st.HistoryLength)
	}
	if st.HasInitialLayout {
		t.Error("expected no initial layout without saved positions")
	}
	if !f.store.NeedsLayout() {
		t.Error("expected NeedsLayout to be true")
	}
}

func TestLoad_Error(t *testing.T) {
	f := newFixture(t)
	err := f.store.Load(context.Background(), "missing")
	if !errors.Is(err, pipelineapi.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	st := f.store.State()
	if st.Loading {
		t.Error("expected loading to be false after a failed load")
	}
	if st.Error == "" {
		t.Error("expected error to be recorded")
	}
}

func TestCommands_NotLoaded(t *testing.T) {
	s := New(&flakyAPI{fail: map[string]error{}}, nil)
	res := s.Connect(context.Background(), "a", "b", "segments")
	if !errors.Is(res.Err, ErrNotLoaded) {
		t.Errorf("expected ErrNotLoaded, got %v", res.Err)
	}
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("appends to a list slot", func(t *testing.T) {
		f := newFixture(t)
		if res := f.store.Connect(ctx, "v1", "m1", "segments"); !res.Ok {
			t.Fatalf("Connect failed: %v", res.Err)
		}
		if res := f.store.Connect(ctx, "v2", "m1", "segments"); !res.Ok {
			t.Fatalf("Connect failed: %v", res.Err)
		}
		got := f.inputs(t, "m1", "segments").IDs()
		if diff := cmp.Diff([]string{"v1", "v2"}, got); diff != "" {
			t.Errorf("segments mismatch (-want +got):\n%s", diff)
		}
		if n, _ := f.store.Node("m1"); n.Inputs["segments"].Len() != 2 {
			t.Errorf("expected 2 segments, got %d", n.Inputs["segments"].Len())
		}
		if st := f.store.State(); st.HistoryLength != 2 || st.IsSaving {
			t.Errorf("expected 2 history entries and not saving, got %d/%v", st.HistoryLength, st.IsSaving)
		}
	})

	t.Run("single slot matches the server", func(t *testing.T) {
		f := newFixture(t)
		if res := f.store.Connect(ctx, "a1", "m1", "audio"); !res.Ok {
			t.Fatalf("Connect failed: %v", res.Err)
		}
		local, _ := f.store.Node("m1")
		if got := local.Inputs["audio"]; got.IsList() || got.Single() != "a1" {
			t.Errorf("expected single reference a1, got list=%v ids=%v", got.IsList(), got.IDs())
		}
		server, err := f.backend.GetNode(ctx, "p1", "m1")
		if err != nil {
			t.Fatalf("GetNode failed: %v", err)
		}
		if diff := cmp.Diff(server.Inputs, local.Inputs); diff != "" {
			t.Errorf("local inputs differ from server (-server +local):\n%s", diff)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		f := newFixture(t)
		f.store.Connect(ctx, "v1", "m1", "segments")
		res := f.store.Connect(ctx, "v1", "m1", "segments")
		if !res.Ok || !res.Noop {
			t.Fatalf("expected a successful no-op, got %+v", res)
		}
		if got := f.inputs(t, "m1", "segments").IDs(); len(got) != 1 {
			t.Errorf("expected one reference, got %v", got)
		}
		if n := f.api.count("ConnectNodes"); n != 1 {
			t.Errorf("expected 1 API call, got %d", n)
		}
		if st := f.store.State(); st.HistoryLength != 1 {
			t.Errorf("expected 1 history entry, got %d", st.HistoryLength)
		}
	})

	t.Run("unknown target", func(t *testing.T) {
		f := newFixture(t)
		res := f.store.Connect(ctx, "v1", "nope", "segments")
		if !errors.Is(res.Err, ErrNodeNotFound) {
			t.Errorf("expected ErrNodeNotFound, got %v", res.Err)
		}
		if f.api.count("ConnectNodes") != 0 {
			t.Error("expected no API call")
		}
	})

	t.Run("notifications share an id", func(t *testing.T) {
		f := newFixture(t)
		f.store.Connect(ctx, "v1", "m1", "segments")
		n, ok := f.notes.Get("connect-v1-m1")
		if !ok {
			t.Fatal("expected notification connect-v1-m1")
		}
		if n.Level != notify.LevelSuccess {
			t.Errorf("expected success level, got %s", n.Level)
		}
		var levels []notify.Level
		for _, h := range f.notes.History() {
			if h.ID == "connect-v1-m1" {
				levels = append(levels, h.Level)
			}
		}
		if diff := cmp.Diff([]notify.Level{notify.LevelLoading, notify.LevelSuccess}, levels); diff != "" {
			t.Errorf("notification sequence mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	wiring := [][3]string{
		{"v1", "m1", "segments"},
		{"v2", "m1", "segments"},
		{"a1", "m1", "audio"},
	}

	t.Run("removes one list entry", func(t *testing.T) {
		f := newFixture(t, wiring...)
		if res := f.store.Disconnect(ctx, "v1", "m1", "segments"); !res.Ok {
			t.Fatalf("Disconnect failed: %v", res.Err)
		}
		got := f.inputs(t, "m1", "segments")
		if !got.IsList() {
			t.Error("expected segments to stay a list")
		}
		if diff := cmp.Diff([]string{"v2"}, got.IDs()); diff != "" {
			t.Errorf("segments mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("clears a single reference", func(t *testing.T) {
		f := newFixture(t, wiring...)
		if res := f.store.Disconnect(ctx, "a1", "m1", "audio"); !res.Ok {
			t.Fatalf("Disconnect failed: %v", res.Err)
		}
		if got := f.inputs(t, "m1", "audio"); !got.IsEmpty() || got.IsList() {
			t.Errorf("expected cleared single reference, got %v", got.IDs())
		}
	})

	t.Run("absent reference is a no-op", func(t *testing.T) {
		f := newFixture(t, wiring...)
		res := f.store.Disconnect(ctx, "a1", "m1", "segments")
		if !res.Ok || !res.Noop {
			t.Fatalf("expected a successful no-op, got %+v", res)
		}
		if f.api.count("DisconnectNodes") != 0 {
			t.Error("expected no API call")
		}
		if st := f.store.State(); st.HistoryLength != 0 {
			t.Errorf("expected no history, got %d", st.HistoryLength)
		}
	})

	t.Run("server agrees after reload", func(t *testing.T) {
		f := newFixture(t, wiring...)
		f.store.Disconnect(ctx, "v2", "m1", "segments")
		if err := f.store.Reload(ctx); err != nil {
			t.Fatalf("Reload failed: %v", err)
		}
		if diff := cmp.Diff([]string{"v1"}, f.inputs(t, "m1", "segments").IDs()); diff != "" {
			t.Errorf("segments mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDeleteNodes(t *testing.T) {
	ctx := context.Background()
	wiring := [][3]string{
		{"v1", "m1", "segments"},
		{"v2", "m1", "segments"},
		{"a1", "m1", "audio"},
	}

	t.Run("strips references and positions", func(t *testing.T) {
		f := newFixture(t, wiring...)
		f.store.EnsureLayout()
		f.store.SelectNode("v1")

		if res := f.store.DeleteNodes(ctx, []string{"v1", "a1"}); !res.Ok {
			t.Fatalf("DeleteNodes failed: %v", res.Err)
		}
		st := f.store.State()
		if len(st.Nodes) != 2 {
			t.Errorf("expected 2 nodes, got %d", len(st.Nodes))
		}
		for _, n := range st.Nodes {
			for slot, v := range n.Inputs {
				if v.Contains("v1") || v.Contains("a1") {
					t.Errorf("node %s slot %s still references a deleted node", n.UUID, slot)
				}
			}
		}
		for _, id := range []string{"v1", "a1"} {
			if _, ok := st.NodePositions[id]; ok {
				t.Errorf("expected position of %s to be removed", id)
			}
		}
		if st.SelectedNodeID != "" {
			t.Errorf("expected selection cleared, got %q", st.SelectedNodeID)
		}
		for _, e := range f.store.GetEdges() {
			if e.Source == "v1" || e.Source == "a1" {
				t.Errorf("unexpected edge %s", e.ID)
			}
		}
	})

	t.Run("unknown ids are a no-op", func(t *testing.T) {
		f := newFixture(t)
		res := f.store.DeleteNodes(ctx, []string{"nope"})
		if !res.Noop {
			t.Errorf("expected no-op, got %+v", res)
		}
	})

	t.Run("partial failure restores everything", func(t *testing.T) {
		f := newFixture(t, wiring...)
		before := f.store.State()
		f.api.failDelete["v2"] = errBoom

		res := f.store.DeleteNodes(ctx, []string{"v1", "v2"})
		if !errors.Is(res.Err, errBoom) {
			t.Fatalf("expected errBoom, got %v", res.Err)
		}
		after := f.store.State()
		if diff := cmp.Diff(before.Nodes, after.Nodes); diff != "" {
			t.Errorf("nodes not restored (-want +got):\n%s", diff)
		}
		if n := f.api.count("DeleteNode"); n != 2 {
			t.Errorf("expected 2 delete calls, got %d", n)
		}
	})
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, [3]string{"v1", "m1", "segments"})
	f.store.EnsureLayout()
	f.store.SelectNode("m1")
	before := f.store.State()

	f.api.failOn("ConnectNodes", errBoom)
	res := f.store.Connect(ctx, "v2", "m1", "segments")
	if !errors.Is(res.Err, errBoom) {
		t.Fatalf("expected errBoom, got %v", res.Err)
	}
	if res.Rollback == nil {
		t.Fatal("expected a rollback snapshot")
	}

	after := f.store.State()
	if diff := cmp.Diff(before.Nodes, after.Nodes); diff != "" {
		t.Errorf("nodes not restored (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(before.NodePositions, after.NodePositions); diff != "" {
		t.Errorf("positions not restored (-want +got):\n%s", diff)
	}
	if after.SelectedNodeID != "m1" {
		t.Errorf("expected selection m1, got %q", after.SelectedNodeID)
	}
	if diff := cmp.Diff(before.Nodes, res.Rollback.Nodes); diff != "" {
		t.Errorf("rollback snapshot mismatch (-want +got):\n%s", diff)
	}
	if after.IsSaving {
		t.Error("expected saving to be false")
	}
	if !strings.Contains(after.Error, "boom") {
		t.Errorf("expected error to mention boom, got %q", after.Error)
	}

	n, ok := f.notes.Get("connect-v2-m1")
	if !ok || n.Level != notify.LevelError {
		t.Fatalf("expected error notification, got %+v", n)
	}
	if !strings.HasPrefix(n.Message, "Failed to connect nodes: ") {
		t.Errorf("unexpected message %q", n.Message)
	}
}

func TestCreateNode(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults and selection", func(t *testing.T) {
		f := newFixture(t)
		res := f.store.CreateNode(ctx, types.NewNodeRequest{
			UUID:     "m2",
			Type:     types.NodeTypeMergeVideos,
			Position: &types.Position{X: 10, Y: 20},
		})
		if !res.Ok {
			t.Fatalf("CreateNode failed: %v", res.Err)
		}
		n, ok := f.store.Node("m2")
		if !ok {
			t.Fatal("expected node m2")
		}
		if n.Title != "Video Merge 2" {
			t.Errorf("expected title Video Merge 2, got %q", n.Title)
		}
		if got := n.Inputs["segments"]; !got.IsList() || !got.IsEmpty() {
			t.Errorf("expected empty segments list, got %v", got.IDs())
		}
		if got, ok := n.Inputs["audio"]; !ok || got.IsList() || !got.IsEmpty() {
			t.Errorf("expected empty audio reference, got %v", got.IDs())
		}
		if n.Status != types.NodeStatusPending {
			t.Errorf("expected pending status, got %s", n.Status)
		}
		st := f.store.State()
		if st.SelectedNodeID != "m2" {
			t.Errorf("expected m2 selected, got %q", st.SelectedNodeID)
		}
		if diff := cmp.Diff(types.Position{X: 10, Y: 20}, st.NodePositions["m2"]); diff != "" {
			t.Errorf("position mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("failure restores selection", func(t *testing.T) {
		f := newFixture(t)
		f.store.SelectNode("v1")
		f.api.failOn("CreateNode", errBoom)
		res := f.store.CreateNode(ctx, types.NewNodeRequest{UUID: "m2", Type: types.NodeTypeMergeVideos})
		if !errors.Is(res.Err, errBoom) {
			t.Fatalf("expected errBoom, got %v", res.Err)
		}
		if _, ok := f.store.Node("m2"); ok {
			t.Error("expected m2 to be rolled back")
		}
		if st := f.store.State(); st.SelectedNodeID != "v1" {
			t.Errorf("expected v1 selected, got %q", st.SelectedNodeID)
		}
	})

	t.Run("rejects invalid requests", func(t *testing.T) {
		f := newFixture(t)
		if res := f.store.CreateNode(ctx, types.NewNodeRequest{Type: "hologram"}); res.Err == nil {
			t.Error("expected error for unknown type")
		}
		res := f.store.CreateNode(ctx, types.NewNodeRequest{UUID: "v1", Type: types.NodeTypeRenderCode})
		if !errors.Is(res.Err, ErrNodeExists) {
			t.Errorf("expected ErrNodeExists, got %v", res.Err)
		}
		if f.api.count("CreateNode") != 0 {
			t.Error("expected no API call")
		}
	})
}

func TestUpdateNode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	title := "Intro"
	if res := f.store.UpdateNode(ctx, "v1", types.NodePatch{Title: &title}); !res.Ok {
		t.Fatalf("UpdateNode failed: %v", res.Err)
	}
	if n, _ := f.store.Node("v1"); n.Title != "Intro" {
		t.Errorf("expected title Intro, got %q", n.Title)
	}
	if f.api.count("LoadPipeline") != 2 {
		t.Errorf("expected a reload after update, got %d loads", f.api.count("LoadPipeline"))
	}

	res := f.store.UpdateNode(ctx, "nope", types.NodePatch{Title: &title})
	if !errors.Is(res.Err, ErrNodeNotFound) {
		t.Errorf("expected ErrNodeNotFound, got %v", res.Err)
	}
}

func TestExecuteNode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, [3]string{"v1", "m1", "segments"})

	if res := f.store.ExecuteNode(ctx, "v1"); !res.Ok {
		t.Fatalf("ExecuteNode failed: %v", res.Err)
	}
	if n, _ := f.store.Node("v1"); n.Status != types.NodeStatusCompleted {
		t.Errorf("expected completed, got %s", n.Status)
	}
	for _, e := range f.store.GetEdges() {
		if e.Source == "v1" && e.Dashed {
			t.Error("expected solid edge from a completed node")
		}
	}
	if st := f.store.State(); st.HistoryLength != 1 {
		t.Errorf("expected execute to be recorded, got %d entries", st.HistoryLength)
	}
}

func TestUndoRedo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if f.store.Undo() {
		t.Error("expected Undo on empty history to be a no-op")
	}

	f.store.Connect(ctx, "v1", "m1", "segments")
	f.store.Connect(ctx, "v2", "m1", "segments")

	steps := []struct {
		op      func() bool
		want    []string
		canUndo bool
		canRedo bool
	}{
		{f.store.Undo, []string{"v1"}, true, true},
		{f.store.Undo, []string{}, false, true},
		{f.store.Undo, []string{}, false, true},
		{f.store.Redo, []string{"v1"}, true, true},
		{f.store.Redo, []string{"v1", "v2"}, true, false},
		{f.store.Redo, []string{"v1", "v2"}, true, false},
	}
	for i, step := range steps {
		step.op()
		got := f.inputs(t, "m1", "segments").IDs()
		if len(got) == 0 {
			got = []string{}
		}
		if diff := cmp.Diff(step.want, got); diff != "" {
			t.Errorf("step %d: segments mismatch (-want +got):\n%s", i, diff)
		}
		st := f.store.State()
		if st.CanUndo != step.canUndo || st.CanRedo != step.canRedo {
			t.Errorf("step %d: expected canUndo=%v canRedo=%v, got %v/%v",
				i, step.canUndo, step.canRedo, st.CanUndo, st.CanRedo)
		}
	}

	if f.api.count("DisconnectNodes") != 0 || f.api.count("ConnectNodes") != 2 {
		t.Error("expected undo/redo to stay local")
	}
}

// undoView is the undoable part of the state.
type undoView struct {
	Nodes     []types.Node
	Positions map[string]types.Position
	Selected  string
}

func viewOf(s *Store) undoView {
	st := s.State()
	return undoView{Nodes: st.Nodes, Positions: st.NodePositions, Selected: st.SelectedNodeID}
}

func TestUndoRedo_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.EnsureLayout()

	// views[k] is the state before command k; the last one is the final state.
	var views []undoView

	f.store.SelectNode("v1")
	f.store.UpdateNodePositions(map[string]types.Position{"v1": {X: -300, Y: 400}})
	views = append(views, viewOf(f.store))
	if res := f.store.Connect(ctx, "v1", "m1", "segments"); !res.Ok {
		t.Fatalf("Connect failed: %v", res.Err)
	}

	f.store.SelectNode("m1")
	f.store.UpdateNodePositions(map[string]types.Position{"m1": {X: 900, Y: -100}})
	views = append(views, viewOf(f.store))
	if res := f.store.Connect(ctx, "a1", "m1", "audio"); !res.Ok {
		t.Fatalf("Connect failed: %v", res.Err)
	}

	views = append(views, viewOf(f.store))
	if res := f.store.CreateNode(ctx, types.NewNodeRequest{
		UUID:     "v3",
		Type:     types.NodeTypeRenderCode,
		Position: &types.Position{X: 1200, Y: 600},
	}); !res.Ok {
		t.Fatalf("CreateNode failed: %v", res.Err)
	}
	views = append(views, viewOf(f.store))

	last := len(views) - 1
	for k := last - 1; k >= 0; k-- {
		if !f.store.Undo() {
			t.Fatalf("undo to state %d was not applied", k)
		}
		if diff := cmp.Diff(views[k], viewOf(f.store)); diff != "" {
			t.Errorf("after undo to state %d (-want +got):\n%s", k, diff)
		}
	}
	for k := 1; k <= last; k++ {
		if !f.store.Redo() {
			t.Fatalf("redo to state %d was not applied", k)
		}
		if diff := cmp.Diff(views[k], viewOf(f.store)); diff != "" {
			t.Errorf("after redo to state %d (-want +got):\n%s", k, diff)
		}
	}
}

func TestUndo_NewCommandDropsRedo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.store.Connect(ctx, "v1", "m1", "segments")
	f.store.Connect(ctx, "v2", "m1", "segments")
	f.store.Undo()
	f.store.Undo()
	f.store.Connect(ctx, "a1", "m1", "audio")

	st := f.store.State()
	if st.CanRedo {
		t.Error("expected redo to be cleared")
	}
	if st.HistoryLength != 1 || st.HistoryIndex != 1 {
		t.Errorf("expected 1 entry at index 1, got %d at %d", st.HistoryLength, st.HistoryIndex)
	}
	entries, _ := f.store.History()
	if entries[0].Type != HistoryConnect {
		t.Errorf("expected connect entry, got %s", entries[0].Type)
	}
}

func TestHistoryLimit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default", 0, DefaultHistoryLimit},
		{"custom", 5, 5},
		{"minimum", 1, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			s := New(f.api, &Options{Positions: f.positions, Notifier: f.notes, HistoryLimit: tt.limit})
			if err := s.Load(ctx, "p1"); err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			defer s.Close()

			for i := 0; i < tt.want+10; i++ {
				if i%2 == 0 {
					s.Connect(ctx, "v1", "m1", "segments")
				} else {
					s.Disconnect(ctx, "v1", "m1", "segments")
				}
			}
			entries, index := s.History()
			if len(entries) != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, len(entries))
			}
			if index != tt.want {
				t.Errorf("expected index %d, got %d", tt.want, index)
			}

			// At the limit the live state pushed by the first undo evicts the
			// oldest entry.
			undone := 0
			for s.Undo() {
				undone++
			}
			if undone != tt.want-1 {
				t.Errorf("expected %d undos, got %d", tt.want-1, undone)
			}
		})
	}
}

func TestLayout(t *testing.T) {
	ctx := context.Background()

	t.Run("full layout positions every node", func(t *testing.T) {
		f := newFixture(t, [3]string{"v1", "m1", "segments"})
		nodes := f.store.EnsureLayout()
		for _, n := range nodes {
			if !n.HasPosition {
				t.Errorf("node %s has no position", n.UUID)
			}
		}
		st := f.store.State()
		if !st.HasInitialLayout {
			t.Error("expected initial layout")
		}
		if st.NodePositions["m1"].X <= st.NodePositions["v1"].X {
			t.Errorf("expected m1 right of v1, got %v and %v", st.NodePositions["m1"], st.NodePositions["v1"])
		}
		if f.store.ComputeAndCommitLayout() {
			t.Error("expected no layout work once every node is placed")
		}
	})

	t.Run("incremental layout keeps existing positions", func(t *testing.T) {
		f := newFixture(t)
		f.store.EnsureLayout()
		before := f.store.State().NodePositions

		f.store.CreateNode(ctx, types.NewNodeRequest{
			UUID:   "m2",
			Type:   types.NodeTypeMergeVideos,
			Inputs: map[string]types.InputValue{"segments": types.ListInput("v1")},
		})
		if !f.store.NeedsLayout() {
			t.Fatal("expected NeedsLayout after adding an unplaced node")
		}
		if !f.store.ComputeAndCommitLayout() {
			t.Fatal("expected incremental layout to run")
		}

		after := f.store.State().NodePositions
		pos, ok := after["m2"]
		if !ok {
			t.Fatal("expected m2 to be placed")
		}
		delete(after, "m2")
		if diff := cmp.Diff(before, after); diff != "" {
			t.Errorf("existing positions moved (-want +got):\n%s", diff)
		}
		cfg := layout.DefaultPlacementConfig()
		for id, p := range before {
			if layout.Overlaps(pos, p, cfg) {
				t.Errorf("m2 at %v overlaps %s at %v", pos, id, p)
			}
		}
	})

	t.Run("incremental layout clears measured sizes", func(t *testing.T) {
		f := newFixture(t)
		measured := map[string]types.Size{"v1": {Width: 900, Height: 180}}
		f.store.SetNodeDimensions(measured)
		f.store.EnsureLayout()

		f.store.CreateNode(ctx, types.NewNodeRequest{
			UUID:   "m2",
			Type:   types.NodeTypeMergeVideos,
			Inputs: map[string]types.InputValue{"segments": types.ListInput("v1")},
		})
		if !f.store.ComputeAndCommitLayout() {
			t.Fatal("expected incremental layout to run")
		}

		cfg := layout.DefaultPlacementConfig()
		positions := f.store.State().NodePositions
		pos := positions["m2"]
		for id, p := range positions {
			if id == "m2" {
				continue
			}
			w, h := cfg.NodeWidth, cfg.NodeHeight
			if s, ok := measured[id]; ok {
				w, h = s.Width, s.Height
			}
			if pos.X < p.X+w && p.X < pos.X+cfg.NodeWidth && pos.Y < p.Y+h && p.Y < pos.Y+cfg.NodeHeight {
				t.Errorf("m2 at %v overlaps the %vx%v footprint of %s at %v", pos, w, h, id, p)
			}
		}
	})

	t.Run("force relayout", func(t *testing.T) {
		f := newFixture(t)
		f.store.EnsureLayout()
		f.store.ForceRelayout()
		st := f.store.State()
		if st.HasInitialLayout || len(st.NodePositions) != 0 {
			t.Errorf("expected positions cleared, got %d", len(st.NodePositions))
		}
		if !f.store.NeedsLayout() {
			t.Error("expected NeedsLayout after relayout")
		}
	})

	t.Run("apply layout", func(t *testing.T) {
		f := newFixture(t)
		f.store.ApplyLayout(layout.AlgorithmGrid, layout.RankDirTB)
		st := f.store.State()
		if st.LayoutConfig.Algorithm != layout.AlgorithmGrid || st.LayoutConfig.Direction != layout.RankDirTB {
			t.Errorf("unexpected layout config %+v", st.LayoutConfig)
		}
		if len(st.NodePositions) != 4 {
			t.Errorf("expected 4 positions, got %d", len(st.NodePositions))
		}
	})

	t.Run("manual positions", func(t *testing.T) {
		f := newFixture(t)
		f.store.EnsureLayout()
		f.store.UpdateNodePositions(map[string]types.Position{
			"v1":   {X: -500, Y: -500},
			"nope": {X: 1, Y: 1},
		})
		st := f.store.State()
		if st.NodePositions["v1"] != (types.Position{X: -500, Y: -500}) {
			t.Errorf("expected v1 moved, got %v", st.NodePositions["v1"])
		}
		if _, ok := st.NodePositions["nope"]; ok {
			t.Error("expected unknown node to be ignored")
		}
	})
}

func TestPositionPersistence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.EnsureLayout()
	f.store.UpdateNodePositions(map[string]types.Position{"v1": {X: 1000, Y: 50}})
	want := f.store.State().NodePositions
	f.store.Close()

	saved, err := f.positions.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(want, saved); diff != "" {
		t.Errorf("saved positions mismatch (-want +got):\n%s", diff)
	}

	reopened := New(f.api, &Options{Positions: f.positions})
	defer reopened.Close()
	if err := reopened.Load(ctx, "p1"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	st := reopened.State()
	if !st.HasInitialLayout {
		t.Error("expected saved arrangement to count as initial layout")
	}
	if diff := cmp.Diff(want, st.NodePositions); diff != "" {
		t.Errorf("restored positions mismatch (-want +got):\n%s", diff)
	}
}

func TestGetEdges(t *testing.T) {
	f := newFixture(t,
		[3]string{"v1", "m1", "segments"},
		[3]string{"a1", "m1", "audio"},
	)
	got := f.store.GetEdges()
	want := []Edge{
		{ID: "a1-m1-audio-0", Source: "a1", Target: "m1", TargetHandle: "audio", Dashed: true, Color: "#10b981"},
		{ID: "v1-m1-segments-0", Source: "v1", Target: "m1", TargetHandle: "segments", Dashed: true, Color: "#6366f1"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("edges mismatch (-want +got):\n%s", diff)
	}
}

func TestValidateConnection(t *testing.T) {
	f := newFixture(t,
		[3]string{"v1", "m1", "segments"},
		[3]string{"a1", "m1", "audio"},
	)

	tests := []struct {
		name                 string
		source, target, slot string
		want                 error
	}{
		{"valid list slot", "v2", "m1", "segments", nil},
		{"unknown source", "nope", "m1", "segments", ErrNodeNotFound},
		{"unknown target", "v1", "nope", "segments", ErrNodeNotFound},
		{"self loop", "m1", "m1", "segments", ErrSelfLoop},
		{"undeclared slot", "v2", "m1", "overlays", ErrSlotNotDeclared},
		{"single slot full", "a1", "m1", "audio", ErrSlotFull},
		{"cycle", "m1", "v1", "code", ErrCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.store.ValidateConnection(tt.source, tt.target, tt.slot)
			if tt.want == nil {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var mu sync.Mutex
	var seen []bool
	cancel := f.store.Subscribe(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st.IsSaving)
	})
	f.store.Connect(ctx, "v1", "m1", "segments")
	cancel()
	f.store.Connect(ctx, "v2", "m1", "segments")

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 state updates, got %d", len(seen))
	}
	if !seen[0] || seen[1] {
		t.Errorf("expected saving then settled, got %v", seen)
	}
}

func TestDefaultTitles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.store.CreateNode(ctx, types.NewNodeRequest{Type: types.NodeTypeGenerateVoiceover})
	}
	var titles []string
	for _, n := range f.store.State().Nodes {
		if n.Type == types.NodeTypeGenerateVoiceover {
			titles = append(titles, n.Title)
		}
	}
	want := make([]string, 4)
	for i := range want {
		want[i] = fmt.Sprintf("Voiceover %d", i+1)
	}
	if diff := cmp.Diff(want, titles); diff != "" {
		t.Errorf("titles mismatch (-want +got):\n%s", diff)
	}
}
