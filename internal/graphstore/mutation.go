package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/metrics"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/notify"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/tracing"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// Result is the outcome of a command. On failure Rollback holds the state
// the store was restored to.
type Result struct {
	Ok       bool
	Noop     bool
	Err      error
	Rollback *Snapshot
}

// command describes one optimistic mutation.
type command struct {
	name        string
	historyType HistoryType
	description string
	notifyID    string
	pending     string
	success     string
	failure     string
	attrs       []attribute.KeyValue

	// prepare validates against the current state under the lock. It may
	// return a finished Result to short-circuit (no history, no API call).
	prepare func() *Result
	// apply mutates local state under the lock.
	apply func()
	// call performs the API request without the lock.
	call func(ctx context.Context) error
	// reconcile merges server truth after a successful call.
	reconcile func(ctx context.Context)
}

// run executes the optimistic-update protocol: snapshot to history, apply
// locally, call the API, then reconcile on success or restore the
// pre-command state on failure.
func (s *Store) run(ctx context.Context, cmd command) (res Result) {
	ctx, span := s.tracer.Start(ctx, "graphstore."+cmd.name)
	start := time.Now()
	defer func() {
		result := "success"
		switch {
		case res.Err != nil:
			result = "error"
			tracing.Fail(span, res.Err)
		case res.Noop:
			result = "noop"
		}
		metrics.CommandsTotal.WithLabelValues(cmd.name, result).Inc()
		span.End()
	}()

	var pre Snapshot
	var early *Result
	s.update(func() {
		if s.pipeline == nil {
			early = &Result{Err: ErrNotLoaded}
			return
		}
		span.SetAttributes(append(cmd.attrs, tracing.PipelineKey.String(s.pipelineUUID))...)
		if cmd.prepare != nil {
			if early = cmd.prepare(); early != nil {
				return
			}
		}
		s.saveToHistoryLocked(cmd.historyType, cmd.description)
		pre = s.snapshotLocked()
		if cmd.apply != nil {
			cmd.apply()
		}
		s.saving = true
	})
	if early != nil {
		return *early
	}

	s.notify(ctx, cmd.notifyID, notify.LevelLoading, cmd.pending)

	err := cmd.call(ctx)
	metrics.CommandDuration.WithLabelValues(cmd.name).Observe(time.Since(start).Seconds())

	if err != nil {
		s.update(func() {
			s.restoreLocked(pre)
			s.saving = false
			s.lastErr = err
		})
		metrics.RollbacksTotal.WithLabelValues(cmd.name).Inc()
		s.logger.Warn("command failed, local state rolled back",
			slog.String("command", cmd.name),
			slog.String("pipeline_uuid", s.currentPipeline()),
			slog.String("error", err.Error()),
		)
		s.notify(ctx, cmd.notifyID, notify.LevelError, fmt.Sprintf("%s: %v", cmd.failure, err))
		rollback := pre.clone()
		return Result{Err: err, Rollback: &rollback}
	}

	if cmd.reconcile != nil {
		cmd.reconcile(ctx)
	}
	s.update(func() {
		s.saving = false
		s.lastErr = nil
	})
	s.notify(ctx, cmd.notifyID, notify.LevelSuccess, cmd.success)
	return Result{Ok: true}
}

func (s *Store) notify(ctx context.Context, id string, level notify.Level, message string) {
	s.notifier.Notify(ctx, notify.Notification{
		ID:        id,
		Level:     level,
		Message:   message,
		Timestamp: s.now(),
	})
}

func (s *Store) currentPipeline() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipelineUUID
}

// reloadAfter re-syncs the whole graph after a successful call. A failed
// reload keeps the local state and is reported as a notification only.
func (s *Store) reloadAfter(name, notifyID string) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := s.Reload(ctx); err != nil {
			s.logger.Warn("reload after command failed",
				slog.String("command", name),
				slog.String("pipeline_uuid", s.currentPipeline()),
				slog.String("error", err.Error()),
			)
			s.notify(ctx, notifyID+"-reload", notify.LevelError, fmt.Sprintf("Failed to refresh pipeline: %v", err))
		}
	}
}

// Connect appends source to the target's slot, or sets it when the slot takes
// a single connection. Connecting a source that is already present succeeds
// without recording history or calling the API.
func (s *Store) Connect(ctx context.Context, sourceUUID, targetUUID, slot string) Result {
	return s.run(ctx, command{
		name:        "connect",
		historyType: HistoryConnect,
		description: fmt.Sprintf("Connect %s to %s.%s", sourceUUID, targetUUID, slot),
		notifyID:    "connect-" + sourceUUID + "-" + targetUUID,
		pending:     "Connecting nodes...",
		success:     "Nodes connected",
		failure:     "Failed to connect nodes",
		attrs: []attribute.KeyValue{
			tracing.SourceKey.String(sourceUUID),
			tracing.TargetKey.String(targetUUID),
			tracing.SlotKey.String(slot),
		},
		prepare: func() *Result {
			i := s.indexLocked(targetUUID)
			if i < 0 {
				return &Result{Err: fmt.Errorf("%w: %s", ErrNodeNotFound, targetUUID)}
			}
			if s.nodes[i].Inputs[slot].Contains(sourceUUID) {
				return &Result{Ok: true, Noop: true}
			}
			return nil
		},
		apply: func() {
			target := &s.nodes[s.indexLocked(targetUUID)]
			if target.Inputs == nil {
				target.Inputs = make(map[string]types.InputValue)
			}
			target.Inputs[slot] = types.ConnectInput(target.Type, slot, target.Inputs[slot], sourceUUID)
		},
		call: func(ctx context.Context) error {
			return s.api.ConnectNodes(ctx, s.currentPipeline(), sourceUUID, targetUUID, slot)
		},
	})
}

// Disconnect removes source from the target's slot, reading the target's
// current inputs. A list loses exactly that entry; a bare value equal to
// source is cleared. An absent reference succeeds without recording history
// or calling the API.
func (s *Store) Disconnect(ctx context.Context, sourceUUID, targetUUID, slot string) Result {
	return s.run(ctx, command{
		name:        "disconnect",
		historyType: HistoryDisconnect,
		description: fmt.Sprintf("Disconnect %s from %s.%s", sourceUUID, targetUUID, slot),
		notifyID:    "disconnect-" + sourceUUID + "-" + targetUUID,
		pending:     "Disconnecting nodes...",
		success:     "Nodes disconnected",
		failure:     "Failed to disconnect nodes",
		attrs: []attribute.KeyValue{
			tracing.SourceKey.String(sourceUUID),
			tracing.TargetKey.String(targetUUID),
			tracing.SlotKey.String(slot),
		},
		prepare: func() *Result {
			i := s.indexLocked(targetUUID)
			if i < 0 || !s.nodes[i].Inputs[slot].Contains(sourceUUID) {
				return &Result{Ok: true, Noop: true}
			}
			return nil
		},
		apply: func() {
			target := &s.nodes[s.indexLocked(targetUUID)]
			target.Inputs[slot] = target.Inputs[slot].Without(sourceUUID)
		},
		call: func(ctx context.Context) error {
			return s.api.DisconnectNodes(ctx, s.currentPipeline(), sourceUUID, targetUUID, slot)
		},
	})
}

// DeleteNodes removes nodes, strips their uuids from every remaining slot,
// drops their positions and clears a selection pointing at them. The API
// deletes run one by one; the first failure stops the sequence and restores
// the local state.
func (s *Store) DeleteNodes(ctx context.Context, uuids []string) Result {
	var ids []string
	return s.run(ctx, command{
		name:        "delete",
		historyType: HistoryDelete,
		description: fmt.Sprintf("Delete %d node(s)", len(uuids)),
		notifyID:    "delete-" + strings.Join(uuids, ","),
		pending:     "Deleting nodes...",
		success:     "Nodes deleted",
		failure:     "Failed to delete nodes",
		attrs:       []attribute.KeyValue{tracing.NodesKey.StringSlice(uuids)},
		prepare: func() *Result {
			seen := make(map[string]bool, len(uuids))
			for _, id := range uuids {
				if !seen[id] && s.indexLocked(id) >= 0 {
					ids = append(ids, id)
					seen[id] = true
				}
			}
			if len(ids) == 0 {
				return &Result{Ok: true, Noop: true}
			}
			return nil
		},
		apply: func() {
			deleted := make(map[string]bool, len(ids))
			for _, id := range ids {
				deleted[id] = true
			}
			kept := s.nodes[:0:0]
			for _, n := range s.nodes {
				if !deleted[n.UUID] {
					kept = append(kept, n)
				}
			}
			for i := range kept {
				for key, v := range kept[i].Inputs {
					for _, id := range ids {
						v = v.Without(id)
					}
					kept[i].Inputs[key] = v
				}
			}
			s.nodes = kept
			for _, id := range ids {
				delete(s.nodePositions, id)
				delete(s.dimensions, id)
			}
			if deleted[s.selected] {
				s.selected = ""
			}
			s.persistLocked()
		},
		call: func(ctx context.Context) error {
			pipelineUUID := s.currentPipeline()
			for _, id := range ids {
				if err := s.api.DeleteNode(ctx, pipelineUUID, id); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
			}
			return nil
		},
	})
}

// CreateNode inserts a node built from req, selects it and records its
// position when one is given. The server's copy replaces the optimistic
// record on success. An empty title gets the next "<Kind> <N>" title; every
// declared slot missing from req.Inputs is pre-populated.
func (s *Store) CreateNode(ctx context.Context, req types.NewNodeRequest) Result {
	if req.UUID == "" {
		req.UUID = types.NewNodeUUID()
	}
	if err := req.Validate(); err != nil {
		return Result{Err: err}
	}
	var created *types.Node
	return s.run(ctx, command{
		name:        "create",
		historyType: HistoryCreate,
		description: fmt.Sprintf("Create %s node", types.KindName(req.Type)),
		notifyID:    "create-" + req.UUID,
		pending:     "Creating node...",
		success:     "Node created",
		failure:     "Failed to create node",
		attrs: []attribute.KeyValue{
			tracing.NodeKey.String(req.UUID),
			tracing.NodeTypeKey.String(string(req.Type)),
		},
		prepare: func() *Result {
			if s.indexLocked(req.UUID) >= 0 {
				return &Result{Err: fmt.Errorf("%w: %s", ErrNodeExists, req.UUID)}
			}
			return nil
		},
		apply: func() {
			if req.Title == "" {
				req.Title = types.DefaultTitle(req.Type, s.nodes)
			}
			inputs := types.DefaultInputs(req.Type)
			for k, v := range req.Inputs {
				inputs[k] = v.Clone()
			}
			req.Inputs = inputs

			now := s.now().UTC()
			s.nodes = append(s.nodes, types.Node{
				UUID:         req.UUID,
				PipelineUUID: s.pipelineUUID,
				Type:         req.Type,
				Title:        req.Title,
				Inputs:       inputs,
				Config:       req.Config,
				Asset:        req.Asset.Clone(),
				Status:       types.NodeStatusPending,
				IsValid:      true,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			s.selected = req.UUID
			if req.Position != nil {
				s.nodePositions[req.UUID] = *req.Position
				s.persistLocked()
			}
		},
		call: func(ctx context.Context) error {
			n, err := s.api.CreateNode(ctx, s.currentPipeline(), &req)
			created = n
			return err
		},
		reconcile: func(ctx context.Context) {
			if created == nil {
				return
			}
			s.update(func() {
				if i := s.indexLocked(req.UUID); i >= 0 {
					s.nodes[i] = created.Clone()
				}
			})
		},
	})
}

// UpdateNode shallow-merges patch into the node, then re-syncs the whole
// pipeline once the API accepts the update. Config and asset text must be
// validated by the caller.
func (s *Store) UpdateNode(ctx context.Context, uuid string, patch types.NodePatch) Result {
	return s.run(ctx, command{
		name:        "update",
		historyType: HistoryUpdate,
		description: "Update node " + uuid,
		notifyID:    "update-" + uuid,
		pending:     "Saving node...",
		success:     "Node saved",
		failure:     "Failed to save node",
		attrs:       []attribute.KeyValue{tracing.NodeKey.String(uuid)},
		prepare: func() *Result {
			if s.indexLocked(uuid) < 0 {
				return &Result{Err: fmt.Errorf("%w: %s", ErrNodeNotFound, uuid)}
			}
			return nil
		},
		apply: func() {
			n := &s.nodes[s.indexLocked(uuid)]
			patch.Apply(n)
			n.UpdatedAt = s.now().UTC()
		},
		call: func(ctx context.Context) error {
			_, err := s.api.UpdateNode(ctx, s.currentPipeline(), uuid, &patch)
			return err
		},
		reconcile: s.reloadAfter("update", "update-"+uuid),
	})
}

// ExecuteNode asks the API to run a node and reloads the pipeline to pick
// up the resulting statuses. Nothing is changed locally beforehand.
func (s *Store) ExecuteNode(ctx context.Context, uuid string) Result {
	return s.run(ctx, command{
		name:        "execute",
		historyType: HistoryExecute,
		description: "Execute node " + uuid,
		notifyID:    "execute-" + uuid,
		pending:     "Starting execution...",
		success:     "Execution started",
		failure:     "Failed to execute node",
		attrs:       []attribute.KeyValue{tracing.NodeKey.String(uuid)},
		prepare: func() *Result {
			if s.indexLocked(uuid) < 0 {
				return &Result{Err: fmt.Errorf("%w: %s", ErrNodeNotFound, uuid)}
			}
			return nil
		},
		call: func(ctx context.Context) error {
			return s.api.ExecuteNode(ctx, s.currentPipeline(), uuid)
		},
		reconcile: s.reloadAfter("execute", "execute-"+uuid),
	})
}
