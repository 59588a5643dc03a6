package pipelinestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// record is the persisted unit of both store implementations: one pipeline
// and its nodes in creation order.
type record struct {
	Pipeline types.Pipeline `json:"pipeline"`
	Nodes    []types.Node   `json:"nodes"`
}

func newRecord(req *CreatePipelineRequest, id string, now time.Time) *record {
	return &record{
		Pipeline: types.Pipeline{
			UUID:        id,
			Name:        req.Name,
			Description: req.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		Nodes: []types.Node{},
	}
}

func (r *record) graph() *types.PipelineGraph {
	return &types.PipelineGraph{
		Pipeline: r.Pipeline,
		Nodes:    types.CloneNodes(r.Nodes),
	}
}

func (r *record) index(nodeUUID string) int {
	for i := range r.Nodes {
		if r.Nodes[i].UUID == nodeUUID {
			return i
		}
	}
	return -1
}

func (r *record) node(nodeUUID string) (*types.Node, error) {
	i := r.index(nodeUUID)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeUUID)
	}
	return &r.Nodes[i], nil
}

func (r *record) touch(n *types.Node, now time.Time) {
	n.UpdatedAt = now
	r.Pipeline.UpdatedAt = now
}

func (r *record) createNode(req *types.NewNodeRequest, now time.Time) (*types.Node, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if r.index(req.UUID) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrNodeExists, req.UUID)
	}

	inputs := types.DefaultInputs(req.Type)
	for k, v := range req.Inputs {
		inputs[k] = v.Clone()
	}
	title := req.Title
	if title == "" {
		title = types.DefaultTitle(req.Type, r.Nodes)
	}

	n := types.Node{
		UUID:         req.UUID,
		PipelineUUID: r.Pipeline.UUID,
		Type:         req.Type,
		Title:        title,
		Inputs:       inputs,
		Config:       cloneRaw(req.Config),
		Asset:        req.Asset.Clone(),
		Status:       types.NodeStatusPending,
		IsValid:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.Nodes = append(r.Nodes, n)
	r.Pipeline.UpdatedAt = now
	return &r.Nodes[len(r.Nodes)-1], nil
}

func (r *record) updateNode(nodeUUID string, patch *types.NodePatch, now time.Time) (*types.Node, error) {
	n, err := r.node(nodeUUID)
	if err != nil {
		return nil, err
	}
	patch.Apply(n)
	r.touch(n, now)
	return n, nil
}

func (r *record) setStatus(nodeUUID string, status types.NodeStatus, output json.RawMessage, now time.Time) (*types.Node, error) {
	n, err := r.node(nodeUUID)
	if err != nil {
		return nil, err
	}
	n.Status = status
	if output != nil {
		n.Output = cloneRaw(output)
	}
	r.touch(n, now)
	return n, nil
}

// deleteNode removes a node and strips its uuid from every remaining slot.
func (r *record) deleteNode(nodeUUID string, now time.Time) error {
	i := r.index(nodeUUID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeUUID)
	}
	r.Nodes = append(r.Nodes[:i], r.Nodes[i+1:]...)
	for j := range r.Nodes {
		n := &r.Nodes[j]
		changed := false
		for key, v := range n.Inputs {
			if v.Contains(nodeUUID) {
				n.Inputs[key] = v.Without(nodeUUID)
				changed = true
			}
		}
		if changed {
			n.UpdatedAt = now
		}
	}
	r.Pipeline.UpdatedAt = now
	return nil
}

func (r *record) connect(source, target, slot string, now time.Time) error {
	if source == target {
		return ErrSelfLoop
	}
	if r.index(source) < 0 {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, source)
	}
	n, err := r.node(target)
	if err != nil {
		return err
	}
	limit := types.GetMaxConnections(n.Type, slot)
	if limit == 0 {
		return fmt.Errorf("%w: %s has no slot %q", ErrSlotNotDeclared, n.Type, slot)
	}
	if n.Inputs == nil {
		n.Inputs = make(map[string]types.InputValue)
	}
	current := n.Inputs[slot]
	if current.Contains(source) {
		return nil
	}
	if limit != types.Unlimited && current.Len() >= limit {
		return fmt.Errorf("%w: %s.%s", ErrSlotFull, target, slot)
	}
	n.Inputs[slot] = types.ConnectInput(n.Type, slot, current, source)
	r.touch(n, now)
	return nil
}

func (r *record) disconnect(source, target, slot string, now time.Time) error {
	n, err := r.node(target)
	if err != nil {
		return err
	}
	current, ok := n.Inputs[slot]
	if !ok || !current.Contains(source) {
		return nil
	}
	n.Inputs[slot] = current.Without(source)
	r.touch(n, now)
	return nil
}

// annotate recomputes isValid and validationErrors for every node.
func (r *record) annotate(v NodeValidator) {
	known := make(map[string]bool, len(r.Nodes))
	for i := range r.Nodes {
		known[r.Nodes[i].UUID] = true
	}
	for i := range r.Nodes {
		n := &r.Nodes[i]
		var msgs []string
		if v != nil {
			msgs = append(msgs, v.ValidateNode(n)...)
		}
		for _, key := range types.SortedSlotKeys(n.Inputs) {
			for _, id := range n.Inputs[key].IDs() {
				if !known[id] {
					msgs = append(msgs, fmt.Sprintf("input %q references unknown node %s", key, id))
				}
			}
		}
		if n.Status == types.NodeStatusFailed {
			for _, id := range n.Sources() {
				if j := r.index(id); j >= 0 && r.Nodes[j].Status != types.NodeStatusCompleted {
					msgs = append(msgs, fmt.Sprintf("upstream node %s is not completed", id))
				}
			}
		}
		n.IsValid = len(msgs) == 0
		n.ValidationErrors = msgs
	}
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
