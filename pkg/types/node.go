// Package types provides the pipeline node model shared by the graph store,
// the layout engine and the pipeline API.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeStatus represents the execution state of a node as reported by the API.
type NodeStatus string

const (
	NodeStatusPending    NodeStatus = "pending"
	NodeStatusInProgress NodeStatus = "in_progress"
	NodeStatusCompleted  NodeStatus = "completed"
	NodeStatusFailed     NodeStatus = "failed"
)

// Position is a top-left canvas coordinate for a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is a rendered node footprint.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// AssetType is the payload kind carried by an asset node.
type AssetType string

const (
	AssetTypeText  AssetType = "text"
	AssetTypeImage AssetType = "image"
	AssetTypeAudio AssetType = "audio"
	AssetTypeVideo AssetType = "video"
	AssetTypeJSON  AssetType = "json"
)

// Asset describes the static payload of an asset node.
type Asset struct {
	Type     AssetType       `json:"type"`
	URL      string          `json:"url,omitempty"`
	Content  json.RawMessage `json:"content,omitempty"`
	MimeType string          `json:"mimeType,omitempty"`
	Name     string          `json:"name,omitempty"`
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	c.Content = cloneRaw(a.Content)
	return &c
}

// Node is a single pipeline processing step. Its Inputs map is the edge set
// of the graph: every referenced uuid is an upstream node.
type Node struct {
	UUID             string                `json:"uuid"`
	PipelineUUID     string                `json:"pipelineUuid"`
	Type             NodeType              `json:"type"`
	Title            string                `json:"title"`
	Inputs           map[string]InputValue `json:"inputs"`
	Config           json.RawMessage       `json:"config,omitempty"`
	Asset            *Asset                `json:"asset,omitempty"`
	Status           NodeStatus            `json:"status"`
	Metadata         json.RawMessage       `json:"metadata,omitempty"`
	Output           json.RawMessage       `json:"output,omitempty"`
	IsValid          bool                  `json:"isValid"`
	ValidationErrors []string              `json:"validationErrors,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	c := n
	if n.Inputs != nil {
		c.Inputs = make(map[string]InputValue, len(n.Inputs))
		for k, v := range n.Inputs {
			c.Inputs[k] = v.Clone()
		}
	}
	c.Config = cloneRaw(n.Config)
	c.Asset = n.Asset.Clone()
	c.Metadata = cloneRaw(n.Metadata)
	c.Output = cloneRaw(n.Output)
	if n.ValidationErrors != nil {
		c.ValidationErrors = append([]string(nil), n.ValidationErrors...)
	}
	return c
}

// CloneNodes deep-copies a node slice.
func CloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i := range nodes {
		out[i] = nodes[i].Clone()
	}
	return out
}

// Sources returns every upstream uuid referenced by declared input slots,
// in slot-key order.
func (n *Node) Sources() []string {
	var out []string
	for _, key := range sortedKeys(n.Inputs) {
		if !HasInputHandle(n.Type, key) {
			continue
		}
		out = append(out, n.Inputs[key].IDs()...)
	}
	return out
}

// NodePatch is a partial node update. Nil fields are left untouched.
type NodePatch struct {
	Title  *string               `json:"title,omitempty"`
	Inputs map[string]InputValue `json:"inputs,omitempty"`
	Config json.RawMessage       `json:"config,omitempty"`
	Asset  *Asset                `json:"asset,omitempty"`
}

// Apply shallow-merges the patch into n: every non-nil field replaces the
// node's, so Inputs swaps in the whole slot map.
func (p *NodePatch) Apply(n *Node) {
	if p == nil {
		return
	}
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Inputs != nil {
		n.Inputs = make(map[string]InputValue, len(p.Inputs))
		for k, v := range p.Inputs {
			n.Inputs[k] = v.Clone()
		}
	}
	if p.Config != nil {
		n.Config = cloneRaw(p.Config)
	}
	if p.Asset != nil {
		n.Asset = p.Asset.Clone()
	}
}

// NewNodeRequest carries the caller-supplied fields of a node to create.
type NewNodeRequest struct {
	UUID     string                `json:"uuid"`
	Type     NodeType              `json:"type"`
	Title    string                `json:"title"`
	Inputs   map[string]InputValue `json:"inputs"`
	Config   json.RawMessage       `json:"config,omitempty"`
	Asset    *Asset                `json:"asset,omitempty"`
	Position *Position             `json:"position,omitempty"`
}

// Validate checks the request carries the fields the API requires.
func (r *NewNodeRequest) Validate() error {
	if r.UUID == "" {
		return fmt.Errorf("node uuid is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownNodeType, r.Type)
	}
	if r.Type == NodeTypeAsset && r.Asset == nil {
		return fmt.Errorf("asset payload is required for asset nodes")
	}
	return nil
}

// NewNodeUUID returns a fresh node identifier.
func NewNodeUUID() string {
	return uuid.New().String()
}

// Pipeline is the owning container of a node collection.
type Pipeline struct {
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// PipelineGraph is the payload of a pipeline load.
type PipelineGraph struct {
	Pipeline Pipeline `json:"pipeline"`
	Nodes    []Node   `json:"nodes"`
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return bytes.Clone(r)
}
