package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownNodeType is returned for a type outside the fixed kind set.
var ErrUnknownNodeType = errors.New("unknown node type")

// NodeType is the kind tag of a node.
type NodeType string

const (
	NodeTypeAsset               NodeType = "asset"
	NodeTypeGenerateTalkingHead NodeType = "generate-talking-head"
	NodeTypeGenerateAnimation   NodeType = "generate-animation"
	NodeTypeGenerateVoiceover   NodeType = "generate-voiceover"
	NodeTypeRenderCode          NodeType = "render-code"
	NodeTypeMixAudio            NodeType = "mix-audio"
	NodeTypeMergeVideos         NodeType = "merge-videos"
	NodeTypeComposeVideo        NodeType = "compose-video"
)

// Unlimited is the cardinality of slots accepting any number of sources.
const Unlimited = -1

// Slot declares one input position of a kind.
type Slot struct {
	Key            string
	MaxConnections int
	// Accepts lists the output types the slot is meant for. Informational.
	Accepts []OutputType
}

// OutputType classifies what a node produces. Edge colors key off it.
type OutputType string

const (
	OutputText  OutputType = "text"
	OutputImage OutputType = "image"
	OutputAudio OutputType = "audio"
	OutputVideo OutputType = "video"
	OutputJSON  OutputType = "json"
)

type kindSpec struct {
	name   string
	slots  []Slot
	output OutputType
}

var kinds = map[NodeType]kindSpec{
	NodeTypeAsset: {
		name: "Asset",
	},
	NodeTypeGenerateTalkingHead: {
		name:   "Talking Head",
		output: OutputVideo,
		slots: []Slot{
			{Key: "script", MaxConnections: 1, Accepts: []OutputType{OutputText}},
			{Key: "audio", MaxConnections: 1, Accepts: []OutputType{OutputAudio}},
			{Key: "avatar", MaxConnections: 1, Accepts: []OutputType{OutputImage, OutputVideo}},
		},
	},
	NodeTypeGenerateAnimation: {
		name:   "Animation",
		output: OutputVideo,
		slots: []Slot{
			{Key: "prompt", MaxConnections: 1, Accepts: []OutputType{OutputText}},
			{Key: "references", MaxConnections: Unlimited, Accepts: []OutputType{OutputImage, OutputVideo}},
		},
	},
	NodeTypeGenerateVoiceover: {
		name:   "Voiceover",
		output: OutputAudio,
		slots: []Slot{
			{Key: "script", MaxConnections: 1, Accepts: []OutputType{OutputText}},
		},
	},
	NodeTypeRenderCode: {
		name:   "Code Render",
		output: OutputVideo,
		slots: []Slot{
			{Key: "code", MaxConnections: 1, Accepts: []OutputType{OutputText, OutputJSON}},
			{Key: "config", MaxConnections: 1, Accepts: []OutputType{OutputJSON}},
		},
	},
	NodeTypeMixAudio: {
		name:   "Audio Mix",
		output: OutputAudio,
		slots: []Slot{
			{Key: "tracks", MaxConnections: Unlimited, Accepts: []OutputType{OutputAudio}},
		},
	},
	NodeTypeMergeVideos: {
		name:   "Video Merge",
		output: OutputVideo,
		slots: []Slot{
			{Key: "segments", MaxConnections: Unlimited, Accepts: []OutputType{OutputVideo}},
			{Key: "audio", MaxConnections: 1, Accepts: []OutputType{OutputAudio}},
		},
	},
	NodeTypeComposeVideo: {
		name:   "Video Compose",
		output: OutputVideo,
		slots: []Slot{
			{Key: "background", MaxConnections: 1, Accepts: []OutputType{OutputVideo, OutputImage}},
			{Key: "overlays", MaxConnections: Unlimited, Accepts: []OutputType{OutputVideo, OutputImage}},
			{Key: "audio", MaxConnections: 1, Accepts: []OutputType{OutputAudio}},
		},
	},
}

// AllNodeTypes lists every kind in a stable order.
func AllNodeTypes() []NodeType {
	return []NodeType{
		NodeTypeAsset,
		NodeTypeGenerateTalkingHead,
		NodeTypeGenerateAnimation,
		NodeTypeGenerateVoiceover,
		NodeTypeRenderCode,
		NodeTypeMixAudio,
		NodeTypeMergeVideos,
		NodeTypeComposeVideo,
	}
}

// Valid reports whether t is one of the known kinds.
func (t NodeType) Valid() bool {
	_, ok := kinds[t]
	return ok
}

// KindName returns the human label of a kind, used in default titles.
func KindName(t NodeType) string {
	if k, ok := kinds[t]; ok {
		return k.name
	}
	return string(t)
}

// Slots returns the declared input slots of a kind.
func Slots(t NodeType) []Slot {
	return append([]Slot(nil), kinds[t].slots...)
}

// HasInputHandle reports whether kind t declares slot key.
func HasInputHandle(t NodeType, key string) bool {
	for _, s := range kinds[t].slots {
		if s.Key == key {
			return true
		}
	}
	return false
}

// GetMaxConnections returns the cardinality limit of a slot; Unlimited (-1)
// for unbounded slots and 0 for undeclared ones.
func GetMaxConnections(t NodeType, key string) int {
	for _, s := range kinds[t].slots {
		if s.Key == key {
			return s.MaxConnections
		}
	}
	return 0
}

// ConnectInput returns the value of slot key on a node of kind t once source
// is connected: a single reference for cardinality-1 slots, current with
// source appended otherwise.
func ConnectInput(t NodeType, key string, current InputValue, source string) InputValue {
	if GetMaxConnections(t, key) == 1 {
		return SingleInput(source)
	}
	return current.Append(source)
}

// DefaultInputs pre-populates every declared slot: "" for cardinality 1,
// [] otherwise.
func DefaultInputs(t NodeType) map[string]InputValue {
	inputs := make(map[string]InputValue, len(kinds[t].slots))
	for _, s := range kinds[t].slots {
		if s.MaxConnections == 1 {
			inputs[s.Key] = SingleInput("")
		} else {
			inputs[s.Key] = ListInput()
		}
	}
	return inputs
}

// OutputTypeOf returns what node n produces. Asset nodes produce their payload type.
func OutputTypeOf(n *Node) OutputType {
	if n.Type == NodeTypeAsset {
		if n.Asset == nil {
			return OutputJSON
		}
		return OutputType(n.Asset.Type)
	}
	return kinds[n.Type].output
}

// DefaultTitle returns "<KindName> <N>" where N is the smallest positive
// number not already used by a same-kind node title.
func DefaultTitle(t NodeType, existing []Node) string {
	prefix := KindName(t) + " "
	used := make(map[int]bool)
	for i := range existing {
		if existing[i].Type != t || !strings.HasPrefix(existing[i].Title, prefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(existing[i].Title, prefix)); err == nil {
			used[n] = true
		}
	}
	n := 1
	for used[n] {
		n++
	}
	return fmt.Sprintf("%s%d", prefix, n)
}
