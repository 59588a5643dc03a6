package types

import (
	"encoding/json"
	"fmt"
)

// Per-kind configuration variants. The engine stores Config as raw JSON and
// passes it through untouched; these shapes are for callers that want typed
// access via Node.DecodeConfig.

// AssetConfig configures an asset node.
type AssetConfig struct {
	Description string `json:"description,omitempty"`
}

// TalkingHeadConfig configures a generate-talking-head node.
type TalkingHeadConfig struct {
	Provider    string  `json:"provider,omitempty"`
	AvatarID    string  `json:"avatarId,omitempty"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	Background  string  `json:"background,omitempty"`
	Expressions float64 `json:"expressiveness,omitempty"`
}

// AnimationConfig configures a generate-animation node.
type AnimationConfig struct {
	Provider string  `json:"provider,omitempty"`
	Model    string  `json:"model,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Style    string  `json:"style,omitempty"`
}

// VoiceoverConfig configures a generate-voiceover node.
type VoiceoverConfig struct {
	Provider string  `json:"provider,omitempty"`
	VoiceID  string  `json:"voiceId,omitempty"`
	Model    string  `json:"model,omitempty"`
	Speed    float64 `json:"speed,omitempty"`
}

// RenderCodeConfig configures a render-code node.
type RenderCodeConfig struct {
	Language string `json:"language,omitempty"`
	Theme    string `json:"theme,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	FPS      int    `json:"fps,omitempty"`
}

// MixAudioConfig configures a mix-audio node.
type MixAudioConfig struct {
	Volumes   []float64 `json:"volumes,omitempty"`
	Normalize bool      `json:"normalize,omitempty"`
}

// MergeVideosConfig configures a merge-videos node.
type MergeVideosConfig struct {
	Transition         string  `json:"transition,omitempty"`
	TransitionDuration float64 `json:"transitionDuration,omitempty"`
}

// ComposeVideoConfig configures a compose-video node.
type ComposeVideoConfig struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Layout  string `json:"layout,omitempty"`
	Padding int    `json:"padding,omitempty"`
}

// NewConfig returns a zero config value of the variant belonging to t.
func NewConfig(t NodeType) (any, error) {
	switch t {
	case NodeTypeAsset:
		return &AssetConfig{}, nil
	case NodeTypeGenerateTalkingHead:
		return &TalkingHeadConfig{}, nil
	case NodeTypeGenerateAnimation:
		return &AnimationConfig{}, nil
	case NodeTypeGenerateVoiceover:
		return &VoiceoverConfig{}, nil
	case NodeTypeRenderCode:
		return &RenderCodeConfig{}, nil
	case NodeTypeMixAudio:
		return &MixAudioConfig{}, nil
	case NodeTypeMergeVideos:
		return &MergeVideosConfig{}, nil
	case NodeTypeComposeVideo:
		return &ComposeVideoConfig{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
	}
}

// DecodeConfig decodes n.Config into the variant of n's kind, e.g.
// *VoiceoverConfig for generate-voiceover nodes.
func (n *Node) DecodeConfig() (any, error) {
	cfg, err := NewConfig(n.Type)
	if err != nil {
		return nil, err
	}
	if len(n.Config) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(n.Config, cfg); err != nil {
		return nil, fmt.Errorf("decode %s config: %w", n.Type, err)
	}
	return cfg, nil
}
