package validator

import (
	"encoding/json"
	"testing"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return v
}

func TestNew_CompilesEveryKind(t *testing.T) {
	v := newValidator(t)
	for _, kind := range types.AllNodeTypes() {
		if _, ok := v.configSchemas[kind]; !ok {
			t.Errorf("expected a config schema for %s", kind)
		}
	}
}

func TestValidateConfig(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name  string
		kind  types.NodeType
		raw   string
		valid bool
	}{
		{"empty config", types.NodeTypeGenerateVoiceover, "", true},
		{"valid voiceover", types.NodeTypeGenerateVoiceover, `{"provider":"elevenlabs","speed":1.25}`, true},
		{"speed out of range", types.NodeTypeGenerateVoiceover, `{"speed":9}`, false},
		{"unknown fields allowed", types.NodeTypeMixAudio, `{"normalize":true,"extra":1}`, true},
		{"wrong type", types.NodeTypeRenderCode, `{"fps":"thirty"}`, false},
		{"bad transition", types.NodeTypeMergeVideos, `{"transition":"spin"}`, false},
		{"not an object", types.NodeTypeComposeVideo, `[1,2]`, false},
		{"malformed JSON", types.NodeTypeComposeVideo, `{"width":`, false},
		{"unknown kind", types.NodeType("upscale"), `{}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw json.RawMessage
			if tt.raw != "" {
				raw = json.RawMessage(tt.raw)
			}
			result := v.ValidateConfig(tt.kind, raw)
			if result.Valid != tt.valid {
				t.Errorf("expected valid=%v, got %v (errors: %v)", tt.valid, result.Valid, result.Errors)
			}
			if !result.Valid && len(result.Errors) == 0 {
				t.Error("expected errors for invalid result")
			}
		})
	}
}

func TestValidateConfigJSON_Blank(t *testing.T) {
	v := newValidator(t)
	if r := v.ValidateConfigJSON(types.NodeTypeGenerateAnimation, "   "); !r.Valid {
		t.Errorf("expected blank text to be valid, got %v", r.Errors)
	}
	if r := v.ValidateConfigJSON(types.NodeTypeGenerateAnimation, "{oops"); r.Valid {
		t.Error("expected malformed text to be invalid")
	}
}

func TestValidateAsset(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name  string
		asset *types.Asset
		valid bool
	}{
		{"nil", nil, false},
		{"url image", &types.Asset{Type: types.AssetTypeImage, URL: "https://cdn.example.com/a.png", MimeType: "image/png"}, true},
		{"inline text", &types.Asset{Type: types.AssetTypeText, Content: json.RawMessage(`"hello"`)}, true},
		{"no url or content", &types.Asset{Type: types.AssetTypeVideo}, false},
		{"bad type", &types.Asset{Type: "binary", URL: "s3://bucket/key"}, false},
		{"bad mime", &types.Asset{Type: types.AssetTypeAudio, URL: "a.mp3", MimeType: "mp3"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateAsset(tt.asset)
			if result.Valid != tt.valid {
				t.Errorf("expected valid=%v, got %v (errors: %v)", tt.valid, result.Valid, result.Errors)
			}
		})
	}
}

func TestValidateNode(t *testing.T) {
	v := newValidator(t)

	asset := &types.Node{Type: types.NodeTypeAsset}
	msgs := v.ValidateNode(asset)
	if len(msgs) == 0 {
		t.Fatal("expected asset node without payload to be invalid")
	}

	ok := &types.Node{
		Type:   types.NodeTypeGenerateAnimation,
		Config: json.RawMessage(`{"width":1920,"height":1080,"duration":4}`),
	}
	if msgs := v.ValidateNode(ok); len(msgs) != 0 {
		t.Errorf("expected no messages, got %v", msgs)
	}

	bad := &types.Node{
		Type:   types.NodeTypeGenerateAnimation,
		Config: json.RawMessage(`{"width":4}`),
	}
	msgs = v.ValidateNode(bad)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %v", msgs)
	}
	if got := msgs[0]; len(got) < 7 || got[:7] != "config " {
		t.Errorf("expected config-prefixed message, got %q", got)
	}
}
