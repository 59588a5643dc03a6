// Package validator provides JSON schema validation for node configs and
// asset payloads. Editors call it before issuing an update; the reference
// backend uses it to compute node validity.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// Validator validates node configuration and asset payloads.
type Validator struct {
	configSchemas map[types.NodeType]*jsonschema.Schema
	assetSchema   *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Messages flattens the errors into "path: message" strings.
func (r *ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		if e.Path == "" {
			out = append(out, e.Message)
			continue
		}
		out = append(out, e.Path+": "+e.Message)
	}
	return out
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("asset.json", strings.NewReader(assetSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add asset schema: %w", err)
	}
	for kind, schema := range configSchemaJSON {
		if err := compiler.AddResource(configResource(kind), strings.NewReader(schema)); err != nil {
			return nil, fmt.Errorf("add %s config schema: %w", kind, err)
		}
	}

	assetSchema, err := compiler.Compile("asset.json")
	if err != nil {
		return nil, fmt.Errorf("compile asset schema: %w", err)
	}

	configSchemas := make(map[types.NodeType]*jsonschema.Schema, len(configSchemaJSON))
	for kind := range configSchemaJSON {
		s, err := compiler.Compile(configResource(kind))
		if err != nil {
			return nil, fmt.Errorf("compile %s config schema: %w", kind, err)
		}
		configSchemas[kind] = s
	}

	return &Validator{
		configSchemas: configSchemas,
		assetSchema:   assetSchema,
	}, nil
}

func configResource(kind types.NodeType) string {
	return "config/" + string(kind) + ".json"
}

// ValidateConfig validates a node config against the schema of its kind.
// An empty config is valid.
func (v *Validator) ValidateConfig(kind types.NodeType, raw json.RawMessage) *ValidationResult {
	schema, ok := v.configSchemas[kind]
	if !ok {
		return invalid("$", fmt.Sprintf("unknown node type %q", kind))
	}
	if len(raw) == 0 {
		return &ValidationResult{Valid: true}
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return invalid("$", fmt.Sprintf("invalid JSON: %v", err))
	}
	return v.validate(schema, doc)
}

// ValidateConfigJSON validates config text typed into an editor form.
func (v *Validator) ValidateConfigJSON(kind types.NodeType, text string) *ValidationResult {
	if strings.TrimSpace(text) == "" {
		return &ValidationResult{Valid: true}
	}
	return v.ValidateConfig(kind, json.RawMessage(text))
}

// ValidateAsset validates an asset payload.
func (v *Validator) ValidateAsset(asset *types.Asset) *ValidationResult {
	if asset == nil {
		return invalid("$", "asset payload is required")
	}
	data, err := json.Marshal(asset)
	if err != nil {
		return invalid("$", fmt.Sprintf("encode asset: %v", err))
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return invalid("$", fmt.Sprintf("invalid JSON: %v", err))
	}
	result := v.validate(v.assetSchema, doc)
	if asset.Type == types.AssetTypeJSON && len(asset.Content) > 0 && !json.Valid(asset.Content) {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{Path: "/content", Message: "content is not valid JSON"})
	}
	return result
}

// ValidateAssetJSON validates asset text typed into an editor form.
func (v *Validator) ValidateAssetJSON(text string) *ValidationResult {
	var asset types.Asset
	if err := json.Unmarshal([]byte(text), &asset); err != nil {
		return invalid("$", fmt.Sprintf("invalid JSON: %v", err))
	}
	return v.ValidateAsset(&asset)
}

// ValidateNode returns every config and asset problem of n.
func (v *Validator) ValidateNode(n *types.Node) []string {
	var msgs []string
	if r := v.ValidateConfig(n.Type, n.Config); !r.Valid {
		msgs = append(msgs, prefix("config", r.Messages())...)
	}
	if n.Type == types.NodeTypeAsset {
		if r := v.ValidateAsset(n.Asset); !r.Valid {
			msgs = append(msgs, prefix("asset", r.Messages())...)
		}
	}
	return msgs
}

func prefix(p string, msgs []string) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = p + " " + m
	}
	return out
}

func invalid(path, message string) *ValidationResult {
	return &ValidationResult{
		Valid:  false,
		Errors: []ValidationError{{Path: path, Message: message}},
	}
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	}
	if len(result.Errors) == 0 {
		result.Errors = []ValidationError{{Path: "$", Message: err.Error()}}
	}
	return result
}

// extractErrors recursively extracts leaf validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	if len(verr.Causes) == 0 {
		return []ValidationError{{Path: verr.InstanceLocation, Message: verr.Message}}
	}
	var errs []ValidationError
	for _, cause := range verr.Causes {
		errs = append(errs, extractErrors(cause)...)
	}
	return errs
}
