package validator

import "github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"

// assetSchemaJSON validates the payload of asset nodes.
const assetSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://mentatlab.dev/schemas/asset.json",
  "title": "Asset",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "type": "string",
      "enum": ["text", "image", "audio", "video", "json"]
    },
    "url": {
      "type": "string",
      "format": "uri-reference"
    },
    "content": {},
    "mimeType": {
      "type": "string",
      "pattern": "^[a-z]+/[a-zA-Z0-9.+-]+$"
    },
    "name": {
      "type": "string",
      "maxLength": 256
    }
  },
  "anyOf": [
    {"required": ["url"]},
    {"required": ["content"]}
  ]
}`

const providerSchema = `{"type": "string", "minLength": 1, "maxLength": 64}`

const dimensionSchema = `{"type": "integer", "minimum": 16, "maximum": 7680}`

// configSchemaJSON holds one config schema per node kind. Unknown fields are
// allowed; the engine treats config as opaque beyond these checks.
var configSchemaJSON = map[types.NodeType]string{
	types.NodeTypeAsset: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "description": {"type": "string", "maxLength": 4096}
  }
}`,
	types.NodeTypeGenerateTalkingHead: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "provider": ` + providerSchema + `,
    "avatarId": {"type": "string"},
    "width": ` + dimensionSchema + `,
    "height": ` + dimensionSchema + `,
    "background": {"type": "string"},
    "expressiveness": {"type": "number", "minimum": 0, "maximum": 1}
  }
}`,
	types.NodeTypeGenerateAnimation: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "provider": ` + providerSchema + `,
    "model": {"type": "string"},
    "width": ` + dimensionSchema + `,
    "height": ` + dimensionSchema + `,
    "duration": {"type": "number", "exclusiveMinimum": 0, "maximum": 600},
    "style": {"type": "string"}
  }
}`,
	types.NodeTypeGenerateVoiceover: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "provider": ` + providerSchema + `,
    "voiceId": {"type": "string"},
    "model": {"type": "string"},
    "speed": {"type": "number", "minimum": 0.25, "maximum": 4}
  }
}`,
	types.NodeTypeRenderCode: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "language": {"type": "string"},
    "theme": {"type": "string"},
    "width": ` + dimensionSchema + `,
    "height": ` + dimensionSchema + `,
    "fps": {"type": "integer", "minimum": 1, "maximum": 120}
  }
}`,
	types.NodeTypeMixAudio: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "volumes": {
      "type": "array",
      "items": {"type": "number", "minimum": 0, "maximum": 2}
    },
    "normalize": {"type": "boolean"}
  }
}`,
	types.NodeTypeMergeVideos: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "transition": {"type": "string", "enum": ["none", "cut", "fade", "crossfade", "wipe"]},
    "transitionDuration": {"type": "number", "minimum": 0, "maximum": 10}
  }
}`,
	types.NodeTypeComposeVideo: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "width": ` + dimensionSchema + `,
    "height": ` + dimensionSchema + `,
    "layout": {"type": "string", "enum": ["stack", "grid", "pip", "side-by-side"]},
    "padding": {"type": "integer", "minimum": 0}
  }
}`,
}
