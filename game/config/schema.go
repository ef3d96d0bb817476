package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const levelSchemaURL = "https://blockbot.dev/schemas/level.json"

// levelSchemaJSON describes the shape of a level file. Semantic checks
// (reachability, walkable start) are left to engine.ValidateLevel.
const levelSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://blockbot.dev/schemas/level.json",
  "type": "object",
  "required": ["name", "width", "height", "layout", "optimal_commands"],
  "properties": {
    "id": { "type": "string", "pattern": "^[A-Za-z0-9_-]*$" },
    "name": { "type": "string", "minLength": 1 },
    "description": { "type": "string" },
    "width": { "type": "integer", "minimum": 1, "maximum": 64 },
    "height": { "type": "integer", "minimum": 1, "maximum": 64 },
    "layout": {
      "type": "array",
      "minItems": 1,
      "maxItems": 64,
      "items": { "type": "string", "pattern": "^[.#GOBDK]+$" }
    },
    "start": { "$ref": "#/$defs/position" },
    "start_orientation": { "type": "integer", "minimum": 0, "maximum": 3 },
    "goals": {
      "type": "array",
      "items": { "$ref": "#/$defs/position" }
    },
    "max_commands": { "type": "integer", "minimum": 0 },
    "optimal_commands": { "type": "integer", "minimum": 1 },
    "allow": {
      "type": "object",
      "properties": {
        "move": { "type": "boolean" },
        "turn": { "type": "boolean" },
        "jump": { "type": "boolean" },
        "interact": { "type": "boolean" },
        "repeat": { "type": "boolean" },
        "if": { "type": "boolean" },
        "else": { "type": "boolean" }
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false,
  "$defs": {
    "position": {
      "type": "object",
      "required": ["x", "y"],
      "properties": {
        "x": { "type": "integer", "minimum": 0 },
        "y": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

// SchemaValidator checks raw level documents against the level JSON Schema.
// It is safe for concurrent use.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the embedded level schema
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(levelSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal level schema: %w", err)
	}
	if err := c.AddResource(levelSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add level schema resource: %w", err)
	}
	schema, err := c.Compile(levelSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile level schema: %w", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// Validate checks a level document. YAML files are converted to JSON first
// so both formats go through the same schema.
func (v *SchemaValidator) Validate(filename string, data []byte) error {
	raw := data
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", filename, err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("convert %s to json: %w", filename, err)
		}
		raw = converted
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", filename, err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return nil
}
