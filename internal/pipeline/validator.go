// Package pipeline loads pipeline documents and builds processing graphs
// from them.
package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationError represents a single validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a document validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (r *ValidationResult) String() string {
	if r.Valid {
		return "valid"
	}
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", e.Path, e.Message))
	}
	return strings.Join(parts, "; ")
}

// Validator validates pipeline documents against the embedded schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded pipeline schema.
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("pipeline.json", strings.NewReader(pipelineSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add pipeline schema: %w", err)
	}
	schema, err := compiler.Compile("pipeline.json")
	if err != nil {
		return nil, fmt.Errorf("compile pipeline schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// ValidateJSON validates a JSON-encoded pipeline document.
func (v *Validator) ValidateJSON(data []byte) *ValidationResult {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}

	err := v.schema.Validate(doc)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{{Path: "$", Message: err.Error()}}
	}
	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	if verr.Message != "" {
		errors = append(errors, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}
	for _, cause := range verr.Causes {
		errors = append(errors, extractErrors(cause)...)
	}
	return errors
}

// Embedded JSON schema

const pipelineSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "pipeline.json",
  "title": "Pipeline",
  "description": "Schema for ava pipeline documents",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "name": {
      "type": "string",
      "description": "Pipeline name"
    },
    "sink": {
      "type": "string",
      "description": "Node whose demand drives evaluation (default: last node)"
    },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type", "pattern"],
        "properties": {
          "id": {
            "type": "string",
            "pattern": "^[a-zA-Z][a-zA-Z0-9_.-]*$",
            "description": "Unique node identifier"
          },
          "type": {
            "type": "string",
            "enum": ["source", "passthrough", "windowed", "resample", "concat", "merge", "still"],
            "description": "Node behavior"
          },
          "inputs": {
            "type": "array",
            "items": {"type": "string"},
            "description": "IDs of the nodes producing the input streams"
          },
          "pattern": {
            "type": "string",
            "minLength": 1,
            "description": "Frame path template with a single %d verb"
          },
          "command": {
            "type": "array",
            "items": {"type": "string"},
            "description": "Transform argv template"
          },
          "offset": {
            "type": "integer",
            "description": "On-disk numbering offset for sources"
          },
          "count": {
            "type": "integer",
            "minimum": 0,
            "description": "Source frame count (0 = discover by scanning)"
          },
          "window": {
            "type": "integer",
            "minimum": 1,
            "description": "Window width for windowed nodes (odd)"
          },
          "edge": {
            "type": "string",
            "enum": ["clamp", "skip", "error"],
            "description": "Edge policy at stream boundaries"
          },
          "ratio": {
            "type": "number",
            "exclusiveMinimum": 0,
            "description": "Resampling ratio (input frame = floor(output*ratio))"
          },
          "image": {
            "type": "string",
            "description": "Image path for still nodes"
          },
          "duration": {
            "type": "integer",
            "minimum": 1,
            "description": "Frame count for still nodes"
          }
        }
      }
    }
  }
}`
