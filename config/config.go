// Package config loads and validates spray.Params from a JSON document
// against an embedded JSON Schema.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mbrt/spraylist/spray"
)

// schemaJSON constrains the shape of a spray configuration document: every
// integer field is at least 1, exact_fallback_enabled is a bool, and no
// other fields are allowed.
const schemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"spray_base": {"type": "integer", "minimum": 1},
		"spray_height": {"type": "integer", "minimum": 1},
		"max_attempts": {"type": "integer", "minimum": 1},
		"exact_fallback_enabled": {"type": "boolean"}
	},
	"additionalProperties": false
}`

// Schema wraps a compiled JSON Schema used to validate spray configuration
// documents before they are unmarshalled into spray.Params.
type Schema struct {
	compiled *jsonschema.Schema
}

// NewSchema compiles the embedded spray-configuration schema. It cannot
// fail under normal operation; the error return exists because
// jsonschema.Compile always returns one and a silent panic on a corrupt
// constant would be worse.
func NewSchema() (Schema, error) {
	compiler := jsonschema.NewCompiler()
	const resource = "spray-config.json"
	if err := compiler.AddResource(resource, strings.NewReader(schemaJSON)); err != nil {
		return Schema{}, fmt.Errorf("config: compiling embedded schema: %w", err)
	}
	sch, err := compiler.Compile(resource)
	if err != nil {
		return Schema{}, fmt.Errorf("config: compiling embedded schema: %w", err)
	}
	return Schema{compiled: sch}, nil
}

// Validate checks params the same way Load validates a parsed document,
// for callers that already have a spray.Params (e.g. built from flags)
// instead of a JSON document to parse.
func Validate(params spray.Params) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Load reads a JSON configuration document from r, validates it against
// the embedded schema, and returns the corresponding spray.Params. Fields
// left unset in the document fall back to spray.DefaultParams(); the
// returned params are additionally passed through Params.Validate.
func (s Schema) Load(r io.Reader) (spray.Params, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return spray.Params{}, fmt.Errorf("config: reading document: %w", err)
	}

	var unmarshalled any
	if err := json.Unmarshal(raw, &unmarshalled); err != nil {
		return spray.Params{}, fmt.Errorf("config: document is not valid JSON: %w", err)
	}
	if err := s.compiled.Validate(unmarshalled); err != nil {
		return spray.Params{}, fmt.Errorf("config: document does not match schema: %w", err)
	}

	doc := struct {
		SprayBase            *int  `json:"spray_base"`
		SprayHeight          *int  `json:"spray_height"`
		MaxAttempts          *int  `json:"max_attempts"`
		ExactFallbackEnabled *bool `json:"exact_fallback_enabled"`
	}{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return spray.Params{}, fmt.Errorf("config: decoding document: %w", err)
	}

	params := spray.DefaultParams()
	if doc.SprayBase != nil {
		params.Base = *doc.SprayBase
	}
	if doc.SprayHeight != nil {
		params.Height = *doc.SprayHeight
	}
	if doc.MaxAttempts != nil {
		params.MaxAttempts = *doc.MaxAttempts
	}
	if doc.ExactFallbackEnabled != nil {
		params.ExactFallbackEnabled = *doc.ExactFallbackEnabled
	}

	if err := Validate(params); err != nil {
		return spray.Params{}, err
	}
	return params, nil
}
