package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowgraph/pkg/schema"
)

const documentSchemaURL = "https://flowgraph.dev/schemas/graph.json"

// documentSchemaJSON describes the serialized shape of a GraphDocument.
// It checks format only; graph rules are enforced by Validate.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowgraph.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "revision": { "type": "integer", "minimum": 0 },
    "nodes": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/edge" }
    },
    "metadata": { "type": ["object", "null"] }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "kind"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "kind": {
          "type": "string",
          "enum": ["start", "end", "action", "condition", "loop", "subprocess"]
        },
        "label": { "type": "string" },
        "description": { "type": "string" },
        "config": { "type": ["object", "null"] },
        "status": {
          "type": "string",
          "enum": ["", "idle", "running", "completed", "error", "stopped"]
        },
        "position": {
          "type": "object",
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          },
          "additionalProperties": false
        },
        "warnings": { "type": ["array", "null"] },
        "errors": { "type": ["array", "null"] }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "source_port": { "type": "string" },
        "target": { "type": "string", "minLength": 1 }
      },
      "additionalProperties": false
    }
  }
}`

// SchemaValidator checks raw documents against the document schema and
// arbitrary values against caller-supplied schemas. It is safe for
// concurrent use.
type SchemaValidator struct {
	document *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator compiles the document schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal document schema: %w", err)
	}
	c := newCompiler()
	if err := c.AddResource(documentSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add document schema resource: %w", err)
	}
	compiled, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	return &SchemaValidator{
		document: compiled,
		cache:    make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocumentJSON checks raw JSON bytes against the document schema.
func (v *SchemaValidator) ValidateDocumentJSON(data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return schema.NewError(schema.ErrCodeDecode, "document is not valid JSON").WithCause(err)
	}
	if err := v.document.Validate(inst); err != nil {
		return toFlowError(schema.ErrCodeDecode, err)
	}
	return nil
}

// ValidateDocumentValue checks an already-decoded value (for example a YAML
// tree) against the document schema.
func (v *SchemaValidator) ValidateDocumentValue(value any) error {
	inst, err := toJSONValue(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeDecode, "document cannot be represented as JSON").WithCause(err)
	}
	if err := v.document.Validate(inst); err != nil {
		return toFlowError(schema.ErrCodeDecode, err)
	}
	return nil
}

// ValidateValue checks value against a JSON Schema given as raw bytes.
// Compiled schemas are cached by their text.
func (v *SchemaValidator) ValidateValue(value any, schemaBytes []byte) error {
	if len(schemaBytes) == 0 {
		return nil
	}
	compiled, err := v.getOrCompile(schemaBytes)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid schema").WithCause(err)
	}
	inst, err := toJSONValue(value)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "value cannot be represented as JSON").WithCause(err)
	}
	if err := compiled.Validate(inst); err != nil {
		return toFlowError(schema.ErrCodeValidation, err)
	}
	return nil
}

func (v *SchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	url := fmt.Sprintf("flowgraph://schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips v through encoding/json so numbers become
// json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError flattens a jsonschema.ValidationError into a FlowError whose
// details list each leaf violation with its instance location.
func toFlowError(code string, err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(code, err.Error())
	}
	violations := Violations(verr)
	if len(violations) == 0 {
		return schema.NewError(code, verr.Error())
	}
	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("schema validation failed with %d errors", len(violations))
	}
	return schema.NewError(code, msg).WithCause(err).
		WithDetails(map[string]any{"violations": violations})
}

// Violations walks a ValidationError tree and returns its leaf messages
// prefixed by their instance location.
func Violations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var out []string
	for _, cause := range verr.Causes {
		out = append(out, Violations(cause)...)
	}
	return out
}
