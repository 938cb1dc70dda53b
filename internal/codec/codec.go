// Package codec reads and writes graph documents as JSON or YAML. Decoding
// checks the document shape against the document JSON Schema before the
// graph rules in package validation ever see it.
package codec

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/flowgraph/internal/validation"
	"github.com/rendis/flowgraph/pkg/schema"
)

// Format names a serialization format.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a format from a file extension. Anything that is not
// .yaml or .yml is treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// ParseFormat accepts "json", "yaml" or "yml", case-insensitive.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeDecode, "unsupported format %q", s)
}

// Codec decodes and encodes graph documents. It is safe for concurrent use.
type Codec struct {
	schemas *validation.SchemaValidator
}

// New compiles the document schema and returns a Codec.
func New() (*Codec, error) {
	sv, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Codec{schemas: sv}, nil
}

// Schemas exposes the underlying schema validator for callers that check
// other values, such as per-kind node configs.
func (c *Codec) Schemas() *validation.SchemaValidator { return c.schemas }

// Decode parses data in the given format into a document. Shape errors carry
// ErrCodeDecode and list every violation under details["violations"].
func (c *Codec) Decode(data []byte, format Format) (*schema.GraphDocument, error) {
	switch format {
	case FormatYAML:
		return c.decodeYAML(data)
	case FormatJSON, "":
		return c.decodeJSON(data)
	}
	return nil, schema.NewErrorf(schema.ErrCodeDecode, "unsupported format %q", format)
}

func (c *Codec) decodeJSON(data []byte) (*schema.GraphDocument, error) {
	if err := c.schemas.ValidateDocumentJSON(data); err != nil {
		return nil, err
	}
	doc := &schema.GraphDocument{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeDecode, "decode document").WithCause(err)
	}
	normalize(doc)
	return doc, nil
}

// decodeYAML goes through a generic tree so the same schema applies to both
// formats, then reuses the JSON field mapping.
func (c *Codec) decodeYAML(data []byte) (*schema.GraphDocument, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, schema.NewError(schema.ErrCodeDecode, "document is not valid YAML").WithCause(err)
	}
	if tree == nil {
		return nil, schema.NewError(schema.ErrCodeDecode, "document is empty")
	}
	if err := c.schemas.ValidateDocumentValue(tree); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeDecode, "document cannot be represented as JSON").WithCause(err)
	}
	return c.decodeJSON(raw)
}

// Encode serializes a document. Validation annotations are dropped so a
// stored document only carries what the user authored.
func (c *Codec) Encode(doc *schema.GraphDocument, format Format) ([]byte, error) {
	clean := strip(doc)
	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(clean); err != nil {
			return nil, schema.NewError(schema.ErrCodeDecode, "encode yaml").WithCause(err)
		}
		if err := enc.Close(); err != nil {
			return nil, schema.NewError(schema.ErrCodeDecode, "encode yaml").WithCause(err)
		}
		return buf.Bytes(), nil
	case FormatJSON, "":
		b, err := json.MarshalIndent(clean, "", "  ")
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeDecode, "encode json").WithCause(err)
		}
		return append(b, '\n'), nil
	}
	return nil, schema.NewErrorf(schema.ErrCodeDecode, "unsupported format %q", format)
}

// normalize turns json.Number config values into int64 or float64 and
// ensures every node has a non-nil config map.
func normalize(doc *schema.GraphDocument) {
	for _, n := range doc.Nodes {
		if n == nil {
			continue
		}
		if n.Config == nil {
			n.Config = map[string]any{}
		}
		for k, v := range n.Config {
			n.Config[k] = numbers(v)
		}
	}
	for k, v := range doc.Metadata {
		doc.Metadata[k] = numbers(v)
	}
}

func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, inner := range t {
			t[k] = numbers(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = numbers(inner)
		}
		return t
	}
	return v
}

func strip(doc *schema.GraphDocument) *schema.GraphDocument {
	cp := doc.Clone()
	for _, n := range cp.Nodes {
		if n == nil {
			continue
		}
		n.Warnings = nil
		n.Errors = nil
	}
	return cp
}
