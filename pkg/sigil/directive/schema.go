package directive

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/recera/sigil/pkg/sigil/expr"
)

// Schema is the serializable description of a directive consumed by editor
// tooling. It is derived without running any hook.
type Schema struct {
	Name          string      `json:"name" yaml:"name"`
	Pattern       string      `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Description   string      `json:"description,omitempty" yaml:"description,omitempty"`
	Example       string      `json:"example,omitempty" yaml:"example,omitempty"`
	Params        expr.Schema `json:"params" yaml:"params"`
	Block         bool        `json:"block" yaml:"block"`
	Content       ContentKind `json:"content,omitempty" yaml:"content,omitempty"`
	SubDirectives []Schema    `json:"subDirectives,omitempty" yaml:"subDirectives,omitempty"`
}

// SchemaOf describes d.
func SchemaOf(d *Definition) Schema {
	s := Schema{
		Name:        d.Name,
		Description: d.Description,
		Example:     d.Example,
		Params:      d.Params,
		Block:       d.Block,
		Content:     d.Content,
	}
	if s.Params == nil {
		s.Params = expr.Schema{}
	}
	if d.Match == MatchPattern {
		s.Pattern = d.Pattern.String()
	}
	for _, sub := range d.SubDirectives {
		s.SubDirectives = append(s.SubDirectives, SchemaOf(sub))
	}
	return s
}

// Schemas describes every registered directive in registration order.
func (r *Registry) Schemas() []Schema {
	defs := r.Definitions()
	out := make([]Schema, 0, len(defs))
	for _, d := range defs {
		out = append(out, SchemaOf(d))
	}
	return out
}

// WriteSchema encodes the registry schema as "json" or "yaml".
func (r *Registry) WriteSchema(w io.Writer, format string) error {
	schemas := r.Schemas()
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(schemas)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(schemas); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported schema format %q", format)
}
