// Package expr reads a directive's parenthesized argument list against the
// directive's declared parameter schema.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind is the declared type of a parameter
type Kind int

const (
	KindAny Kind = iota
	KindString
	KindNumber
	KindBool
	KindObject
	KindArray
	// KindCode is an expression evaluated at render time; it is kept raw
	KindCode
)

var kindNames = []string{"any", "string", "number", "boolean", "object", "array", "code"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown parameter kind %q", b)
}

// Param declares one positional parameter
type Param struct {
	Name        string `json:"name" yaml:"name"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Schema is the ordered parameter list of a directive
type Schema []Param

func (s Schema) index(name string) int {
	for i, p := range s {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Expression is a directive argument list bound to a schema. Typed values
// are resolved lazily by the accessors.
type Expression struct {
	raw    string
	args   []string
	schema Schema
}

// Read splits raw and binds the arguments to schema by position. A schema
// with no parameters accepts any number of arguments.
func Read(raw string, schema Schema) (*Expression, error) {
	args, err := Split(raw)
	if err != nil {
		return nil, err
	}
	e := &Expression{raw: strings.TrimSpace(raw), args: args, schema: schema}
	if len(schema) == 0 {
		return e, nil
	}
	if len(args) > len(schema) {
		return nil, fmt.Errorf("too many arguments: got %d, want at most %d", len(args), len(schema))
	}
	for i, p := range schema {
		if p.Required && (i >= len(args) || args[i] == "") {
			return nil, fmt.Errorf("missing required argument %q", p.Name)
		}
	}
	return e, nil
}

// Raw returns the whole unparsed argument string.
func (e *Expression) Raw() string { return e.raw }

// Len returns the number of arguments given.
func (e *Expression) Len() int { return len(e.args) }

// Arg returns the i-th raw argument, or "" if absent.
func (e *Expression) Arg(i int) string {
	if i < 0 || i >= len(e.args) {
		return ""
	}
	return e.args[i]
}

// Has reports whether the named parameter was given explicitly.
func (e *Expression) Has(name string) bool {
	_, ok := e.RawOf(name)
	return ok
}

// RawOf returns the raw text of the named argument.
func (e *Expression) RawOf(name string) (string, bool) {
	i := e.schema.index(name)
	if i < 0 || i >= len(e.args) || e.args[i] == "" {
		return "", false
	}
	return e.args[i], true
}

func (e *Expression) param(name string) (Param, error) {
	i := e.schema.index(name)
	if i < 0 {
		return Param{}, fmt.Errorf("unknown parameter %q", name)
	}
	return e.schema[i], nil
}

// String returns the named argument with quotes stripped. Unquoted
// arguments are returned as written.
func (e *Expression) String(name string) (string, error) {
	p, err := e.param(name)
	if err != nil {
		return "", err
	}
	raw, ok := e.RawOf(name)
	if !ok {
		if p.Default == nil {
			return "", nil
		}
		return fmt.Sprint(p.Default), nil
	}
	if IsQuoted(raw) {
		return Unquote(raw)
	}
	return raw, nil
}

// Number returns the named argument as a float64.
func (e *Expression) Number(name string) (float64, error) {
	p, err := e.param(name)
	if err != nil {
		return 0, err
	}
	raw, ok := e.RawOf(name)
	if !ok {
		switch d := p.Default.(type) {
		case nil:
			return 0, nil
		case int:
			return float64(d), nil
		case float64:
			return d, nil
		}
		return 0, fmt.Errorf("parameter %q: default %v is not a number", name, p.Default)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %q: %s is not a number", name, raw)
	}
	return f, nil
}

// Bool returns the named argument as a boolean. Only true and false are
// accepted.
func (e *Expression) Bool(name string) (bool, error) {
	p, err := e.param(name)
	if err != nil {
		return false, err
	}
	raw, ok := e.RawOf(name)
	if !ok {
		b, _ := p.Default.(bool)
		return b, nil
	}
	switch raw {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	return false, fmt.Errorf("parameter %q: %s is not a boolean", name, raw)
}

// Value parses the named argument as a literal (object, array, string,
// number or boolean). Parsing never evaluates code.
func (e *Expression) Value(name string) (any, error) {
	p, err := e.param(name)
	if err != nil {
		return nil, err
	}
	raw, ok := e.RawOf(name)
	if !ok {
		return p.Default, nil
	}
	return ParseLiteral(raw)
}

// Object returns the named argument as a map literal.
func (e *Expression) Object(name string) (map[string]any, error) {
	v, err := e.Value(name)
	if err != nil || v == nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q: expected an object, got %T", name, v)
	}
	return m, nil
}

// Array returns the named argument as a list literal.
func (e *Expression) Array(name string) ([]any, error) {
	v, err := e.Value(name)
	if err != nil || v == nil {
		return nil, err
	}
	a, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q: expected an array, got %T", name, v)
	}
	return a, nil
}

// ParseLiteral decodes a JSON or YAML flow literal such as {a: 1, b: ['x']}.
func ParseLiteral(raw string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("invalid literal %s: %w", raw, err)
	}
	return v, nil
}
