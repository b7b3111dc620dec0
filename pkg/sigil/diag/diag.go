// Package diag holds the located error records produced while parsing and
// compiling templates.
package diag

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/recera/sigil/pkg/sigil/ast"
)

// Kind classifies a diagnostic
type Kind int

const (
	// KindSyntax is a fatal parse error
	KindSyntax Kind = iota
	KindUnknownDirective
	KindMisplacedSubDirective
	KindStrayTerminator
	// KindHook is an error returned (or panicked) by a directive hook
	KindHook
	// KindAutoClosed is a structural warning for a block closed by end of input
	KindAutoClosed
)

var kindNames = map[Kind]string{
	KindSyntax:                "syntax",
	KindUnknownDirective:      "unknown-directive",
	KindMisplacedSubDirective: "misplaced-subdirective",
	KindStrayTerminator:       "stray-terminator",
	KindHook:                  "hook",
	KindAutoClosed:            "autoclosed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is a single compile diagnostic
type Error struct {
	Kind     Kind
	Message  string
	Name     string // offending directive name, if any
	Path     string
	Location *ast.Location
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(":")
	}
	if e.Location != nil {
		fmt.Fprintf(&b, "%d:%d:", e.Location.Start.Line, e.Location.Start.Column)
	}
	if b.Len() > 0 {
		b.WriteString(" ")
	}
	b.WriteString(e.Message)
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

type jsonLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
	Offset int `json:"offset"`
}

type jsonError struct {
	Message  string        `json:"message"`
	Kind     Kind          `json:"kind"`
	Name     string        `json:"name,omitempty"`
	Path     string        `json:"path,omitempty"`
	Location *jsonLocation `json:"location,omitempty"`
}

// MarshalJSON encodes the error record consumed by diagnostics tooling.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := jsonError{Message: e.Message, Kind: e.Kind, Name: e.Name, Path: e.Path}
	if e.Location != nil {
		out.Location = &jsonLocation{
			Line:   e.Location.Start.Line,
			Column: e.Location.Start.Column,
			Offset: e.Location.Start.Offset,
		}
	}
	return json.Marshal(out)
}

// Errorf builds an Error at loc.
func Errorf(kind Kind, loc *ast.Location, format string, args ...any) *Error {
	return &Error{Kind: kind, Location: loc, Message: fmt.Sprintf(format, args...)}
}

// List aggregates diagnostics for one compile unit
type List []*Error

func (l *List) Add(e *Error) {
	*l = append(*l, e)
}

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors:\n\t%s", len(l), strings.Join(msgs, "\n\t"))
}

// Err returns the list as an error, or nil when it is empty.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// Has reports whether the list contains an error of the given kind.
func (l List) Has(kind Kind) bool {
	for _, e := range l {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

// Warnings reports auto-closed blocks in the tree.
func Warnings(root *ast.RootNode) List {
	var out List
	ast.Walk(root, func(n ast.Node) bool {
		if d, ok := ast.AsDirective(n); ok && d.AutoClosed {
			out.Add(&Error{
				Kind:     KindAutoClosed,
				Name:     d.Name,
				Location: d.Location,
				Message:  fmt.Sprintf("@%s is not closed before end of input", d.Name),
			})
		}
		return true
	})
	return out
}
