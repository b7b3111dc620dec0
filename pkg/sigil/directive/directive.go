// Package directive defines directive definitions, the registry the parser
// and compiler consult, and the hook contract directives compile through.
package directive

import (
	"context"
	"regexp"

	"github.com/recera/sigil/pkg/sigil/ast"
	"github.com/recera/sigil/pkg/sigil/expr"
	"github.com/recera/sigil/pkg/sigil/ir"
)

// Terminator is the reserved name that closes the innermost open block
const Terminator = "end"

// MatchKind selects how a definition matches directive names
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchPattern
)

// ContentKind hints how a directive's children are treated
type ContentKind string

const (
	ContentMarkup ContentKind = "markup"
	ContentScript ContentKind = "script"
	ContentStyle  ContentKind = "style"
)

// Compiler is the code generator surface available to hooks
type Compiler interface {
	// Emit appends instructions to the section being generated (pre, body or post)
	Emit(ins ...ir.Instr)
	EmitPre(ins ...ir.Instr)
	EmitPost(ins ...ir.Instr)
	// NewLabel allocates a label unique within the unit
	NewLabel() int

	// Compile generates statement-mode code for nodes
	Compile(ctx context.Context, nodes []ast.Node) error
	// CompileString returns the literal textual value of nodes
	CompileString(nodes []ast.Node) (string, error)
	// CompileChain runs the lifecycle of each sub-directive in order
	CompileChain(ctx context.Context, owner *Call, subs []*ast.SubDirectiveNode) error

	// Add appends text to the selected loader channel
	Add(text string)
	Loader() string
	// UseLoader selects a channel and returns a func restoring the previous one
	UseLoader(name string) (restore func())

	// Resolve loads template text through the resolver
	Resolve(ctx context.Context, path string) (string, error)
	// Embed parses src and compiles it inline in a cloned scope bound to with
	Embed(ctx context.Context, path, src, with string) error

	State() *UnitState
}

// Call is one invocation of a directive node during compilation
type Call struct {
	Node   *ast.DirectiveNode
	Def    *Definition
	Expr   *expr.Expression
	Parent *Call // chain owner for sub-directives
	// Data is shared by every link of a chain
	Data map[string]any
}

// Owner returns the call that started the chain.
func (c *Call) Owner() *Call {
	for c.Parent != nil {
		c = c.Parent
	}
	return c
}

// Children is a directive's child list split for the OnChildren hook
type Children struct {
	Regular []ast.Node
	Sub     []*ast.SubDirectiveNode
}

// Split classifies nodes into regular children and sub-directives.
func Split(nodes []ast.Node) Children {
	var ch Children
	for _, n := range nodes {
		if sub, ok := n.(*ast.SubDirectiveNode); ok {
			ch.Sub = append(ch.Sub, sub)
			continue
		}
		ch.Regular = append(ch.Regular, n)
	}
	return ch
}

type (
	FileHook     func(ctx context.Context, c Compiler, st *UnitState) error
	Hook         func(ctx context.Context, c Compiler, call *Call) error
	ChildrenHook func(ctx context.Context, c Compiler, call *Call, ch Children) error
)

// Definition describes a directive. Definitions are registered before
// compilation and never modified afterwards.
type Definition struct {
	Name        string
	Description string
	Example     string

	Match   MatchKind
	Pattern *regexp.Regexp
	// Resolve turns a pattern match into the definition to use. When nil the
	// pattern definition itself is used.
	Resolve func(match []string) (*Definition, error)

	Params        expr.Schema
	Block         bool
	Content       ContentKind
	SubDirectives []*Definition
	// Prefetch names a string parameter holding a resolver path that may be
	// loaded ahead of compilation
	Prefetch string

	OnInitFile FileHook
	OnInit     Hook
	OnParams   Hook
	OnChildren ChildrenHook
	OnEnd      Hook
	OnEndFile  FileHook
}

// SubDirective returns the declared sub-directive called name.
func (d *Definition) SubDirective(name string) (*Definition, bool) {
	for _, sub := range d.SubDirectives {
		if sub.Name == name {
			return sub, true
		}
	}
	return nil, false
}

// UnitState is the mutable state of one compile unit, shared by file hooks
// and directive hooks.
type UnitState struct {
	Path string

	used map[string]int
	data map[string]any
}

// NewUnitState records which directive names root uses.
func NewUnitState(path string, root *ast.RootNode) *UnitState {
	st := &UnitState{Path: path, used: make(map[string]int), data: make(map[string]any)}
	ast.Walk(root, func(n ast.Node) bool {
		if d, ok := ast.AsDirective(n); ok && d.Problem == ast.ProblemNone {
			st.used[d.Name]++
		}
		return true
	})
	return st
}

// Used reports whether the unit contains the directive name.
func (s *UnitState) Used(name string) bool { return s.used[name] > 0 }

// Count returns how many times the unit uses the directive name.
func (s *UnitState) Count(name string) int { return s.used[name] }

func (s *UnitState) Get(key string) (any, bool) {
	v, ok := s.data[key]
	return v, ok
}

func (s *UnitState) Set(key string, v any) { s.data[key] = v }
