// Package ast defines the node types produced by the sigil parser.
package ast

import "fmt"

// Kind identifies the concrete type of a Node
type Kind int

const (
	KindRoot Kind = iota
	KindText
	KindInterpolation
	KindDirective
	KindSubDirective
)

func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindText:
		return "text"
	case KindInterpolation:
		return "interpolation"
	case KindDirective:
		return "directive"
	case KindSubDirective:
		return "subdirective"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Position is a point in the template source. Line and Column are 1-based,
// Offset is the 0-based byte offset.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
	Offset int `json:"offset"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Location spans a node in the template source. It is diagnostic metadata
// only and never affects compilation.
type Location struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Node is the interface for all AST nodes
type Node interface {
	Kind() Kind
	Loc() *Location
}

// Problem records a non-fatal structural issue found while parsing a
// directive. The compiler reports it at the node's location.
type Problem int

const (
	ProblemNone Problem = iota
	// ProblemUnknown marks a name that is not in the registry
	ProblemUnknown
	// ProblemMisplaced marks a sub-directive outside its parent block
	ProblemMisplaced
	// ProblemStrayTerminator marks an @end with no open block
	ProblemStrayTerminator
)

// RootNode is the root node of a parsed template
type RootNode struct {
	Children []Node
}

// TextNode represents literal content
type TextNode struct {
	Value    string
	Location *Location
}

// InterpolationNode represents {{ expr }} (escaped) or {!! expr !!} (raw)
type InterpolationNode struct {
	Expression string
	Escaped    bool
	Location   *Location
}

// DirectiveNode represents an @name(args) construct. Children is empty when
// the directive owns no block. Sub-directives chained to it are appended to
// Children in document order.
type DirectiveNode struct {
	Name       string
	Expression string
	HasArgs    bool
	Children   []Node
	AutoClosed bool
	Problem    Problem
	Location   *Location
}

// SubDirectiveNode is a chain continuation such as elseif under if
type SubDirectiveNode struct {
	DirectiveNode
	ParentName string
}

func (n *RootNode) Kind() Kind          { return KindRoot }
func (n *TextNode) Kind() Kind          { return KindText }
func (n *InterpolationNode) Kind() Kind { return KindInterpolation }
func (n *DirectiveNode) Kind() Kind     { return KindDirective }
func (n *SubDirectiveNode) Kind() Kind  { return KindSubDirective }

func (n *RootNode) Loc() *Location          { return nil }
func (n *TextNode) Loc() *Location          { return n.Location }
func (n *InterpolationNode) Loc() *Location { return n.Location }
func (n *DirectiveNode) Loc() *Location     { return n.Location }

// Walk traverses the tree rooted at n in document order. If fn returns false
// the node's children are skipped.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, child := range ChildrenOf(n) {
		Walk(child, fn)
	}
}

// ChildrenOf returns the child list of container nodes, nil otherwise.
func ChildrenOf(n Node) []Node {
	switch n := n.(type) {
	case *RootNode:
		return n.Children
	case *DirectiveNode:
		return n.Children
	case *SubDirectiveNode:
		return n.Children
	}
	return nil
}

// AsDirective returns the directive part of a Directive or SubDirective node.
func AsDirective(n Node) (*DirectiveNode, bool) {
	switch n := n.(type) {
	case *DirectiveNode:
		return n, true
	case *SubDirectiveNode:
		return &n.DirectiveNode, true
	}
	return nil, false
}
