// Package parser turns template text into an AST in a single forward pass.
package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/recera/sigil/pkg/sigil/ast"
	"github.com/recera/sigil/pkg/sigil/diag"
	"github.com/recera/sigil/pkg/sigil/directive"
	"github.com/recera/sigil/pkg/sigil/expr"
)

// Option configures a Parser
type Option func(*Parser)

// UnknownAsText keeps unknown directives as literal text instead of
// recording them as unknown directive nodes.
func UnknownAsText() Option {
	return func(p *Parser) { p.unknownAsText = true }
}

// WithFilename sets the name used in syntax errors.
func WithFilename(name string) Option {
	return func(p *Parser) { p.filename = name }
}

// frame is an open block on the parser stack
type frame struct {
	node *ast.DirectiveNode // nil for the root frame
	def  *directive.Definition
	// owner is the directive that started the chain; it equals node unless
	// node is a sub-directive
	owner    *ast.DirectiveNode
	ownerDef *directive.Definition
}

// Parser is a single-pass template parser
type Parser struct {
	input    string
	pos      int
	filename string
	registry *directive.Registry
	lines    []int

	root          *ast.RootNode
	stack         []*frame
	unknownAsText bool
}

// New creates a parser for input.
func New(input string, registry *directive.Registry, opts ...Option) *Parser {
	p := &Parser{
		input:    input,
		registry: registry,
		root:     &ast.RootNode{},
		lines:    []int{0},
	}
	for i := 0; i < len(input); i++ {
		if input[i] == '\n' {
			p.lines = append(p.lines, i+1)
		}
	}
	p.stack = []*frame{{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fingerprint describes the options that change what a parse produces.
// The file name is not part of it.
func Fingerprint(opts ...Option) string {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return fmt.Sprintf("unknown-as-text=%t", p.unknownAsText)
}

// Parse parses input with registry.
func Parse(input string, registry *directive.Registry, opts ...Option) (*ast.RootNode, error) {
	return New(input, registry, opts...).Parse()
}

// Parse parses the entire template. Only unterminated interpolations and
// malformed directive heads are errors; unknown or misplaced directives are
// recorded on their nodes and open blocks are auto-closed at end of input.
func (p *Parser) Parse() (*ast.RootNode, error) {
	textStart := 0
	for p.pos < len(p.input) {
		i := strings.IndexAny(p.input[p.pos:], "@{")
		if i < 0 {
			p.pos = len(p.input)
			break
		}
		p.pos += i

		switch {
		case p.peek("{{"):
			p.flushText(textStart, p.pos)
			if err := p.parseInterpolation("{{", "}}", true); err != nil {
				return nil, err
			}
			textStart = p.pos
		case p.peek("{!!"):
			p.flushText(textStart, p.pos)
			if err := p.parseInterpolation("{!!", "!!}", false); err != nil {
				return nil, err
			}
			textStart = p.pos
		case p.peek("@@"):
			// keep one @ as text
			p.flushText(textStart, p.pos+1)
			p.pos += 2
			textStart = p.pos
		case p.literalBody() && !p.isTerminator():
			// at-rules and decorators in script or style bodies are text
			p.pos++
		case p.isDirectiveStart():
			p.flushText(textStart, p.pos)
			if err := p.parseDirective(); err != nil {
				return nil, err
			}
			textStart = p.pos
		default:
			p.pos++
		}
	}
	p.flushText(textStart, len(p.input))
	p.closeAll()
	return p.root, nil
}

// parseInterpolation parses {{ expr }} or {!! expr !!}
func (p *Parser) parseInterpolation(open, close string, escaped bool) error {
	start := p.pos
	p.pos += len(open)
	end := strings.Index(p.input[p.pos:], close)
	if end < 0 {
		return p.errorAt(start, "unterminated interpolation: missing %q", close)
	}
	content := p.input[p.pos : p.pos+end]
	p.pos += end + len(close)

	p.attach(&ast.InterpolationNode{
		Expression: strings.TrimSpace(content),
		Escaped:    escaped,
		Location:   p.location(start, p.pos),
	})
	return nil
}

// parseDirective parses @name or @name(args) and updates the block stack
func (p *Parser) parseDirective() error {
	start := p.pos
	p.pos++ // @
	name := p.parseName()

	var raw string
	hasArgs := false
	if p.peek("(") {
		end, err := expr.MatchParen(p.input, p.pos)
		if err != nil {
			return p.errorAt(start, "malformed directive head @%s: %v", name, err)
		}
		raw = strings.TrimSpace(p.input[p.pos+1 : end])
		p.pos = end + 1
		hasArgs = true
	}
	loc := p.location(start, p.pos)
	node := ast.DirectiveNode{Name: name, Expression: raw, HasArgs: hasArgs, Location: loc}

	if name == directive.Terminator {
		p.closeTop(node)
		return nil
	}

	top := p.top()
	if owner, ownerDef, subDef := p.lookupSub(top, name); subDef != nil {
		sub := &ast.SubDirectiveNode{DirectiveNode: node, ParentName: owner.Name}
		owner.Children = append(owner.Children, sub)
		if subDef.Block {
			// the chain continues in the sub-directive
			p.stack[len(p.stack)-1] = &frame{node: &sub.DirectiveNode, def: subDef, owner: owner, ownerDef: ownerDef}
		}
		return nil
	}

	if def, ok := p.registry.Lookup(name); ok {
		n := &node
		p.attach(n)
		if def.Block {
			p.stack = append(p.stack, &frame{node: n, def: def, owner: n, ownerDef: def})
		}
		return nil
	}

	if p.unknownAsText {
		p.flushText(start, p.pos)
		return nil
	}
	node.Problem = ast.ProblemUnknown
	if p.registry.IsSubDirective(name) {
		node.Problem = ast.ProblemMisplaced
	}
	p.attach(&node)
	return nil
}

// lookupSub matches name against the sub-directives accepted by the open
// block: the block's own declarations first, then those of its chain owner.
func (p *Parser) lookupSub(top *frame, name string) (*ast.DirectiveNode, *directive.Definition, *directive.Definition) {
	if top.node == nil {
		return nil, nil, nil
	}
	if top.def != top.ownerDef {
		if sub, ok := top.def.SubDirective(name); ok {
			return top.node, top.def, sub
		}
	}
	if sub, ok := top.ownerDef.SubDirective(name); ok {
		return top.owner, top.ownerDef, sub
	}
	return nil, nil, nil
}

// closeTop handles @end. Closing a sub-directive closes its whole chain
// because the sub-directive replaced its owner on the stack.
func (p *Parser) closeTop(end ast.DirectiveNode) {
	if len(p.stack) == 1 {
		end.Problem = ast.ProblemStrayTerminator
		p.attach(&end)
		return
	}
	f := p.stack[len(p.stack)-1]
	p.stack = p.stack[:len(p.stack)-1]
	for _, n := range []*ast.DirectiveNode{f.node, f.owner} {
		if n.Location != nil {
			n.Location.End = end.Location.End
		}
	}
}

// closeAll flags every block still open at end of input
func (p *Parser) closeAll() {
	for len(p.stack) > 1 {
		f := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
		f.node.AutoClosed = true
		f.owner.AutoClosed = true
		end := p.position(len(p.input))
		f.node.Location.End = end
		f.owner.Location.End = end
	}
}

// literalBody reports whether the open block holds script or style text,
// in which only interpolations and @end are recognized.
func (p *Parser) literalBody() bool {
	def := p.top().def
	return def != nil && (def.Content == directive.ContentScript || def.Content == directive.ContentStyle)
}

// isTerminator reports whether @end starts at pos.
func (p *Parser) isTerminator() bool {
	if p.input[p.pos] != '@' {
		return false
	}
	save := p.pos
	p.pos++
	name := p.parseName()
	p.pos = save
	return name == directive.Terminator
}

func (p *Parser) top() *frame {
	return p.stack[len(p.stack)-1]
}

func (p *Parser) children() *[]ast.Node {
	if f := p.top(); f.node != nil {
		return &f.node.Children
	}
	return &p.root.Children
}

func (p *Parser) attach(n ast.Node) {
	list := p.children()
	*list = append(*list, n)
}

// flushText attaches input[start:end] as text, merging with a preceding
// text node
func (p *Parser) flushText(start, end int) {
	if end <= start {
		return
	}
	list := p.children()
	if n := len(*list); n > 0 {
		if prev, ok := (*list)[n-1].(*ast.TextNode); ok {
			prev.Value += p.input[start:end]
			prev.Location.End = p.position(end)
			return
		}
	}
	*list = append(*list, &ast.TextNode{Value: p.input[start:end], Location: p.location(start, end)})
}

// Helper methods

func (p *Parser) peek(s string) bool {
	return strings.HasPrefix(p.input[p.pos:], s)
}

// isDirectiveStart reports whether the @ at pos starts a directive. An @
// glued to a preceding word only starts one when the name is known, so
// e-mail addresses stay text.
func (p *Parser) isDirectiveStart() bool {
	if p.input[p.pos] != '@' || p.pos+1 >= len(p.input) || !isNameStart(p.input[p.pos+1]) {
		return false
	}
	if p.pos == 0 || !isWordChar(p.input[p.pos-1]) {
		return true
	}
	save := p.pos
	p.pos++
	name := p.parseName()
	p.pos = save
	if name == directive.Terminator || p.registry.IsSubDirective(name) {
		return true
	}
	_, ok := p.registry.Lookup(name)
	return ok
}

func isWordChar(c byte) bool {
	return isNameStart(c) || ('0' <= c && c <= '9')
}

func (p *Parser) parseName() string {
	start := p.pos
	for p.pos < len(p.input) && isNameChar(p.input[p.pos]) {
		p.pos++
	}
	for p.pos > start+1 && p.input[p.pos-1] == '-' {
		p.pos--
	}
	return p.input[start:p.pos]
}

func isNameStart(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isWordChar(c) || c == '-'
}

func (p *Parser) position(offset int) ast.Position {
	line := sort.Search(len(p.lines), func(i int) bool { return p.lines[i] > offset }) - 1
	return ast.Position{Line: line + 1, Column: offset - p.lines[line] + 1, Offset: offset}
}

func (p *Parser) location(start, end int) *ast.Location {
	return &ast.Location{Start: p.position(start), End: p.position(end)}
}

func (p *Parser) errorAt(offset int, format string, args ...any) error {
	err := diag.Errorf(diag.KindSyntax, p.location(offset, offset), format, args...)
	err.Path = p.filename
	return err
}
