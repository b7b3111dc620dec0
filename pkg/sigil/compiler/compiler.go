// Package compiler walks a template AST and generates the instruction
// sequence the runtime executes, running each directive's lifecycle hooks.
package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/recera/sigil/pkg/sigil/ast"
	"github.com/recera/sigil/pkg/sigil/diag"
	"github.com/recera/sigil/pkg/sigil/directive"
	"github.com/recera/sigil/pkg/sigil/expr"
	"github.com/recera/sigil/pkg/sigil/ir"
	"github.com/recera/sigil/pkg/sigil/parser"
	"github.com/recera/sigil/pkg/sigil/resolve"
)

// PrimaryLoader is the channel whose output is the render program
const PrimaryLoader = "render"

// MaxEmbedDepth bounds nested compile-time includes
const MaxEmbedDepth = 32

type section int

const (
	sectionPre section = iota
	sectionBody
	sectionPost
)

// Unit is the compiled output of one template
type Unit struct {
	Path string
	Pre  []ir.Instr
	Body []ir.Instr
	Post []ir.Instr
	// Channels holds text added while a non-primary loader was selected
	Channels map[string]string
	// Deps maps each embedded template path to the Digest of its source
	Deps   map[string]string
	Errors diag.List
}

// Digest returns the hex sha256 of a template source.
func Digest(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

// Program links pre, body and post into an executable program.
func (u *Unit) Program() (*ir.Program, error) {
	instrs := make([]ir.Instr, 0, len(u.Pre)+len(u.Body)+len(u.Post))
	for _, part := range [][]ir.Instr{u.Pre, u.Body, u.Post} {
		for _, in := range part {
			// adjacent literals become one instruction
			if n := len(instrs); in.Op == ir.OpText && n > 0 && instrs[n-1].Op == ir.OpText {
				instrs[n-1].Text += in.Text
				continue
			}
			instrs = append(instrs, in)
		}
	}
	return ir.Link(u.Path, instrs)
}

// Option configures a Compiler
type Option func(*Compiler)

// WithPath names the unit being compiled.
func WithPath(path string) Option {
	return func(c *Compiler) { c.path = path }
}

// WithResolver sets the resolver used by Resolve and prefetching.
func WithResolver(r resolve.Resolver) Option {
	return func(c *Compiler) { c.resolver = r }
}

// WithConcurrency resolves prefetchable paths with up to n concurrent
// requests before generating the body. Values below 2 disable prefetching.
func WithConcurrency(n int) Option {
	return func(c *Compiler) { c.concurrency = n }
}

// WithParserOptions sets the options used when parsing embedded templates.
func WithParserOptions(opts ...parser.Option) Option {
	return func(c *Compiler) { c.parserOpts = append(c.parserOpts, opts...) }
}

// Fingerprint describes the options that change the generated unit.
// Resolver and concurrency only affect how templates are loaded.
func Fingerprint(opts ...Option) string {
	c := &Compiler{}
	for _, opt := range opts {
		opt(c)
	}
	return parser.Fingerprint(c.parserOpts...)
}

// Compiler generates code for one unit at a time. It is not safe for
// concurrent use.
type Compiler struct {
	registry    *directive.Registry
	resolver    resolve.Resolver
	parserOpts  []parser.Option
	concurrency int
	path        string

	unit    *Unit
	state   *directive.UnitState
	section section
	loader  string
	labels  int
	embeds  []string

	mu         sync.Mutex
	prefetched map[string]string
}

var _ directive.Compiler = (*Compiler)(nil)

// New creates a compiler for registry.
func New(registry *directive.Registry, opts ...Option) *Compiler {
	c := &Compiler{registry: registry, loader: PrimaryLoader}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CompileSource parses src and generates its unit.
func CompileSource(ctx context.Context, registry *directive.Registry, path, src string, opts ...Option) (*Unit, error) {
	c := New(registry, append(opts, WithPath(path))...)
	root, err := parser.Parse(src, registry, c.parserOptions(path)...)
	if err != nil {
		return nil, err
	}
	return c.Generate(ctx, root)
}

func (c *Compiler) parserOptions(path string) []parser.Option {
	return append(append([]parser.Option(nil), c.parserOpts...), parser.WithFilename(path))
}

// Generate compiles root into a Unit. Directive errors are collected in
// Unit.Errors; the returned error is only set when ctx is done.
func (c *Compiler) Generate(ctx context.Context, root *ast.RootNode) (*Unit, error) {
	c.registry.Seal()
	c.unit = &Unit{Path: c.path, Channels: make(map[string]string), Deps: make(map[string]string)}
	c.state = directive.NewUnitState(c.path, root)
	c.loader = PrimaryLoader
	c.labels = 0
	c.embeds = nil
	c.prefetched = make(map[string]string)

	if c.concurrency > 1 && c.resolver != nil {
		if err := c.prefetch(ctx, root); err != nil {
			return nil, err
		}
	}

	defs := c.registry.Definitions()
	c.section = sectionPre
	for _, d := range defs {
		if d.OnInitFile != nil {
			c.fileHook(ctx, d, d.OnInitFile)
		}
	}

	c.section = sectionBody
	if err := c.Compile(ctx, root.Children); err != nil {
		return nil, err
	}

	c.section = sectionPost
	for _, d := range defs {
		if d.OnEndFile != nil {
			c.fileHook(ctx, d, d.OnEndFile)
		}
	}
	return c.unit, nil
}

// Compile generates statement-mode code for nodes in document order.
func (c *Compiler) Compile(ctx context.Context, nodes []ast.Node) error {
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.compileNode(ctx, n)
	}
	return nil
}

func (c *Compiler) compileNode(ctx context.Context, n ast.Node) {
	switch n := n.(type) {
	case *ast.TextNode:
		c.Add(n.Value)
	case *ast.InterpolationNode:
		if c.loader != PrimaryLoader {
			c.Add(n.Expression)
			return
		}
		c.Emit(ir.Emit(n.Expression, n.Escaped))
	case *ast.SubDirectiveNode:
		c.reject(&n.DirectiveNode, diag.KindMisplacedSubDirective,
			"@%s is only valid inside @%s", n.Name, n.ParentName)
	case *ast.DirectiveNode:
		c.compileDirectiveNode(ctx, n)
	}
}

func (c *Compiler) compileDirectiveNode(ctx context.Context, n *ast.DirectiveNode) {
	switch n.Problem {
	case ast.ProblemUnknown:
		c.reject(n, diag.KindUnknownDirective, "unknown directive @%s", n.Name)
		return
	case ast.ProblemMisplaced:
		parents := c.registry.ParentsOf(n.Name)
		c.reject(n, diag.KindMisplacedSubDirective,
			"@%s is only valid inside @%s", n.Name, strings.Join(parents, ", @"))
		return
	case ast.ProblemStrayTerminator:
		c.reject(n, diag.KindStrayTerminator, "@%s without an open block", n.Name)
		return
	}
	def, ok := c.registry.Lookup(n.Name)
	if !ok {
		c.reject(n, diag.KindUnknownDirective, "unknown directive @%s", n.Name)
		return
	}
	c.directive(ctx, n, def, nil)
}

// CompileChain runs the lifecycle of each sub-directive of owner in order.
func (c *Compiler) CompileChain(ctx context.Context, owner *directive.Call, subs []*ast.SubDirectiveNode) error {
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		def, ok := owner.Def.SubDirective(sub.Name)
		if !ok {
			c.reject(&sub.DirectiveNode, diag.KindMisplacedSubDirective,
				"@%s is not a sub-directive of @%s", sub.Name, owner.Def.Name)
			continue
		}
		c.directive(ctx, &sub.DirectiveNode, def, owner)
	}
	return nil
}

// directive runs one node's lifecycle. A failing hook is contained here:
// the node's output is rolled back, a comment takes its place and the error
// is recorded with the node's location.
func (c *Compiler) directive(ctx context.Context, n *ast.DirectiveNode, def *directive.Definition, parent *directive.Call) {
	m := c.mark()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			c.rollback(m)
			c.Emit(ir.Comment("error in @" + n.Name))
			c.fail(n, diag.KindHook, err, "@%s: %v", n.Name, err)
		}
	}()
	err = c.lifecycle(ctx, n, def, parent)
}

func (c *Compiler) lifecycle(ctx context.Context, n *ast.DirectiveNode, def *directive.Definition, parent *directive.Call) error {
	e, err := expr.Read(n.Expression, def.Params)
	if err != nil {
		return err
	}
	call := &directive.Call{Node: n, Def: def, Expr: e, Parent: parent}
	if parent != nil {
		call.Data = parent.Data
	} else {
		call.Data = make(map[string]any)
	}

	if def.OnInit != nil {
		if err := def.OnInit(ctx, c, call); err != nil {
			return err
		}
	}
	if def.OnParams != nil {
		if err := def.OnParams(ctx, c, call); err != nil {
			return err
		}
	}

	ch := directive.Split(n.Children)
	if def.OnChildren != nil {
		if err := def.OnChildren(ctx, c, call, ch); err != nil {
			return err
		}
	} else {
		if err := c.Compile(ctx, ch.Regular); err != nil {
			return err
		}
		if err := c.CompileChain(ctx, call, ch.Sub); err != nil {
			return err
		}
	}

	if def.OnEnd != nil {
		return def.OnEnd(ctx, c, call)
	}
	return nil
}

func (c *Compiler) fileHook(ctx context.Context, d *directive.Definition, hook directive.FileHook) {
	m := c.mark()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			c.rollback(m)
			c.unit.Errors.Add(&diag.Error{
				Kind:    diag.KindHook,
				Name:    d.Name,
				Path:    c.path,
				Err:     err,
				Message: fmt.Sprintf("@%s file hook: %v", d.Name, err),
			})
		}
	}()
	err = hook(ctx, c, c.state)
}

// CompileString returns the literal value of nodes: text as written and
// interpolations as their raw expression. Directives have no string form.
func (c *Compiler) CompileString(nodes []ast.Node) (string, error) {
	var b strings.Builder
	for _, n := range nodes {
		switch n := n.(type) {
		case *ast.TextNode:
			b.WriteString(n.Value)
		case *ast.InterpolationNode:
			b.WriteString(n.Expression)
		default:
			d, _ := ast.AsDirective(n)
			return "", fmt.Errorf("@%s cannot be used inside literal content (line %d)", d.Name, d.Location.Start.Line)
		}
	}
	return b.String(), nil
}

// Emit appends instructions to the current section.
func (c *Compiler) Emit(ins ...ir.Instr) {
	switch c.section {
	case sectionPre:
		c.unit.Pre = append(c.unit.Pre, ins...)
	case sectionPost:
		c.unit.Post = append(c.unit.Post, ins...)
	default:
		c.unit.Body = append(c.unit.Body, ins...)
	}
}

func (c *Compiler) EmitPre(ins ...ir.Instr)  { c.unit.Pre = append(c.unit.Pre, ins...) }
func (c *Compiler) EmitPost(ins ...ir.Instr) { c.unit.Post = append(c.unit.Post, ins...) }

func (c *Compiler) NewLabel() int {
	c.labels++
	return c.labels
}

// Add appends literal text to the selected loader.
func (c *Compiler) Add(text string) {
	if text == "" {
		return
	}
	if c.loader == PrimaryLoader {
		c.Emit(ir.Text(text))
		return
	}
	c.unit.Channels[c.loader] += text
}

func (c *Compiler) Loader() string { return c.loader }

// UseLoader selects a loader; callers must call restore when done.
func (c *Compiler) UseLoader(name string) (restore func()) {
	prev := c.loader
	c.loader = name
	return func() { c.loader = prev }
}

func (c *Compiler) State() *directive.UnitState { return c.state }

// Resolve returns template text for path, using prefetched text when
// available.
func (c *Compiler) Resolve(ctx context.Context, path string) (string, error) {
	c.mu.Lock()
	src, ok := c.prefetched[path]
	c.mu.Unlock()
	if ok {
		return src, nil
	}
	if c.resolver == nil {
		return "", fmt.Errorf("cannot resolve %s: no resolver configured", path)
	}
	return c.resolver.Resolve(ctx, path)
}

// Embed compiles src inline inside a cloned scope. with, when set, is an
// expression whose map value is bound in that scope.
func (c *Compiler) Embed(ctx context.Context, path, src, with string) error {
	if len(c.embeds) >= MaxEmbedDepth {
		return fmt.Errorf("maximum include depth (%d) exceeded at %s", MaxEmbedDepth, path)
	}
	for i, p := range c.embeds {
		if p == path {
			return fmt.Errorf("include cycle: %s -> %s", strings.Join(c.embeds[i:], " -> "), path)
		}
	}
	if path == c.path {
		return fmt.Errorf("include cycle: %s includes itself", path)
	}
	root, err := parser.Parse(src, c.registry, c.parserOptions(path)...)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	c.unit.Deps[path] = Digest(src)
	c.embeds = append(c.embeds, path)
	defer func() { c.embeds = c.embeds[:len(c.embeds)-1] }()

	c.Emit(ir.Enter())
	if with != "" {
		c.Emit(ir.Instr{Op: ir.OpBind, Expr: with})
	}
	if err := c.Compile(ctx, root.Children); err != nil {
		return err
	}
	c.Emit(ir.Exit(ir.ModeMerge, ""))
	return nil
}

// mark records output lengths so a failed directive can be rolled back
type mark struct {
	pre, body, post int
	loader          string
	section         section
	channels        map[string]int
}

func (c *Compiler) mark() mark {
	m := mark{
		pre:      len(c.unit.Pre),
		body:     len(c.unit.Body),
		post:     len(c.unit.Post),
		loader:   c.loader,
		section:  c.section,
		channels: make(map[string]int, len(c.unit.Channels)),
	}
	for k, v := range c.unit.Channels {
		m.channels[k] = len(v)
	}
	return m
}

func (c *Compiler) rollback(m mark) {
	c.unit.Pre = c.unit.Pre[:m.pre]
	c.unit.Body = c.unit.Body[:m.body]
	c.unit.Post = c.unit.Post[:m.post]
	c.loader = m.loader
	c.section = m.section
	for k, v := range c.unit.Channels {
		if n, ok := m.channels[k]; ok {
			c.unit.Channels[k] = v[:n]
		} else {
			delete(c.unit.Channels, k)
		}
	}
}

func (c *Compiler) currentPath() string {
	if len(c.embeds) > 0 {
		return c.embeds[len(c.embeds)-1]
	}
	return c.path
}

// reject records a structural error and leaves a comment in place of n.
func (c *Compiler) reject(n *ast.DirectiveNode, kind diag.Kind, format string, args ...any) {
	c.Emit(ir.Comment(fmt.Sprintf(format, args...)))
	c.fail(n, kind, nil, format, args...)
}

func (c *Compiler) fail(n *ast.DirectiveNode, kind diag.Kind, err error, format string, args ...any) {
	c.unit.Errors.Add(&diag.Error{
		Kind:     kind,
		Name:     n.Name,
		Path:     c.currentPath(),
		Location: n.Location,
		Err:      err,
		Message:  fmt.Sprintf(format, args...),
	})
}
