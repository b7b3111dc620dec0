// Package runtime executes compiled template programs. A Context holds the
// bindings and output buffer of one scope; clones chain to their parent for
// variable lookup but write to their own buffer.
package runtime

import (
	"context"
	"errors"
	"strings"
)

// DefaultMaxDepth bounds nested sub-renders (components, layouts)
const DefaultMaxDepth = 32

// placeholderMark delimits deferred content in an output buffer
const placeholderMark = "\x1a"

// Option configures a root Context
type Option func(*renderState)

// WithLoader sets the loader used for sub-renders.
func WithLoader(l *Loader) Option {
	return func(s *renderState) { s.loader = l }
}

// WithEvaluator replaces the default expression evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(s *renderState) { s.eval = e }
}

// WithMaxDepth sets how deeply sub-renders may nest.
func WithMaxDepth(n int) Option {
	return func(s *renderState) { s.maxDepth = n }
}

var defaultEvaluator = NewExprEvaluator()

// renderState is shared by every context of one render
type renderState struct {
	loader   *Loader
	eval     Evaluator
	maxDepth int
	depth    int

	stacks   map[string][]string
	sections map[string]string
	defaults map[string]string // placeholder token -> fallback text
}

func (s *renderState) reset() {
	s.stacks = make(map[string][]string)
	s.sections = make(map[string]string)
	s.defaults = make(map[string]string)
}

// Context is one render scope. It is not safe for concurrent use; create
// one root context per render.
type Context struct {
	parent *Context
	vars   map[string]any
	buf    strings.Builder
	slots  map[string]string
	state  *renderState
	// component is set on the scope collecting a component body
	component bool
}

// New creates a root context bound to bindings.
func New(bindings map[string]any, opts ...Option) *Context {
	st := &renderState{eval: defaultEvaluator, maxDepth: DefaultMaxDepth}
	st.reset()
	for _, opt := range opts {
		opt(st)
	}
	return newContext(nil, bindings, st)
}

func newContext(parent *Context, bindings map[string]any, st *renderState) *Context {
	c := &Context{parent: parent, vars: make(map[string]any, len(bindings)), state: st}
	for k, v := range bindings {
		c.vars[k] = v
	}
	return c
}

// Clone returns a child scope with extra bindings and an empty buffer.
// Lookups fall back to c; writes to the clone never reach c.
func (c *Context) Clone(extra map[string]any) *Context {
	return newContext(c, extra, c.state)
}

// Parent returns the scope c was cloned from, or nil for a root context.
func (c *Context) Parent() *Context { return c.parent }

// Write appends s to the output buffer.
func (c *Context) Write(s string) { c.buf.WriteString(s) }

// WriteEscaped appends s HTML-escaped.
func (c *Context) WriteEscaped(s string) { c.buf.WriteString(EscapeHTML(s)) }

// String returns the buffered output.
func (c *Context) String() string { return c.buf.String() }

func (c *Context) Len() int { return c.buf.Len() }

// Clear resets the buffer and slots of c. Clearing a root context also drops
// the stacks, sections and placeholder defaults of the render.
func (c *Context) Clear() {
	c.buf.Reset()
	c.slots = nil
	if c.parent == nil {
		c.state.reset()
	}
}

// Lookup finds name in c or the nearest ancestor binding it.
func (c *Context) Lookup(name string) (any, bool) {
	for s := c; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

// Set binds name in c only.
func (c *Context) Set(name string, v any) { c.vars[name] = v }

// Vars flattens the scope chain, nearer bindings shadowing outer ones.
func (c *Context) Vars() map[string]any {
	var chain []*Context
	for s := c; s != nil; s = s.parent {
		chain = append(chain, s)
	}
	out := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].vars {
			out[k] = v
		}
	}
	return out
}

// Eval evaluates expression against the bindings visible from c.
func (c *Context) Eval(ctx context.Context, expression string) (any, error) {
	if c.state.eval == nil {
		return nil, errors.New("no evaluator configured")
	}
	return c.state.eval.Eval(ctx, expression, c.Vars())
}

// Slot returns a slot captured in c.
func (c *Context) Slot(name string) (string, bool) {
	s, ok := c.slots[name]
	return s, ok
}

// componentScope returns the nearest enclosing component body, or c when
// there is none.
func (c *Context) componentScope() *Context {
	for s := c; s != nil; s = s.parent {
		if s.component {
			return s
		}
	}
	return c
}

func (c *Context) setSlot(name, content string) {
	if c.slots == nil {
		c.slots = make(map[string]string)
	}
	c.slots[name] = content
}

// Section returns a defined section of the render.
func (c *Context) Section(name string) (string, bool) {
	s, ok := c.state.sections[name]
	return s, ok
}

// Stack returns the entries pushed to a stack, in push order.
func (c *Context) Stack(name string) []string {
	return c.state.stacks[name]
}

// placeholder writes a token replaced by Resolve.
func (c *Context) placeholder(kind, name, fallback string) {
	token := placeholderMark + kind + ":" + name + placeholderMark
	if fallback != "" {
		c.state.defaults[token] = fallback
	}
	c.Write(token)
}

// maxResolvePasses bounds resolution of placeholders nested in sections
const maxResolvePasses = 8

// Resolve replaces the placeholder tokens in the buffer with stacks and
// sections. It only acts on a root context so nested renders leave their
// placeholders for the outermost scope. Run calls it when a root program
// finishes.
func (c *Context) Resolve() {
	if c.parent != nil {
		return
	}
	out := c.buf.String()
	for i := 0; i < maxResolvePasses && strings.Contains(out, placeholderMark); i++ {
		out = c.resolveOnce(out)
	}
	c.buf.Reset()
	c.buf.WriteString(out)
}

func (c *Context) resolveOnce(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, placeholderMark)
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.Index(s[start+1:], placeholderMark)
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		end += start + 1
		b.WriteString(s[:start])
		b.WriteString(c.expand(s[start : end+1]))
		s = s[end+1:]
	}
}

func (c *Context) expand(token string) string {
	kind, name, _ := strings.Cut(strings.Trim(token, placeholderMark), ":")
	switch kind {
	case "stack":
		if entries, ok := c.state.stacks[name]; ok {
			return strings.Join(entries, "")
		}
	case "section":
		if s, ok := c.state.sections[name]; ok {
			return s
		}
	}
	return c.state.defaults[token]
}
