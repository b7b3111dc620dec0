// Package sigil is the template engine facade: it wires the standard
// directives, a resolver, the compiler and the runtime loader together.
//
//	e := sigil.New(sigil.Options{Resolver: resolve.NewDir("templates", ".sg")})
//	out, err := e.Render(ctx, "pages/home", map[string]any{"user": u})
package sigil

import (
	"context"
	"fmt"

	"github.com/recera/sigil/pkg/sigil/compiler"
	"github.com/recera/sigil/pkg/sigil/directive"
	"github.com/recera/sigil/pkg/sigil/directives"
	"github.com/recera/sigil/pkg/sigil/ir"
	"github.com/recera/sigil/pkg/sigil/parser"
	"github.com/recera/sigil/pkg/sigil/resolve"
	"github.com/recera/sigil/pkg/sigil/runtime"
)

// Options configures an Engine
type Options struct {
	// Registry defaults to the standard directives
	Registry *directive.Registry
	// Resolver loads templates by path; defaults to an empty memory resolver
	Resolver resolve.Resolver
	// Policy is the sub-template cache policy
	Policy    runtime.Policy
	Evaluator runtime.Evaluator
	// Concurrency enables prefetching of included templates when above 1
	Concurrency   int
	UnknownAsText bool
	MaxDepth      int
}

// Engine compiles and renders templates. It is safe for concurrent use.
type Engine struct {
	opts     Options
	registry *directive.Registry
	resolver resolve.Resolver
	loader   *runtime.Loader
}

// New creates an engine.
func New(opts Options) *Engine {
	e := &Engine{opts: opts, registry: opts.Registry, resolver: opts.Resolver}
	if e.registry == nil {
		e.registry = directives.Standard()
	}
	if e.resolver == nil {
		e.resolver = resolve.NewMap(nil)
	}
	e.loader = runtime.NewLoader(e.compileProgram, opts.Policy)
	return e
}

func (e *Engine) Registry() *directive.Registry { return e.registry }

func (e *Engine) Loader() *runtime.Loader { return e.loader }

// CompilerOptions returns the options the engine compiles with.
func (e *Engine) CompilerOptions() []compiler.Option {
	opts := []compiler.Option{
		compiler.WithResolver(e.resolver),
		compiler.WithConcurrency(e.opts.Concurrency),
	}
	if e.opts.UnknownAsText {
		opts = append(opts, compiler.WithParserOptions(parser.UnknownAsText()))
	}
	return opts
}

// Compile compiles src as the template at path. Directive errors are
// reported in Unit.Errors; err is set only for fatal parse errors.
func (e *Engine) Compile(ctx context.Context, path, src string) (*compiler.Unit, error) {
	return compiler.CompileSource(ctx, e.registry, path, src, e.CompilerOptions()...)
}

// compileProgram is the loader's compile step. Templates with compile
// errors are not loaded.
func (e *Engine) compileProgram(ctx context.Context, path string) (*ir.Program, error) {
	src, err := e.resolver.Resolve(ctx, path)
	if err != nil {
		return nil, err
	}
	u, err := e.Compile(ctx, path, src)
	if err != nil {
		return nil, err
	}
	if err := u.Errors.Err(); err != nil {
		return nil, err
	}
	return u.Program()
}

func (e *Engine) newContext(data map[string]any) *runtime.Context {
	opts := []runtime.Option{runtime.WithLoader(e.loader)}
	if e.opts.Evaluator != nil {
		opts = append(opts, runtime.WithEvaluator(e.opts.Evaluator))
	}
	if e.opts.MaxDepth > 0 {
		opts = append(opts, runtime.WithMaxDepth(e.opts.MaxDepth))
	}
	return runtime.New(data, opts...)
}

// Render renders the template at path through the loader cache.
func (e *Engine) Render(ctx context.Context, path string, data map[string]any) (string, error) {
	p, err := e.loader.Load(ctx, path)
	if err != nil {
		return "", err
	}
	rc := e.newContext(data)
	if err := rc.Run(ctx, p); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", path, err)
	}
	return rc.String(), nil
}

// RenderString compiles and renders src. When src has directive errors the
// partial output is returned along with the diag.List describing them.
func (e *Engine) RenderString(ctx context.Context, name, src string, data map[string]any) (string, error) {
	u, err := e.Compile(ctx, name, src)
	if err != nil {
		return "", err
	}
	p, err := u.Program()
	if err != nil {
		return "", err
	}
	rc := e.newContext(data)
	if err := rc.Run(ctx, p); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", name, err)
	}
	return rc.String(), u.Errors.Err()
}

// Invalidate drops the cached program for path, e.g. after it changed on
// disk.
func (e *Engine) Invalidate(path string) {
	e.loader.Invalidate(path)
}
