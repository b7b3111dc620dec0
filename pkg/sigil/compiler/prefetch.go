package compiler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/recera/sigil/pkg/sigil/ast"
	"github.com/recera/sigil/pkg/sigil/expr"
)

// prefetch resolves every literal path named by a Prefetch parameter with
// bounded concurrency. Failures are left for the directive to report when
// it resolves the path itself.
func (c *Compiler) prefetch(ctx context.Context, root *ast.RootNode) error {
	paths := c.prefetchPaths(root)
	if len(paths) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			src, err := c.resolver.Resolve(gctx, path)
			if err != nil {
				return ctx.Err()
			}
			c.mu.Lock()
			c.prefetched[path] = src
			c.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (c *Compiler) prefetchPaths(root *ast.RootNode) []string {
	seen := make(map[string]bool)
	var paths []string
	ast.Walk(root, func(n ast.Node) bool {
		d, ok := n.(*ast.DirectiveNode)
		if !ok || d.Problem != ast.ProblemNone {
			return true
		}
		def, ok := c.registry.Lookup(d.Name)
		if !ok || def.Prefetch == "" {
			return true
		}
		e, err := expr.Read(d.Expression, def.Params)
		if err != nil {
			return true
		}
		raw, ok := e.RawOf(def.Prefetch)
		if !ok || !expr.IsQuoted(raw) {
			return true
		}
		if p, err := e.String(def.Prefetch); err == nil && p != "" && !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
		return true
	})
	return paths
}
