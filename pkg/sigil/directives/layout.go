package directives

import (
	"context"
	"fmt"

	"github.com/recera/sigil/pkg/sigil/directive"
	"github.com/recera/sigil/pkg/sigil/expr"
	"github.com/recera/sigil/pkg/sigil/ir"
)

const extendsKey = "extends.path"

func nameParam(description string) expr.Schema {
	return expr.Schema{{Name: "name", Kind: expr.KindString, Required: true, Description: description}}
}

func includeDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "include",
		Description: "Compiles another template inline. With fallback set, an unresolvable path is written as literal text.",
		Example:     "@include('partials/nav', {active: 'home'})",
		Params: expr.Schema{
			{Name: "path", Kind: expr.KindString, Required: true, Description: "template path"},
			{Name: "with", Kind: expr.KindCode, Description: "map of extra bindings"},
			{Name: "fallback", Kind: expr.KindBool, Default: false, Description: "render the path as text when it cannot be resolved"},
		},
		Prefetch: "path",
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			path, err := call.Expr.String("path")
			if err != nil {
				return err
			}
			fallback, err := call.Expr.Bool("fallback")
			if err != nil {
				return err
			}
			src, err := c.Resolve(ctx, path)
			if err != nil {
				if fallback {
					c.Add(path)
					return nil
				}
				return fmt.Errorf("failed to include %s: %w", path, err)
			}
			with, _ := call.Expr.RawOf("with")
			return c.Embed(ctx, path, src, with)
		},
	}
}

// extendsDirective captures the whole unit in a discarded scope, then
// renders the layout, whose yields pick up the sections the unit defined.
func extendsDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "extends",
		Description: "Renders the template inside a layout. Sections defined in the template fill the layout's yields.",
		Example:     "@extends('layouts/main')",
		Params: expr.Schema{
			{Name: "path", Kind: expr.KindString, Required: true, Description: "layout template path"},
		},
		OnInitFile: func(ctx context.Context, c directive.Compiler, st *directive.UnitState) error {
			if st.Used("extends") {
				c.Emit(ir.Enter())
			}
			return nil
		},
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			path, err := call.Expr.String("path")
			if err != nil {
				return err
			}
			st := c.State()
			if prev, ok := st.Get(extendsKey); ok {
				return fmt.Errorf("template already extends %s", prev)
			}
			st.Set(extendsKey, path)
			return nil
		},
		OnEndFile: func(ctx context.Context, c directive.Compiler, st *directive.UnitState) error {
			if !st.Used("extends") {
				return nil
			}
			c.Emit(ir.Exit(ir.ModeDiscard, ""))
			path, ok := st.Get(extendsKey)
			if !ok {
				return nil
			}
			c.Emit(ir.Instr{Op: ir.OpRender, Name: path.(string)})
			st.Set(resolvedKey, true)
			c.Emit(ir.Instr{Op: ir.OpResolve})
			return nil
		},
	}
}

func sectionDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "section",
		Description: "Captures its block as a named section for a layout yield.",
		Example:     "@section('title') Home @end",
		Params:      nameParam("section name"),
		Block:       true,
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			c.Emit(ir.Enter())
			return nil
		},
		OnEnd: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			name, err := call.Expr.String("name")
			if err != nil {
				return err
			}
			c.Emit(ir.Exit(ir.ModeDefine, name))
			return nil
		},
	}
}

func yieldDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "yield",
		Description: "Marks where a section is rendered, with optional default content.",
		Example:     "<title>@yield('title', 'My Site')</title>",
		Params: expr.Schema{
			{Name: "name", Kind: expr.KindString, Required: true, Description: "section name"},
			{Name: "default", Kind: expr.KindString, Description: "content used when the section is not defined"},
		},
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			name, err := call.Expr.String("name")
			if err != nil {
				return err
			}
			def, err := call.Expr.String("default")
			if err != nil {
				return err
			}
			c.Emit(ir.Instr{Op: ir.OpPlaceholder, Key: placeholderSection, Name: name, Text: def})
			return nil
		},
		OnEndFile: func(ctx context.Context, c directive.Compiler, st *directive.UnitState) error {
			if st.Used("yield") {
				ensureResolve(c, st)
			}
			return nil
		},
	}
}

func pushDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "push",
		Description: "Appends its block to a named stack.",
		Example:     "@push('scripts') <script src=\"/app.js\"></script> @end",
		Params:      nameParam("stack name"),
		Block:       true,
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			c.Emit(ir.Enter())
			return nil
		},
		OnEnd: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			name, err := call.Expr.String("name")
			if err != nil {
				return err
			}
			c.Emit(ir.Exit(ir.ModePush, name))
			return nil
		},
	}
}

const stackNamesKey = "stack.names"

func stackDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "stack",
		Description: "Renders every entry pushed to a named stack. Each stack may be rendered once per template.",
		Example:     "@stack('scripts')",
		Params:      nameParam("stack name"),
		OnInitFile: func(ctx context.Context, c directive.Compiler, st *directive.UnitState) error {
			st.Set(stackNamesKey, make(map[string]bool))
			return nil
		},
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			name, err := call.Expr.String("name")
			if err != nil {
				return err
			}
			v, _ := c.State().Get(stackNamesKey)
			names := v.(map[string]bool)
			if names[name] {
				return fmt.Errorf("stack %q is already rendered", name)
			}
			names[name] = true
			c.Emit(ir.Instr{Op: ir.OpPlaceholder, Key: placeholderStack, Name: name})
			return nil
		},
		OnEndFile: func(ctx context.Context, c directive.Compiler, st *directive.UnitState) error {
			if st.Used("stack") {
				ensureResolve(c, st)
			}
			return nil
		},
	}
}
