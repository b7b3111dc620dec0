package directives

import (
	"context"
	"fmt"

	"github.com/recera/sigil/pkg/sigil/directive"
	"github.com/recera/sigil/pkg/sigil/expr"
	"github.com/recera/sigil/pkg/sigil/ir"
)

const componentDepthKey = "component.depth"

func componentDepth(st *directive.UnitState) int {
	v, _ := st.Get(componentDepthKey)
	n, _ := v.(int)
	return n
}

// componentDirective renders another template with props. The block becomes
// the component's slot variable and nested @slot blocks, at any depth inside
// it, fill slots.<name>.
func componentDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "component",
		Description: "Renders a component template with props; the block is available as slot and named slots as slots.<name>.",
		Example:     "@component('card', {title: post.title}) {{ post.body }} @slot('footer') Read more @end @end",
		Params: expr.Schema{
			{Name: "path", Kind: expr.KindString, Required: true, Description: "component template path"},
			{Name: "props", Kind: expr.KindCode, Description: "map of props bound in the component"},
		},
		Block:   true,
		Content: directive.ContentMarkup,
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			if _, err := call.Expr.String("path"); err != nil {
				return err
			}
			c.Emit(ir.EnterComponent())
			return nil
		},
		OnChildren: func(ctx context.Context, c directive.Compiler, call *directive.Call, ch directive.Children) error {
			st := c.State()
			depth := componentDepth(st)
			st.Set(componentDepthKey, depth+1)
			defer st.Set(componentDepthKey, depth)
			return c.Compile(ctx, ch.Regular)
		},
		OnEnd: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			path, _ := call.Expr.String("path")
			props, _ := call.Expr.RawOf("props")
			c.Emit(ir.Instr{Op: ir.OpExitScope, Mode: ir.ModeComponent, Name: path, Expr: props})
			return nil
		},
	}
}

func slotDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "slot",
		Description: "Captures its block as a named slot of the enclosing component.",
		Example:     "@slot('header') <h1>Title</h1> @end",
		Params:      nameParam("slot name"),
		Block:       true,
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			if componentDepth(c.State()) == 0 {
				return fmt.Errorf("@slot must be inside @component")
			}
			c.Emit(ir.Enter())
			return nil
		},
		OnEnd: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			name, err := call.Expr.String("name")
			if err != nil {
				return err
			}
			c.Emit(ir.Exit(ir.ModeSlot, name))
			return nil
		},
	}
}
