package directives

import (
	"context"
	"fmt"

	"github.com/recera/sigil/pkg/sigil/directive"
	"github.com/recera/sigil/pkg/sigil/expr"
	"github.com/recera/sigil/pkg/sigil/ir"
)

func condition(name, description string) expr.Schema {
	return expr.Schema{{Name: name, Kind: expr.KindCode, Required: true, Description: description}}
}

func ifDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "if",
		Description: "Renders its block when the condition is truthy.",
		Example:     "@if(user.admin) Admin @elseif(user) Member @else Guest @end",
		Params:      condition("condition", "expression tested for truthiness"),
		Block:       true,
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			code, _ := call.Expr.RawOf("condition")
			end, next := c.NewLabel(), c.NewLabel()
			call.Data["end"], call.Data["next"] = end, next
			c.Emit(ir.JumpIfNot(code, next))
			return nil
		},
		OnEnd: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			if next := label(call, "next"); next != 0 {
				c.Emit(ir.Label(next))
			}
			c.Emit(ir.Label(label(call, "end")))
			return nil
		},
		SubDirectives: []*directive.Definition{
			{
				Name:        "elseif",
				Description: "Alternative branch tested when earlier branches did not match.",
				Params:      condition("condition", "expression tested for truthiness"),
				Block:       true,
				OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
					next := label(call, "next")
					if next == 0 {
						return fmt.Errorf("@elseif after @else")
					}
					code, _ := call.Expr.RawOf("condition")
					c.Emit(ir.Jump(label(call, "end")), ir.Label(next))
					next = c.NewLabel()
					call.Data["next"] = next
					c.Emit(ir.JumpIfNot(code, next))
					return nil
				},
			},
			{
				Name:        "else",
				Description: "Branch rendered when no other branch matched.",
				Block:       true,
				OnInit: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
					next := label(call, "next")
					if next == 0 {
						return fmt.Errorf("duplicate @else")
					}
					c.Emit(ir.Jump(label(call, "end")), ir.Label(next))
					call.Data["next"] = 0
					return nil
				},
			},
		},
	}
}

func switchDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "switch",
		Description: "Renders the first case whose value equals the subject.",
		Example:     "@switch(status) @case('open') Open @case('closed') Closed @default Unknown @end",
		Params:      condition("subject", "value compared against each case"),
		Block:       true,
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			code, _ := call.Expr.RawOf("subject")
			subject := fmt.Sprintf("_switch%d", c.NewLabel())
			call.Data["subject"] = subject
			call.Data["end"] = c.NewLabel()
			c.Emit(ir.Instr{Op: ir.OpSet, Name: subject, Expr: code})
			return nil
		},
		// text between @switch and the first @case is not rendered
		OnChildren: func(ctx context.Context, c directive.Compiler, call *directive.Call, ch directive.Children) error {
			return c.CompileChain(ctx, call, ch.Sub)
		},
		OnEnd: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			c.Emit(ir.Label(label(call, "end")))
			return nil
		},
		SubDirectives: []*directive.Definition{
			{
				Name:        "case",
				Description: "Branch rendered when the subject equals the value.",
				Params:      condition("value", "value compared with the subject"),
				Block:       true,
				OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
					if _, ok := call.Data["default"]; ok {
						return fmt.Errorf("@case after @default")
					}
					code, _ := call.Expr.RawOf("value")
					next := c.NewLabel()
					call.Data["case"] = next
					c.Emit(ir.JumpIfNot(fmt.Sprintf("%s == (%s)", call.Data["subject"], code), next))
					return nil
				},
				OnEnd: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
					c.Emit(ir.Jump(label(call, "end")), ir.Label(label(call, "case")))
					return nil
				},
			},
			{
				Name:        "default",
				Description: "Branch rendered when no case matched.",
				Block:       true,
				OnInit: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
					if _, ok := call.Data["default"]; ok {
						return fmt.Errorf("duplicate @default")
					}
					call.Data["default"] = true
					return nil
				},
			},
		},
	}
}

func eachDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "each",
		Description: "Renders its block once per item. The loop variable exposes index, first, last and length.",
		Example:     "@each(posts, 'post') {{ loop.index }}: {{ post.title }} @empty No posts @end",
		Params: expr.Schema{
			{Name: "items", Kind: expr.KindCode, Required: true, Description: "list, map or count to iterate"},
			{Name: "as", Kind: expr.KindString, Default: "item", Description: "item variable name"},
			{Name: "key", Kind: expr.KindString, Default: "key", Description: "index or key variable name"},
		},
		Block: true,
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			as, err := call.Expr.String("as")
			if err != nil {
				return err
			}
			key, err := call.Expr.String("key")
			if err != nil {
				return err
			}
			if err := checkIdent("loop variable", as); err != nil {
				return err
			}
			if err := checkIdent("key variable", key); err != nil {
				return err
			}
			items, _ := call.Expr.RawOf("items")
			body, empty, end := c.NewLabel(), c.NewLabel(), c.NewLabel()
			call.Data["body"], call.Data["empty"], call.Data["end"] = body, empty, end
			c.Emit(
				ir.Enter(),
				ir.Instr{Op: ir.OpRange, Expr: items, Name: as, Key: key, Label: empty},
				ir.Label(body),
			)
			return nil
		},
		OnChildren: func(ctx context.Context, c directive.Compiler, call *directive.Call, ch directive.Children) error {
			if err := c.Compile(ctx, ch.Regular); err != nil {
				return err
			}
			c.Emit(
				ir.Instr{Op: ir.OpNext, Label: label(call, "body")},
				ir.Jump(label(call, "end")),
				ir.Label(label(call, "empty")),
			)
			if err := c.CompileChain(ctx, call, ch.Sub); err != nil {
				return err
			}
			c.Emit(ir.Label(label(call, "end")), ir.Exit(ir.ModeMerge, ""))
			return nil
		},
		SubDirectives: []*directive.Definition{
			{
				Name:        "empty",
				Description: "Rendered when there is nothing to iterate.",
				Block:       true,
			},
		},
	}
}

func setDirective() *directive.Definition {
	return &directive.Definition{
		Name:        "set",
		Description: "Binds a variable in the current scope.",
		Example:     "@set('total', price * qty)",
		Params: expr.Schema{
			{Name: "name", Kind: expr.KindString, Required: true},
			{Name: "value", Kind: expr.KindCode, Required: true},
		},
		OnParams: func(ctx context.Context, c directive.Compiler, call *directive.Call) error {
			name, err := call.Expr.String("name")
			if err != nil {
				return err
			}
			if err := checkIdent("variable", name); err != nil {
				return err
			}
			value, _ := call.Expr.RawOf("value")
			c.Emit(ir.Instr{Op: ir.OpSet, Name: name, Expr: value})
			return nil
		},
	}
}
