package runtime

import (
	"context"
	"fmt"

	"github.com/recera/sigil/pkg/sigil/ir"
)

// iterator is an active OpRange loop
type iterator struct {
	items []entry
	index int
	scope *Context
	item  string
	key   string
}

func (it *iterator) bind() {
	e := it.items[it.index]
	if it.item != "" {
		it.scope.Set(it.item, e.value)
	}
	if it.key != "" {
		it.scope.Set(it.key, e.key)
	}
	it.scope.Set("loop", map[string]any{
		"index":  it.index,
		"first":  it.index == 0,
		"last":   it.index == len(it.items)-1,
		"length": len(it.items),
	})
}

// execError locates a render failure in its program
type execError struct {
	program string
	pc      int
	instr   ir.Instr
	err     error
}

func (e *execError) Error() string {
	return fmt.Sprintf("%s: %04d %s: %v", e.program, e.pc, e.instr, e.err)
}

func (e *execError) Unwrap() error { return e.err }

// Run executes p, writing its output to c. A root context resolves its
// stack and section placeholders once p finishes.
func (c *Context) Run(ctx context.Context, p *ir.Program) error {
	scopes := []*Context{c}
	var iters []*iterator
	cur := func() *Context { return scopes[len(scopes)-1] }

	for pc := 0; pc < len(p.Instrs); pc++ {
		in := p.Instrs[pc]
		fail := func(err error) error {
			return &execError{program: p.Name, pc: pc, instr: in, err: err}
		}

		switch in.Op {
		case ir.OpText:
			cur().Write(in.Text)

		case ir.OpEmit:
			v, err := cur().Eval(ctx, in.Expr)
			if err != nil {
				return fail(err)
			}
			if in.Escape {
				cur().WriteEscaped(Stringify(v))
			} else {
				cur().Write(Stringify(v))
			}

		case ir.OpComment, ir.OpLabel:

		case ir.OpJump:
			pc = p.Target(in.Label)

		case ir.OpJumpIfNot:
			v, err := cur().Eval(ctx, in.Expr)
			if err != nil {
				return fail(err)
			}
			if !Truthy(v) {
				pc = p.Target(in.Label)
			}

		case ir.OpSet:
			v, err := cur().Eval(ctx, in.Expr)
			if err != nil {
				return fail(err)
			}
			cur().Set(in.Name, v)

		case ir.OpBind:
			v, err := cur().Eval(ctx, in.Expr)
			if err != nil {
				return fail(err)
			}
			vars, err := bindings(v)
			if err != nil {
				return fail(err)
			}
			for k, v := range vars {
				cur().Set(k, v)
			}

		case ir.OpEnterScope:
			s := cur().Clone(nil)
			s.component = in.Mode == ir.ModeComponent
			scopes = append(scopes, s)

		case ir.OpExitScope:
			if len(scopes) == 1 {
				return fail(fmt.Errorf("scope exit without enter"))
			}
			child := cur()
			scopes = scopes[:len(scopes)-1]
			if err := cur().exitScope(ctx, child, in); err != nil {
				return fail(err)
			}

		case ir.OpRange:
			v, err := cur().Eval(ctx, in.Expr)
			if err != nil {
				return fail(err)
			}
			items, err := entries(v)
			if err != nil {
				return fail(err)
			}
			if len(items) == 0 {
				pc = p.Target(in.Label)
				continue
			}
			it := &iterator{items: items, scope: cur(), item: in.Name, key: in.Key}
			it.bind()
			iters = append(iters, it)

		case ir.OpNext:
			if len(iters) == 0 {
				return fail(fmt.Errorf("next without range"))
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			it := iters[len(iters)-1]
			it.index++
			if it.index < len(it.items) {
				it.bind()
				pc = p.Target(in.Label)
			} else {
				iters = iters[:len(iters)-1]
			}

		case ir.OpRender:
			var vars map[string]any
			if in.Expr != "" {
				v, err := cur().Eval(ctx, in.Expr)
				if err != nil {
					return fail(err)
				}
				if vars, err = bindings(v); err != nil {
					return fail(err)
				}
			}
			if err := cur().render(ctx, in.Name, vars); err != nil {
				return fail(err)
			}

		case ir.OpPlaceholder:
			cur().placeholder(in.Key, in.Name, in.Text)

		case ir.OpResolve:
			cur().Resolve()

		default:
			return fail(fmt.Errorf("unknown op %v", in.Op))
		}
	}
	if len(scopes) != 1 {
		return fmt.Errorf("%s: %d scopes left open", p.Name, len(scopes)-1)
	}
	// placeholders written by sub-renders are only resolvable here
	c.Resolve()
	return nil
}

// exitScope disposes of a popped child scope according to the exit mode.
func (c *Context) exitScope(ctx context.Context, child *Context, in ir.Instr) error {
	st := c.state
	switch in.Mode {
	case ir.ModeMerge:
		c.Write(child.String())
	case ir.ModeDiscard:
	case ir.ModePush:
		st.stacks[in.Name] = append(st.stacks[in.Name], child.String())
	case ir.ModeDefine:
		st.sections[in.Name] = child.String()
	case ir.ModeSlot:
		c.componentScope().setSlot(in.Name, child.String())
	case ir.ModeComponent:
		props := make(map[string]any)
		if in.Expr != "" {
			v, err := child.Eval(ctx, in.Expr)
			if err != nil {
				return err
			}
			if props, err = bindings(v); err != nil {
				return err
			}
		}
		slots := make(map[string]any, len(child.slots))
		for k, v := range child.slots {
			slots[k] = v
		}
		props["slot"] = child.String()
		props["slots"] = slots
		return c.render(ctx, in.Name, props)
	default:
		return fmt.Errorf("unknown scope mode %v", in.Mode)
	}
	return nil
}

// render runs the template name in a clone of c and merges its output.
func (c *Context) render(ctx context.Context, name string, vars map[string]any) error {
	st := c.state
	if st.loader == nil {
		return fmt.Errorf("cannot render %s: no loader configured", name)
	}
	if st.depth >= st.maxDepth {
		return fmt.Errorf("cannot render %s: maximum render depth (%d) exceeded", name, st.maxDepth)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := st.loader.Load(ctx, name)
	if err != nil {
		return err
	}

	st.depth++
	defer func() { st.depth-- }()

	child := c.Clone(vars)
	if err := child.Run(ctx, p); err != nil {
		return err
	}
	c.Write(child.String())
	return nil
}

func bindings(v any) (map[string]any, error) {
	switch v := v.(type) {
	case nil:
		return make(map[string]any), nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a map of bindings, got %T", v)
}
