package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/recera/sigil/pkg/sigil/ir"
)

func link(t *testing.T, name string, instrs ...ir.Instr) *ir.Program {
	t.Helper()
	p, err := ir.Link(name, instrs)
	if err != nil {
		t.Fatalf("Link() failed: %v", err)
	}
	return p
}

func run(t *testing.T, c *Context, p *ir.Program) string {
	t.Helper()
	if err := c.Run(context.Background(), p); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	return c.String()
}

func TestContext_CloneIsolation(t *testing.T) {
	root := New(map[string]any{"name": "root", "shared": 1})
	root.Write("parent ")

	child := root.Clone(map[string]any{"name": "child"})
	child.Write("child output")
	child.Set("local", true)

	if root.String() != "parent " {
		t.Errorf("parent buffer = %q", root.String())
	}
	if v, _ := child.Lookup("shared"); v != 1 {
		t.Errorf("child lookup of parent binding = %v", v)
	}
	if v, _ := child.Lookup("name"); v != "child" {
		t.Errorf("child shadowing = %v", v)
	}
	if _, ok := root.Lookup("local"); ok {
		t.Error("child binding leaked into parent")
	}

	child.Clear()
	if child.String() != "" || root.String() != "parent " {
		t.Errorf("after clear: child %q, parent %q", child.String(), root.String())
	}
}

func TestContext_ClearRoot(t *testing.T) {
	c := New(nil)
	c.Write("x")
	c.state.stacks["scripts"] = []string{"a"}
	c.state.sections["title"] = "t"
	c.Clear()
	if c.Len() != 0 || len(c.Stack("scripts")) != 0 {
		t.Error("root clear kept render state")
	}
	if _, ok := c.Section("title"); ok {
		t.Error("root clear kept sections")
	}
}

func TestContext_Vars(t *testing.T) {
	root := New(map[string]any{"a": 1, "b": 2})
	child := root.Clone(map[string]any{"b": 3})
	vars := child.Vars()
	if vars["a"] != 1 || vars["b"] != 3 {
		t.Errorf("Vars() = %v", vars)
	}
}

func TestRun_TextAndEmit(t *testing.T) {
	p := link(t, "t",
		ir.Text("Hello "),
		ir.Emit("name", true),
		ir.Text(" "),
		ir.Emit("html", false),
		ir.Emit("html", true),
	)
	got := run(t, New(map[string]any{"name": "World", "html": "<b>"}), p)
	if got != "Hello World <b>&lt;b&gt;" {
		t.Errorf("output = %q", got)
	}
}

func TestRun_Conditional(t *testing.T) {
	// if(false) A elseif(true) B else C
	p := link(t, "t",
		ir.JumpIfNot("false", 2),
		ir.Text(" A "),
		ir.Jump(1),
		ir.Label(2),
		ir.JumpIfNot("true", 3),
		ir.Text(" B "),
		ir.Jump(1),
		ir.Label(3),
		ir.Text(" C "),
		ir.Label(1),
	)
	if got := run(t, New(nil), p); got != " B " {
		t.Errorf("output = %q", got)
	}
}

func eachProgram(t *testing.T) *ir.Program {
	return link(t, "each",
		ir.Enter(),
		ir.Instr{Op: ir.OpRange, Expr: "items", Name: "item", Key: "i", Label: 3},
		ir.Label(1),
		ir.Emit("i", false),
		ir.Text("="),
		ir.Emit("item", false),
		ir.Emit("loop.last ? '' : ','", false),
		ir.Instr{Op: ir.OpNext, Label: 1},
		ir.Jump(2),
		ir.Label(3),
		ir.Text("none"),
		ir.Label(2),
		ir.Exit(ir.ModeMerge, ""),
	)
}

func TestRun_Range(t *testing.T) {
	tests := []struct {
		name  string
		items any
		want  string
	}{
		{name: "slice", items: []any{"a", "b", "c"}, want: "0=a,1=b,2=c"},
		{name: "strings", items: []string{"x"}, want: "0=x"},
		{name: "map", items: map[string]any{"b": 2, "a": 1}, want: "a=1,b=2"},
		{name: "empty", items: []any{}, want: "none"},
		{name: "nil", items: nil, want: "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(map[string]any{"items": tt.items})
			if got := run(t, c, eachProgram(t)); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
			if _, ok := c.Lookup("item"); ok {
				t.Error("loop variable leaked out of its scope")
			}
		})
	}
}

func TestRun_SetAndBind(t *testing.T) {
	p := link(t, "t",
		ir.Instr{Op: ir.OpSet, Name: "x", Expr: "1 + 2"},
		ir.Enter(),
		ir.Instr{Op: ir.OpBind, Expr: "{y: x * 2}"},
		ir.Emit("y", false),
		ir.Exit(ir.ModeMerge, ""),
		ir.Emit("x", false),
	)
	c := New(nil)
	if got := run(t, c, p); got != "63" {
		t.Errorf("output = %q", got)
	}
	if _, ok := c.Lookup("y"); ok {
		t.Error("bound value leaked out of scope")
	}
}

func TestRun_StacksAndSections(t *testing.T) {
	p := link(t, "t",
		ir.Text("<head>"),
		ir.Instr{Op: ir.OpPlaceholder, Key: "stack", Name: "scripts"},
		ir.Text("</head><title>"),
		ir.Instr{Op: ir.OpPlaceholder, Key: "section", Name: "title", Text: "Default"},
		ir.Instr{Op: ir.OpPlaceholder, Key: "section", Name: "footer", Text: "(c)"},
		ir.Text("</title>"),
		ir.Enter(), ir.Text("<script a>"), ir.Exit(ir.ModePush, "scripts"),
		ir.Enter(), ir.Text("<script b>"), ir.Exit(ir.ModePush, "scripts"),
		ir.Enter(), ir.Text("Home"), ir.Exit(ir.ModeDefine, "title"),
		ir.Enter(), ir.Text("discarded"), ir.Exit(ir.ModeDiscard, ""),
		ir.Instr{Op: ir.OpResolve},
	)
	want := "<head><script a><script b></head><title>Home(c)</title>"
	if got := run(t, New(nil), p); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRun_ResolveOnlyAtRoot(t *testing.T) {
	c := New(nil).Clone(nil)
	c.placeholder("stack", "x", "")
	c.Resolve()
	if !strings.Contains(c.String(), placeholderMark) {
		t.Error("nested context resolved placeholders")
	}
}

func TestRun_ResolvesSubRenderPlaceholders(t *testing.T) {
	head := link(t, "head",
		ir.Text("<title>"),
		ir.Instr{Op: ir.OpPlaceholder, Key: "section", Name: "title", Text: "Home"},
		ir.Text("</title>"),
		ir.Instr{Op: ir.OpPlaceholder, Key: "stack", Name: "scripts"},
	)
	page := link(t, "page",
		ir.Text("A "),
		ir.Instr{Op: ir.OpRender, Name: "head"},
		ir.Enter(), ir.Text("<s>"), ir.Exit(ir.ModePush, "scripts"),
		ir.Text(" B"),
	)
	loader := memoryLoader(t, map[string]*ir.Program{"head": head}, CacheAlways)
	got := run(t, New(nil, WithLoader(loader)), page)
	if want := "A <title>Home</title><s> B"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func memoryLoader(t *testing.T, programs map[string]*ir.Program, policy Policy) *Loader {
	return NewLoader(func(ctx context.Context, path string) (*ir.Program, error) {
		p, ok := programs[path]
		if !ok {
			return nil, fmt.Errorf("no template %s", path)
		}
		return p, nil
	}, policy)
}

func TestRun_Component(t *testing.T) {
	card := link(t, "card",
		ir.Text("<div class=\""),
		ir.Emit("kind", true),
		ir.Text("\"><h1>"),
		ir.Emit("slots.title", false),
		ir.Text("</h1>"),
		ir.Emit("slot", false),
		ir.Text("</div>"),
	)
	page := link(t, "page",
		ir.Enter(),
		ir.Text("body "),
		ir.Emit("user", false),
		ir.Enter(), ir.Text("Title"), ir.Exit(ir.ModeSlot, "title"),
		ir.Instr{Op: ir.OpExitScope, Mode: ir.ModeComponent, Name: "card", Expr: "{kind: 'info'}"},
	)
	loader := memoryLoader(t, map[string]*ir.Program{"card": card}, CacheAlways)
	got := run(t, New(map[string]any{"user": "ann"}, WithLoader(loader)), page)
	if want := `<div class="info"><h1>Title</h1>body ann</div>`; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestRun_RenderDepth(t *testing.T) {
	self := link(t, "self", ir.Instr{Op: ir.OpRender, Name: "self"})
	loader := memoryLoader(t, map[string]*ir.Program{"self": self}, CacheAlways)
	err := New(nil, WithLoader(loader), WithMaxDepth(4)).Run(context.Background(), self)
	if err == nil || !strings.Contains(err.Error(), "maximum render depth") {
		t.Errorf("Run() error = %v", err)
	}
}

func TestRun_EvalError(t *testing.T) {
	p := link(t, "bad", ir.Emit("1 +", false))
	err := New(nil).Run(context.Background(), p)
	var ee *execError
	if !errors.As(err, &ee) || ee.program != "bad" || ee.pc != 0 {
		t.Errorf("Run() error = %v", err)
	}
}

func TestLoader_Policy(t *testing.T) {
	progs := map[string]*ir.Program{"a": link(t, "a", ir.Text("A"))}
	ctx := context.Background()

	l := memoryLoader(t, progs, CacheAlways)
	for i := 0; i < 3; i++ {
		if _, err := l.Load(ctx, "a"); err != nil {
			t.Fatal(err)
		}
	}
	if s := l.Stats(); s.Hits != 2 || s.Misses != 1 || s.Compiles != 1 {
		t.Errorf("CacheAlways stats = %+v", s)
	}
	l.Invalidate("a")
	l.Load(ctx, "a")
	if s := l.Stats(); s.Compiles != 2 {
		t.Errorf("compiles after invalidate = %d", s.Compiles)
	}

	l = memoryLoader(t, progs, CacheNever)
	for i := 0; i < 3; i++ {
		l.Load(ctx, "a")
	}
	if s := l.Stats(); s.Hits != 0 || s.Compiles != 3 || l.Len() != 0 {
		t.Errorf("CacheNever stats = %+v, len %d", s, l.Len())
	}

	if _, err := l.Load(ctx, "missing"); err == nil {
		t.Error("Load(missing) succeeded")
	}
}

func TestLoader_Concurrent(t *testing.T) {
	progs := map[string]*ir.Program{
		"a": link(t, "a", ir.Text("A")),
		"b": link(t, "b", ir.Text("B")),
	}
	l := memoryLoader(t, progs, CacheAlways)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "a"
			if i%2 == 1 {
				name = "b"
			}
			p, err := l.Load(context.Background(), name)
			if err != nil || p.Name != name {
				t.Errorf("Load(%s) = %v, %v", name, p, err)
			}
		}(i)
	}
	wg.Wait()

	if l.Len() != 2 {
		t.Errorf("cached %d programs, want 2", l.Len())
	}
	if s := l.Stats(); s.Hits+s.Misses != 50 {
		t.Errorf("stats = %+v", s)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": CacheAlways, "always": CacheAlways, "never": CacheNever} {
		if got, err := ParsePolicy(in); err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("sometimes"); err == nil {
		t.Error("ParsePolicy accepted an unknown policy")
	}
}

func TestTruthyAndStringify(t *testing.T) {
	truthy := []any{true, 1, 2.5, "x", []any{1}, map[string]any{"a": 1}, int64(3)}
	falsy := []any{nil, false, 0, 0.0, "", []any{}, map[string]any{}, uint(0)}
	for _, v := range truthy {
		if !Truthy(v) {
			t.Errorf("Truthy(%#v) = false", v)
		}
	}
	for _, v := range falsy {
		if Truthy(v) {
			t.Errorf("Truthy(%#v) = true", v)
		}
	}
	for v, want := range map[any]string{nil: "", 1.5: "1.5", 3.0: "3", 42: "42", "s": "s", true: "true"} {
		if got := Stringify(v); got != want {
			t.Errorf("Stringify(%#v) = %q, want %q", v, got, want)
		}
	}
}

func TestEscape(t *testing.T) {
	if got := EscapeHTML(`<a href="x">&'`); got != "&lt;a href=&#34;x&#34;&gt;&amp;&#39;" {
		t.Errorf("EscapeHTML = %q", got)
	}
	if got := EscapeString("it's \"q\"\n"); got != `it\'s \"q\"\u000A` {
		t.Errorf("EscapeString = %q", got)
	}
}
