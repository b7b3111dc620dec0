package directives_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/recera/sigil/pkg/sigil"
	"github.com/recera/sigil/pkg/sigil/diag"
	"github.com/recera/sigil/pkg/sigil/directives"
	"github.com/recera/sigil/pkg/sigil/resolve"
)

func engine(files map[string]string) *sigil.Engine {
	return sigil.New(sigil.Options{Resolver: resolve.NewMap(files)})
}

func render(t *testing.T, e *sigil.Engine, src string, data map[string]any) string {
	t.Helper()
	out, err := e.RenderString(context.Background(), "test.sg", src, data)
	if err != nil {
		t.Fatalf("RenderString(%q) failed: %v", src, err)
	}
	return out
}

func TestConditionals(t *testing.T) {
	tests := []struct {
		name string
		src  string
		data map[string]any
		want string
	}{
		{name: "chain", src: "@if(false) A @elseif(true) B @else C @end", want: " B "},
		{name: "first branch", src: "@if(true) A @elseif(true) B @else C @end", want: " A "},
		{name: "else branch", src: "@if(false) A @elseif(false) B @else C @end", want: " C "},
		{name: "no match", src: "[@if(false)A@elseif(false)B@end]", want: "[]"},
		{name: "plain if", src: "@if(user)Hi {{ user }}@end!", data: map[string]any{"user": "ann"}, want: "Hi ann!"},
		{name: "falsy binding", src: "@if(items)has@else none@end", data: map[string]any{"items": []any{}}, want: " none"},
		{name: "nested", src: "@if(a)@if(b)ab@else a@end@else x@end", data: map[string]any{"a": true, "b": false}, want: " a"},
		{name: "auto-closed", src: "@if(true) open", want: " open"},
	}
	e := engine(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, e, tt.src, tt.data); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConditionals_DuplicateElse(t *testing.T) {
	e := engine(nil)
	_, err := e.RenderString(context.Background(), "t", "@if(false)A@else B@else C@end", nil)
	var list diag.List
	if !errors.As(err, &list) || !list.Has(diag.KindHook) {
		t.Errorf("error = %v, want hook error for duplicate else", err)
	}
}

func TestSwitch(t *testing.T) {
	src := "@switch(status) ignored @case('open')O@case('closed')C@default D@end"
	e := engine(nil)
	for status, want := range map[string]string{"open": "O", "closed": "C", "other": " D"} {
		if got := render(t, e, src, map[string]any{"status": status}); got != want {
			t.Errorf("status %s: output = %q, want %q", status, got, want)
		}
	}
}

func TestEach(t *testing.T) {
	tests := []struct {
		name string
		src  string
		data map[string]any
		want string
	}{
		{
			name: "items",
			src:  "@each(posts, 'post'){{ loop.index }}:{{ post }}@if(!loop.last),@end@end",
			data: map[string]any{"posts": []any{"a", "b"}},
			want: "0:a,1:b",
		},
		{
			name: "empty",
			src:  "@each(posts)x@empty nothing@end",
			data: map[string]any{"posts": []any{}},
			want: " nothing",
		},
		{
			name: "map with key",
			src:  "@each(m, 'v', 'k'){{ k }}={{ v }};@end",
			data: map[string]any{"m": map[string]any{"b": 2, "a": 1}},
			want: "a=1;b=2;",
		},
		{
			name: "default names",
			src:  "@each(3){{ key }}{{ item }}@end",
			want: "001122",
		},
		{
			name: "nested",
			src:  "@each(rows, 'row')[@each(row, 'cell'){{ cell }}@end]@end",
			data: map[string]any{"rows": []any{[]any{1, 2}, []any{3}}},
			want: "[12][3]",
		},
	}
	e := engine(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := render(t, e, tt.src, tt.data); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSet(t *testing.T) {
	e := engine(nil)
	if got := render(t, e, "@set('total', price * qty){{ total }}", map[string]any{"price": 3, "qty": 4}); got != "12" {
		t.Errorf("output = %q", got)
	}
	_, err := e.RenderString(context.Background(), "t", "@set('not valid', 1)", nil)
	if err == nil {
		t.Error("invalid variable name accepted")
	}
}

func TestInclude(t *testing.T) {
	e := engine(map[string]string{
		"nav":   "<nav>{{ active }}</nav>",
		"outer": "[@include('nav')]",
		"loop":  "@include('loop')",
	})

	if got := render(t, e, "@include('nav', {active: 'home'})", nil); got != "<nav>home</nav>" {
		t.Errorf("include with = %q", got)
	}
	if got := render(t, e, "@include('outer')", map[string]any{"active": "x"}); got != "[<nav>x</nav>]" {
		t.Errorf("nested include = %q", got)
	}
	if got := render(t, e, "@include('<b>inline</b>', nil, true)", nil); got != "<b>inline</b>" {
		t.Errorf("fallback include = %q", got)
	}

	out, err := e.RenderString(context.Background(), "t", "a@include('missing')b", nil)
	var list diag.List
	if !errors.As(err, &list) || !errors.Is(list[0], resolve.ErrNotFound) {
		t.Errorf("missing include error = %v", err)
	}
	if out != "ab" {
		t.Errorf("output with failed include = %q", out)
	}

	_, err = e.RenderString(context.Background(), "t", "@include('loop')", nil)
	if err == nil || !strings.Contains(err.Error(), "include cycle") {
		t.Errorf("cycle error = %v", err)
	}
}

func TestExtends(t *testing.T) {
	e := engine(map[string]string{
		"layout": "<title>@yield('title', 'Site')</title><main>@yield('content')</main>@yield('footer', '(c)')",
		"page":   "@extends('layout') ignored @section('title')Home@end @section('content')<p>{{ msg }}</p>@end",
	})
	got, err := e.Render(context.Background(), "page", map[string]any{"msg": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if want := "<title>Home</title><main><p>hi</p></main>(c)"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestPushStack(t *testing.T) {
	e := engine(map[string]string{
		"layout": "<head>@stack('scripts')</head>@yield('body')",
		"page":   "@extends('layout')@push('scripts')<a>@end@section('body')B@push('scripts')<b>@end@end",
	})
	got, err := e.Render(context.Background(), "page", nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := "<head><a><b></head>B"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	if got := render(t, e, "@push('x')1@end@push('x')2@end[@stack('x')]", nil); got != "[12]" {
		t.Errorf("same-file stack = %q", got)
	}

	_, err = e.RenderString(context.Background(), "t", "@stack('x')@stack('x')", nil)
	if err == nil || !strings.Contains(err.Error(), "already rendered") {
		t.Errorf("duplicate stack error = %v", err)
	}
}

func TestComponent(t *testing.T) {
	e := engine(map[string]string{
		"card": `<div class="{{ kind }}"><h1>{!! slots.title !!}</h1>{!! slot !!}</div>`,
	})
	src := "@component('card', {kind: 'note'})body {{ n }}@slot('title')<i>T</i>@end@end"
	got := render(t, e, src, map[string]any{"n": 1})
	if want := `<div class="note"><h1><i>T</i></h1>body 1</div>`; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	_, err := e.RenderString(context.Background(), "t", "@slot('x')y@end", nil)
	if err == nil || !strings.Contains(err.Error(), "inside @component") {
		t.Errorf("slot outside component error = %v", err)
	}

	_, err = e.RenderString(context.Background(), "t", "@component('card')x@end@slot('x')y@end", nil)
	if err == nil || !strings.Contains(err.Error(), "inside @component") {
		t.Errorf("slot after closed component error = %v", err)
	}
}

func TestComponent_SlotInsideBlock(t *testing.T) {
	e := engine(map[string]string{
		"card": `<div class="{{ kind }}"><h1>{!! slots.title !!}</h1>{!! slot !!}</div>`,
	})
	src := "@component('card', {kind: 'k'})@each([1], 'i')@slot('title')T{{ i }}@end@end body@end"
	got := render(t, e, src, nil)
	if want := `<div class="k"><h1>T1</h1> body</div>`; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestClientAndStyle(t *testing.T) {
	e := engine(nil)
	u, err := e.Compile(context.Background(), "page", "<p>hi</p>@client({wrap: true}) init({{ id }}) @end@style('print') nav { display: none } @end")
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Errors) != 0 {
		t.Fatalf("errors = %v", u.Errors)
	}
	if want := "(function () {\ninit(id)\n})();\n"; u.Channels[directives.ChannelClient] != want {
		t.Errorf("client = %q, want %q", u.Channels[directives.ChannelClient], want)
	}
	if want := "@media print {\nnav { display: none }\n}\n"; u.Channels[directives.ChannelStyle] != want {
		t.Errorf("style = %q, want %q", u.Channels[directives.ChannelStyle], want)
	}

	got := render(t, e, "<p>hi</p>@client go() @end", nil)
	if got != "<p>hi</p>" {
		t.Errorf("rendered output = %q", got)
	}
}

func TestClientAndStyle_LiteralBodies(t *testing.T) {
	e := engine(nil)
	src := "a@client @decorate class X {} @if(true) @end" +
		"@style() @media print { a { color: red } } @font-face { font-family: x } @end b"
	u, err := e.Compile(context.Background(), "page", src)
	if err != nil {
		t.Fatal(err)
	}
	if len(u.Errors) != 0 {
		t.Fatalf("errors = %v", u.Errors)
	}
	if want := "@decorate class X {} @if(true)\n"; u.Channels[directives.ChannelClient] != want {
		t.Errorf("client = %q, want %q", u.Channels[directives.ChannelClient], want)
	}
	if want := "@media print { a { color: red } } @font-face { font-family: x }\n"; u.Channels[directives.ChannelStyle] != want {
		t.Errorf("style = %q, want %q", u.Channels[directives.ChannelStyle], want)
	}
	if got := render(t, e, src, nil); got != "a b" {
		t.Errorf("rendered output = %q", got)
	}
}

func TestStandard_Schemas(t *testing.T) {
	r := directives.Standard()
	var names []string
	for _, s := range r.Schemas() {
		names = append(names, s.Name)
	}
	want := "if,switch,each,set,include,extends,section,yield,push,stack,component,slot,client,style"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("schemas = %s", got)
	}
}

func TestPrefetchKeepsOrder(t *testing.T) {
	e := sigil.New(sigil.Options{
		Resolver:    resolve.NewMap(map[string]string{"a": "A", "b": "B", "c": "C"}),
		Concurrency: 3,
	})
	got := render(t, e, "@include('c')@include('a')@include('b')@include('a')", nil)
	if got != "CABA" {
		t.Errorf("output = %q", got)
	}
}
