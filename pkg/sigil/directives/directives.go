// Package directives is the standard directive library: conditionals,
// loops, includes, layouts, stacks, components and asset blocks.
package directives

import (
	"fmt"
	"regexp"

	"github.com/recera/sigil/pkg/sigil/directive"
	"github.com/recera/sigil/pkg/sigil/ir"
)

// Side channels written by asset directives
const (
	ChannelClient = "client"
	ChannelStyle  = "style"
)

// Placeholder kinds resolved at the end of a render
const (
	placeholderSection = "section"
	placeholderStack   = "stack"
)

// resolvedKey marks that a unit already emits OpResolve
const resolvedKey = "sigil.resolve"

// All returns fresh definitions of every standard directive. Layout
// directives come before yield and stack so the layout renders before
// placeholders are resolved.
func All() []*directive.Definition {
	return []*directive.Definition{
		ifDirective(),
		switchDirective(),
		eachDirective(),
		setDirective(),
		includeDirective(),
		extendsDirective(),
		sectionDirective(),
		yieldDirective(),
		pushDirective(),
		stackDirective(),
		componentDirective(),
		slotDirective(),
		clientDirective(),
		styleDirective(),
	}
}

// Register adds the standard directives to r.
func Register(r *directive.Registry) error {
	return r.Register(All()...)
}

// Standard returns a registry holding the standard directives.
func Standard() *directive.Registry {
	r := directive.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkIdent(kind, name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%s %q is not a valid identifier", kind, name)
	}
	return nil
}

// ensureResolve emits OpResolve once per unit.
func ensureResolve(c directive.Compiler, st *directive.UnitState) {
	if _, ok := st.Get(resolvedKey); ok {
		return
	}
	st.Set(resolvedKey, true)
	c.Emit(ir.Instr{Op: ir.OpResolve})
}

func label(call *directive.Call, key string) int {
	n, _ := call.Data[key].(int)
	return n
}
