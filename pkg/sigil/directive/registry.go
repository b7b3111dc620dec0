package directive

import (
	"errors"
	"fmt"
	"sync"
)

var ErrSealed = errors.New("registry is sealed: directives must be registered before compilation")

// Registry maps names to directive definitions
type Registry struct {
	mu       sync.RWMutex
	exact    map[string]*Definition
	patterns []*Definition
	order    []*Definition
	// subs indexes sub-directive names to their parents
	subs   map[string][]*Definition
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		exact: make(map[string]*Definition),
		subs:  make(map[string][]*Definition),
	}
}

// Register adds definitions. It fails once the registry is sealed.
func (r *Registry) Register(defs ...*Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	for _, d := range defs {
		if err := validate(d); err != nil {
			return err
		}
		switch d.Match {
		case MatchExact:
			if _, dup := r.exact[d.Name]; dup {
				return fmt.Errorf("directive %q already registered", d.Name)
			}
			r.exact[d.Name] = d
		case MatchPattern:
			r.patterns = append(r.patterns, d)
		}
		r.order = append(r.order, d)
		r.indexSubs(d)
	}
	return nil
}

func (r *Registry) indexSubs(parent *Definition) {
	for _, sub := range parent.SubDirectives {
		r.subs[sub.Name] = append(r.subs[sub.Name], parent)
		r.indexSubs(sub)
	}
}

func validate(d *Definition) error {
	if d == nil || d.Name == "" {
		return errors.New("directive definition needs a name")
	}
	if d.Name == Terminator {
		return fmt.Errorf("%q is reserved", Terminator)
	}
	if d.Match == MatchPattern && d.Pattern == nil {
		return fmt.Errorf("pattern directive %q has no pattern", d.Name)
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(defs ...*Definition) {
	if err := r.Register(defs...); err != nil {
		panic(err)
	}
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup finds the definition for name. Exact names win over patterns;
// patterns are tried in registration order and must match all of name.
func (r *Registry) Lookup(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.exact[name]; ok {
		return d, true
	}
	for _, d := range r.patterns {
		// a pattern must match the whole name
		m := d.Pattern.FindStringSubmatch(name)
		if m == nil || m[0] != name {
			continue
		}
		if d.Resolve == nil {
			return d, true
		}
		resolved, err := d.Resolve(m)
		if err != nil || resolved == nil {
			continue
		}
		return resolved, true
	}
	return nil, false
}

// IsSubDirective reports whether name is declared as a sub-directive of any
// registered definition.
func (r *Registry) IsSubDirective(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[name]) > 0
}

// ParentsOf returns the names of the directives accepting sub-directive name.
func (r *Registry) ParentsOf(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for _, d := range r.subs[name] {
		names = append(names, d.Name)
	}
	return names
}

// Definitions returns all definitions in registration order.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Definition(nil), r.order...)
}
