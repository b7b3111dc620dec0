package runtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/recera/sigil/pkg/sigil/ir"
)

// Policy decides whether compiled sub-templates are reused
type Policy int

const (
	// CacheAlways compiles each path once and reuses the program
	CacheAlways Policy = iota
	// CacheNever recompiles on every load, for development
	CacheNever
)

func (p Policy) String() string {
	if p == CacheNever {
		return "never"
	}
	return "always"
}

// ParsePolicy parses "always" or "never".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "always":
		return CacheAlways, nil
	case "never":
		return CacheNever, nil
	}
	return CacheAlways, fmt.Errorf("unknown cache policy %q", s)
}

// CompileFunc compiles the template at path into a program
type CompileFunc func(ctx context.Context, path string) (*ir.Program, error)

// LoaderStats tracks loader cache performance
type LoaderStats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Compiles int64 `json:"compiles"`
}

// Loader is the caching sub-template loader shared by renders. Concurrent
// loads of an uncached path may both compile it; the cache write is atomic
// and the last writer wins.
type Loader struct {
	mu       sync.RWMutex
	compile  CompileFunc
	policy   Policy
	programs map[string]*ir.Program

	hits, misses, compiles atomic.Int64
}

// NewLoader creates a loader that compiles with compile.
func NewLoader(compile CompileFunc, policy Policy) *Loader {
	return &Loader{
		compile:  compile,
		policy:   policy,
		programs: make(map[string]*ir.Program),
	}
}

func (l *Loader) Policy() Policy { return l.policy }

// Load returns the program for path, compiling it on a cache miss.
func (l *Loader) Load(ctx context.Context, path string) (*ir.Program, error) {
	if l.policy == CacheAlways {
		l.mu.RLock()
		p, ok := l.programs[path]
		l.mu.RUnlock()
		if ok {
			l.hits.Add(1)
			return p, nil
		}
	}
	l.misses.Add(1)

	p, err := l.compile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	l.compiles.Add(1)

	if l.policy == CacheAlways {
		l.mu.Lock()
		l.programs[path] = p
		l.mu.Unlock()
	}
	return p, nil
}

// Invalidate drops the cached program for path.
func (l *Loader) Invalidate(path string) {
	l.mu.Lock()
	delete(l.programs, path)
	l.mu.Unlock()
}

// Reset drops every cached program and zeroes the stats.
func (l *Loader) Reset() {
	l.mu.Lock()
	l.programs = make(map[string]*ir.Program)
	l.mu.Unlock()
	l.hits.Store(0)
	l.misses.Store(0)
	l.compiles.Store(0)
}

// Len returns the number of cached programs.
func (l *Loader) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.programs)
}

// Stats returns a snapshot of the loader counters.
func (l *Loader) Stats() LoaderStats {
	return LoaderStats{
		Hits:     l.hits.Load(),
		Misses:   l.misses.Load(),
		Compiles: l.compiles.Load(),
	}
}
