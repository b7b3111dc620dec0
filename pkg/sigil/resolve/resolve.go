// Package resolve provides template resolvers: the seam through which the
// compiler and runtime load template text by path.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
)

// ErrNotFound is returned when no template exists at a path
var ErrNotFound = errors.New("template not found")

// Resolver loads template text by logical path
type Resolver interface {
	Resolve(ctx context.Context, path string) (string, error)
}

// Func adapts a function to Resolver
type Func func(ctx context.Context, path string) (string, error)

func (f Func) Resolve(ctx context.Context, path string) (string, error) { return f(ctx, path) }

// Dir resolves paths inside a file system, trying each extension in turn
// when the path has none.
type Dir struct {
	FS         fs.FS
	Extensions []string
}

// NewDir creates a resolver rooted at an OS directory.
func NewDir(root string, extensions ...string) *Dir {
	return &Dir{FS: os.DirFS(root), Extensions: extensions}
}

func (d *Dir) Resolve(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	candidates := []string{name}
	if path.Ext(name) == "" {
		for _, ext := range d.Extensions {
			candidates = append(candidates, name+ext)
		}
	}
	for _, c := range candidates {
		data, err := fs.ReadFile(d.FS, c)
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read template %s: %w", c, err)
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Map is an in-memory resolver, safe for concurrent use
type Map struct {
	mu    sync.RWMutex
	files map[string]string
}

// NewMap creates a Map resolver holding files.
func NewMap(files map[string]string) *Map {
	m := &Map{files: make(map[string]string, len(files))}
	for k, v := range files {
		m.files[k] = v
	}
	return m
}

// Set adds or replaces a template.
func (m *Map) Set(path, src string) {
	m.mu.Lock()
	m.files[path] = src
	m.mu.Unlock()
}

func (m *Map) Resolve(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.files[path]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return src, nil
}
