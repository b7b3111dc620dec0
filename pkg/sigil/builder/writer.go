package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Writer persists generated artifacts
type Writer interface {
	Write(ctx context.Context, path, content string) error
}

// DirWriter writes artifacts below a directory
type DirWriter struct {
	Dir string
}

func (w *DirWriter) Write(ctx context.Context, path, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := filepath.Join(w.Dir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// MemoryWriter keeps artifacts in memory
type MemoryWriter struct {
	mu    sync.RWMutex
	files map[string]string
}

func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{files: make(map[string]string)}
}

func (w *MemoryWriter) Write(ctx context.Context, path, content string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[path] = content
	return nil
}

// Get returns the content written at path.
func (w *MemoryWriter) Get(path string) (string, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.files[path]
	return s, ok
}

// Paths returns every written path, sorted.
func (w *MemoryWriter) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.files))
	for p := range w.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
