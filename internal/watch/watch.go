// Package watch reports batches of template changes under a directory.
package watch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for more events before
// reporting a batch.
const DefaultDebounce = 100 * time.Millisecond

// Watcher watches a directory tree for template changes
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	exts     map[string]bool
	debounce time.Duration
}

// Option configures a Watcher
type Option func(*Watcher)

// WithDebounce sets the debounce interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New watches root and every non-hidden directory below it. Only files
// whose extension is in exts are reported; an empty exts reports all.
func New(root string, exts []string, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		root:     root,
		exts:     make(map[string]bool, len(exts)),
		debounce: DefaultDebounce,
	}
	for _, ext := range exts {
		w.exts[strings.ToLower(ext)] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// Skip hidden directories and node_modules
		if info.IsDir() && path != root && (strings.HasPrefix(info.Name(), ".") || info.Name() == "node_modules") {
			return filepath.SkipDir
		}
		if info.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) relevant(path string) bool {
	if len(w.exts) == 0 {
		return true
	}
	return w.exts[strings.ToLower(filepath.Ext(path))]
}

// Run delivers debounced, sorted, de-duplicated batches of changed paths
// to handle until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context, handle func(paths []string)) error {
	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer
	defer debounce.Stop()

	pending := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						log.Println("Watcher error:", err)
					}
					continue
				}
			}
			if event.Op == fsnotify.Chmod || !w.relevant(event.Name) {
				continue
			}
			pending[event.Name] = true
			debounce.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Println("Watcher error:", err)

		case <-debounce.C:
			if len(pending) == 0 {
				continue
			}
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			pending = make(map[string]bool)
			handle(paths)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
