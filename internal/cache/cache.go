// Package cache keeps compiled template units on disk so unchanged
// templates are not recompiled between builds.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const indexVersion = "sigil-units-1"

// Cache is a size-bounded, least-recently-used store of compiled units
type Cache struct {
	mu      sync.Mutex
	dir     string
	index   *Index
	maxSize int64 // Maximum cache size in bytes
	maxAge  time.Duration
	stats   Stats
}

// Index tracks all cached units
type Index struct {
	Version string            `json:"version"`
	Entries map[string]*Entry `json:"entries"`
	Updated time.Time         `json:"updated"`
}

// Entry represents a single cached unit
type Entry struct {
	Key        string    `json:"key"`
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	Created    time.Time `json:"created"`
	LastAccess time.Time `json:"last_access"`
	// Template paths the unit was compiled from
	Dependencies []string `json:"dependencies,omitempty"`
}

// Stats tracks cache performance metrics
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	TotalSize  int64 `json:"total_size"`
	EntryCount int   `json:"entry_count"`
}

// Config holds cache configuration
type Config struct {
	Dir     string        // Cache directory (default: $HOME/.cache/sigil)
	MaxSize int64         // Maximum cache size in bytes (default: 64MB)
	MaxAge  time.Duration // Maximum age for entries (default: 7 days)
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		Dir:     filepath.Join(homeDir, ".cache", "sigil"),
		MaxSize: 64 << 20,
		MaxAge:  7 * 24 * time.Hour,
	}
}

func newIndex() *Index {
	return &Index{
		Version: indexVersion,
		Entries: make(map[string]*Entry),
		Updated: time.Now(),
	}
}

// New opens the cache in config.Dir, creating it if needed.
func New(config Config) (*Cache, error) {
	if config.Dir == "" {
		config.Dir = DefaultConfig().Dir
	}
	if err := os.MkdirAll(filepath.Join(config.Dir, "units"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &Cache{
		dir:     config.Dir,
		maxSize: config.MaxSize,
		maxAge:  config.MaxAge,
		index:   newIndex(),
	}
	// A missing, corrupted or outdated index starts fresh
	if err := c.loadIndex(); err != nil || c.index.Version != indexVersion {
		c.index = newIndex()
		c.stats = Stats{}
	}
	return c, nil
}

// Get returns the unit stored under key.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index.Entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if c.maxAge > 0 && time.Since(entry.Created) > c.maxAge {
		c.deleteLocked(key)
		c.stats.Misses++
		return nil, false
	}
	data, err := os.ReadFile(filepath.Join(c.dir, entry.File))
	if err != nil {
		// Unit file is missing or unreadable
		c.deleteLocked(key)
		c.stats.Misses++
		return nil, false
	}
	entry.LastAccess = time.Now()
	c.stats.Hits++
	return data, true
}

// Put stores data under key. deps are the template paths the unit was
// compiled from, used by InvalidateByDependency.
func (c *Cache) Put(key string, data []byte, deps []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := int64(len(data))
	if c.maxSize > 0 && size > c.maxSize {
		return fmt.Errorf("unit of %d bytes exceeds cache size %d", size, c.maxSize)
	}
	if _, ok := c.index.Entries[key]; ok {
		c.deleteLocked(key)
	}
	c.evictLocked(size)

	file := filepath.Join("units", sanitizeKey(key)+".json")
	if err := os.WriteFile(filepath.Join(c.dir, file), data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	now := time.Now()
	c.index.Entries[key] = &Entry{
		Key:          key,
		File:         file,
		Size:         size,
		Created:      now,
		LastAccess:   now,
		Dependencies: deps,
	}
	c.index.Updated = now
	c.stats.TotalSize += size
	c.stats.EntryCount = len(c.index.Entries)
	return c.saveIndexLocked()
}

// Delete removes an entry from the cache
func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.deleteLocked(key) {
		return nil
	}
	return c.saveIndexLocked()
}

func (c *Cache) deleteLocked(key string) bool {
	entry, ok := c.index.Entries[key]
	if !ok {
		return false
	}
	os.Remove(filepath.Join(c.dir, entry.File))
	delete(c.index.Entries, key)
	c.stats.TotalSize -= entry.Size
	c.stats.EntryCount = len(c.index.Entries)
	c.index.Updated = time.Now()
	return true
}

// InvalidateByDependency removes units compiled from path and returns how
// many were removed.
func (c *Cache) InvalidateByDependency(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []string
	for key, entry := range c.index.Entries {
		for _, d := range entry.Dependencies {
			if d == path {
				stale = append(stale, key)
				break
			}
		}
	}
	for _, key := range stale {
		c.deleteLocked(key)
	}
	if len(stale) > 0 {
		c.saveIndexLocked()
	}
	return len(stale)
}

// Clear removes all cached units
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	units := filepath.Join(c.dir, "units")
	if err := os.RemoveAll(units); err != nil {
		return fmt.Errorf("failed to clear units: %w", err)
	}
	if err := os.MkdirAll(units, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	c.index = newIndex()
	c.stats = Stats{}
	return c.saveIndexLocked()
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close saves the index.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveIndexLocked()
}

// evictLocked drops least recently used entries until needed more bytes fit.
func (c *Cache) evictLocked(needed int64) {
	if c.maxSize <= 0 {
		return
	}
	for c.stats.TotalSize+needed > c.maxSize && len(c.index.Entries) > 0 {
		var evictKey string
		var oldest time.Time
		for key, entry := range c.index.Entries {
			if evictKey == "" || entry.LastAccess.Before(oldest) {
				evictKey = key
				oldest = entry.LastAccess
			}
		}
		c.deleteLocked(evictKey)
		c.stats.Evictions++
	}
}

func (c *Cache) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(c.dir, "index.json"))
	if err != nil {
		return err
	}
	var index Index
	if err := json.Unmarshal(data, &index); err != nil {
		return err
	}
	if index.Entries == nil {
		index.Entries = make(map[string]*Entry)
	}
	c.index = &index

	var total int64
	for _, entry := range c.index.Entries {
		total += entry.Size
	}
	c.stats.TotalSize = total
	c.stats.EntryCount = len(c.index.Entries)
	return nil
}

func (c *Cache) saveIndexLocked() error {
	data, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, "index.json"), data, 0644)
}

// sanitizeKey keeps keys usable as file names.
func sanitizeKey(key string) string {
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key) && len(out) < 100; i++ {
		ch := key[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '.':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
