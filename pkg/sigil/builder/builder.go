// Package builder partitions compiled templates into content-addressed
// artifacts, one per (file, channel), and records them in a manifest.
package builder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/recera/sigil/pkg/sigil/compiler"
	"github.com/recera/sigil/pkg/sigil/diag"
	"github.com/recera/sigil/pkg/sigil/directive"
	"github.com/recera/sigil/pkg/sigil/directives"
	"github.com/recera/sigil/pkg/sigil/resolve"
)

// DefaultManifestName is the manifest file written by Build
const DefaultManifestName = "manifest.json"

// ErrNoFile is returned when text is added before a file is selected
var ErrNoFile = errors.New("no file selected")

// Channel names an output partition and how its artifacts are named
type Channel struct {
	Name   string `json:"name" yaml:"name"`
	Prefix string `json:"prefix" yaml:"prefix"`
	Ext    string `json:"ext" yaml:"ext"`
}

// DefaultChannels returns the render program, client script and
// stylesheet channels.
func DefaultChannels() []Channel {
	return []Channel{
		{Name: compiler.PrimaryLoader, Prefix: "render", Ext: "json"},
		{Name: directives.ChannelClient, Prefix: "client", Ext: "js"},
		{Name: directives.ChannelStyle, Prefix: "style", Ext: "css"},
	}
}

// ArtifactName returns {prefix}-{base}.{hash8}.{ext}. It depends only on
// its arguments, so unchanged content keeps its name across builds.
func ArtifactName(ch Channel, base, content string) string {
	sum := sha256.Sum256([]byte(content))
	return fmt.Sprintf("%s-%s.%s.%s", ch.Prefix, base, hex.EncodeToString(sum[:])[:8], ch.Ext)
}

// Cache stores compiled units between builds. deps are the template paths
// a unit was compiled from.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte, deps []string) error
}

// cachedUnit is what AddFile stores in a Cache
type cachedUnit struct {
	Program  json.RawMessage   `json:"program"`
	Channels map[string]string `json:"channels,omitempty"`
	// Deps maps embedded template paths to the digest they had
	Deps map[string]string `json:"deps,omitempty"`
}

// Option configures a Builder
type Option func(*Builder)

// WithChannels replaces the channel table.
func WithChannels(channels ...Channel) Option {
	return func(b *Builder) { b.channels = channels }
}

// WithCompilerOptions sets the options AddFile compiles with.
func WithCompilerOptions(opts ...compiler.Option) Option {
	return func(b *Builder) { b.compilerOpts = append(b.compilerOpts, opts...) }
}

// WithResolver sets the resolver used for includes and for checking that
// cached units are still fresh.
func WithResolver(r resolve.Resolver) Option {
	return func(b *Builder) {
		b.resolver = r
		b.compilerOpts = append(b.compilerOpts, compiler.WithResolver(r))
	}
}

// WithCache makes AddFile reuse units compiled by earlier builds.
func WithCache(c Cache) Option {
	return func(b *Builder) { b.cache = c }
}

// WithRegistry sets the directive registry; defaults to the standard one.
func WithRegistry(r *directive.Registry) Option {
	return func(b *Builder) { b.registry = r }
}

// WithManifestName sets the manifest path passed to the writer.
func WithManifestName(name string) Option {
	return func(b *Builder) { b.manifestName = name }
}

// Builder collects output per (file, loader) bucket
type Builder struct {
	mu           sync.Mutex
	writer       Writer
	registry     *directive.Registry
	resolver     resolve.Resolver
	cache        Cache
	compilerOpts []compiler.Option
	channels     []Channel
	manifestName string

	files   []string
	buckets map[string]map[string]*strings.Builder
	current string
	loader  string
	err     error
}

// New creates a builder writing through w.
func New(w Writer, opts ...Option) *Builder {
	b := &Builder{
		writer:       w,
		channels:     DefaultChannels(),
		manifestName: DefaultManifestName,
		buckets:      make(map[string]map[string]*strings.Builder),
		loader:       compiler.PrimaryLoader,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = directives.Standard()
	}
	return b
}

// Select makes file the target of Add.
func (b *Builder) Select(file string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selectLocked(file)
}

func (b *Builder) selectLocked(file string) {
	if _, ok := b.buckets[file]; !ok {
		b.buckets[file] = make(map[string]*strings.Builder)
		b.files = append(b.files, file)
	}
	b.current = file
}

func (b *Builder) File() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Builder) Loader() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loader
}

// UseLoader selects the channel Add writes to and returns a func restoring
// the previous one.
func (b *Builder) UseLoader(name string) (restore func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.loader
	b.loader = name
	return func() {
		b.mu.Lock()
		b.loader = prev
		b.mu.Unlock()
	}
}

// Add appends text to the selected (file, loader) bucket.
func (b *Builder) Add(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(b.loader, text)
}

func (b *Builder) addLocked(loader, text string) {
	if b.current == "" {
		b.err = ErrNoFile
		return
	}
	bucket := b.buckets[b.current]
	sb, ok := bucket[loader]
	if !ok {
		sb = &strings.Builder{}
		bucket[loader] = sb
	}
	sb.WriteString(text)
}

// AddFile compiles src and routes the serialized program to the primary
// channel and every side channel to its own bucket. Directive errors are
// returned as a list; the file is still added.
func (b *Builder) AddFile(ctx context.Context, path, src string) (diag.List, error) {
	key := b.unitKey(path, src)
	if cu, ok := b.cached(ctx, key); ok {
		b.addUnit(path, string(cu.Program), cu.Channels)
		return nil, nil
	}

	u, err := compiler.CompileSource(ctx, b.registry, path, src, b.compilerOpts...)
	if err != nil {
		return nil, err
	}
	p, err := u.Program()
	if err != nil {
		return u.Errors, fmt.Errorf("failed to link %s: %w", path, err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return u.Errors, fmt.Errorf("failed to encode %s: %w", path, err)
	}
	b.addUnit(path, string(data), u.Channels)

	if b.cache != nil && len(u.Errors) == 0 {
		record, err := json.Marshal(cachedUnit{Program: data, Channels: u.Channels, Deps: u.Deps})
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", path, err)
		}
		deps := []string{path}
		for dep := range u.Deps {
			deps = append(deps, dep)
		}
		sort.Strings(deps[1:])
		if err := b.cache.Put(key, record, deps); err != nil {
			return nil, fmt.Errorf("failed to cache %s: %w", path, err)
		}
	}
	return u.Errors, nil
}

func (b *Builder) addUnit(path, program string, channels map[string]string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.current
	b.selectLocked(path)
	b.addLocked(compiler.PrimaryLoader, program)
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.addLocked(name, channels[name])
	}
	if prev != "" {
		b.current = prev
	}
}

// unitKey identifies a compile of src at path with the builder's directives
// and compiler options.
func (b *Builder) unitKey(path, src string) string {
	parts := []string{path, src, compiler.Fingerprint(b.compilerOpts...)}
	for _, d := range b.registry.Definitions() {
		parts = append(parts, d.Name)
	}
	return compiler.Digest(strings.Join(parts, "\x00"))
}

// cached returns the unit stored under key if every template it embedded
// still has the same source.
func (b *Builder) cached(ctx context.Context, key string) (cachedUnit, bool) {
	var cu cachedUnit
	if b.cache == nil {
		return cu, false
	}
	data, ok := b.cache.Get(key)
	if !ok || json.Unmarshal(data, &cu) != nil {
		return cu, false
	}
	if len(cu.Deps) > 0 && b.resolver == nil {
		return cu, false
	}
	for dep, digest := range cu.Deps {
		src, err := b.resolver.Resolve(ctx, dep)
		if err != nil || compiler.Digest(src) != digest {
			return cu, false
		}
	}
	return cu, true
}

func (b *Builder) channel(name string) Channel {
	for _, ch := range b.channels {
		if ch.Name == name {
			return ch
		}
	}
	return Channel{Name: name, Prefix: name, Ext: "txt"}
}

// Build writes every non-empty bucket and then the manifest.
func (b *Builder) Build(ctx context.Context) (Manifest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}

	manifest := make(Manifest, len(b.files))
	for _, file := range b.files {
		bucket := b.buckets[file]
		base := baseName(file)
		entry := Entry{Assets: []string{}}
		for _, loader := range b.loaderOrder(bucket) {
			content := bucket[loader].String()
			if content == "" {
				continue
			}
			name := ArtifactName(b.channel(loader), base, content)
			if err := b.writer.Write(ctx, name, content); err != nil {
				return nil, fmt.Errorf("failed to write artifact for %s: %w", file, err)
			}
			if loader == compiler.PrimaryLoader {
				entry.Entry = name
			} else {
				entry.Assets = append(entry.Assets, name)
			}
		}
		manifest[file] = entry
	}

	data, err := manifest.Marshal()
	if err != nil {
		return nil, err
	}
	if err := b.writer.Write(ctx, b.manifestName, string(data)); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	return manifest, nil
}

// loaderOrder lists bucket loaders in channel table order, then any others
// sorted by name.
func (b *Builder) loaderOrder(bucket map[string]*strings.Builder) []string {
	var out []string
	known := make(map[string]bool)
	for _, ch := range b.channels {
		known[ch.Name] = true
		if _, ok := bucket[ch.Name]; ok {
			out = append(out, ch.Name)
		}
	}
	var extra []string
	for name := range bucket {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

func baseName(file string) string {
	base := path.Base(strings.ReplaceAll(file, "\\", "/"))
	if ext := path.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}
