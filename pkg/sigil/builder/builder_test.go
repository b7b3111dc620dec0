package builder

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/recera/sigil/pkg/sigil/compiler"
	"github.com/recera/sigil/pkg/sigil/diag"
	"github.com/recera/sigil/pkg/sigil/ir"
	"github.com/recera/sigil/pkg/sigil/parser"
	"github.com/recera/sigil/pkg/sigil/resolve"
)

var artifactPattern = regexp.MustCompile(`^([a-z]+)-([a-z]+)\.([0-9a-f]{8})\.([a-z]+)$`)

func TestArtifactName(t *testing.T) {
	ch := Channel{Name: "client", Prefix: "client", Ext: "js"}
	a := ArtifactName(ch, "home", "console.log(1)")
	if a != ArtifactName(ch, "home", "console.log(1)") {
		t.Error("same content produced different names")
	}
	if !artifactPattern.MatchString(a) {
		t.Errorf("name %q does not match {prefix}-{base}.{hash8}.{ext}", a)
	}
	if b := ArtifactName(ch, "home", "console.log(2)"); b == a {
		t.Error("one-character change kept the same name")
	}
}

func TestBuilder_SelectAndAdd(t *testing.T) {
	w := NewMemoryWriter()
	b := New(w)
	b.Select("pages/home.sg")
	b.Add("primary")
	restore := b.UseLoader("client")
	b.Add("script")
	restore()
	b.Add(" more")

	if b.Loader() != "render" {
		t.Errorf("loader after restore = %q", b.Loader())
	}
	m, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	e := m["pages/home.sg"]
	if e.Entry != ArtifactName(DefaultChannels()[0], "home", "primary more") {
		t.Errorf("entry = %q", e.Entry)
	}
	if len(e.Assets) != 1 || !strings.HasPrefix(e.Assets[0], "client-home.") {
		t.Errorf("assets = %v", e.Assets)
	}
	if got, _ := w.Get(e.Assets[0]); got != "script" {
		t.Errorf("client artifact = %q", got)
	}
}

func TestBuilder_AddWithoutFile(t *testing.T) {
	b := New(NewMemoryWriter())
	b.Add("x")
	if _, err := b.Build(context.Background()); err != ErrNoFile {
		t.Errorf("Build() error = %v, want ErrNoFile", err)
	}
}

func TestBuilder_MultiTarget(t *testing.T) {
	src := "<h1>{{ title }}</h1>@client console.log('ready') @end"
	w := NewMemoryWriter()
	b := New(w)
	errs, err := b.AddFile(context.Background(), "home.sg", src)
	if err != nil || len(errs) != 0 {
		t.Fatalf("AddFile() = %v, %v", errs, err)
	}
	m, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	e, ok := m["home.sg"]
	if !ok || len(e.Assets) != 1 {
		t.Fatalf("manifest = %+v", m)
	}
	entry := artifactPattern.FindStringSubmatch(e.Entry)
	asset := artifactPattern.FindStringSubmatch(e.Assets[0])
	if entry == nil || asset == nil {
		t.Fatalf("unexpected names %q, %q", e.Entry, e.Assets[0])
	}
	if entry[1] != "render" || asset[1] != "client" || entry[2] != asset[2] || entry[2] != "home" {
		t.Errorf("names %q and %q should share the base and differ in prefix", e.Entry, e.Assets[0])
	}

	programJSON, _ := w.Get(e.Entry)
	var p ir.Program
	if err := json.Unmarshal([]byte(programJSON), &p); err != nil {
		t.Fatalf("entry is not a program: %v", err)
	}
	if p.Name != "home.sg" || len(p.Instrs) == 0 {
		t.Errorf("program = %s", p.String())
	}
	if script, _ := w.Get(e.Assets[0]); script != "console.log('ready')\n" {
		t.Errorf("script = %q", script)
	}

	raw, ok := w.Get(DefaultManifestName)
	if !ok {
		t.Fatal("manifest not written")
	}
	var decoded Manifest
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil || decoded["home.sg"].Entry != e.Entry {
		t.Errorf("manifest file = %s (%v)", raw, err)
	}
}

func TestBuilder_Rebuild(t *testing.T) {
	build := func(src string) Entry {
		b := New(NewMemoryWriter())
		if _, err := b.AddFile(context.Background(), "a.sg", src); err != nil {
			t.Fatal(err)
		}
		m, err := b.Build(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return m["a.sg"]
	}

	first := build("Hello @style p { color: red } @end")
	again := build("Hello @style p { color: red } @end")
	if first.Entry != again.Entry || first.Assets[0] != again.Assets[0] {
		t.Errorf("rebuild changed names: %+v vs %+v", first, again)
	}

	changed := build("Hello @style p { color: blue } @end")
	if changed.Entry != first.Entry {
		t.Errorf("style change renamed the render artifact: %q vs %q", changed.Entry, first.Entry)
	}
	if changed.Assets[0] == first.Assets[0] {
		t.Error("style change kept the style artifact name")
	}
}

func TestBuilder_DirWriter(t *testing.T) {
	dir := t.TempDir()
	b := New(&DirWriter{Dir: dir}, WithManifestName("meta/manifest.json"))
	if _, err := b.AddFile(context.Background(), "x.sg", "x"); err != nil {
		t.Fatal(err)
	}
	m, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, m["x.sg"].Entry)); err != nil {
		t.Errorf("entry not written: %v", err)
	}
	loaded, err := LoadManifest(filepath.Join(dir, "meta", "manifest.json"))
	if err != nil || loaded["x.sg"].Entry != m["x.sg"].Entry {
		t.Errorf("LoadManifest() = %v, %v", loaded, err)
	}
}

func TestBuilder_CustomChannels(t *testing.T) {
	w := NewMemoryWriter()
	b := New(w, WithChannels(Channel{Name: "render", Prefix: "tpl", Ext: "ir"}))
	b.Select("a")
	b.Add("x")
	restore := b.UseLoader("extra")
	b.Add("y")
	restore()
	m, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(m["a"].Entry, "tpl-a.") || !strings.HasSuffix(m["a"].Entry, ".ir") {
		t.Errorf("entry = %q", m["a"].Entry)
	}
	if len(m["a"].Assets) != 1 || !strings.HasSuffix(m["a"].Assets[0], ".txt") {
		t.Errorf("assets = %v", m["a"].Assets)
	}
}

type memCache struct {
	units map[string][]byte
	deps  map[string][]string
	hits  int
}

func newMemCache() *memCache {
	return &memCache{units: make(map[string][]byte), deps: make(map[string][]string)}
}

func (c *memCache) Get(key string) ([]byte, bool) {
	data, ok := c.units[key]
	if ok {
		c.hits++
	}
	return data, ok
}

func (c *memCache) Put(key string, data []byte, deps []string) error {
	c.units[key] = data
	c.deps[key] = deps
	return nil
}

func TestBuilder_Cache(t *testing.T) {
	files := resolve.NewMap(map[string]string{"nav": "<nav>@client nav() @end</nav>"})
	cache := newMemCache()
	src := "@include('nav') body"

	build := func() Entry {
		b := New(NewMemoryWriter(), WithResolver(files), WithCache(cache))
		if errs, err := b.AddFile(context.Background(), "page.sg", src); err != nil || len(errs) != 0 {
			t.Fatalf("AddFile() = %v, %v", errs, err)
		}
		m, err := b.Build(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		return m["page.sg"]
	}

	first := build()
	if len(cache.units) != 1 || cache.hits != 0 {
		t.Fatalf("units = %d, hits = %d", len(cache.units), cache.hits)
	}
	for _, deps := range cache.deps {
		if len(deps) != 2 || deps[0] != "page.sg" || deps[1] != "nav" {
			t.Errorf("deps = %v", deps)
		}
	}

	again := build()
	if cache.hits != 1 {
		t.Errorf("hits = %d, want 1", cache.hits)
	}
	if again.Entry != first.Entry || len(again.Assets) != 1 || again.Assets[0] != first.Assets[0] {
		t.Errorf("cached build differs: %+v vs %+v", again, first)
	}

	files.Set("nav", "<nav>@client nav2() @end</nav>")
	changed := build()
	if changed.Assets[0] == first.Assets[0] {
		t.Error("stale cached unit used after an include changed")
	}
}

func TestBuilder_CacheSkipsErrors(t *testing.T) {
	cache := newMemCache()
	b := New(NewMemoryWriter(), WithCache(cache))
	errs, err := b.AddFile(context.Background(), "bad.sg", "@include('missing')")
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) == 0 {
		t.Fatal("expected directive errors")
	}
	if len(cache.units) != 0 {
		t.Error("unit with errors was cached")
	}
}

func TestBuilder_CacheKeyCoversParserOptions(t *testing.T) {
	cache := newMemCache()
	src := "a @bogus b"

	b := New(NewMemoryWriter(), WithCache(cache),
		WithCompilerOptions(compiler.WithParserOptions(parser.UnknownAsText())))
	if errs, err := b.AddFile(context.Background(), "page.sg", src); err != nil || len(errs) != 0 {
		t.Fatalf("AddFile() = %v, %v", errs, err)
	}
	if len(cache.units) != 1 {
		t.Fatalf("units = %d, want 1", len(cache.units))
	}

	b = New(NewMemoryWriter(), WithCache(cache))
	errs, err := b.AddFile(context.Background(), "page.sg", src)
	if err != nil {
		t.Fatal(err)
	}
	if cache.hits != 0 {
		t.Errorf("unit compiled with other parser options served from cache")
	}
	if !errs.Has(diag.KindUnknownDirective) {
		t.Errorf("errors = %v, want unknown directive", errs)
	}
}
