package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/recera/sigil/internal/config"
	"github.com/recera/sigil/pkg/sigil/builder"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func testProject(t *testing.T, files map[string]string) *project {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	writeFiles(t, filepath.Join(root, cfg.Templates.Dir), files)
	return &project{root: root, cfg: cfg, templateDir: cfg.TemplateDir(root)}
}

func TestProject_Templates(t *testing.T) {
	p := testProject(t, map[string]string{
		"home.sg":           "home",
		"blog/post.html":    "post",
		"_partials/nav.sg":  "nav",
		"_footer.sg":        "footer",
		"notes.txt":         "skip",
		".hidden/secret.sg": "skip",
	})
	got, err := p.templates()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"blog/post.html", "home.sg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("templates() = %v, want %v", got, want)
	}
}

func TestRunBuild(t *testing.T) {
	p := testProject(t, map[string]string{
		"home.sg":         "@include('_partials/nav') <h1>{{ title }}</h1>@style h1 { margin: 0 } @end",
		"_partials/nav.sg": "<nav>@client nav() @end</nav>",
	})
	out := filepath.Join(p.root, "dist")
	if err := runBuild(context.Background(), p, out, nil); err != nil {
		t.Fatal(err)
	}
	m, err := builder.LoadManifest(filepath.Join(out, builder.DefaultManifestName))
	if err != nil {
		t.Fatal(err)
	}
	e, ok := m["home.sg"]
	if !ok || len(m) != 1 {
		t.Fatalf("manifest = %+v", m)
	}
	if !strings.HasPrefix(e.Entry, "render-home.") || len(e.Assets) != 2 {
		t.Errorf("entry = %+v", e)
	}
	for _, a := range append([]string{e.Entry}, e.Assets...) {
		if _, err := os.Stat(filepath.Join(out, a)); err != nil {
			t.Errorf("artifact %s missing: %v", a, err)
		}
	}
}

func TestRunBuild_ReportsErrors(t *testing.T) {
	p := testProject(t, map[string]string{"bad.sg": "@include('missing')"})
	err := runBuild(context.Background(), p, filepath.Join(p.root, "dist"), nil)
	if err == nil || !strings.Contains(err.Error(), "1 of 1 templates had errors") {
		t.Errorf("runBuild() = %v", err)
	}
}

func TestCheckTemplate(t *testing.T) {
	p := testProject(t, nil)
	e := p.engine()

	tests := []struct {
		name   string
		src    string
		errs   int
		output string
	}{
		{name: "clean", src: "@if(true) ok @end", errs: 0},
		{name: "unclosed", src: "@if(true) ok", errs: 0, output: "warning"},
		{name: "unknown", src: "@frobnicate(1)", errs: 1, output: "unknown-directive"},
		{name: "syntax", src: "{{ open", errs: 1, output: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if got := checkTemplate(context.Background(), &buf, e, tt.name+".sg", tt.src); got != tt.errs {
				t.Errorf("errors = %d, want %d (output %q)", got, tt.errs, buf.String())
			}
			if tt.output != "" && !strings.Contains(buf.String(), tt.output) {
				t.Errorf("output %q does not mention %q", buf.String(), tt.output)
			}
		})
	}
}

func TestLoadData(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "data.yaml")
	if err := os.WriteFile(file, []byte("title: Hello\ncount: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	data, err := loadData(file, []string{"count=3", "tags=[a, b]", "name=plain text"})
	if err != nil {
		t.Fatal(err)
	}
	if data["title"] != "Hello" || data["count"] != 3 || data["name"] != "plain text" {
		t.Errorf("data = %v", data)
	}
	if tags, ok := data["tags"].([]any); !ok || len(tags) != 2 {
		t.Errorf("tags = %#v", data["tags"])
	}
	if _, err := loadData("", []string{"novalue"}); err == nil {
		t.Error("invalid --set accepted")
	}
}

func TestFormatSize(t *testing.T) {
	tests := map[int64]string{
		512:     "512 B",
		2048:    "2.0 KB",
		5 << 20: "5.0 MB",
	}
	for size, want := range tests {
		if got := formatSize(size); got != want {
			t.Errorf("formatSize(%d) = %q, want %q", size, got, want)
		}
	}
}
