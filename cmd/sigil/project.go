package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/recera/sigil/internal/config"
	"github.com/recera/sigil/pkg/sigil"
	"github.com/recera/sigil/pkg/sigil/resolve"
)

// project is a loaded sigil.yaml plus the paths derived from it
type project struct {
	root        string
	cfg         *config.Config
	templateDir string
}

func loadProject(cmd *cobra.Command) (*project, error) {
	root, _ := cmd.Flags().GetString("project")
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &project{root: root, cfg: cfg, templateDir: cfg.TemplateDir(root)}, nil
}

func (p *project) resolver() *resolve.Dir {
	return resolve.NewDir(p.templateDir, p.cfg.Templates.Extensions...)
}

func (p *project) engine() *sigil.Engine {
	return sigil.New(sigil.Options{
		Resolver:      p.resolver(),
		Policy:        p.cfg.Policy(),
		Concurrency:   p.cfg.Build.Concurrency,
		UnknownAsText: p.cfg.Templates.UnknownAsText,
		MaxDepth:      p.cfg.Render.MaxDepth,
	})
}

// templates lists template files below the template directory as
// slash-separated relative paths, sorted. Files and directories starting
// with "_" are partials and are skipped.
func (p *project) templates() ([]string, error) {
	exts := make(map[string]bool)
	for _, ext := range p.cfg.Templates.Extensions {
		exts[strings.ToLower(ext)] = true
	}

	var files []string
	err := filepath.WalkDir(p.templateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != p.templateDir && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !exts[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		rel, err := filepath.Rel(p.templateDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func (p *project) read(rel string) (string, error) {
	data, err := os.ReadFile(filepath.Join(p.templateDir, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
