package main

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/recera/sigil/internal/cache"
	"github.com/recera/sigil/internal/watch"
	"github.com/recera/sigil/pkg/sigil/builder"
	"github.com/recera/sigil/pkg/sigil/compiler"
	"github.com/recera/sigil/pkg/sigil/parser"
)

func newBuildCommand() *cobra.Command {
	var output string
	var watchMode bool
	var noCache bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile every template into hashed artifacts",
		Long: `Compiles every template in the template directory into a render program,
client script and stylesheet named by content hash, and writes a manifest.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			if output == "" {
				output = filepath.Join(p.root, p.cfg.Build.Output)
			}

			var units *cache.Cache
			if !noCache {
				units, err = cache.New(cache.Config{
					Dir:     filepath.Join(p.root, ".sigil", "cache"),
					MaxSize: cache.DefaultConfig().MaxSize,
					MaxAge:  cache.DefaultConfig().MaxAge,
				})
				if err != nil {
					log.Printf("⚠️  Unit cache unavailable: %v", err)
					units = nil
				} else {
					defer units.Close()
				}
			}

			ctx := cmd.Context()
			buildErr := runBuild(ctx, p, output, units)
			if !watchMode {
				return buildErr
			}
			if buildErr != nil {
				log.Printf("⚠️  %v", buildErr)
			}
			return watchBuild(ctx, p, output, units)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory (default: build.output from sigil.yaml)")
	cmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "Rebuild when templates change")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Recompile every template")

	return cmd
}

func runBuild(ctx context.Context, p *project, output string, units *cache.Cache) error {
	log.Println("🚀 Building templates...")

	files, err := p.templates()
	if err != nil {
		return err
	}

	// Clean output directory
	if err := os.RemoveAll(output); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clean output directory: %w", err)
	}
	if err := os.MkdirAll(output, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	compilerOpts := []compiler.Option{compiler.WithConcurrency(p.cfg.Build.Concurrency)}
	if p.cfg.Templates.UnknownAsText {
		compilerOpts = append(compilerOpts, compiler.WithParserOptions(parser.UnknownAsText()))
	}
	opts := []builder.Option{
		builder.WithChannels(p.cfg.Build.Channels...),
		builder.WithManifestName(p.cfg.Build.Manifest),
		builder.WithResolver(p.resolver()),
		builder.WithCompilerOptions(compilerOpts...),
	}
	if units != nil {
		opts = append(opts, builder.WithCache(units))
	}
	b := builder.New(&builder.DirWriter{Dir: output}, opts...)

	log.Printf("🔍 Compiling %d templates...", len(files))
	failed := 0
	for _, file := range files {
		src, err := p.read(file)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}
		errs, err := b.AddFile(ctx, file, src)
		if err != nil {
			printError(os.Stderr, file, err)
			failed++
			continue
		}
		if printDiagnostics(os.Stderr, file, errs) > 0 {
			failed++
		}
	}

	manifest, err := b.Build(ctx)
	if err != nil {
		return fmt.Errorf("failed to write artifacts: %w", err)
	}
	if units != nil {
		s := units.Stats()
		log.Printf("  Cache: %d hits, %d misses", s.Hits, s.Misses)
	}
	reportBuildSizes(output, manifest)

	if failed > 0 {
		return fmt.Errorf("%d of %d templates had errors", failed, len(files))
	}
	log.Println(successStyle.Render("✅ Build complete"))
	return nil
}

func watchBuild(ctx context.Context, p *project, output string, units *cache.Cache) error {
	w, err := watch.New(p.templateDir, p.cfg.Templates.Extensions)
	if err != nil {
		return fmt.Errorf("failed to watch templates: %w", err)
	}
	defer w.Close()

	log.Printf("👀 Watching %s for changes...", p.templateDir)
	err = w.Run(ctx, func(paths []string) {
		for _, changed := range paths {
			rel, err := filepath.Rel(p.templateDir, changed)
			if err != nil || units == nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			units.InvalidateByDependency(rel)
			units.InvalidateByDependency(strings.TrimSuffix(rel, path.Ext(rel)))
		}
		log.Printf("🔄 %d template(s) changed", len(paths))
		if err := runBuild(ctx, p, output, units); err != nil {
			log.Printf("⚠️  %v", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func reportBuildSizes(output string, manifest builder.Manifest) {
	sizes := make(map[string]int64)
	var order []string
	add := func(name string) {
		info, err := os.Stat(filepath.Join(output, name))
		if err != nil {
			return
		}
		ext := strings.TrimPrefix(filepath.Ext(name), ".")
		if _, ok := sizes[ext]; !ok {
			order = append(order, ext)
		}
		sizes[ext] += info.Size()
	}
	for _, e := range manifest {
		if e.Entry != "" {
			add(e.Entry)
		}
		for _, a := range e.Assets {
			add(a)
		}
	}
	sort.Strings(order)
	for _, ext := range order {
		log.Printf("  %-12s %s", ext+":", formatSize(sizes[ext]))
	}

	// Total size
	var totalSize, gzSize int64
	filepath.Walk(output, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			totalSize += info.Size()
			gzSize += getGzippedSize(path)
		}
		return nil
	})

	log.Printf("  Total:       %s", formatSize(totalSize))
	log.Printf("  Total (gzip): %s", formatSize(gzSize))
	log.Printf("\n✨ Build output: %s", output)
}

func getGzippedSize(path string) int64 {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	var buf strings.Builder
	gz := gzip.NewWriter(&buf)
	gz.Write(content)
	gz.Close()

	return int64(buf.Len())
}
