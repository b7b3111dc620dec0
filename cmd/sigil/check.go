package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/recera/sigil/pkg/sigil"
	"github.com/recera/sigil/pkg/sigil/diag"
	"github.com/recera/sigil/pkg/sigil/parser"
)

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [templates...]",
		Short: "Report template errors and warnings",
		Long: `Compiles templates without writing anything and prints every error and
auto-closed block warning. With no arguments every template is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			files := args
			if len(files) == 0 {
				if files, err = p.templates(); err != nil {
					return err
				}
			}

			e := p.engine()
			failed := 0
			for _, file := range files {
				src, err := p.read(file)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", file, err)
				}
				if checkTemplate(cmd.Context(), os.Stderr, e, file, src) > 0 {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d templates had errors", failed, len(files))
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render(fmt.Sprintf("✅ %d templates OK", len(files))))
			return nil
		},
	}
	return cmd
}

// checkTemplate prints the diagnostics of one template and returns how
// many were errors.
func checkTemplate(ctx context.Context, w io.Writer, e *sigil.Engine, path, src string) int {
	root, err := parser.Parse(src, e.Registry(), parser.WithFilename(path))
	if err != nil {
		printError(w, path, err)
		return 1
	}
	list := diag.Warnings(root)

	u, err := e.Compile(ctx, path, src)
	if err != nil {
		printError(w, path, err)
		return 1
	}
	list = append(list, u.Errors...)
	if _, err := u.Program(); err != nil {
		printError(w, path, err)
		return printDiagnostics(w, path, list) + 1
	}
	return printDiagnostics(w, path, list)
}
