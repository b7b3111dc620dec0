package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-preview"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "sigil",
		Short: "Sigil - directive-based template compiler",
		Long: `Sigil compiles @directive templates into render programs, client
scripts and stylesheets named by content hash, and renders them.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("project", "C", ".", "Project directory containing sigil.yaml")

	// Add commands
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newSchemaCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		os.Exit(1)
	}
}
