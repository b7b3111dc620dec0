package main

import (
	"github.com/spf13/cobra"

	"github.com/recera/sigil/pkg/sigil/directives"
)

func newSchemaCommand() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the directive schema",
		Long:  `Prints every registered directive with its parameters, sub-directives and body kind.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return directives.Standard().WriteSchema(cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")

	return cmd
}
