package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRenderCommand() *cobra.Command {
	var dataFile string
	var sets []string
	var output string

	cmd := &cobra.Command{
		Use:   "render <template>",
		Short: "Render a template",
		Long: `Renders a template from the template directory with data loaded from a
YAML or JSON file and --set key=value pairs.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProject(cmd)
			if err != nil {
				return err
			}
			data, err := loadData(dataFile, sets)
			if err != nil {
				return err
			}

			out, err := p.engine().Render(cmd.Context(), args[0], data)
			if err != nil {
				printError(os.Stderr, args[0], err)
				return fmt.Errorf("failed to render %s", args[0])
			}
			if output == "" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), out)
				return err
			}
			return os.WriteFile(output, []byte(out), 0644)
		},
	}

	cmd.Flags().StringVarP(&dataFile, "data", "d", "", "YAML or JSON file with template data")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Set a data value (key=value, value parsed as YAML)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write output to a file instead of stdout")

	return cmd
}

// loadData reads the data file and applies --set overrides. YAML is a
// superset of JSON, so both formats go through yaml.v3.
func loadData(file string, sets []string) (map[string]any, error) {
	data := make(map[string]any)
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read data: %w", err)
		}
		if err := yaml.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		if data == nil {
			data = make(map[string]any)
		}
	}
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		var v any
		if err := yaml.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		data[key] = v
	}
	return data, nil
}
