// Package config loads the sigil.yaml project configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/recera/sigil/pkg/sigil/builder"
	"github.com/recera/sigil/pkg/sigil/compiler"
	"github.com/recera/sigil/pkg/sigil/runtime"
)

// FileNames are the config files Load looks for, in order
var FileNames = []string{"sigil.yaml", "sigil.yml", "sigil.json"}

// Config represents the sigil.yaml configuration
type Config struct {
	// Template discovery configuration
	Templates *TemplatesConfig `json:"templates,omitempty" yaml:"templates,omitempty"`

	// Build configuration
	Build *BuildConfig `json:"build,omitempty" yaml:"build,omitempty"`

	// Render configuration
	Render *RenderConfig `json:"render,omitempty" yaml:"render,omitempty"`
}

// TemplatesConfig contains template-related configuration
type TemplatesConfig struct {
	// Directory holding the templates
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Extensions tried when a template path has none
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`

	// Whether unknown directives are kept as literal text
	UnknownAsText bool `json:"unknownAsText,omitempty" yaml:"unknownAsText,omitempty"`
}

// BuildConfig contains build-related configuration
type BuildConfig struct {
	// Output directory
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// Manifest file name inside the output directory
	Manifest string `json:"manifest,omitempty" yaml:"manifest,omitempty"`

	// Number of templates resolved concurrently while compiling
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// Artifact channels
	Channels []builder.Channel `json:"channels,omitempty" yaml:"channels,omitempty"`
}

// RenderConfig contains render-related configuration
type RenderConfig struct {
	// Sub-template cache policy: "always" | "never"
	Cache string `json:"cache,omitempty" yaml:"cache,omitempty"`

	// Maximum nesting of components and layouts
	MaxDepth int `json:"maxDepth,omitempty" yaml:"maxDepth,omitempty"`
}

// Load loads configuration from the first config file found in
// projectPath, or the defaults when there is none.
func Load(projectPath string) (*Config, error) {
	for _, name := range FileNames {
		configPath := filepath.Join(projectPath, name)
		data, err := os.ReadFile(configPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var config Config
		if filepath.Ext(name) == ".json" {
			err = json.Unmarshal(data, &config)
		} else {
			err = yaml.Unmarshal(data, &config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}

		// Apply defaults for missing values
		applyDefaults(&config)
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		return &config, nil
	}
	return DefaultConfig(), nil
}

// Save saves configuration to sigil.yaml
func Save(config *Config, projectPath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(projectPath, FileNames[0]), data, 0644)
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Templates: &TemplatesConfig{
			Dir:        "templates",
			Extensions: []string{".sg", ".html"},
		},
		Build: &BuildConfig{
			Output:      "dist",
			Manifest:    builder.DefaultManifestName,
			Concurrency: 4,
			Channels:    builder.DefaultChannels(),
		},
		Render: &RenderConfig{
			Cache:    runtime.CacheAlways.String(),
			MaxDepth: runtime.DefaultMaxDepth,
		},
	}
}

// applyDefaults applies default values to missing configuration
func applyDefaults(config *Config) {
	defaults := DefaultConfig()

	if config.Templates == nil {
		config.Templates = defaults.Templates
	} else {
		if config.Templates.Dir == "" {
			config.Templates.Dir = defaults.Templates.Dir
		}
		if len(config.Templates.Extensions) == 0 {
			config.Templates.Extensions = defaults.Templates.Extensions
		}
	}

	if config.Build == nil {
		config.Build = defaults.Build
	} else {
		if config.Build.Output == "" {
			config.Build.Output = defaults.Build.Output
		}
		if config.Build.Manifest == "" {
			config.Build.Manifest = defaults.Build.Manifest
		}
		if config.Build.Concurrency == 0 {
			config.Build.Concurrency = defaults.Build.Concurrency
		}
		if len(config.Build.Channels) == 0 {
			config.Build.Channels = defaults.Build.Channels
		}
	}

	if config.Render == nil {
		config.Render = defaults.Render
	} else {
		if config.Render.Cache == "" {
			config.Render.Cache = defaults.Render.Cache
		}
		if config.Render.MaxDepth == 0 {
			config.Render.MaxDepth = defaults.Render.MaxDepth
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := runtime.ParsePolicy(c.Render.Cache); err != nil {
		return err
	}
	if c.Build.Concurrency < 0 {
		return fmt.Errorf("build.concurrency must not be negative")
	}
	seen := make(map[string]bool)
	for _, ch := range c.Build.Channels {
		if ch.Name == "" || ch.Prefix == "" || ch.Ext == "" {
			return fmt.Errorf("channel %+v needs a name, prefix and ext", ch)
		}
		if seen[ch.Name] {
			return fmt.Errorf("duplicate channel %q", ch.Name)
		}
		seen[ch.Name] = true
	}
	if !seen[compiler.PrimaryLoader] {
		return fmt.Errorf("channels must include %q", compiler.PrimaryLoader)
	}
	return nil
}

// Policy returns the parsed render cache policy.
func (c *Config) Policy() runtime.Policy {
	p, _ := runtime.ParsePolicy(c.Render.Cache)
	return p
}

// TemplateDir returns the template directory relative to projectPath.
func (c *Config) TemplateDir(projectPath string) string {
	if filepath.IsAbs(c.Templates.Dir) {
		return c.Templates.Dir
	}
	return filepath.Join(projectPath, c.Templates.Dir)
}
