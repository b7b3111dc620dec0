package builder

import (
	"encoding/json"
	"fmt"
	"os"
)

// Entry lists the artifacts generated for one template
type Entry struct {
	Entry  string   `json:"entry"`
	Assets []string `json:"assets"`
}

// Manifest maps template paths to their artifacts
type Manifest map[string]Entry

// Marshal encodes the manifest as indented JSON.
func (m Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return m, nil
}
