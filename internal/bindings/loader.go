package bindings

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type document struct {
	Version string             `yaml:"version"`
	Intents map[string]Binding `yaml:"intents"`
}

// Parse decodes and validates a binding registry document. Validation is
// strict at load time so a malformed registry fails startup instead of
// surfacing mid-request.
func Parse(raw []byte) (*Snapshot, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode bindings document: %w", err)
	}
	if strings.TrimSpace(doc.Version) == "" {
		return nil, fmt.Errorf("bindings document version is required")
	}
	if len(doc.Intents) == 0 {
		return nil, fmt.Errorf("bindings document defines no intents")
	}

	intents := make(map[string]Binding, len(doc.Intents))
	for name, binding := range doc.Intents {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("bindings document has an unnamed intent")
		}
		binding.Intent = name
		if err := binding.validate(); err != nil {
			return nil, err
		}
		intents[name] = binding
	}
	return &Snapshot{Version: doc.Version, intents: intents}, nil
}

// Load reads and parses a binding registry file.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bindings file %q: %w", path, err)
	}
	snapshot, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("load bindings file %q: %w", path, err)
	}
	return snapshot, nil
}
