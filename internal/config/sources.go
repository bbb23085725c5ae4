package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SourceEntry is one upstream provider in the sources catalog.
type SourceEntry struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type sourcesFile struct {
	Sources []SourceEntry `yaml:"sources"`
}

// DefaultSources is used when no catalog file is configured.
var DefaultSources = []SourceEntry{
	{Key: "US-FDA", Name: "U.S. Food and Drug Administration"},
}

// LoadSources reads the YAML sources catalog at path. An empty path yields
// DefaultSources.
func LoadSources(path string) ([]SourceEntry, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSources, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(b)
}

// ParseSources decodes a catalog document and rejects blank or duplicate keys.
func ParseSources(b []byte) ([]SourceEntry, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}
	seen := make(map[string]bool, len(f.Sources))
	out := make([]SourceEntry, 0, len(f.Sources))
	for i, s := range f.Sources {
		s.Key = strings.TrimSpace(s.Key)
		s.Name = strings.TrimSpace(s.Name)
		if s.Key == "" {
			return nil, fmt.Errorf("sources[%d]: key is required", i)
		}
		if seen[s.Key] {
			return nil, fmt.Errorf("sources[%d]: duplicate key %q", i, s.Key)
		}
		seen[s.Key] = true
		if s.Name == "" {
			s.Name = s.Key
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sources file lists no sources")
	}
	return out, nil
}
