package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadSnapshotFile reads a schema snapshot from a YAML file. A missing
// version is computed from the file contents.
func LoadSnapshotFile(path string) (*SchemaSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}
	return ParseSnapshotYAML(data)
}

// ParseSnapshotYAML decodes a schema snapshot from YAML.
func ParseSnapshotYAML(data []byte) (*SchemaSnapshot, error) {
	var file struct {
		Version     string        `yaml:"version"`
		ExtractedAt time.Time     `yaml:"extracted_at"`
		Tables      []SchemaTable `yaml:"tables"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse snapshot yaml: %w", err)
	}

	snap := NewSchemaSnapshot(file.Tables, file.ExtractedAt)
	if file.Version != "" {
		snap.Version = file.Version
	}
	return snap, nil
}

// MarshalSnapshotYAML encodes a snapshot in the format read by LoadSnapshotFile.
func MarshalSnapshotYAML(s *SchemaSnapshot) ([]byte, error) {
	file := struct {
		Version     string        `yaml:"version"`
		ExtractedAt time.Time     `yaml:"extracted_at"`
		Tables      []SchemaTable `yaml:"tables"`
	}{s.Version, s.ExtractedAt, s.Tables}

	data, err := yaml.Marshal(file)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot yaml: %w", err)
	}
	return data, nil
}
