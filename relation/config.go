package relation

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Definition is the YAML form of a registry.
type Definition struct {
	Relationships []Relationship `yaml:"relationships"`
}

// ParseRegistryYAML decodes a registry definition and registers every relationship.
func ParseRegistryYAML(data []byte) (*Registry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyConfig
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("relation: decode registry: %w", err)
	}

	reg := NewRegistry()
	for i, rel := range def.Relationships {
		if err := reg.Register(rel); err != nil {
			return nil, fmt.Errorf("relationships[%d]: %w", i, err)
		}
	}
	return reg, nil
}

// LoadRegistry reads a registry definition from r.
func LoadRegistry(r io.Reader) (*Registry, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("relation: read registry: %w", err)
	}
	return ParseRegistryYAML(content)
}

// LoadRegistryFile loads a registry definition from path.
func LoadRegistryFile(path string) (*Registry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("relation: read %s: %w", path, err)
	}
	reg, err := ParseRegistryYAML(content)
	if err != nil {
		return nil, fmt.Errorf("relation: %s: %w", path, err)
	}
	return reg, nil
}
