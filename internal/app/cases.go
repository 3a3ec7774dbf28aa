package app

import (
	"bytes"
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// Case is one point at which the root model is evaluated.
type Case struct {
	Name   string            `yaml:"name"`
	Values map[string]Values `yaml:"values"`
}

type casesFile struct {
	Cases []Case `yaml:"cases"`
}

// Values is a number or a flat list of numbers.
type Values []float64

// UnmarshalYAML accepts both `r: 1.5` and `r: [1, 2]`.
func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		*v = Values{f}
	case yaml.SequenceNode:
		var fs []float64
		if err := node.Decode(&fs); err != nil {
			return err
		}
		*v = fs
	default:
		return fmt.Errorf("line %d: expected a number or a list of numbers", node.Line)
	}
	return nil
}

// ParseCases decodes and validates a cases document.
func ParseCases(data []byte) ([]Case, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("cases: payload is empty")
	}
	var file casesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("cases: decode: %w", err)
	}
	if len(file.Cases) == 0 {
		return nil, fmt.Errorf("cases: no cases defined")
	}

	seen := make(map[string]bool, len(file.Cases))
	for i, c := range file.Cases {
		if c.Name == "" {
			return nil, fmt.Errorf("cases: case %d has no name", i+1)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("cases: case '%s' is defined more than once", c.Name)
		}
		seen[c.Name] = true
	}
	return file.Cases, nil
}

// LoadCases reads a cases document from disk.
func LoadCases(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cases: read %s: %w", path, err)
	}
	cases, err := ParseCases(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cases, nil
}

// withBase returns the case's values on top of base.
func (c Case) withBase(base map[string][]float64) map[string][]float64 {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string][]float64, len(c.Values))
	}
	for name, v := range c.Values {
		out[name] = v
	}
	return out
}
