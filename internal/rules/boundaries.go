package rules

import (
	_ "embed"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed boundaries.yaml
var defaultBoundaries []byte

// Boundary says which comparison a limit-like field is expected to be
// checked with: "<=" for upper bounds, ">=" for lower bounds.
type Boundary struct {
	Field    string `yaml:"field" json:"field"`
	Operator string `yaml:"operator" json:"operator"`
}

func DefaultBoundaries() ([]Boundary, error) {
	return ParseBoundaries(defaultBoundaries)
}

func ParseBoundaries(data []byte) ([]Boundary, error) {
	var out []Boundary
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse boundary catalog: %w", err)
	}
	for i, b := range out {
		if b.Operator != "<=" && b.Operator != ">=" {
			return nil, fmt.Errorf("boundary %d (%s): operator must be <= or >=, got %q", i, b.Field, b.Operator)
		}
		if _, err := path.Match(b.Field, ""); err != nil {
			return nil, fmt.Errorf("boundary %d: bad pattern %q: %w", i, b.Field, err)
		}
	}
	return out, nil
}

// lookupBoundary returns the expected operator for a field, if any.
func lookupBoundary(catalog []Boundary, field string) (string, bool) {
	field = strings.ToLower(field)
	for _, b := range catalog {
		if ok, _ := path.Match(b.Field, field); ok {
			return b.Operator, true
		}
	}
	return "", false
}
