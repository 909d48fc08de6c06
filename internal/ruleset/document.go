package ruleset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is a parsed rule document.
type Document struct {
	Rules []RuleDoc `yaml:"rules"`
}

// RuleDoc is one declarative rule.
type RuleDoc struct {
	Name     string         `yaml:"name"`
	Salience int            `yaml:"salience"`
	When     []ConditionDoc `yaml:"when"`
	Then     []EffectDoc    `yaml:"then"`
}

// ConditionDoc is either a single-variable filter (Var/Field/Op/Value)
// or a two-variable join (Join set, everything else empty).
type ConditionDoc struct {
	Var   string   `yaml:"var,omitempty"`
	Field string   `yaml:"field,omitempty"`
	Op    string   `yaml:"op,omitempty"`
	Value any      `yaml:"value,omitempty"`
	Join  *JoinDoc `yaml:"join,omitempty"`
}

// JoinDoc compares a field of one bound variable against a field of
// another.
type JoinDoc struct {
	Left       string `yaml:"left"`
	LeftField  string `yaml:"left_field,omitempty"`
	Right      string `yaml:"right"`
	RightField string `yaml:"right_field,omitempty"`
	Op         string `yaml:"op"`
}

// EffectDoc is one consequence of a fired rule: exactly one of Assert,
// Retract or Report is set.
type EffectDoc struct {
	Assert  map[string]any `yaml:"assert,omitempty"`
	Retract string         `yaml:"retract,omitempty"`
	Report  string         `yaml:"report,omitempty"`
}

// FactsDocument is a YAML list of initial facts for a run.
type FactsDocument struct {
	Facts []any `yaml:"facts"`
}

// Parse validates raw YAML against the schema and decodes it.
func Parse(data []byte) (*Document, error) {
	if err := ValidateDocument(data); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding rule document: %w", err)
	}
	return &doc, nil
}

// Load reads and parses a rule document from a file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule document: %w", err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// LoadFacts reads a YAML facts document. Fact values are opaque to the
// engine; no structural validation happens here.
func LoadFacts(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading facts document: %w", err)
	}

	var doc FactsDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: decoding facts document: %w", path, err)
	}
	return doc.Facts, nil
}
