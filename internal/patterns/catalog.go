// Package patterns loads the weighted detection rule catalog through a
// tiered cache chain: fresh remote cache, authenticated remote fetch,
// stale local cache, and finally the bundled fallback set.
package patterns

import (
	_ "embed"
	"fmt"

	"github.com/Evjaj/purescan-sub000/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed data/bundled.yaml
var bundledYAML []byte

// Source records where a catalog came from.
type Source string

const (
	SourceRemote      Source = "remote"
	SourceRemoteCache Source = "remote-cache"
	SourceLocalCache  Source = "local-cache"
	SourceBundled     Source = "bundled"
)

// Catalog is an ordered, immutable set of detection rules for one scan.
type Catalog struct {
	Rules  []*models.PatternRule
	Source Source
}

// ruleFile is the YAML shape of a bundled or cached rule set.
type ruleFile struct {
	Patterns []*models.PatternRule `yaml:"patterns"`
}

// Bundled parses the embedded fallback pattern set. The bundled set ships
// with the binary and is always available.
func Bundled() (*Catalog, error) {
	var f ruleFile
	if err := yaml.Unmarshal(bundledYAML, &f); err != nil {
		return nil, fmt.Errorf("bundled patterns: %w", err)
	}
	rules, err := Validate(f.Patterns)
	if err != nil {
		return nil, fmt.Errorf("bundled patterns: %w", err)
	}
	return &Catalog{Rules: rules, Source: SourceBundled}, nil
}

// Validate checks every rule and compiles its regex. A single invalid
// rule rejects the whole set: catalogs fail closed to the next tier.
func Validate(rules []*models.PatternRule) ([]*models.PatternRule, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("empty rule set")
	}
	for i, r := range rules {
		if r == nil {
			return nil, fmt.Errorf("rule %d: nil", i)
		}
		if err := r.Compile(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return rules, nil
}
