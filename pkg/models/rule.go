package models

import (
	"fmt"
	"hash/crc32"
	"regexp"
)

// MatchContext selects which view of the content a rule is applied to.
type MatchContext string

const (
	ContextRaw   MatchContext = "raw"   // original content only
	ContextToken MatchContext = "token" // comment-stripped view only
	ContextBoth  MatchContext = "both"  // both views
)

// PatternRule is one detection rule: a weighted regular expression with a
// human-readable note. Rules are immutable once loaded for a scan.
type PatternRule struct {
	Regex   string       `yaml:"regex" json:"regex"`
	Score   int          `yaml:"score" json:"score"`
	Note    string       `yaml:"note" json:"note"`
	Context MatchContext `yaml:"context" json:"context"`

	compiled *regexp.Regexp
}

// Compile validates and compiles the rule's regular expression. The
// compiled form is cached on the rule.
func (r *PatternRule) Compile() error {
	if r.Regex == "" {
		return fmt.Errorf("pattern rule %q: empty regex", r.Note)
	}
	re, err := regexp.Compile(r.Regex)
	if err != nil {
		return fmt.Errorf("pattern rule %q: %w", r.Note, err)
	}
	r.compiled = re
	if r.Context == "" {
		r.Context = ContextBoth
	}
	return nil
}

// Compiled returns the compiled regex, compiling on first use.
func (r *PatternRule) Compiled() *regexp.Regexp {
	if r.compiled == nil {
		if err := r.Compile(); err != nil {
			return nil
		}
	}
	return r.compiled
}

// Hash returns a stable short identifier for the rule, used in match UIDs.
func (r *PatternRule) Hash() string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE([]byte(r.Regex)))
}

// RawMatch is one pattern hit against a content view, with its position
// translated back to the original content. RawMatches are ephemeral:
// produced by the matcher, consumed by the finding builder, never
// persisted.
type RawMatch struct {
	Rule        *PatternRule
	MatchedText string
	Offset      int    // offset into the original content
	Line        int    // 1-based line in the original content
	Snippet     string // bounded context window around the hit
	IsRaw       bool   // true if matched on the raw view
	UID         string // dedup key: offset+view+line+seq+rule hash
}
