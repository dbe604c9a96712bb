// Package matcher applies the pattern catalog to the raw and
// comment-stripped views of a content blob, producing raw match records
// positioned against the original content.
package matcher

import (
	"fmt"
	"sort"

	"github.com/Evjaj/purescan-sub000/internal/tokenizer"
	"github.com/Evjaj/purescan-sub000/pkg/models"
)

const (
	viewRaw   = "raw"
	viewToken = "token"
)

// Matcher runs catalog rules over content views.
type Matcher struct {
	snippetWindow int
}

// New creates a matcher collecting the given number of context characters
// on each side of a hit.
func New(snippetWindow int) *Matcher {
	if snippetWindow <= 0 {
		snippetWindow = 250
	}
	return &Matcher{snippetWindow: snippetWindow}
}

// Match scans both views of the content with every rule, translating
// token-view positions back through the strip maps. No match is dropped
// here regardless of score; filtering is the finding builder's job.
// stripped may be nil, in which case only raw matching runs.
func (m *Matcher) Match(content string, stripped *tokenizer.StripResult, rules []*models.PatternRule) []*models.RawMatch {
	lines := newLineIndex(content)
	seen := make(map[string]bool)
	var out []*models.RawMatch

	for _, rule := range rules {
		re := rule.Compiled()
		if re == nil {
			continue
		}

		if rule.Context == models.ContextRaw || rule.Context == models.ContextBoth {
			for seq, loc := range re.FindAllStringIndex(content, -1) {
				hit := m.buildMatch(content, lines, rule, loc[0], loc[1], seq, viewRaw, loc[0])
				if !seen[hit.UID] {
					seen[hit.UID] = true
					out = append(out, hit)
				}
			}
		}

		if stripped != nil && !stripped.Identity &&
			(rule.Context == models.ContextToken || rule.Context == models.ContextBoth) {
			for seq, loc := range re.FindAllStringIndex(stripped.Cleaned, -1) {
				orig := stripped.OrigOffset(loc[0])
				if orig > len(content) {
					orig = len(content)
				}
				matched := stripped.Cleaned[loc[0]:loc[1]]
				hit := m.buildTokenMatch(content, lines, rule, orig, matched, seq, stripped.OrigLine(loc[0]))
				if !seen[hit.UID] {
					seen[hit.UID] = true
					out = append(out, hit)
				}
			}
		}
	}

	return out
}

// buildMatch constructs a raw-view match record.
func (m *Matcher) buildMatch(content string, lines *lineIndex, rule *models.PatternRule, start, end, seq int, view string, origOffset int) *models.RawMatch {
	line := lines.at(origOffset)
	return &models.RawMatch{
		Rule:        rule,
		MatchedText: content[start:end],
		Offset:      origOffset,
		Line:        line,
		Snippet:     m.window(content, origOffset),
		IsRaw:       view == viewRaw,
		UID:         matchUID(origOffset, view, line, seq, rule),
	}
}

// buildTokenMatch constructs a token-view match record positioned at its
// translated original offset.
func (m *Matcher) buildTokenMatch(content string, lines *lineIndex, rule *models.PatternRule, origOffset int, matched string, seq, mappedLine int) *models.RawMatch {
	line := mappedLine
	if line <= 0 {
		line = lines.at(origOffset)
	}
	return &models.RawMatch{
		Rule:        rule,
		MatchedText: matched,
		Offset:      origOffset,
		Line:        line,
		Snippet:     m.window(content, origOffset),
		IsRaw:       false,
		UID:         matchUID(origOffset, viewToken, line, seq, rule),
	}
}

// matchUID builds the dedup key for a hit. Exact repeats collapse while
// the same rule may still fire at multiple positions.
func matchUID(offset int, view string, line, seq int, rule *models.PatternRule) string {
	return fmt.Sprintf("%d:%s:%d:%d:%s", offset, view, line, seq, rule.Hash())
}

// window returns the bounded context around an original-content offset.
func (m *Matcher) window(content string, offset int) string {
	start := offset - m.snippetWindow
	if start < 0 {
		start = 0
	}
	end := offset + m.snippetWindow
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}

// lineIndex answers "what line is this offset on" via binary search over
// precomputed newline positions.
type lineIndex struct {
	newlines []int
}

func newLineIndex(content string) *lineIndex {
	var nl []int
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			nl = append(nl, i)
		}
	}
	return &lineIndex{newlines: nl}
}

// at returns the 1-based line containing offset.
func (l *lineIndex) at(offset int) int {
	return 1 + sort.SearchInts(l.newlines, offset)
}
