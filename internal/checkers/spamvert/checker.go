// Package spamvert detects spamvertising injections in post and comment
// content: pharma and gambling keywords, keyword stuffing, cloaked HTML,
// suspicious iframes and links, and encoded payloads. HTML injections
// spread across markup, so matches merge on character distance rather
// than the line windows file scanning uses.
package spamvert

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/internal/datasource"
	"github.com/Evjaj/purescan-sub000/internal/matcher"
	"github.com/Evjaj/purescan-sub000/internal/patterns"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var rulesYAML []byte

// stuffingRoots are word roots whose repetition signals keyword stuffing.
var stuffingRoots = []string{
	"viagra", "cialis", "casino", "poker", "loan", "replica",
	"pill", "pharma", "jersey", "outlet", "porn", "escort",
}

const stuffingScore = 35

// Checker scans content-table rows for spamvertising.
type Checker struct {
	cfg     *config.Config
	matcher *matcher.Matcher
	rules   []*models.PatternRule
	tiers   models.ConfidenceTiers
	logger  *zap.Logger
}

// New creates a spamvertising checker with the embedded rule set.
func New(cfg *config.Config, logger *zap.Logger) (*Checker, error) {
	var f struct {
		Patterns []*models.PatternRule `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(rulesYAML, &f); err != nil {
		return nil, fmt.Errorf("spamvert rules: %w", err)
	}
	rules, err := patterns.Validate(f.Patterns)
	if err != nil {
		return nil, fmt.Errorf("spamvert rules: %w", err)
	}

	return &Checker{
		cfg:     cfg,
		matcher: matcher.New(cfg.SnippetWindow),
		rules:   rules,
		tiers: models.ConfidenceTiers{
			Low:      cfg.GlobalScoreGate,
			Medium:   cfg.SpamTierMedium,
			High:     cfg.SpamTierHigh,
			VeryHigh: cfg.SpamTierVeryHigh,
		},
		logger: logger,
	}, nil
}

// CheckContent scans one content blob, returning merged detections.
func (c *Checker) CheckContent(content string) []*models.Detection {
	raw := c.matcher.Match(content, nil, c.rules)
	raw = append(raw, c.stuffingMatches(content)...)
	if len(raw) == 0 {
		return nil
	}

	globalScore := 0
	for _, m := range raw {
		globalScore += m.Rule.Score
	}
	if globalScore < c.cfg.GlobalScoreGate {
		return nil
	}

	sort.SliceStable(raw, func(i, j int) bool { return raw[i].Offset < raw[j].Offset })

	var detections []*models.Detection
	for _, cl := range c.mergeByDistance(raw) {
		d := c.render(content, cl)
		if d.Confidence == models.ConfidenceBenign {
			continue
		}
		detections = append(detections, d)
	}
	return detections
}

// stuffingMatches runs the frequency analysis: a suspicious root word
// repeated at or above the configured threshold is itself a signal.
func (c *Checker) stuffingMatches(content string) []*models.RawMatch {
	lower := strings.ToLower(content)
	var out []*models.RawMatch
	for _, root := range stuffingRoots {
		count := strings.Count(lower, root)
		if count < c.cfg.SpamKeywordRepeats {
			continue
		}
		offset := strings.Index(lower, root)
		rule := &models.PatternRule{
			Regex:   "stuffing:" + root,
			Score:   stuffingScore,
			Note:    fmt.Sprintf("Keyword stuffing: %q x%d", root, count),
			Context: models.ContextRaw,
		}
		out = append(out, &models.RawMatch{
			Rule:        rule,
			MatchedText: root,
			Offset:      offset,
			Line:        1 + strings.Count(content[:offset], "\n"),
			Snippet:     window(content, offset, c.cfg.SnippetWindow),
			IsRaw:       true,
			UID:         fmt.Sprintf("%d:stuff:%s", offset, root),
		})
	}
	return out
}

type cluster struct {
	matches []*models.RawMatch
	start   int
	end     int
}

// mergeByDistance joins matches within the configured character window of
// the cluster's end.
func (c *Checker) mergeByDistance(matches []*models.RawMatch) []*cluster {
	gap := c.cfg.SpamMergeChars
	var clusters []*cluster
	var cur *cluster
	for _, m := range matches {
		end := m.Offset + len(m.MatchedText)
		if cur != nil && m.Offset <= cur.end+gap {
			cur.matches = append(cur.matches, m)
			if end > cur.end {
				cur.end = end
			}
			continue
		}
		cur = &cluster{matches: []*models.RawMatch{m}, start: m.Offset, end: end}
		clusters = append(clusters, cur)
	}
	return clusters
}

// render builds the detection for one cluster; the score sums distinct
// rule weights.
func (c *Checker) render(content string, cl *cluster) *models.Detection {
	score := 0
	seen := make(map[string]bool)
	var notes, matched []string
	peak := cl.matches[0].Line
	for _, m := range cl.matches {
		if !seen[m.Rule.Regex] {
			seen[m.Rule.Regex] = true
			score += m.Rule.Score
			notes = append(notes, m.Rule.Note)
		}
		matched = append(matched, m.MatchedText)
		if m.Line < peak {
			peak = m.Line
		}
	}

	snippet := window(content, cl.start, c.cfg.SpamMergeChars)
	return &models.Detection{
		OriginalLine: peak,
		MatchedText:  strings.Join(matched, " | "),
		OriginalCode: snippet,
		ContextCode:  ">>> " + snippet,
		Patterns:     notes,
		Score:        score,
		Confidence:   c.tiers.For(score),
		WithoutAI:    true,
	}
}

func window(content string, offset, size int) string {
	start := offset - size
	if start < 0 {
		start = 0
	}
	end := offset + size
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}

// ScanPosts checks one batch of posts, returning findings and the number
// of rows examined.
func (c *Checker) ScanPosts(src datasource.Source, prefix string, offset int64, limit int) ([]*models.Finding, int, error) {
	posts, err := src.Posts(offset, int64(limit))
	if err != nil {
		return nil, 0, err
	}

	var found []*models.Finding
	for _, p := range posts {
		body := p.Title + "\n" + p.Content
		detections := c.CheckContent(body)
		if len(detections) == 0 {
			continue
		}
		found = append(found, &models.Finding{
			Path:       fmt.Sprintf("Database → Table: %sposts → Row ID: %d → Column: post_content", prefix, p.ID),
			Snippets:   detections,
			IsDatabase: true,
			DBType:     "post",
			DBTable:    prefix + "posts",
			DBRowID:    p.ID,
			DBColumn:   "post_content",
		})
	}
	return found, len(posts), nil
}

// ScanComments checks one batch of comments. Anonymous comments get the
// author name, email, and URL prepended: injections often live in those
// fields rather than the body.
func (c *Checker) ScanComments(src datasource.Source, prefix string, offset int64, limit int) ([]*models.Finding, int, error) {
	comments, err := src.Comments(offset, int64(limit))
	if err != nil {
		return nil, 0, err
	}

	var found []*models.Finding
	for _, cm := range comments {
		body := cm.Content
		if cm.UserID == 0 {
			body = strings.Join([]string{cm.AuthorName, cm.AuthorEmail, cm.AuthorURL, cm.Content}, "\n")
		}
		detections := c.CheckContent(body)
		if len(detections) == 0 {
			continue
		}
		found = append(found, &models.Finding{
			Path:       fmt.Sprintf("Database → Table: %scomments → Row ID: %d → Column: comment_content", prefix, cm.ID),
			Snippets:   detections,
			IsDatabase: true,
			DBType:     "comment",
			DBTable:    prefix + "comments",
			DBRowID:    cm.ID,
			DBColumn:   "comment_content",
		})
	}
	return found, len(comments), nil
}
