// Package findings aggregates raw pattern matches into deduplicated,
// scored detections: it applies the global-score gate, merges nearby
// matches into readable snippet clusters, and optionally asks the AI
// verdict service to confirm or veto the result.
package findings

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Evjaj/purescan-sub000/internal/ai"
	"github.com/Evjaj/purescan-sub000/internal/config"
	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

// Builder turns raw matches into detections.
type Builder struct {
	cfg     *config.Config
	verdict ai.VerdictClient
	logger  *zap.Logger
	tiers   models.ConfidenceTiers
}

// NewBuilder creates a finding builder. verdict may be nil; the builder
// then produces pattern-only detections marked WithoutAI.
func NewBuilder(cfg *config.Config, verdict ai.VerdictClient, logger *zap.Logger) *Builder {
	return &Builder{
		cfg:     cfg,
		verdict: verdict,
		logger:  logger,
		tiers: models.ConfidenceTiers{
			Low:    cfg.ConfidenceLow,
			Medium: cfg.ConfidenceMedium,
			High:   cfg.ConfidenceHigh,
		},
	}
}

// group is one UID-keyed set of raw matches.
type group struct {
	matches []*models.RawMatch
	score   int
	notes   map[string]bool
}

// Build aggregates raw matches into detections for one content blob.
// Returns an empty slice when the content is clean. useAI selectively
// disables the verdict call (ad hoc text scans are forced pattern-only).
func (b *Builder) Build(ctx context.Context, content string, raw []*models.RawMatch, useAI bool) ([]*models.Detection, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	// Group by UID, summing scores and collecting rule notes.
	groups := make(map[string]*group)
	var order []string
	for _, m := range raw {
		g, ok := groups[m.UID]
		if !ok {
			g = &group{notes: make(map[string]bool)}
			groups[m.UID] = g
			order = append(order, m.UID)
		}
		g.matches = append(g.matches, m)
		g.score += m.Rule.Score
		g.notes[m.Rule.Note] = true
	}

	// Global-score gate: isolated low-weight hits are noise; only
	// aggregate suspicion above the threshold is reportable.
	globalScore := 0
	for _, uid := range order {
		globalScore += groups[uid].score
	}
	if globalScore < b.cfg.GlobalScoreGate {
		return nil, nil
	}

	// Per-group confidence filter.
	var surviving []*models.RawMatch
	for _, uid := range order {
		g := groups[uid]
		switch b.tiers.For(g.score) {
		case models.ConfidenceBenign:
			continue
		case models.ConfidenceLow:
			if !b.cfg.ReportLowConfidence {
				continue
			}
		}
		surviving = append(surviving, g.matches...)
	}
	if len(surviving) == 0 {
		return nil, nil
	}

	sort.SliceStable(surviving, func(i, j int) bool {
		return surviving[i].Line < surviving[j].Line
	})

	clusters := b.mergeClusters(surviving)

	detections := make([]*models.Detection, 0, len(clusters))
	for _, c := range clusters {
		detections = append(detections, b.renderDetection(content, c))
	}

	if useAI && b.cfg.AI.Enabled && b.verdict != nil {
		return b.applyVerdict(ctx, content, surviving, detections)
	}

	for _, d := range detections {
		d.WithoutAI = true
		d.AIStatus = string(ai.StatusMalicious)
	}
	return detections, nil
}

// cluster is a run of matches close enough in line distance to read as
// one snippet.
type cluster struct {
	matches   []*models.RawMatch
	startLine int // expanded by context lines
	endLine   int
}

// mergeClusters joins matches whose line falls within the merge window
// beyond the current cluster's expanded end. The context/merge windows
// keep one webshell's decode-eval chain in a single snippet without
// merging unrelated findings across a huge file.
func (b *Builder) mergeClusters(matches []*models.RawMatch) []*cluster {
	ctxLines := b.cfg.ClusterContextLines
	mergeLines := b.cfg.ClusterMergeLines

	var clusters []*cluster
	var cur *cluster
	for _, m := range matches {
		if cur != nil && m.Line <= cur.endLine+mergeLines {
			cur.matches = append(cur.matches, m)
			if m.Line+ctxLines > cur.endLine {
				cur.endLine = m.Line + ctxLines
			}
			continue
		}
		cur = &cluster{
			matches:   []*models.RawMatch{m},
			startLine: m.Line - ctxLines,
			endLine:   m.Line + ctxLines,
		}
		if cur.startLine < 1 {
			cur.startLine = 1
		}
		clusters = append(clusters, cur)
	}
	return clusters
}

// renderDetection builds the scored, highlighted detection for one
// cluster. The cluster's score sums the weights of its distinct
// contributing rules.
func (b *Builder) renderDetection(content string, c *cluster) *models.Detection {
	score := 0
	seenRules := make(map[string]bool)
	noteSet := make(map[string]bool)
	var notes []string
	var matched []string
	dangerous := make(map[int]bool)
	peak := c.matches[0].Line

	for _, m := range c.matches {
		if !seenRules[m.Rule.Hash()] {
			seenRules[m.Rule.Hash()] = true
			score += m.Rule.Score
		}
		if !noteSet[m.Rule.Note] {
			noteSet[m.Rule.Note] = true
			notes = append(notes, m.Rule.Note)
		}
		matched = append(matched, m.MatchedText)
		dangerous[m.Line] = true
		if m.Line < peak {
			peak = m.Line
		}
	}

	tagged, plain := renderSnippet(content, c.startLine, c.endLine, dangerous)

	return &models.Detection{
		OriginalLine: peak,
		MatchedText:  strings.Join(matched, " | "),
		OriginalCode: tagged,
		ContextCode:  plain,
		Patterns:     notes,
		Score:        score,
		Confidence:   b.tiers.For(score),
	}
}

// renderSnippet produces the two textual snippet forms covering the
// cluster's expanded line range: one with inline dangerous markup for the
// UI, one with a plain ">>> " prefix for AI and text contexts.
func renderSnippet(content string, startLine, endLine int, dangerous map[int]bool) (tagged, plain string) {
	lines := strings.Split(content, "\n")
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}

	var tb, pb strings.Builder
	for n := startLine; n <= endLine; n++ {
		text := lines[n-1]
		if dangerous[n] {
			fmt.Fprintf(&tb, "%d: <mark class=\"dangerous\">%s</mark>\n", n, text)
			fmt.Fprintf(&pb, ">>> %d: %s\n", n, text)
		} else {
			fmt.Fprintf(&tb, "%d: %s\n", n, text)
			fmt.Fprintf(&pb, "    %d: %s\n", n, text)
		}
	}
	return tb.String(), pb.String()
}

// applyVerdict asks the AI service for a verdict on the condensed
// context. A clean verdict suppresses the whole content: the service has
// veto power over pattern-only suspicion. Unavailability degrades to a
// pattern-only malicious verdict so unanalyzed suspicious content is
// never silently hidden.
func (b *Builder) applyVerdict(ctx context.Context, content string, matches []*models.RawMatch, detections []*models.Detection) ([]*models.Detection, error) {
	prompt := b.condense(content, matches)

	verdict, err := b.verdict.Analyze(ctx, prompt)
	if err != nil {
		b.logger.Warn("AI verdict unavailable, keeping pattern verdict", zap.Error(err))
		for _, d := range detections {
			d.WithoutAI = true
			d.AIStatus = string(ai.StatusMalicious)
		}
		return detections, nil
	}

	if verdict.Status == ai.StatusClean {
		b.logger.Debug("AI verdict clean, suppressing detections",
			zap.Int("suppressed", len(detections)))
		return nil, nil
	}

	for _, d := range detections {
		d.AIStatus = string(verdict.Status)
		d.AIAnalysis = verdict.Explanation
	}
	return detections, nil
}

// condense builds the AI context: each match window padded on both sides,
// overlapping windows merged, total output capped.
func (b *Builder) condense(content string, matches []*models.RawMatch) string {
	pad := b.cfg.AI.PadChars
	maxBytes := b.cfg.AI.MaxBytes

	type span struct{ start, end int }
	spans := make([]span, 0, len(matches))
	for _, m := range matches {
		s := m.Offset - pad
		if s < 0 {
			s = 0
		}
		e := m.Offset + len(m.MatchedText) + pad
		if e > len(content) {
			e = len(content)
		}
		spans = append(spans, span{s, e})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var merged []span
	for _, s := range spans {
		if len(merged) > 0 && s.start <= merged[len(merged)-1].end {
			if s.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}

	var sb strings.Builder
	for _, s := range merged {
		if sb.Len()+(s.end-s.start) > maxBytes {
			remain := maxBytes - sb.Len()
			if remain <= 0 {
				break
			}
			s.end = s.start + remain
		}
		sb.WriteString(content[s.start:s.end])
		sb.WriteString("\n...\n")
	}
	return sb.String()
}
