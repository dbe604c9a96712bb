// Package report renders a finished scan snapshot into shareable report
// files. The console progress view lives with the CLI; this package only
// deals with durable formats.
package report

import (
	"fmt"
	"os"
	"strings"

	"github.com/Evjaj/purescan-sub000/pkg/models"
	"go.uber.org/zap"
)

// Format selects the report output format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat maps a user-supplied format name onto a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("unknown report format %q", s)
}

// Generator renders snapshots into report files.
type Generator struct {
	logger *zap.Logger
}

func NewGenerator(logger *zap.Logger) *Generator {
	return &Generator{logger: logger}
}

// Generate renders the snapshot in the given format and writes it to
// outputFile. An empty outputFile writes to stdout.
func (g *Generator) Generate(snap *models.Snapshot, format Format, outputFile string) error {
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatJSON:
		data, err = g.renderJSON(snap)
	case FormatText:
		data, err = g.renderText(snap)
	case FormatMarkdown:
		data, err = g.renderMarkdown(snap)
	case FormatHTML:
		data, err = g.renderHTML(snap)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
	if err != nil {
		return err
	}

	if outputFile == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outputFile, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	g.logger.Info("Report written",
		zap.String("file", outputFile),
		zap.String("format", string(format)))
	return nil
}

// findingKind names what a finding points at for report grouping.
func findingKind(f *models.Finding) string {
	switch {
	case f.IsDatabase:
		return "database"
	case f.IsCoreModified:
		return "core file"
	case f.IsPluginModified:
		return "plugin file"
	case f.IsExternal:
		return "external file"
	default:
		return "file"
	}
}

// topConfidence returns the highest confidence among a finding's
// detections.
func topConfidence(f *models.Finding) models.Confidence {
	rank := map[models.Confidence]int{
		models.ConfidenceLow:      1,
		models.ConfidenceMedium:   2,
		models.ConfidenceHigh:     3,
		models.ConfidenceVeryHigh: 4,
	}
	top := models.ConfidenceLow
	for _, d := range f.Snippets {
		if rank[d.Confidence] > rank[top] {
			top = d.Confidence
		}
	}
	return top
}

// countByConfidence tallies findings by their top confidence tier.
func countByConfidence(findings []*models.Finding) map[models.Confidence]int {
	counts := make(map[models.Confidence]int)
	for _, f := range findings {
		counts[topConfidence(f)]++
	}
	return counts
}
