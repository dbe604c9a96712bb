package report

import (
	"fmt"
	"strings"

	"github.com/Evjaj/purescan-sub000/pkg/models"
)

func (g *Generator) renderText(snap *models.Snapshot) ([]byte, error) {
	var sb strings.Builder
	rule := strings.Repeat("=", 79) + "\n"
	thin := strings.Repeat("-", 79) + "\n"

	sb.WriteString(rule)
	sb.WriteString(fmt.Sprintf("  PURESCAN REPORT  (scan %s)\n", snap.ID))
	sb.WriteString(rule)
	sb.WriteString("\n")

	sb.WriteString("SUMMARY\n")
	sb.WriteString(thin)
	sb.WriteString(fmt.Sprintf("Status:           %s\n", snap.Status))
	sb.WriteString(fmt.Sprintf("Sources checked:  %d\n", snap.Scanned))
	sb.WriteString(fmt.Sprintf("Suspicious:       %d\n", snap.Suspicious))
	sb.WriteString(fmt.Sprintf("Read errors:      %d\n", snap.Errors))
	if snap.Message != "" {
		sb.WriteString(fmt.Sprintf("Result:           %s\n", snap.Message))
	}
	sb.WriteString("\n")

	if len(snap.Findings) > 0 {
		counts := countByConfidence(snap.Findings)
		sb.WriteString("FINDINGS BY CONFIDENCE\n")
		sb.WriteString(thin)
		for _, c := range []models.Confidence{
			models.ConfidenceVeryHigh,
			models.ConfidenceHigh,
			models.ConfidenceMedium,
			models.ConfidenceLow,
		} {
			if counts[c] > 0 {
				sb.WriteString(fmt.Sprintf("  %-10s: %d\n", strings.ToUpper(string(c)), counts[c]))
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString("PHASES\n")
	sb.WriteString(thin)
	for _, phase := range models.PhaseOrder() {
		status, ok := snap.StepStatus[phase]
		if !ok {
			status = "pending"
		}
		count := snap.StepCounts[phase]
		sb.WriteString(fmt.Sprintf("  %-18s %-9s checked %d, flagged %d\n",
			phase, status, count.Checked, count.Found))
	}
	sb.WriteString("\n")

	for i, f := range snap.Findings {
		sb.WriteString(fmt.Sprintf("FINDING %d: %s [%s, %s]\n", i+1, f.Path, findingKind(f), topConfidence(f)))
		sb.WriteString(thin)
		for _, d := range f.Snippets {
			sb.WriteString(fmt.Sprintf("  line %d  score %d  %s\n", d.OriginalLine, d.Score, d.Confidence))
			for _, p := range d.Patterns {
				sb.WriteString(fmt.Sprintf("    - %s\n", p))
			}
			if d.AIStatus != "" {
				sb.WriteString(fmt.Sprintf("    AI: %s\n", d.AIStatus))
			}
			if d.ContextCode != "" {
				for _, line := range strings.Split(strings.TrimRight(d.ContextCode, "\n"), "\n") {
					sb.WriteString("    | " + line + "\n")
				}
			}
		}
		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}
