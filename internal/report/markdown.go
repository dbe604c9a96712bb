package report

import (
	"fmt"
	"strings"

	"github.com/Evjaj/purescan-sub000/pkg/models"
)

func (g *Generator) renderMarkdown(snap *models.Snapshot) ([]byte, error) {
	var sb strings.Builder

	sb.WriteString("# Purescan Report\n\n")
	sb.WriteString(fmt.Sprintf("Scan `%s`, status **%s**.\n\n", snap.ID, snap.Status))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n|---|---|\n")
	sb.WriteString(fmt.Sprintf("| Sources checked | %d |\n", snap.Scanned))
	sb.WriteString(fmt.Sprintf("| Suspicious | %d |\n", snap.Suspicious))
	sb.WriteString(fmt.Sprintf("| Read errors | %d |\n", snap.Errors))
	sb.WriteString("\n")

	sb.WriteString("## Phases\n\n")
	sb.WriteString("| Phase | Status | Checked | Flagged |\n|---|---|---|---|\n")
	for _, phase := range models.PhaseOrder() {
		status, ok := snap.StepStatus[phase]
		if !ok {
			status = "pending"
		}
		count := snap.StepCounts[phase]
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d |\n", phase, status, count.Checked, count.Found))
	}
	sb.WriteString("\n")

	if len(snap.Findings) == 0 {
		sb.WriteString("No suspicious sources found.\n")
		return []byte(sb.String()), nil
	}

	sb.WriteString("## Findings\n\n")
	for _, f := range snap.Findings {
		sb.WriteString(fmt.Sprintf("### `%s`\n\n", f.Path))
		sb.WriteString(fmt.Sprintf("%s, top confidence **%s**", findingKind(f), topConfidence(f)))
		if f.IsDatabase {
			sb.WriteString(fmt.Sprintf(" (table `%s`, row %d)", f.DBTable, f.DBRowID))
		}
		sb.WriteString("\n\n")

		for _, d := range f.Snippets {
			sb.WriteString(fmt.Sprintf("- line %d, score %d, %s", d.OriginalLine, d.Score, d.Confidence))
			if d.AIStatus != "" {
				sb.WriteString(fmt.Sprintf(", AI %s", d.AIStatus))
			}
			sb.WriteString("\n")
			for _, p := range d.Patterns {
				sb.WriteString(fmt.Sprintf("  - %s\n", p))
			}
			if d.ContextCode != "" {
				sb.WriteString("\n```\n")
				sb.WriteString(strings.TrimRight(d.ContextCode, "\n"))
				sb.WriteString("\n```\n")
			}
		}
		sb.WriteString("\n")
	}

	return []byte(sb.String()), nil
}
