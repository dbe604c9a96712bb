package report

import (
	"bytes"
	"html/template"

	"github.com/Evjaj/purescan-sub000/pkg/models"
)

var htmlTmpl = template.Must(template.New("report").Funcs(template.FuncMap{
	"kind": findingKind,
	"top":  topConfidence,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Purescan Report {{.ID}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem auto; max-width: 60rem; color: #24292f; }
h1 { border-bottom: 2px solid #d0d7de; padding-bottom: .3rem; }
table { border-collapse: collapse; margin: 1rem 0; }
th, td { border: 1px solid #d0d7de; padding: .35rem .8rem; text-align: left; }
th { background: #f6f8fa; }
pre { background: #f6f8fa; padding: .8rem; overflow-x: auto; border-radius: 6px; }
mark.dangerous { background: #ffebe9; color: #cf222e; font-weight: 600; }
.finding { border: 1px solid #d0d7de; border-radius: 6px; padding: 1rem; margin: 1rem 0; }
.badge { display: inline-block; padding: .1rem .5rem; border-radius: 1rem; font-size: .8rem; }
.badge.high, .badge.very_high, .badge.critical { background: #ffebe9; color: #cf222e; }
.badge.medium, .badge.warning { background: #fff8c5; color: #9a6700; }
.badge.low, .badge.success { background: #dafbe1; color: #1a7f37; }
.badge.pending, .badge.error { background: #f6f8fa; color: #57606a; }
</style>
</head>
<body>
<h1>Purescan Report</h1>
<p>Scan <code>{{.ID}}</code>, status <strong>{{.Status}}</strong>.
{{if .Message}}{{.Message}}{{end}}</p>

<table>
<tr><th>Sources checked</th><td>{{.Scanned}}</td></tr>
<tr><th>Suspicious</th><td>{{.Suspicious}}</td></tr>
<tr><th>Read errors</th><td>{{.Errors}}</td></tr>
</table>

<h2>Phases</h2>
<table>
<tr><th>Phase</th><th>Status</th><th>Checked</th><th>Flagged</th></tr>
{{range $phase := .Phases}}
<tr>
<td>{{$phase.Name}}</td>
<td><span class="badge {{$phase.Status}}">{{$phase.Status}}</span></td>
<td>{{$phase.Checked}}</td>
<td>{{$phase.Found}}</td>
</tr>
{{end}}
</table>

<h2>Findings</h2>
{{if not .Findings}}<p>No suspicious sources found.</p>{{end}}
{{range .Findings}}
<div class="finding">
<h3><code>{{.Path}}</code> <span class="badge {{top .}}">{{top .}}</span></h3>
<p>{{kind .}}{{if .IsDatabase}}, table <code>{{.DBTable}}</code>, row {{.DBRowID}}{{end}}</p>
{{range .Snippets}}
<p>Line {{.OriginalLine}}, score {{.Score}}, confidence {{.Confidence}}{{if .AIStatus}}, AI {{.AIStatus}}{{end}}</p>
<ul>{{range .Patterns}}<li>{{.}}</li>{{end}}</ul>
{{if .AIAnalysis}}<p>{{.AIAnalysis}}</p>{{end}}
<pre>{{.ContextCode}}</pre>
{{end}}
</div>
{{end}}
</body>
</html>
`))

// htmlPhase is one row of the phase table.
type htmlPhase struct {
	Name    models.Phase
	Status  models.StepStatus
	Checked int
	Found   int
}

// htmlData adapts a snapshot for the template.
type htmlData struct {
	*models.Snapshot
	Phases []htmlPhase
}

func (g *Generator) renderHTML(snap *models.Snapshot) ([]byte, error) {
	data := htmlData{Snapshot: snap}
	for _, phase := range models.PhaseOrder() {
		status, ok := snap.StepStatus[phase]
		if !ok {
			status = "pending"
		}
		count := snap.StepCounts[phase]
		data.Phases = append(data.Phases, htmlPhase{
			Name:    phase,
			Status:  status,
			Checked: count.Checked,
			Found:   count.Found,
		})
	}

	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
