package report

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/devicelab-dev/visual-runner/pkg/core"
)

// HTMLConfig contains configuration for HTML report generation.
type HTMLConfig struct {
	OutputPath  string // Path to write the HTML file (default <reportDir>/report.html)
	EmbedAssets bool   // Embed images as base64 so the file is portable
	Title       string // Report title (default: "Visual Test Report")
}

// GenerateHTML renders report.json in reportDir as a static HTML page.
func GenerateHTML(reportDir string, cfg HTMLConfig) error {
	index, err := ReadIndex(reportDir)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	if cfg.Title == "" {
		cfg.Title = "Visual Test Report"
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = filepath.Join(reportDir, HTMLFile)
	}

	html, err := renderHTML(buildHTMLData(index, reportDir, cfg))
	if err != nil {
		return fmt.Errorf("render html: %w", err)
	}
	if err := os.WriteFile(cfg.OutputPath, []byte(html), 0o644); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}

// HTMLData contains all data needed for the HTML template.
type HTMLData struct {
	Title       string
	GeneratedAt string
	Index       *Index
	Elapsed     string
	PassRate    float64
	Units       []UnitHTMLData
}

// UnitHTMLData is one result row.
type UnitHTMLData struct {
	core.Result
	StatusClass string
	DurationStr string
	Images      []ImageHTMLData
}

// ImageHTMLData is a screenshot, diff or baseline link.
type ImageHTMLData struct {
	Name string
	Src  template.URL
}

var statusClass = map[core.Status]string{
	core.StatusPassed:  "passed",
	core.StatusFailed:  "failed",
	core.StatusSkipped: "skipped",
	core.StatusRunning: "running",
	core.StatusPending: "pending",
}

func buildHTMLData(index *Index, reportDir string, cfg HTMLConfig) HTMLData {
	units := make([]UnitHTMLData, len(index.Units))
	for i, r := range index.Units {
		u := UnitHTMLData{
			Result:      r,
			StatusClass: statusClass[r.Status],
			DurationStr: formatDuration(r.Duration),
		}
		for _, a := range r.Attachments() {
			u.Images = append(u.Images, ImageHTMLData{Name: a.Name, Src: imageSrc(a.Path, reportDir, cfg.EmbedAssets)})
		}
		units[i] = u
	}

	var passRate float64
	if index.Summary.Total > 0 {
		passRate = float64(index.Summary.Passed) / float64(index.Summary.Total) * 100
	}

	return HTMLData{
		Title:       cfg.Title,
		GeneratedAt: time.Now().Format("2006-01-02 15:04:05"),
		Index:       index,
		Elapsed:     formatDuration(index.Summary.Elapsed),
		PassRate:    passRate,
		Units:       units,
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

// imageSrc returns a data URI when embedding, else a path relative to the report.
func imageSrc(path, reportDir string, embed bool) template.URL {
	if embed {
		if uri := loadAsBase64(path); uri != "" {
			return template.URL(uri) //#nosec G203 -- generated data URI
		}
	}
	if rel, err := filepath.Rel(reportDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		path = rel
	}
	return template.URL(filepath.ToSlash(path)) //#nosec G203 -- local artifact path
}

func loadAsBase64(path string) string {
	data, err := os.ReadFile(path) //#nosec G304 -- artifact recorded by the run
	if err != nil {
		return ""
	}
	return "data:" + core.ContentTypePNG + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func renderHTML(data HTMLData) (string, error) {
	tmpl, err := template.New("report").Parse(htmlTemplate)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 2rem; color: #111827; }
table { border-collapse: collapse; width: 100%; }
th, td { border-bottom: 1px solid #e5e7eb; padding: .5rem; text-align: left; vertical-align: top; }
.passed { color: #059669; } .failed { color: #dc2626; } .skipped { color: #6b7280; }
.summary span { margin-right: 1.5rem; }
.error { font-family: monospace; white-space: pre-wrap; }
img { max-width: 240px; border: 1px solid #e5e7eb; margin-right: .5rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Run {{.Index.RunID}} &middot; {{.Index.Runner.Browser}} &middot; generated {{.GeneratedAt}}</p>
<p class="summary">
<span>Total {{.Index.Summary.Total}}</span>
<span class="passed">Passed {{.Index.Summary.Passed}}</span>
<span class="failed">Failed {{.Index.Summary.Failed}}</span>
<span class="skipped">Skipped {{.Index.Summary.Skipped}}</span>
{{if .Index.Summary.Flaky}}<span>Flaky {{.Index.Summary.Flaky}}</span>{{end}}
<span>Pass rate {{printf "%.0f" .PassRate}}%</span>
<span>Elapsed {{.Elapsed}}</span>
</p>
<table>
<thead><tr><th>Unit</th><th>Status</th><th>Templates</th><th>Attempts</th><th>Duration</th><th>Details</th></tr></thead>
<tbody>
{{range .Units}}
<tr>
<td>{{.ID}}<br><small>{{.Name}}</small></td>
<td class="{{.StatusClass}}">{{.Status}}{{if .Flaky}} (flaky){{end}}</td>
<td>{{range $i, $t := .Templates}}{{if $i}} &rarr; {{end}}{{$t}}{{end}}</td>
<td>{{.Attempts}}/{{.MaxAttempts}}</td>
<td>{{.DurationStr}}</td>
<td>
{{if .Error}}<div class="error">{{.Error}}</div>{{end}}
{{range .Warnings}}<div>&#9888; {{.}}</div>{{end}}
{{with .Perf}}<div>perf: {{.Count}} loads, avg {{.Average}}, min {{.Min}}, max {{.Max}}</div>{{end}}
{{range .Images}}<a href="{{.Src}}" title="{{.Name}}"><img src="{{.Src}}" alt="{{.Name}}"></a>{{end}}
</td>
</tr>
{{end}}
</tbody>
</table>
</body>
</html>
`
