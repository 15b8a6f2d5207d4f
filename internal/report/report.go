// Package report renders a permutation run as Markdown or HTML.
package report

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"gopalm/app"
	"gopalm/internal/errors"
)

// DefaultAlpha is the significance level used for counts in the summary
const DefaultAlpha = 0.05

// topFeatures bounds the per-test listing of the strongest features
const topFeatures = 10

// Builder renders run reports
type Builder struct {
	Alpha float64
}

// NewBuilder creates a builder; a non-positive alpha selects DefaultAlpha
func NewBuilder(alpha float64) *Builder {
	if !(alpha > 0 && alpha < 1) {
		alpha = DefaultAlpha
	}
	return &Builder{Alpha: alpha}
}

// Markdown renders the run summary
func (b *Builder) Markdown(result *app.PermutationResult) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Permutation inference run %s\n\n", result.RunID)

	fmt.Fprintf(&buf, "| | |\n|---|---|\n")
	fmt.Fprintf(&buf, "| Started | %s |\n", result.StartedAt)
	fmt.Fprintf(&buf, "| Runtime | %d ms |\n", result.RuntimeMs)
	fmt.Fprintf(&buf, "| Input fingerprint | `%s` |\n", result.Fingerprint)
	fmt.Fprintf(&buf, "| Seed | %d |\n", result.Seed)
	fmt.Fprintf(&buf, "| Method | %s |\n", result.Method)
	fmt.Fprintf(&buf, "| Features | %d |\n", result.Features)
	fmt.Fprintf(&buf, "| Arrangements | %d of %s possible |\n", result.Arrangements, result.Ceiling)
	if result.Capped {
		buf.WriteString("\n> The permutation space is smaller than requested; every arrangement was enumerated.\n")
	}

	fmt.Fprintf(&buf, "\n## Tests (α = %g)\n\n", b.Alpha)
	buf.WriteString("| Test | Statistic | Untestable | min p | p < α | FDR < α | FWE < α | cross FWE < α | max null mean | max null 95% | tail fits | tail fallbacks |\n")
	buf.WriteString("|---|---|---|---|---|---|---|---|---|---|---|---|\n")
	for _, t := range result.Tests {
		cross := "-"
		if t.CrossFWE != nil {
			cross = fmt.Sprint(b.count(t.CrossFWE))
		}
		fmt.Fprintf(&buf, "| %s | %s | %d | %s | %d | %d | %d | %s | %s | %s | %d | %d |\n",
			t.Label, t.Statistic, countTrue(t.Untestable), formatP(minimum(t.Uncorrected)),
			b.count(t.Uncorrected), b.count(t.FDR), b.count(t.FWE), cross,
			formatStat(t.NullSummary.Mean), formatStat(t.NullSummary.Percentile95),
			t.Accelerated, t.TailFallbacks)
	}

	for _, t := range result.Tests {
		fmt.Fprintf(&buf, "\n## %s: strongest features\n\n", t.Label)
		buf.WriteString("| Feature | Statistic | p | FDR | FWE |\n|---|---|---|---|---|\n")
		for _, j := range strongest(t, topFeatures) {
			fmt.Fprintf(&buf, "| %d | %s | %s | %s | %s |\n",
				j+1, formatStat(t.Observed.Values[j]), formatP(t.Uncorrected[j]), formatP(t.FDR[j]), formatP(t.FWE[j]))
		}
	}
	return buf.Bytes()
}

// HTML renders the Markdown summary as a standalone HTML document
func (b *Builder) HTML(result *app.PermutationResult) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	doc := p.Parse(b.Markdown(result))
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: fmt.Sprintf("Permutation inference run %s", result.RunID),
	})
	return markdown.Render(doc, renderer)
}

// Write saves the report; .html and .htm paths get HTML, anything else Markdown
func (b *Builder) Write(path string, result *app.PermutationResult) error {
	var body []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		body = b.HTML(result)
	default:
		body = b.Markdown(result)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return errors.IOError(path, err)
	}
	return nil
}

func (b *Builder) count(p []float64) int {
	n := 0
	for _, v := range p {
		if v < b.Alpha {
			n++
		}
	}
	return n
}

// strongest orders testable features by FWE, then uncorrected p
func strongest(t app.TestResult, k int) []int {
	idx := make([]int, 0, len(t.FWE))
	for j := range t.FWE {
		if !t.Untestable[j] {
			idx = append(idx, j)
		}
	}
	sort.SliceStable(idx, func(a, c int) bool {
		ia, ic := idx[a], idx[c]
		if t.FWE[ia] != t.FWE[ic] {
			return t.FWE[ia] < t.FWE[ic]
		}
		return t.Uncorrected[ia] < t.Uncorrected[ic]
	})
	if len(idx) > k {
		idx = idx[:k]
	}
	return idx
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

func minimum(values []float64) float64 {
	best := math.NaN()
	for _, v := range values {
		if !math.IsNaN(v) && (math.IsNaN(best) || v < best) {
			best = v
		}
	}
	return best
}

func formatP(p float64) string {
	if math.IsNaN(p) {
		return "-"
	}
	if p < 1e-3 {
		return fmt.Sprintf("%.2e", p)
	}
	return fmt.Sprintf("%.4f", p)
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return "-"
	}
	return fmt.Sprintf("%.3f", v)
}
