package app

import (
	"fmt"
	"math"
	"strings"

	"idh-tui/internal/result"
	"idh-tui/internal/service"
	"idh-tui/internal/viz"

	"github.com/charmbracelet/lipgloss"
)

const (
	chartHeight     = 8
	chartAxisWidth  = 10
	chartTableRows  = 8
	chartGlyphsRaw  = " ▁▂▃▄▅▆▇█"
	chartThreshold  = '┄'
	noDetailMessage = "No detailed data for this job."
)

var (
	passBannerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 2).
			Foreground(chromeBG).
			Background(passText)

	failBannerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 2).
			Foreground(chromeBG).
			Background(warningText)

	thresholdStyle = lipgloss.NewStyle().Foreground(warningText)
)

// detailState is the transient state of an open result overlay. It is
// dropped on close and never feeds back into the job record.
type detailState struct {
	job          service.AnalysisJob
	source       service.DataSource
	analysisType service.AnalysisType

	parsed    result.Parsed
	vis       viz.Visualization
	normErr   error
	renderErr error
}

func newDetailState(job service.AnalysisJob, source service.DataSource) *detailState {
	d := &detailState{
		job:          job,
		source:       source,
		analysisType: effectiveAnalysisType(job, source),
	}
	parsed, err := result.Normalize(job.ResultDetailsJSON)
	if err != nil {
		d.normErr = err
		return d
	}
	d.parsed = parsed
	d.vis, d.renderErr = viz.Route(d.analysisType, parsed)
	return d
}

// effectiveAnalysisType falls back to the source type for jobs that do not
// carry one.
func effectiveAnalysisType(job service.AnalysisJob, source service.DataSource) service.AnalysisType {
	if job.AnalysisType != "" {
		return job.AnalysisType
	}
	return source.SourceType
}

func (d *detailState) title() string {
	name := d.source.Name
	if name == "" {
		name = fmt.Sprintf("data source %d", d.job.DataSourceID)
	}
	return fmt.Sprintf("Result: %s | job %d | %s", name, d.job.ID, d.analysisType.Label())
}

func (d *detailState) render(width int) string {
	width = maxInt(24, width)
	lines := make([]string, 0, 32)
	if d.job.ResultSummary != "" {
		lines = append(lines, d.job.ResultSummary, "")
	}

	switch {
	case d.normErr != nil && result.IsMissing(d.normErr):
		lines = append(lines, mutedTextStyle(noDetailMessage))
	case d.normErr != nil:
		lines = append(lines,
			errorStyle.Render("Could not decode the result details."),
			mutedTextStyle(d.normErr.Error()),
		)
	case d.renderErr != nil:
		lines = append(lines,
			errorStyle.Render("The result details do not match the expected shape."),
			mutedTextStyle(d.renderErr.Error()),
		)
	default:
		lines = append(lines, renderVisualization(d.vis, width)...)
	}
	return strings.Join(lines, "\n")
}

// RenderDetail renders a job's result the way the detail overlay shows it.
func RenderDetail(job service.AnalysisJob, source service.DataSource, width int) string {
	if job.Status != service.StatusCompleted {
		return fmt.Sprintf("Job %d is %s.", job.ID, statusLabel(job.Status))
	}
	if !job.HasDetails() {
		return mutedTextStyle(noDetailMessage)
	}
	d := newDetailState(job, source)
	return d.title() + "\n\n" + d.render(width)
}

func renderVisualization(vis viz.Visualization, width int) []string {
	switch v := vis.(type) {
	case viz.AnomalyChart:
		return renderAnomalyChart(v, width)
	case viz.RULChart:
		return renderRULChart(v, width)
	case viz.VerdictBanner:
		return renderVerdictBanner(v)
	case viz.Unsupported:
		return []string{mutedTextStyle(v.Message())}
	default:
		return []string{mutedTextStyle(noDetailMessage)}
	}
}

func renderAnomalyChart(c viz.AnomalyChart, width int) []string {
	flags := make([]bool, len(c.Points))
	for i, p := range c.Points {
		flags[i] = p.Anomaly
	}
	lines := []string{panelTitleStyle.Render("Reconstruction error by window")}
	lines = append(lines, renderLineChart(c.Errors(), flags, c.Threshold.OrEmpty(), c.Threshold.IsPresent(), width-chartAxisWidth)...)

	meta := fmt.Sprintf("windows: %d | anomalies: %d", len(c.Points), c.AnomalyCount())
	if t, ok := c.Threshold.Get(); ok {
		meta += fmt.Sprintf(" | threshold: %.6f", t)
	}
	lines = append(lines, meta, "")

	rows := make([]string, 0, len(c.Points))
	for _, p := range c.Points {
		row := fmt.Sprintf("%4d  %-20s %.6f", p.Index, p.Timestamp, p.Error)
		if p.Anomaly {
			row = thresholdStyle.Render(row + "  anomaly")
		}
		rows = append(rows, row)
	}
	lines = append(lines, mutedTextStyle("  idx  timestamp            error"))
	return append(lines, sampleRows(rows)...)
}

func renderRULChart(c viz.RULChart, width int) []string {
	lines := []string{panelTitleStyle.Render("Predicted remaining useful life by cycle")}
	lines = append(lines, renderLineChart(c.Predictions(), nil, 0, false, width-chartAxisWidth)...)
	if n := len(c.Points); n > 0 {
		lines = append(lines, fmt.Sprintf("cycles %s to %s | final RUL: %.2f",
			formatNumber(c.Points[0].Cycle), formatNumber(c.Points[n-1].Cycle), c.Points[n-1].RUL))
	}
	lines = append(lines, "")

	rows := make([]string, 0, len(c.Points))
	for _, p := range c.Points {
		rows = append(rows, fmt.Sprintf("%8s  %10.2f", formatNumber(p.Cycle), p.RUL))
	}
	lines = append(lines, mutedTextStyle("   cycle         RUL"))
	return append(lines, sampleRows(rows)...)
}

func renderVerdictBanner(b viz.VerdictBanner) []string {
	lines := []string{
		bannerStyle(b).Render(b.Verdict),
		"",
		"confidence: " + b.ConfidenceLabel(),
	}
	if raw, ok := b.RawScore.Get(); ok {
		lines = append(lines, fmt.Sprintf("raw score: %.6f", raw))
	}
	return lines
}

func bannerStyle(b viz.VerdictBanner) lipgloss.Style {
	if b.Pass {
		return passBannerStyle
	}
	return failBannerStyle
}

// sampleRows keeps the point table short: head and tail with an elision.
func sampleRows(rows []string) []string {
	if len(rows) <= chartTableRows {
		return rows
	}
	half := chartTableRows / 2
	out := make([]string, 0, chartTableRows+1)
	out = append(out, rows[:half]...)
	out = append(out, mutedTextStyle(fmt.Sprintf("   ... %d more ...", len(rows)-chartTableRows)))
	return append(out, rows[len(rows)-half:]...)
}

// renderLineChart draws values as columns of block glyphs, chartHeight rows
// tall, with a y-axis on the left. Flagged columns are drawn in the warning
// colour and an optional threshold is drawn as a dashed row.
func renderLineChart(values []float64, flags []bool, threshold float64, hasThreshold bool, width int) []string {
	width = maxInt(8, width)
	if len(values) == 0 {
		return []string{mutedTextStyle("(no points)")}
	}
	cols, colFlags := bucketValues(values, flags, width)

	low, high := minMax(cols)
	if hasThreshold {
		low = math.Min(low, threshold)
		high = math.Max(high, threshold)
	}
	if low > 0 && low < high {
		low = 0
	}
	if high == low {
		high = low + 1
	}

	glyphs := []rune(chartGlyphsRaw)
	steps := len(glyphs) - 1
	total := chartHeight * steps
	levelOf := func(v float64) int {
		return clampInt(int(math.Round((v-low)/(high-low)*float64(total))), 0, total)
	}
	thresholdRow := -1
	if hasThreshold {
		thresholdRow = clampInt(levelOf(threshold)/steps, 0, chartHeight-1)
	}

	styles := chartStyles()
	lowStyle := lipgloss.NewStyle().Foreground(chartLow).Background(chartBandBG)
	flagStyle := lipgloss.NewStyle().Foreground(warningText).Background(chartBandBG)
	lineStyle := thresholdStyle.Copy().Background(chartBandBG)

	rows := make([]string, 0, chartHeight+1)
	for row := chartHeight - 1; row >= 0; row-- {
		axis := strings.Repeat(" ", chartAxisWidth-2)
		switch row {
		case chartHeight - 1:
			axis = fmt.Sprintf("%*s", chartAxisWidth-2, formatNumber(high))
		case 0:
			axis = fmt.Sprintf("%*s", chartAxisWidth-2, formatNumber(low))
		case thresholdRow:
			axis = fmt.Sprintf("%*s", chartAxisWidth-2, formatNumber(threshold))
		}
		var b strings.Builder
		b.WriteString(mutedTextStyle(axis + " ┤"))
		for idx, v := range cols {
			fill := levelOf(v) - row*steps
			switch {
			case fill >= steps:
				fill = steps
			case fill < 0:
				fill = 0
			}
			if fill == 0 {
				if row == thresholdRow {
					b.WriteString(lineStyle.Render(string(chartThreshold)))
				} else {
					b.WriteString(lowStyle.Render(" "))
				}
				continue
			}
			style := styles[clampInt(row*len(styles)/chartHeight, 0, len(styles)-1)]
			if colFlags != nil && colFlags[idx] {
				style = flagStyle
			}
			b.WriteString(style.Render(string(glyphs[fill])))
		}
		rows = append(rows, b.String())
	}
	rows = append(rows, mutedTextStyle(strings.Repeat(" ", chartAxisWidth-2)+" └"+strings.Repeat("─", len(cols))))
	return rows
}

// bucketValues fits values into at most width columns, keeping the peak of
// each bucket so spikes stay visible.
func bucketValues(values []float64, flags []bool, width int) ([]float64, []bool) {
	if len(flags) != len(values) {
		flags = nil
	}
	if len(values) <= width {
		return values, flags
	}
	cols := make([]float64, width)
	var colFlags []bool
	if flags != nil {
		colFlags = make([]bool, width)
	}
	for c := 0; c < width; c++ {
		start := c * len(values) / width
		end := maxInt(start+1, (c+1)*len(values)/width)
		peak := values[start]
		for i := start; i < end; i++ {
			peak = math.Max(peak, values[i])
			if colFlags != nil && flags[i] {
				colFlags[c] = true
			}
		}
		cols[c] = peak
	}
	return cols, colFlags
}

func chartStyles() []lipgloss.Style {
	styles := make([]lipgloss.Style, len(chartPalette))
	for idx, color := range chartPalette {
		styles[idx] = lipgloss.NewStyle().
			Foreground(color).
			Background(chartBandBG)
	}
	return styles
}

func minMax(values []float64) (float64, float64) {
	low, high := values[0], values[0]
	for _, v := range values[1:] {
		low = math.Min(low, v)
		high = math.Max(high, v)
	}
	return low, high
}

func formatNumber(v float64) string {
	switch {
	case v == math.Trunc(v) && math.Abs(v) < 1e9:
		return fmt.Sprintf("%.0f", v)
	case math.Abs(v) >= 100:
		return fmt.Sprintf("%.1f", v)
	case math.Abs(v) >= 1:
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%.4f", v)
	}
}
