package app

import (
	"fmt"
	"math"
	"strings"
	"time"

	"idh-tui/internal/service"

	"github.com/charmbracelet/lipgloss"
)

const (
	maxActivityEntries = 1200
	minSourcesHeight   = 6
	minActivityHeight  = 3
)

func (m Model) View() string {
	if !m.ready {
		return "Booting idh-tui..."
	}

	innerWidth := maxInt(40, m.width-2)
	innerHeight := maxInt(12, m.height-2)

	header := headerStyle.Render("Industrial Data Hub") + subHeaderStyle.Render(m.backendLabel())

	statusPrefix := "*"
	if m.anyActive() {
		statusPrefix = m.spinner.View()
	}
	statusBody := strings.TrimSpace(m.statusText)
	if statusBody == "" {
		statusBody = "Ready"
	}
	statusLine := statusStyle.Render(statusPrefix + " " + statusBody)
	if strings.TrimSpace(m.errorText) != "" {
		statusLine = errorStyle.Render(m.errorText)
	}

	parts := []string{header, statusLine}
	if m.form.active {
		formWidth := clampInt(innerWidth-4, 42, 90)
		parts = append(parts, renderPanel("New Data Source", m.form.view(), formWidth, 12, true))
	}

	if m.detail != nil {
		parts = append(parts, renderPanel(
			m.detail.title(),
			m.detailView.View(),
			m.detailW,
			m.detailH,
			true,
		))
	} else {
		parts = append(parts, lipgloss.JoinHorizontal(lipgloss.Top,
			renderPanel(
				"Data Sources",
				m.sourceList.View(),
				m.sourcesW,
				m.sourcesH,
				m.focusPane == paneSources,
			),
			renderPanel(
				"Job",
				m.jobView.View(),
				m.jobW,
				m.jobH,
				m.focusPane == paneJob,
			),
		))
	}

	parts = append(parts, renderPanel(
		"Activity",
		m.activity.View(),
		m.activityW,
		m.activityH,
		m.focusPane == paneActivity && m.detail == nil,
	))

	if m.showHelp {
		parts = append(parts, helpStyle.Render(m.helpLine()))
	}

	body := strings.Join(parts, "\n")
	body = fitTextHeight(body, innerHeight)
	return lipgloss.NewStyle().
		Background(chromeBG).
		Foreground(lipgloss.Color("#E8F0F2")).
		Width(innerWidth).
		Height(innerHeight).
		Padding(0, 1).
		Render(body)
}

func (m Model) helpLine() string {
	if m.detail != nil {
		return "esc close | ctrl+s export result | up/down scroll | q quit"
	}
	return "a analyze | enter details | n new source | r reload | tab/shift+tab cycle panes | up/down select | ctrl+l clear activity | ? help | q quit"
}

func (m Model) backendLabel() string {
	if m.poller == nil {
		return ""
	}
	return fmt.Sprintf("  polling every %s", m.poller.Interval())
}

func renderPanel(title, body string, width, height int, focused bool) string {
	borderColor := panelBorder
	if focused {
		borderColor = accentSecondary
	}
	style := panelStyle.Copy().
		BorderForeground(borderColor).
		Width(width).
		Height(height)

	titleLine := panelTitleStyle.Render(title)
	return style.Render(titleLine + "\n" + body)
}

func (m *Model) resizePanels() {
	if m.width <= 0 || m.height <= 0 {
		return
	}

	usableW := maxInt(40, m.width-6)
	innerH := maxInt(12, m.height-2)
	verticalOverhead := 4
	if m.showHelp {
		verticalOverhead = 5
	}
	panelRowsBudget := maxInt(10, innerH-verticalOverhead)

	topH := int(math.Round(float64(panelRowsBudget) * 0.68))
	topH = clampInt(topH, minSourcesHeight+2, maxInt(minSourcesHeight+2, panelRowsBudget-(minActivityHeight+2)))
	bottomH := maxInt(minActivityHeight+2, panelRowsBudget-topH)

	leftW := int(math.Round(float64(usableW) * 0.58))
	leftW = clampInt(leftW, 30, usableW-20)
	rightW := usableW - leftW

	sourcesInnerW := maxInt(20, leftW-6)
	sourcesViewH := maxInt(1, topH-3)
	m.sourceList.Width = sourcesInnerW
	m.sourceList.Height = sourcesViewH
	m.sourcesW = sourcesInnerW + 4
	m.sourcesH = sourcesViewH + 1

	jobInnerW := maxInt(16, rightW-6)
	m.jobView.Width = jobInnerW
	m.jobView.Height = sourcesViewH
	m.jobW = jobInnerW + 4
	m.jobH = sourcesViewH + 1

	detailInnerW := maxInt(30, usableW-4)
	m.detailView.Width = detailInnerW
	m.detailView.Height = sourcesViewH
	m.detailW = detailInnerW + 4
	m.detailH = sourcesViewH + 1

	activityInnerW := maxInt(20, usableW-4)
	activityViewH := maxInt(1, bottomH-3)
	m.activity.Width = activityInnerW
	m.activity.Height = activityViewH
	m.activityW = activityInnerW + 4
	m.activityH = activityViewH + 1

	inputW := clampInt(usableW-22, 20, 78)
	m.form.name.Width = inputW
	m.form.desc.Width = inputW
	m.form.path.Width = inputW

	if len(m.activityEntries) > 0 {
		m.rebuildActivityContent(m.activityAutoFollow)
	}
	if m.detail != nil {
		m.detailView.SetContent(m.detail.render(m.detailView.Width))
	}
	m.refreshSourcesView()
	m.refreshJobView()
}

func (m *Model) refreshSourcesView() {
	if m.sourcesErr != "" {
		lines := wrapLineToWidth(m.sourcesErr, maxInt(1, m.sourceList.Width))
		for i := range lines {
			lines[i] = errorStyle.Render(lines[i])
		}
		m.sourceList.SetContent(strings.Join(lines, "\n"))
		m.sourceList.SetYOffset(0)
		m.renderedLines = 0
		return
	}
	if len(m.sources) == 0 {
		if m.loading {
			m.sourceList.SetContent("Loading data sources...")
		} else {
			m.sourceList.SetContent("No data sources yet.\nPress n to register one.")
		}
		m.sourceList.SetYOffset(0)
		m.cursorTop = 0
		m.cursorBottom = 0
		m.renderedLines = 0
		return
	}

	m.cursor = clampInt(m.cursor, 0, len(m.sources)-1)
	contentWidth := maxInt(1, m.sourceList.Width)
	lines := make([]string, 0, len(m.sources)*3)
	for idx, src := range m.sources {
		style := lipgloss.NewStyle()
		if idx == m.cursor {
			style = selectedLineStyle
		}
		block := wrapBlock(m.sourceRowLines(src, idx == m.cursor), contentWidth, style)
		lineTop := len(lines)
		lines = append(lines, strings.Split(block, "\n")...)
		if idx == m.cursor {
			m.cursorTop = lineTop
			m.cursorBottom = len(lines) - 1
		}
	}
	m.sourceList.SetContent(strings.Join(lines, "\n"))
	m.renderedLines = len(lines)
	m.ensureCursorVisible()
}

// sourceRowLines renders one data source with its job state. Errors stay in
// the row that produced them.
func (m Model) sourceRowLines(src service.DataSource, selected bool) []string {
	cursor := " "
	if selected {
		cursor = "▶"
	}
	job, hasJob := m.storedJob(src.ID)
	state := statusLabel("")
	if hasJob {
		state = statusLabel(job.Status)
	}
	switch {
	case m.submitting[src.ID] && !hasJob:
		state = m.spinner.View() + " SUBMITTING"
	case hasJob && job.Status.IsActive():
		state = m.spinner.View() + " " + state
	}

	location := src.Location
	if strings.TrimSpace(location) == "" {
		location = "N/A"
	}
	lines := []string{
		fmt.Sprintf("%s #%d %s | %s | %s", cursor, src.ID, src.Name, src.SourceType.Label(), state),
		fmt.Sprintf("    file: %s | created %s", filepathBase(location), trimTime(src.CreatedAt)),
	}
	if desc := strings.TrimSpace(src.Description); desc != "" {
		lines = append(lines, "    "+truncateText(desc, 80))
	}
	if hasJob && job.ErrorMessage != "" {
		lines = append(lines, errorStyle.Render("    ! "+truncateText(job.ErrorMessage, 120)))
	}
	return lines
}

func (m *Model) ensureCursorVisible() {
	if m.renderedLines == 0 {
		m.sourceList.SetYOffset(0)
		return
	}
	visibleRows := maxInt(1, m.sourceList.Height)
	cursorTop := clampInt(m.cursorTop, 0, m.renderedLines-1)
	cursorBottom := clampInt(m.cursorBottom, cursorTop, m.renderedLines-1)
	top := clampInt(m.sourceList.YOffset, 0, m.renderedLines-1)
	bottom := top + visibleRows - 1
	if cursorTop < top {
		m.sourceList.SetYOffset(cursorTop)
		return
	}
	if cursorBottom > bottom {
		m.sourceList.SetYOffset(cursorBottom - visibleRows + 1)
		return
	}
	m.sourceList.SetYOffset(top)
}

func (m *Model) refreshJobView() {
	src, ok := m.selectedSource()
	if !ok {
		m.jobView.SetContent("Select a data source.")
		return
	}
	lines := []string{
		panelTitleStyle.Render(src.Name),
		fmt.Sprintf("type: %s", src.SourceType.Label()),
	}
	if reason := m.analyzeBlockedReason(src); reason != "" {
		lines = append(lines, mutedTextStyle("analyze: disabled ("+reason+")"))
	} else {
		lines = append(lines, statusStyle.Render("analyze: press a"))
	}
	lines = append(lines, "")

	job, ok := m.storedJob(src.ID)
	if !ok {
		lines = append(lines, "No analysis has run for this source yet.")
		m.jobView.SetContent(wrapBlock(lines, m.jobView.Width, lipgloss.NewStyle()))
		return
	}
	jobID := "pending"
	if job.ID != 0 {
		jobID = fmt.Sprintf("%d", job.ID)
	}
	lines = append(lines,
		fmt.Sprintf("job: %s", jobID),
		fmt.Sprintf("status: %s", statusLabel(job.Status)),
		fmt.Sprintf("analysis: %s", effectiveAnalysisType(job, src).Label()),
	)
	if ts := trimTime(job.UpdatedAt); ts != "" {
		lines = append(lines, "updated: "+ts)
	}
	if job.ResultSummary != "" {
		lines = append(lines, "", job.ResultSummary)
	}
	if job.ErrorMessage != "" {
		lines = append(lines, "", errorStyle.Render(job.ErrorMessage))
	}
	if job.Status == service.StatusCompleted {
		if job.HasDetails() {
			lines = append(lines, "", statusStyle.Render("enter: open result detail"))
		} else {
			lines = append(lines, "", mutedTextStyle("No detailed data for this job."))
		}
	}
	m.jobView.SetContent(wrapBlock(lines, m.jobView.Width, lipgloss.NewStyle()))
}

func (m *Model) appendActivityLine(line string) {
	entry := strings.TrimSpace(strings.ReplaceAll(line, "\n", " "))
	if entry == "" {
		return
	}
	shouldFollow := m.focusPane != paneActivity || m.activityAutoFollow || m.activity.AtBottom()
	m.activityEntries = append(m.activityEntries, time.Now().Format("15:04:05")+" | "+entry)
	if len(m.activityEntries) > maxActivityEntries {
		m.activityEntries = m.activityEntries[len(m.activityEntries)-maxActivityEntries:]
	}
	m.rebuildActivityContent(shouldFollow)
}

func (m *Model) rebuildActivityContent(shouldFollow bool) {
	if len(m.activityEntries) == 0 {
		m.activity.SetContent("No activity yet.")
		m.activity.GotoTop()
		return
	}
	width := maxInt(8, m.activity.Width)
	rendered := make([]string, 0, len(m.activityEntries))
	for _, entry := range m.activityEntries {
		rendered = append(rendered, wrapLineToWidth(entry, width)...)
	}
	m.activity.SetContent(strings.Join(rendered, "\n"))
	if shouldFollow {
		m.activity.GotoBottom()
		m.activityAutoFollow = true
	}
}

// wrapBlock word-wraps already styled lines to width.
func wrapBlock(lines []string, width int, style lipgloss.Style) string {
	return style.Width(maxInt(1, width)).Render(strings.Join(lines, "\n"))
}

func mutedTextStyle(text string) string {
	return lipgloss.NewStyle().Foreground(mutedText).Render(text)
}

func fitTextHeight(text string, height int) string {
	if height <= 0 {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return strings.Join(lines, "\n")
}
