package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"idh-tui/internal/jobs"
	"idh-tui/internal/result"
	"idh-tui/internal/service"
	"idh-tui/internal/storage"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	chromeBG        = lipgloss.Color("#05090C")
	panelBorder     = lipgloss.Color("#2D6A80")
	accentPrimary   = lipgloss.Color("#50E3C2")
	accentSecondary = lipgloss.Color("#F6AE2D")
	mutedText       = lipgloss.Color("#8CA1AE")
	warningText     = lipgloss.Color("#FF6B6B")
	passText        = lipgloss.Color("#44E7AE")
	chartLow        = lipgloss.Color("#2B4C5B")
	chartBandBG     = lipgloss.Color("#13232C")
	chartPalette    = []lipgloss.Color{
		lipgloss.Color("#2B7EA1"),
		lipgloss.Color("#20B6D9"),
		lipgloss.Color("#44E7AE"),
		lipgloss.Color("#D8F26F"),
	}
)

var (
	headerStyle = lipgloss.NewStyle().
			Padding(0, 1).
			Bold(true).
			Foreground(accentPrimary)

	subHeaderStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	statusStyle = lipgloss.NewStyle().
			Foreground(accentSecondary).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(warningText).
			Bold(true)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(accentPrimary).
			Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(panelBorder).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedText)

	selectedLineStyle = lipgloss.NewStyle().
				Foreground(accentPrimary).
				Bold(true)
)

// DataSourceAPI is the part of the backend client the dashboard calls
// directly. Job submission and polling go through the poller.
type DataSourceAPI interface {
	ListDataSources(ctx context.Context) ([]service.DataSource, error)
	CreateDataSource(ctx context.Context, fields service.NewDataSource) (*service.DataSource, error)
	UploadFile(ctx context.Context, dataSourceID int64, filename string, content io.Reader) (*service.DataSource, error)
}

type sourcesLoadedMsg struct {
	sources []service.DataSource
	err     error
}

type jobUpdatedMsg struct {
	dataSourceID int64
	job          service.AnalysisJob
}

// JobUpdated wraps a poller notification so it can be passed to Program.Send.
func JobUpdated(dataSourceID int64, job service.AnalysisJob) tea.Msg {
	return jobUpdatedMsg{dataSourceID: dataSourceID, job: job}
}

type submitDoneMsg struct {
	dataSourceID int64
	err          error
}

type trackDoneMsg struct {
	dataSourceID int64
	err          error
}

type sourceCreatedMsg struct {
	source   *service.DataSource
	name     string
	uploaded string
	err      error
	// uploadErr is set when the source was created but its file was not.
	uploadErr error
}

type bundleSavedMsg struct {
	summary storage.ExportSummary
	err     error
}

type focusPane int

const (
	paneSources focusPane = iota
	paneJob
	paneActivity
)

// Options tunes a Model. Zero values fall back to defaults.
type Options struct {
	RequestTimeout time.Duration
}

type Model struct {
	api     DataSourceAPI
	poller  *jobs.Poller
	exports *storage.Store
	timeout time.Duration

	width  int
	height int
	ready  bool

	spinner   spinner.Model
	spinning  bool
	focusPane focusPane
	showHelp  bool

	statusText string
	errorText  string

	sources       []service.DataSource
	sourcesErr    string
	loading       bool
	cursor        int
	submitting    map[int64]bool
	creating      bool
	lastStatus    map[int64]service.JobStatus
	sourceList    viewport.Model
	cursorTop     int
	cursorBottom  int
	renderedLines int

	jobView viewport.Model

	activity           viewport.Model
	activityEntries    []string
	activityAutoFollow bool

	detail     *detailState
	detailView viewport.Model

	form formState

	sourcesW  int
	sourcesH  int
	jobW      int
	jobH      int
	activityW int
	activityH int
	detailW   int
	detailH   int
}

func NewModel(api DataSourceAPI, poller *jobs.Poller, exports *storage.Store, opts Options) Model {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	spin := spinner.New()
	spin.Spinner = spinner.MiniDot
	spin.Style = lipgloss.NewStyle()

	sourceList := viewport.New(60, 14)
	sourceList.SetContent("Loading data sources...")

	jobView := viewport.New(40, 14)
	jobView.SetContent("Select a data source.")

	activity := viewport.New(100, 8)
	activity.SetContent("No activity yet.")

	return Model{
		api:                api,
		poller:             poller,
		exports:            exports,
		timeout:            timeout,
		spinner:            spin,
		focusPane:          paneSources,
		showHelp:           true,
		statusText:         "Connecting to backend...",
		loading:            true,
		submitting:         map[int64]bool{},
		lastStatus:         map[int64]service.JobStatus{},
		sourceList:         sourceList,
		jobView:            jobView,
		activity:           activity,
		activityAutoFollow: true,
		detailView:         viewport.New(100, 20),
		form:               newFormState(),
		sourcesW:           64,
		sourcesH:           16,
		jobW:               44,
		jobH:               16,
		activityW:          110,
		activityH:          9,
		detailW:            110,
		detailH:            16,
	}
}

func (m Model) Init() tea.Cmd {
	return loadSourcesCmd(m.api, m.timeout)
}

func loadSourcesCmd(api DataSourceAPI, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		if api == nil {
			return sourcesLoadedMsg{err: errors.New("no backend configured")}
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		sources, err := api.ListDataSources(ctx)
		return sourcesLoadedMsg{sources: sources, err: err}
	}
}

func submitCmd(poller *jobs.Poller, dataSourceID int64) tea.Cmd {
	return func() tea.Msg {
		err := poller.Submit(context.Background(), dataSourceID)
		return submitDoneMsg{dataSourceID: dataSourceID, err: err}
	}
}

func trackCmd(poller *jobs.Poller, dataSourceID int64) tea.Cmd {
	return func() tea.Msg {
		err := poller.Track(context.Background(), dataSourceID)
		return trackDoneMsg{dataSourceID: dataSourceID, err: err}
	}
}

func createSourceCmd(api DataSourceAPI, fields service.NewDataSource, path string, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		created, err := api.CreateDataSource(ctx, fields)
		if err != nil {
			return sourceCreatedMsg{name: fields.Name, err: err}
		}
		if path == "" {
			return sourceCreatedMsg{source: created, name: created.Name}
		}
		file, err := os.Open(path)
		if err != nil {
			return sourceCreatedMsg{source: created, name: created.Name, uploadErr: fmt.Errorf("open file: %w", err)}
		}
		defer file.Close()
		updated, err := api.UploadFile(ctx, created.ID, path, file)
		if err != nil {
			return sourceCreatedMsg{source: created, name: created.Name, uploadErr: err}
		}
		return sourceCreatedMsg{source: updated, name: updated.Name, uploaded: filepathBase(path)}
	}
}

func saveExportCmd(store *storage.Store, job service.AnalysisJob, source service.DataSource, parsed result.Parsed) tea.Cmd {
	return func() tea.Msg {
		summary, err := store.SaveResult(job, source, parsed)
		return bundleSavedMsg{summary: summary, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resizePanels()
		return m, nil

	case spinner.TickMsg:
		if !m.anyActive() {
			m.spinning = false
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refreshSourcesView()
		return m, cmd

	case sourcesLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.sourcesErr = "Could not load data sources: " + msg.err.Error()
			m.statusText = "Backend unavailable. Press r to retry."
			m.appendActivityLine("list | " + msg.err.Error())
			m.refreshSourcesView()
			return m, nil
		}
		m.sourcesErr = ""
		m.sources = msg.sources
		m.cursor = clampInt(m.cursor, 0, maxInt(0, len(m.sources)-1))
		tracked := m.pruneRemovedSources()
		m.statusText = fmt.Sprintf("Loaded %d data sources, %d with a job.", len(m.sources), tracked)
		m.refreshSourcesView()
		m.refreshJobView()
		return m, m.trackUnknownJobs()

	case jobUpdatedMsg:
		m.recordTransition(msg.dataSourceID, msg.job)
		m.refreshSourcesView()
		m.refreshJobView()
		spin := m.startSpinner()
		return m, spin

	case submitDoneMsg:
		delete(m.submitting, msg.dataSourceID)
		if job, ok := m.storedJob(msg.dataSourceID); ok {
			m.recordTransition(msg.dataSourceID, job)
		}
		var submitErr *jobs.SubmissionError
		var pollErr *jobs.PollingError
		switch {
		case errors.As(msg.err, &submitErr):
			m.errorText = fmt.Sprintf("Could not start analysis for %s.", m.sourceName(msg.dataSourceID))
		case errors.As(msg.err, &pollErr):
			m.errorText = fmt.Sprintf("Lost track of the analysis for %s.", m.sourceName(msg.dataSourceID))
		case errors.Is(msg.err, jobs.ErrClosed):
			return m, nil
		case msg.err != nil:
			m.errorText = msg.err.Error()
		default:
			m.errorText = ""
			m.statusText = fmt.Sprintf("Analysis submitted for %s.", m.sourceName(msg.dataSourceID))
		}
		m.refreshSourcesView()
		m.refreshJobView()
		spin := m.startSpinner()
		return m, spin

	case trackDoneMsg:
		if msg.err != nil && !errors.Is(msg.err, jobs.ErrClosed) {
			m.appendActivityLine(fmt.Sprintf("#%d | could not load latest job: %s", msg.dataSourceID, msg.err.Error()))
		}
		if job, ok := m.storedJob(msg.dataSourceID); ok {
			m.lastStatus[msg.dataSourceID] = job.Status
		}
		m.refreshSourcesView()
		m.refreshJobView()
		spin := m.startSpinner()
		return m, spin

	case sourceCreatedMsg:
		m.creating = false
		if msg.err != nil {
			if errors.Is(msg.err, service.ErrConflict) {
				m.errorText = fmt.Sprintf("a data source named %s already exists", msg.name)
			} else {
				m.errorText = "Could not create data source: " + msg.err.Error()
			}
			m.appendActivityLine("create | " + m.errorText)
			return m, nil
		}
		m.form.close()
		if msg.uploadErr != nil {
			m.errorText = fmt.Sprintf("Created %s but the file upload failed: %s", msg.name, msg.uploadErr.Error())
			m.appendActivityLine("upload | " + msg.name + " | " + msg.uploadErr.Error())
		} else {
			m.errorText = ""
			m.statusText = "Created data source " + msg.name
			line := "create | " + msg.name
			if msg.uploaded != "" {
				line += " | uploaded " + msg.uploaded
			}
			m.appendActivityLine(line)
		}
		m.loading = true
		return m, loadSourcesCmd(m.api, m.timeout)

	case bundleSavedMsg:
		if msg.err != nil {
			m.errorText = "Could not save export: " + msg.err.Error()
			return m, nil
		}
		m.errorText = ""
		m.statusText = "Saved export: " + filepathBase(msg.summary.Directory)
		m.appendActivityLine(fmt.Sprintf("export | job %d | %s", msg.summary.JobID, msg.summary.Directory))
		return m, nil

	case tea.KeyMsg:
		if m.form.active {
			return m.updateForm(msg)
		}
		if m.detail != nil {
			return m.updateDetail(msg)
		}

		switch msg.String() {
		case "ctrl+c", "q":
			m.shutdown()
			return m, tea.Quit
		case "tab":
			m.focusPane = nextFocusPane(m.focusPane)
			m.statusText = "Focus: " + focusPaneLabel(m.focusPane)
			return m, nil
		case "shift+tab", "backtab":
			m.focusPane = prevFocusPane(m.focusPane)
			m.statusText = "Focus: " + focusPaneLabel(m.focusPane)
			return m, nil
		case "?":
			m.showHelp = !m.showHelp
			m.resizePanels()
			return m, nil
		case "r":
			m.loading = true
			m.statusText = "Reloading data sources..."
			return m, loadSourcesCmd(m.api, m.timeout)
		case "n":
			m.form.open()
			m.errorText = ""
			m.statusText = "New data source: tab moves between fields, enter saves."
			return m, textinput.Blink
		case "a":
			return m.analyzeSelected()
		case "enter":
			return m.openSelectedDetail()
		case "up", "k":
			if m.focusPane == paneSources && len(m.sources) > 0 {
				m.cursor = clampInt(m.cursor-1, 0, len(m.sources)-1)
				m.refreshSourcesView()
				m.refreshJobView()
				return m, nil
			}
		case "down", "j":
			if m.focusPane == paneSources && len(m.sources) > 0 {
				m.cursor = clampInt(m.cursor+1, 0, len(m.sources)-1)
				m.refreshSourcesView()
				m.refreshJobView()
				return m, nil
			}
		case "ctrl+l":
			m.activityEntries = nil
			m.activityAutoFollow = true
			m.rebuildActivityContent(true)
			m.statusText = "Activity cleared"
			return m, nil
		}

		switch m.focusPane {
		case paneSources:
			var cmd tea.Cmd
			m.sourceList, cmd = m.sourceList.Update(msg)
			return m, cmd
		case paneJob:
			var cmd tea.Cmd
			m.jobView, cmd = m.jobView.Update(msg)
			return m, cmd
		case paneActivity:
			var cmd tea.Cmd
			m.activity, cmd = m.activity.Update(msg)
			m.activityAutoFollow = m.activity.AtBottom()
			return m, cmd
		}

	case tea.MouseMsg:
		if m.detail != nil {
			var cmd tea.Cmd
			m.detailView, cmd = m.detailView.Update(msg)
			return m, cmd
		}
		switch m.focusPane {
		case paneSources:
			var cmd tea.Cmd
			m.sourceList, cmd = m.sourceList.Update(msg)
			return m, cmd
		case paneJob:
			var cmd tea.Cmd
			m.jobView, cmd = m.jobView.Update(msg)
			return m, cmd
		case paneActivity:
			var cmd tea.Cmd
			m.activity, cmd = m.activity.Update(msg)
			m.activityAutoFollow = m.activity.AtBottom()
			return m, cmd
		}
	}

	return m, nil
}

func (m Model) analyzeSelected() (tea.Model, tea.Cmd) {
	src, ok := m.selectedSource()
	if !ok {
		m.errorText = "No data source selected."
		return m, nil
	}
	if reason := m.analyzeBlockedReason(src); reason != "" {
		m.errorText = reason
		return m, nil
	}
	m.submitting[src.ID] = true
	m.errorText = ""
	m.statusText = fmt.Sprintf("Submitting analysis for %s...", src.Name)
	m.appendActivityLine(fmt.Sprintf("#%d %s | submit %s", src.ID, src.Name, src.SourceType.Label()))
	m.refreshSourcesView()
	spin := m.startSpinner()
	return m, tea.Batch(submitCmd(m.poller, src.ID), spin)
}

// analyzeBlockedReason returns why the analyze action is disabled for src,
// or "" when it is enabled.
func (m Model) analyzeBlockedReason(src service.DataSource) string {
	if !src.HasFile() {
		return fmt.Sprintf("%s has no file attached.", src.Name)
	}
	if m.submitting[src.ID] {
		return fmt.Sprintf("An analysis for %s is already being submitted.", src.Name)
	}
	if job, ok := m.storedJob(src.ID); ok && job.Status.IsActive() {
		return fmt.Sprintf("An analysis for %s is still %s.", src.Name, job.Status)
	}
	return ""
}

func (m Model) openSelectedDetail() (tea.Model, tea.Cmd) {
	if m.focusPane != paneSources {
		return m, nil
	}
	src, ok := m.selectedSource()
	if !ok {
		return m, nil
	}
	job, ok := m.storedJob(src.ID)
	if !ok || job.Status != service.StatusCompleted || !job.HasDetails() {
		m.errorText = "Details are available once a job completes with result data."
		return m, nil
	}
	m.errorText = ""
	m.detail = newDetailState(job, src)
	m.detailView.SetContent(m.detail.render(m.detailView.Width))
	m.detailView.GotoTop()
	m.statusText = fmt.Sprintf("Result detail for job %d", job.ID)
	return m, nil
}

func (m Model) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		m.shutdown()
		return m, tea.Quit
	case "esc":
		m.detail = nil
		m.detailView.SetContent("")
		m.statusText = "Detail closed."
		return m, nil
	case "ctrl+s":
		if m.exports == nil {
			m.errorText = "Exports are disabled."
			return m, nil
		}
		if m.detail.parsed == nil {
			m.errorText = "Nothing to export: the result could not be decoded."
			return m, nil
		}
		m.statusText = "Saving export..."
		return m, saveExportCmd(m.exports, m.detail.job, m.detail.source, m.detail.parsed)
	}
	var cmd tea.Cmd
	m.detailView, cmd = m.detailView.Update(msg)
	return m, cmd
}

// shutdown stops all polling. Job updates that arrive afterwards are dropped.
func (m Model) shutdown() {
	if m.poller != nil {
		m.poller.CancelAll()
	}
}

func (m Model) trackUnknownJobs() tea.Cmd {
	if m.poller == nil {
		return nil
	}
	cmds := make([]tea.Cmd, 0, len(m.sources))
	for _, src := range m.sources {
		if _, ok := m.storedJob(src.ID); ok {
			continue
		}
		cmds = append(cmds, trackCmd(m.poller, src.ID))
	}
	return tea.Batch(cmds...)
}

func (m *Model) recordTransition(dataSourceID int64, job service.AnalysisJob) {
	prev, seen := m.lastStatus[dataSourceID]
	m.lastStatus[dataSourceID] = job.Status
	if seen && prev == job.Status {
		return
	}
	line := fmt.Sprintf("#%d %s | %s", dataSourceID, m.sourceName(dataSourceID), job.Status)
	if job.ID != 0 {
		line += fmt.Sprintf(" | job %d", job.ID)
	}
	switch {
	case job.ErrorMessage != "":
		line += " | " + job.ErrorMessage
	case job.Status == service.StatusCompleted && job.ResultSummary != "":
		line += " | " + job.ResultSummary
	}
	m.appendActivityLine(line)
}

func (m *Model) startSpinner() tea.Cmd {
	if m.spinning || !m.anyActive() {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m Model) anyActive() bool {
	if len(m.submitting) > 0 {
		return true
	}
	for _, src := range m.sources {
		if job, ok := m.storedJob(src.ID); ok && job.Status.IsActive() {
			return true
		}
	}
	return false
}

// pruneRemovedSources drops job records for sources the backend no longer
// lists, unless they are still being polled. It returns how many remain.
func (m Model) pruneRemovedSources() int {
	if m.poller == nil {
		return 0
	}
	listed := make(map[int64]struct{}, len(m.sources))
	for _, src := range m.sources {
		listed[src.ID] = struct{}{}
	}
	store := m.poller.Store()
	for id := range store.Snapshot() {
		if _, ok := listed[id]; !ok && !m.poller.Active(id) {
			store.Delete(id)
		}
	}
	return store.Len()
}

func (m Model) storedJob(dataSourceID int64) (service.AnalysisJob, bool) {
	if m.poller == nil {
		return service.AnalysisJob{}, false
	}
	return m.poller.Store().Get(dataSourceID).Get()
}

func (m Model) selectedSource() (service.DataSource, bool) {
	if len(m.sources) == 0 {
		return service.DataSource{}, false
	}
	return m.sources[clampInt(m.cursor, 0, len(m.sources)-1)], true
}

func (m Model) sourceName(dataSourceID int64) string {
	for _, src := range m.sources {
		if src.ID == dataSourceID {
			return src.Name
		}
	}
	return fmt.Sprintf("data source %d", dataSourceID)
}

func nextFocusPane(current focusPane) focusPane {
	switch current {
	case paneSources:
		return paneJob
	case paneJob:
		return paneActivity
	default:
		return paneSources
	}
}

func prevFocusPane(current focusPane) focusPane {
	switch current {
	case paneSources:
		return paneActivity
	case paneJob:
		return paneSources
	default:
		return paneJob
	}
}

func focusPaneLabel(pane focusPane) string {
	switch pane {
	case paneSources:
		return "sources"
	case paneJob:
		return "job"
	case paneActivity:
		return "activity"
	default:
		return "unknown"
	}
}

func statusLabel(status service.JobStatus) string {
	if strings.TrimSpace(string(status)) == "" {
		return "NO JOB"
	}
	return string(status)
}
