package app

import (
	"fmt"
	"strings"

	"idh-tui/internal/service"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	fieldName = iota
	fieldDescription
	fieldType
	fieldPath
	fieldCount
)

type formState struct {
	active  bool
	focus   int
	typeIdx int
	name    textinput.Model
	desc    textinput.Model
	path    textinput.Model
}

func newFormState() formState {
	newInput := func(placeholder string, limit int) textinput.Model {
		in := textinput.New()
		in.Prompt = "> "
		in.Placeholder = placeholder
		in.CharLimit = limit
		in.Width = 60
		return in
	}
	return formState{
		name: newInput("turbofan-fd001", 120),
		desc: newInput("optional description", 500),
		path: newInput("optional path to a data file", 2048),
	}
}

func (f *formState) open() {
	*f = newFormState()
	f.active = true
	f.applyFocus()
}

func (f *formState) close() {
	f.active = false
	f.name.Blur()
	f.desc.Blur()
	f.path.Blur()
}

func (f *formState) move(delta int) {
	f.focus = (f.focus + delta + fieldCount) % fieldCount
	f.applyFocus()
}

func (f *formState) applyFocus() {
	f.name.Blur()
	f.desc.Blur()
	f.path.Blur()
	switch f.focus {
	case fieldName:
		f.name.Focus()
	case fieldDescription:
		f.desc.Focus()
	case fieldPath:
		f.path.Focus()
	}
}

func (f *formState) cycleType(delta int) {
	n := len(service.AnalysisTypes)
	f.typeIdx = (f.typeIdx + delta + n) % n
}

func (f formState) sourceType() service.AnalysisType {
	return service.AnalysisTypes[clampInt(f.typeIdx, 0, len(service.AnalysisTypes)-1)]
}

func (f formState) fields() (service.NewDataSource, string, error) {
	name := strings.TrimSpace(f.name.Value())
	if name == "" {
		return service.NewDataSource{}, "", fmt.Errorf("name is required")
	}
	return service.NewDataSource{
		Name:        name,
		Description: strings.TrimSpace(f.desc.Value()),
		SourceType:  f.sourceType(),
	}, strings.TrimSpace(f.path.Value()), nil
}

func (f formState) view() string {
	typeLine := ""
	for i, typ := range service.AnalysisTypes {
		label := " " + typ.Label() + " "
		if i == f.typeIdx {
			label = selectedLineStyle.Render("[" + typ.Label() + "]")
		}
		typeLine += label + " "
	}
	typeTitle := "Type"
	if f.focus == fieldType {
		typeTitle = statusStyle.Render("Type (left/right)")
	}
	return strings.Join([]string{
		"Name",
		f.name.View(),
		"Description",
		f.desc.View(),
		typeTitle,
		"  " + typeLine,
		"File",
		f.path.View(),
		"",
		mutedTextStyle("tab/shift+tab move | left/right change type | enter save | esc cancel"),
	}, "\n")
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.shutdown()
		return m, tea.Quit
	case "esc":
		m.form.close()
		m.statusText = "New data source cancelled."
		return m, nil
	case "tab", "down":
		m.form.move(1)
		return m, nil
	case "shift+tab", "backtab", "up":
		m.form.move(-1)
		return m, nil
	case "enter":
		if m.creating {
			m.statusText = "Still creating the previous data source..."
			return m, nil
		}
		fields, path, err := m.form.fields()
		if err != nil {
			m.errorText = "New data source: " + err.Error()
			return m, nil
		}
		if m.api == nil {
			m.errorText = "No backend configured."
			return m, nil
		}
		m.errorText = ""
		m.statusText = "Creating data source " + fields.Name + "..."
		m.creating = true
		return m, createSourceCmd(m.api, fields, path, m.timeout)
	}

	var cmd tea.Cmd
	switch m.form.focus {
	case fieldName:
		m.form.name, cmd = m.form.name.Update(msg)
	case fieldDescription:
		m.form.desc, cmd = m.form.desc.Update(msg)
	case fieldPath:
		m.form.path, cmd = m.form.path.Update(msg)
	case fieldType:
		switch msg.String() {
		case "left", "h":
			m.form.cycleType(-1)
		case "right", "l", " ":
			m.form.cycleType(1)
		}
	}
	return m, cmd
}
