package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"idh-tui/internal/config"
	"idh-tui/internal/mockapi"
	"idh-tui/internal/service"
	"idh-tui/internal/storage"

	tea "github.com/charmbracelet/bubbletea"
)

func TestParseSourceID(t *testing.T) {
	t.Parallel()

	if id, err := parseSourceID(" 42 "); err != nil || id != 42 {
		t.Fatalf("expected 42, got %d (%v)", id, err)
	}
	for _, raw := range []string{"", "abc", "0", "-3"} {
		if _, err := parseSourceID(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{API: config.APIConfig{BaseURL: "http://localhost:8080"}}
	got, err := applyOverrides(cfg, "")
	if err != nil || got.API.BaseURL != "http://localhost:8080" {
		t.Fatalf("empty override changed base URL: %+v (%v)", got.API, err)
	}
	got, err = applyOverrides(cfg, "https://hub.example.com")
	if err != nil || got.API.BaseURL != "https://hub.example.com" {
		t.Fatalf("override not applied: %+v (%v)", got.API, err)
	}
	if _, err := applyOverrides(cfg, "hub.example.com"); err == nil {
		t.Fatalf("expected error for URL without scheme")
	}
}

func TestRenderSourcesTable(t *testing.T) {
	t.Parallel()

	sources := []service.DataSource{
		{ID: 1, Name: "skab-valve1", SourceType: service.AnomalyDetection, Location: "uploads/source_1_valve1.csv"},
		{ID: 2, Name: "compressor-b", SourceType: service.RULPrediction},
	}
	latest := map[int64]*service.AnalysisJob{
		1: {ID: 7, DataSourceID: 1, Status: service.StatusFailed, ErrorMessage: "could not read input file"},
	}
	var buf bytes.Buffer
	if err := renderSourcesTable(&buf, sources, latest); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"skab-valve1", "FAILED", "could not read input file", "compressor-b", "N/A"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in table:\n%s", want, out)
		}
	}
}

func TestRenderExportsTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := renderExportsTable(&buf, []storage.ExportSummary{{
		JobID:          12,
		DataSourceName: "turbofan-fd001",
		AnalysisType:   service.RULPrediction,
		Status:         service.StatusCompleted,
		SavedAt:        "2025-05-01T12:00:00Z",
		Directory:      "exports/20250501-120000-job12",
	}})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(buf.String(), "turbofan-fd001") || !strings.Contains(buf.String(), "RUL prediction") {
		t.Fatalf("unexpected table:\n%s", buf.String())
	}
}

func TestStatusCommandAgainstMockBackend(t *testing.T) {
	backend := mockapi.NewBackend()
	backend.Seed()
	srv := httptest.NewServer(mockapi.NewRouter(backend))
	defer srv.Close()

	env := t.TempDir() + "/missing.env"
	args := []string{"idh-tui", "--env", env, "--api-url", srv.URL, "status", "4"}
	if err := newCommand().Run(context.Background(), args); err != nil {
		t.Fatalf("status for a source without jobs: %v", err)
	}

	args = []string{"idh-tui", "--env", env, "--api-url", srv.URL, "status", "99"}
	if err := newCommand().Run(context.Background(), args); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestCommandTree(t *testing.T) {
	t.Parallel()

	root := newCommand()
	names := map[string]bool{}
	for _, sub := range root.Commands {
		names[sub.Name] = true
	}
	for _, want := range []string{"sources", "status", "exports", "mock-backend"} {
		if !names[want] {
			t.Fatalf("missing subcommand %q", want)
		}
	}
}

type idleModel struct{}

func (idleModel) Init() tea.Cmd                       { return nil }
func (idleModel) Update(tea.Msg) (tea.Model, tea.Cmd) { return idleModel{}, nil }
func (idleModel) View() string                        { return "" }

func TestRunProgramStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	program := tea.NewProgram(idleModel{},
		tea.WithContext(ctx),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)
	if err := runProgram(ctx, program); err != nil {
		t.Fatalf("expected a clean shutdown, got %v", err)
	}
}
