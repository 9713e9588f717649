package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"idh-tui/internal/app"
	"idh-tui/internal/config"
	"idh-tui/internal/jobs"
	"idh-tui/internal/logger"
	"idh-tui/internal/mockapi"
	"idh-tui/internal/service"
	"idh-tui/internal/storage"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// loadConfig reads the env file named by --env and applies flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return nil, err
	}
	return applyOverrides(cfg, cmd.String("api-url"))
}

func applyOverrides(cfg *config.Config, apiURL string) (*config.Config, error) {
	if apiURL = strings.TrimSpace(apiURL); apiURL != "" {
		if !strings.HasPrefix(apiURL, "http://") && !strings.HasPrefix(apiURL, "https://") {
			return nil, fmt.Errorf("--api-url must start with http:// or https://, got %q", apiURL)
		}
		cfg.API.BaseURL = apiURL
	}
	return cfg, nil
}

// setupLogger logs to path, or to stderr when path is empty.
func setupLogger(cfg *config.Config, path string) (*slog.Logger, func() error, error) {
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return logger.New(logger.Config{Level: level, Format: cfg.Log.Format, Path: path})
}

func dashboardAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, closeLog, err := setupLogger(cfg, cfg.Log.File)
	if err != nil {
		return err
	}
	defer closeLog()

	exports, err := storage.NewStore(cfg.Exports.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialize export storage: %w", err)
	}

	client := service.NewClient(cfg.API.BaseURL, cfg.API.Timeout)
	var program *tea.Program
	poller := jobs.NewPoller(client, jobs.NewStore(),
		jobs.WithInterval(cfg.Poll.Interval),
		jobs.WithRequestTimeout(cfg.API.Timeout),
		jobs.WithLogger(log),
		jobs.WithNotify(func(dataSourceID int64, job service.AnalysisJob) {
			program.Send(app.JobUpdated(dataSourceID, job))
		}),
	)
	defer poller.CancelAll()

	log.Info("dashboard starting", "api_url", cfg.API.BaseURL, "poll_interval", cfg.Poll.Interval)
	model := app.NewModel(client, poller, exports, app.Options{RequestTimeout: cfg.API.Timeout})
	program = tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen(), tea.WithMouseCellMotion())
	return runProgram(ctx, program)
}

// runProgram runs the TUI until it quits or ctx is cancelled. A cancelled ctx
// (SIGINT or SIGTERM) is a normal shutdown.
func runProgram(ctx context.Context, program *tea.Program) error {
	_, err := program.Run()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil:
		slog.Info("dashboard stopped by signal", "cause", ctx.Err())
		return nil
	default:
		return fmt.Errorf("tui exited with error: %w", err)
	}
}

func sourcesAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, closeLog, err := setupLogger(cfg, ""); err == nil {
		defer closeLog()
	}

	client := service.NewClient(cfg.API.BaseURL, cfg.API.Timeout)
	sources, err := client.ListDataSources(ctx)
	if err != nil {
		return fmt.Errorf("list data sources: %w", err)
	}
	if len(sources) == 0 {
		fmt.Println("No data sources registered.")
		return nil
	}

	latest := make(map[int64]*service.AnalysisJob, len(sources))
	for _, src := range sources {
		job, err := client.GetLatestJob(ctx, src.ID)
		switch {
		case errors.Is(err, service.ErrNotFound):
		case err != nil:
			slog.Warn("could not fetch latest job", "data_source_id", src.ID, "error", err)
		default:
			latest[src.ID] = job
		}
	}
	return renderSourcesTable(os.Stdout, sources, latest)
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	id, err := parseSourceID(cmd.Args().First())
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, closeLog, err := setupLogger(cfg, ""); err == nil {
		defer closeLog()
	}

	client := service.NewClient(cfg.API.BaseURL, cfg.API.Timeout)
	sources, err := client.ListDataSources(ctx)
	if err != nil {
		return fmt.Errorf("list data sources: %w", err)
	}
	src, ok := findSource(sources, id)
	if !ok {
		return fmt.Errorf("data source %d not found", id)
	}

	job, err := client.GetLatestJob(ctx, id)
	if errors.Is(err, service.ErrNotFound) {
		fmt.Printf("No analysis has run for %s (#%d).\n", src.Name, src.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch latest job: %w", err)
	}

	printJob(os.Stdout, src, *job)
	fmt.Println()
	fmt.Println(app.RenderDetail(*job, src, int(cmd.Int("width"))))
	return nil
}

func exportsAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := storage.NewStore(cfg.Exports.Dir)
	if err != nil {
		return err
	}
	limit := int(cmd.Int("limit"))
	if limit <= 0 {
		limit = cfg.Exports.Limit
	}
	items, err := store.List(limit)
	if err != nil {
		return fmt.Errorf("list exports: %w", err)
	}
	if len(items) == 0 {
		fmt.Printf("No exports under %s.\n", store.Dir())
		return nil
	}
	return renderExportsTable(os.Stdout, items)
}

func mockBackendAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, closeLog, err := setupLogger(cfg, ""); err == nil {
		defer closeLog()
	}

	backend := mockapi.NewBackend(mockapi.WithDoubleEncoding(cmd.Bool("double-encode")))
	if cmd.Bool("seed") {
		backend.Seed()
	}
	server := &http.Server{
		Addr:              cmd.String("addr"),
		Handler:           mockapi.NewRouter(backend),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mock backend listening", "addr", server.Addr, "double_encode", cmd.Bool("double-encode"))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("mock backend: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	slog.Info("mock backend shutting down")
	return server.Shutdown(shutdownCtx)
}

func parseSourceID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("data source id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid data source id %q", raw)
	}
	return id, nil
}

func findSource(sources []service.DataSource, id int64) (service.DataSource, bool) {
	for _, src := range sources {
		if src.ID == id {
			return src, true
		}
	}
	return service.DataSource{}, false
}

func renderSourcesTable(w io.Writer, sources []service.DataSource, latest map[int64]*service.AnalysisJob) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Name", "Type", "Location", "Job", "Status", "Summary")
	for _, src := range sources {
		location := src.Location
		if location == "" {
			location = "N/A"
		}
		jobID, status, summary := "-", "-", ""
		if job := latest[src.ID]; job != nil {
			jobID = strconv.FormatInt(job.ID, 10)
			status = string(job.Status)
			summary = job.ResultSummary
			if job.ErrorMessage != "" {
				summary = job.ErrorMessage
			}
		}
		if err := table.Append(
			strconv.FormatInt(src.ID, 10),
			src.Name,
			src.SourceType.Label(),
			location,
			jobID,
			status,
			truncate(summary, 60),
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderExportsTable(w io.Writer, items []storage.ExportSummary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Saved", "Job", "Data Source", "Type", "Status", "Directory")
	for _, item := range items {
		if err := table.Append(
			item.SavedAt,
			strconv.FormatInt(item.JobID, 10),
			item.DataSourceName,
			item.AnalysisType.Label(),
			string(item.Status),
			item.Directory,
		); err != nil {
			return err
		}
	}
	return table.Render()
}

func printJob(w io.Writer, src service.DataSource, job service.AnalysisJob) {
	fmt.Fprintf(w, "Data source: %s (#%d)\n", src.Name, src.ID)
	fmt.Fprintf(w, "Job:         %d\n", job.ID)
	fmt.Fprintf(w, "Status:      %s\n", job.Status)
	if job.UpdatedAt != "" {
		fmt.Fprintf(w, "Updated:     %s\n", job.UpdatedAt)
	}
	if job.ResultSummary != "" {
		fmt.Fprintf(w, "Summary:     %s\n", job.ResultSummary)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:       %s\n", job.ErrorMessage)
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
