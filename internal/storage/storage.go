package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"idh-tui/internal/service"
)

// Store writes exported analysis results as bundles of JSON files, one
// directory per export.
type Store struct {
	rootDir string
}

type ExportSummary struct {
	JobID          int64                `json:"job_id"`
	DataSourceID   int64                `json:"data_source_id"`
	DataSourceName string               `json:"data_source_name"`
	AnalysisType   service.AnalysisType `json:"analysis_type"`
	Status         service.JobStatus    `json:"status"`
	ResultSummary  string               `json:"result_summary"`
	SavedAt        string               `json:"saved_at"`
	Directory      string               `json:"directory"`
}

type ExportBundle struct {
	Summary ExportSummary       `json:"summary"`
	Job     service.AnalysisJob `json:"job"`
	Details map[string]any      `json:"details"`
}

func NewStore(rootDir string) (*Store, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, fmt.Errorf("export dir is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Store{rootDir: rootDir}, nil
}

func (s *Store) Dir() string {
	return s.rootDir
}

// SaveResult exports a finished job together with its decoded details.
func (s *Store) SaveResult(job service.AnalysisJob, source service.DataSource, details map[string]any) (ExportSummary, error) {
	if job.ID == 0 {
		return ExportSummary{}, fmt.Errorf("job id is required")
	}
	if details == nil {
		details = map[string]any{}
	}
	analysisType := job.AnalysisType
	if analysisType == "" {
		analysisType = source.SourceType
	}

	now := time.Now().UTC()
	dirName := fmt.Sprintf("%s-job%d", now.Format("20060102-150405"), job.ID)
	dirPath := filepath.Join(s.rootDir, dirName)
	if err := os.MkdirAll(dirPath, 0o755); err != nil {
		return ExportSummary{}, fmt.Errorf("create export bundle dir: %w", err)
	}

	summary := ExportSummary{
		JobID:          job.ID,
		DataSourceID:   job.DataSourceID,
		DataSourceName: source.Name,
		AnalysisType:   analysisType,
		Status:         job.Status,
		ResultSummary:  job.ResultSummary,
		SavedAt:        now.Format(time.RFC3339Nano),
		Directory:      dirPath,
	}

	if err := writeJSON(filepath.Join(dirPath, "summary.json"), summary); err != nil {
		return ExportSummary{}, err
	}
	if err := writeJSON(filepath.Join(dirPath, "job.json"), job); err != nil {
		return ExportSummary{}, err
	}
	if err := writeJSON(filepath.Join(dirPath, "details.json"), details); err != nil {
		return ExportSummary{}, err
	}
	bundle := ExportBundle{Summary: summary, Job: job, Details: details}
	if err := writeJSON(filepath.Join(dirPath, "bundle.json"), bundle); err != nil {
		return ExportSummary{}, err
	}
	return summary, nil
}

// List returns export summaries, newest first. limit <= 0 means no limit.
func (s *Store) List(limit int) ([]ExportSummary, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("read export dir: %w", err)
	}

	summaries := make([]ExportSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var summary ExportSummary
		if err := readJSON(filepath.Join(s.rootDir, entry.Name(), "summary.json"), &summary); err != nil {
			continue
		}
		if summary.Directory == "" {
			summary.Directory = filepath.Join(s.rootDir, entry.Name())
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SavedAt > summaries[j].SavedAt
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// LoadBundle reads an export by absolute path or by directory name under the store.
// Bundles missing bundle.json are rebuilt from the individual files.
func (s *Store) LoadBundle(directory string) (*ExportBundle, error) {
	dir := strings.TrimSpace(directory)
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(s.rootDir, dir)
	}

	var bundle ExportBundle
	if err := readJSON(filepath.Join(dir, "bundle.json"), &bundle); err == nil {
		if bundle.Summary.Directory == "" {
			bundle.Summary.Directory = dir
		}
		return &bundle, nil
	}

	if err := readJSON(filepath.Join(dir, "summary.json"), &bundle.Summary); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, "job.json"), &bundle.Job); err != nil {
		return nil, err
	}
	_ = readJSON(filepath.Join(dir, "details.json"), &bundle.Details)
	bundle.Summary.Directory = dir
	return &bundle, nil
}

func writeJSON(path string, value any) error {
	blob, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json for %s: %w", path, err)
	}
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, out any) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
