// Package mockapi is an in-memory stand-in for the Industrial Data Hub
// backend, used for local demos and client tests.
package mockapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"idh-tui/internal/service"
)

var (
	errNameTaken = errors.New("name taken")
	errNotFound  = errors.New("not found")
	errNoFile    = errors.New("data source has no file to analyze")
)

type Option func(*Backend)

func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// WithTimings sets how long a job stays PENDING and when it completes.
func WithTimings(running, completed time.Duration) Option {
	return func(b *Backend) {
		b.runningAfter = running
		b.completedAfter = completed
	}
}

// WithDoubleEncoding makes resultDetailsJson a JSON string holding a JSON
// string, the way the production worker stores it.
func WithDoubleEncoding(enabled bool) Option {
	return func(b *Backend) { b.doubleEncode = enabled }
}

type trackedJob struct {
	job      service.AnalysisJob
	started  time.Time
	filename string
}

// Backend holds data sources and jobs in memory. Jobs advance lazily with
// the clock each time they are read.
type Backend struct {
	mu             sync.Mutex
	now            func() time.Time
	runningAfter   time.Duration
	completedAfter time.Duration
	doubleEncode   bool

	nextSourceID int64
	nextJobID    int64
	sources      map[int64]*service.DataSource
	filenames    map[int64]string
	jobs         map[int64][]*trackedJob
}

func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		now:            time.Now,
		runningAfter:   2 * time.Second,
		completedAfter: 8 * time.Second,
		sources:        make(map[int64]*service.DataSource),
		filenames:      make(map[int64]string),
		jobs:           make(map[int64][]*trackedJob),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Seed registers one data source per analysis type with a file attached.
func (b *Backend) Seed() {
	samples := []struct {
		fields   service.NewDataSource
		filename string
	}{
		{service.NewDataSource{Name: "skab-valve1", Description: "SKAB valve test bench, sensors 1-8", SourceType: service.AnomalyDetection}, "valve1.csv"},
		{service.NewDataSource{Name: "turbofan-fd001", Description: "C-MAPSS engine run-to-failure", SourceType: service.RULPrediction}, "test_FD001.txt"},
		{service.NewDataSource{Name: "casting-line-3", Description: "Pump impeller top view", SourceType: service.QCVisualClassification}, "cast_ok_0_102.jpeg"},
		{service.NewDataSource{Name: "compressor-b", Description: "Awaiting upload", SourceType: service.AnomalyDetection}, ""},
	}
	for _, s := range samples {
		created, err := b.CreateDataSource(s.fields)
		if err != nil || s.filename == "" {
			continue
		}
		_, _ = b.AttachFile(created.ID, s.filename, 1)
	}
}

func (b *Backend) ListDataSources() []service.DataSource {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]service.DataSource, 0, len(b.sources))
	for _, src := range b.sources {
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *Backend) DataSource(id int64) (service.DataSource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.sources[id]
	if !ok {
		return service.DataSource{}, errNotFound
	}
	return *src, nil
}

func (b *Backend) CreateDataSource(fields service.NewDataSource) (service.DataSource, error) {
	name := strings.TrimSpace(fields.Name)
	if name == "" {
		return service.DataSource{}, fmt.Errorf("name is required")
	}
	if !fields.SourceType.Valid() {
		return service.DataSource{}, fmt.Errorf("unknown source type %q", fields.SourceType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, src := range b.sources {
		if src.Name == name {
			return service.DataSource{}, errNameTaken
		}
	}
	b.nextSourceID++
	src := &service.DataSource{
		ID:          b.nextSourceID,
		Name:        name,
		Description: strings.TrimSpace(fields.Description),
		SourceType:  fields.SourceType,
		CreatedAt:   b.now().UTC().Format(time.RFC3339),
	}
	b.sources[src.ID] = src
	return *src, nil
}

// AttachFile records an upload. Only the name is kept; the size must be positive.
func (b *Backend) AttachFile(id int64, filename string, size int64) (service.DataSource, error) {
	if size <= 0 {
		return service.DataSource{}, fmt.Errorf("file is empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.sources[id]
	if !ok {
		return service.DataSource{}, errNotFound
	}
	src.Location = fmt.Sprintf("uploads/source_%d_%s", id, filename)
	b.filenames[id] = filename
	return *src, nil
}

func (b *Backend) SubmitAnalysis(id int64) (service.AnalysisJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.sources[id]
	if !ok {
		return service.AnalysisJob{}, errNotFound
	}
	if strings.TrimSpace(src.Location) == "" {
		return service.AnalysisJob{}, errNoFile
	}
	b.nextJobID++
	now := b.now().UTC()
	tracked := &trackedJob{
		started:  now,
		filename: b.filenames[id],
		job: service.AnalysisJob{
			ID:           b.nextJobID,
			DataSourceID: id,
			AnalysisType: src.SourceType,
			Status:       service.StatusPending,
			CreatedAt:    now.Format(time.RFC3339),
			UpdatedAt:    now.Format(time.RFC3339),
		},
	}
	b.jobs[id] = append(b.jobs[id], tracked)
	return tracked.job, nil
}

func (b *Backend) LatestJob(id int64) (service.AnalysisJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	history := b.jobs[id]
	if len(history) == 0 {
		return service.AnalysisJob{}, errNotFound
	}
	latest := history[len(history)-1]
	b.advance(latest)
	return latest.job, nil
}

func (b *Backend) advance(t *trackedJob) {
	if t.job.Status.IsTerminal() {
		return
	}
	now := b.now().UTC()
	elapsed := now.Sub(t.started)
	switch {
	case elapsed >= b.completedAfter:
		b.finish(t)
	case elapsed >= b.runningAfter:
		t.job.Status = service.StatusRunning
	default:
		return
	}
	t.job.UpdatedAt = now.Format(time.RFC3339)
}

func (b *Backend) finish(t *trackedJob) {
	if strings.Contains(strings.ToLower(t.filename), "corrupt") {
		t.job.Status = service.StatusFailed
		t.job.ErrorMessage = fmt.Sprintf("could not read input file %s", t.filename)
		return
	}
	summary, details := sampleResult(t.job.AnalysisType, t.job.ID)
	encoded, err := b.encodeDetails(details)
	if err != nil {
		t.job.Status = service.StatusFailed
		t.job.ErrorMessage = err.Error()
		return
	}
	t.job.Status = service.StatusCompleted
	t.job.ResultSummary = summary
	t.job.ResultDetailsJSON = encoded
}

// encodeDetails stores details as the backend does: serialized into a text
// column, then serialized again as a JSON string field.
func (b *Backend) encodeDetails(details map[string]any) (json.RawMessage, error) {
	blob, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	text := string(blob)
	if b.doubleEncode {
		inner, err := json.Marshal(text)
		if err != nil {
			return nil, fmt.Errorf("encode details: %w", err)
		}
		text = string(inner)
	}
	wire, err := json.Marshal(text)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	return wire, nil
}
