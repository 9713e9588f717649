package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"idh-tui/internal/service"
)

const DefaultInterval = 3 * time.Second

var ErrClosed = errors.New("poller closed")

// Backend is the part of the API client the poller needs.
type Backend interface {
	SubmitAnalysis(ctx context.Context, dataSourceID int64) (*service.AnalysisJob, error)
	GetLatestJob(ctx context.Context, dataSourceID int64) (*service.AnalysisJob, error)
}

// SubmissionError means the backend rejected the job or could not be reached at submit time.
type SubmissionError struct {
	DataSourceID int64
	Err          error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit analysis for data source %d: %v", e.DataSourceID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollingError means a status fetch failed after the job was accepted.
type PollingError struct {
	DataSourceID int64
	Err          error
}

func (e *PollingError) Error() string {
	return fmt.Sprintf("poll status for data source %d: %v", e.DataSourceID, e.Err)
}

func (e *PollingError) Unwrap() error { return e.Err }

type Option func(*Poller)

func WithScheduler(s Scheduler) Option {
	return func(p *Poller) {
		if s != nil {
			p.scheduler = s
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithRequestTimeout bounds each backend call. Zero leaves it to the client.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Poller) { p.requestTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithNotify registers a hook called after every accepted store write.
func WithNotify(fn func(dataSourceID int64, job service.AnalysisJob)) Option {
	return func(p *Poller) { p.notify = fn }
}

// Poller tracks analysis jobs until they reach a terminal status.
// It keeps at most one timer per data source id.
type Poller struct {
	backend        Backend
	store          *Store
	scheduler      Scheduler
	interval       time.Duration
	requestTimeout time.Duration
	logger         *slog.Logger
	notify         func(int64, service.AnalysisJob)

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	timers      map[int64]Task
	generations map[int64]uint64
	closed      bool

	// beforeNotify runs between the store write and the notify hook. Tests only.
	beforeNotify func()
}

func NewPoller(backend Backend, store *Store, opts ...Option) *Poller {
	if store == nil {
		store = NewStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller{
		backend:     backend,
		store:       store,
		scheduler:   TickerScheduler{},
		interval:    DefaultInterval,
		logger:      slog.Default(),
		ctx:         ctx,
		cancel:      cancel,
		timers:      make(map[int64]Task),
		generations: make(map[int64]uint64),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Store() *Store {
	return p.store
}

func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Submit starts a new analysis for the data source, replacing any job being tracked for it.
func (p *Poller) Submit(ctx context.Context, dataSourceID int64) error {
	gen, err := p.begin(dataSourceID)
	if err != nil {
		return err
	}
	p.commit(dataSourceID, gen, service.AnalysisJob{
		DataSourceID:  dataSourceID,
		Status:        service.StatusPending,
		ResultSummary: "Submitting request...",
	}, false)

	reqCtx, cancel := p.requestContext(ctx)
	job, err := p.backend.SubmitAnalysis(reqCtx, dataSourceID)
	cancel()
	if err != nil {
		p.logger.Warn("analysis submission failed", "data_source_id", dataSourceID, "error", err)
		p.commit(dataSourceID, gen, service.AnalysisJob{
			DataSourceID: dataSourceID,
			Status:       service.StatusFailed,
			ErrorMessage: "failed to start job: " + err.Error(),
		}, false)
		return &SubmissionError{DataSourceID: dataSourceID, Err: err}
	}
	if job.DataSourceID == 0 {
		job.DataSourceID = dataSourceID
	}
	p.logger.Info("analysis submitted", "data_source_id", dataSourceID, "job_id", job.ID, "status", job.Status)
	if !p.commit(dataSourceID, gen, *job, false) {
		return nil
	}

	if err := p.check(ctx, dataSourceID, gen); err != nil {
		return err
	}
	p.schedule(dataSourceID, gen)
	return nil
}

// Track picks up the backend's latest job for a data source without submitting one.
// A data source with no job yet is left untouched. Active jobs get a poll timer.
func (p *Poller) Track(ctx context.Context, dataSourceID int64) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if _, ok := p.timers[dataSourceID]; ok {
		p.mu.Unlock()
		return nil
	}
	gen := p.generations[dataSourceID]
	p.mu.Unlock()

	reqCtx, cancel := p.requestContext(ctx)
	job, err := p.backend.GetLatestJob(reqCtx, dataSourceID)
	cancel()
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("fetch latest job for data source %d: %w", dataSourceID, err)
	}
	if job.DataSourceID == 0 {
		job.DataSourceID = dataSourceID
	}
	if !p.commit(dataSourceID, gen, *job, false) {
		return nil
	}
	p.schedule(dataSourceID, gen)
	return nil
}

// CheckStatus fetches the latest job state once. It is a no-op once the
// stored job is terminal and nothing is polling it.
func (p *Poller) CheckStatus(ctx context.Context, dataSourceID int64) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	gen := p.generations[dataSourceID]
	_, polling := p.timers[dataSourceID]
	p.mu.Unlock()

	if !polling {
		if job, ok := p.store.Get(dataSourceID).Get(); ok && job.Status.IsTerminal() {
			return nil
		}
	}
	return p.check(ctx, dataSourceID, gen)
}

// CancelAll stops every timer. Writes that land afterwards are dropped.
func (p *Poller) CancelAll() {
	p.mu.Lock()
	p.closed = true
	for id, task := range p.timers {
		task.Stop()
		delete(p.timers, id)
	}
	p.mu.Unlock()
	p.cancel()
}

func (p *Poller) Active(dataSourceID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.timers[dataSourceID]
	return ok
}

func (p *Poller) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}

func (p *Poller) begin(dataSourceID int64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	p.stopLocked(dataSourceID)
	p.generations[dataSourceID]++
	return p.generations[dataSourceID], nil
}

func (p *Poller) schedule(dataSourceID int64, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.generations[dataSourceID] != gen {
		return
	}
	if job, ok := p.store.Get(dataSourceID).Get(); !ok || job.Status.IsTerminal() {
		return
	}
	p.stopLocked(dataSourceID)
	p.timers[dataSourceID] = p.scheduler.Every(p.interval, func() {
		if err := p.check(p.ctx, dataSourceID, gen); err != nil {
			p.logger.Warn("status poll failed", "data_source_id", dataSourceID, "error", err)
		}
	})
	p.logger.Debug("polling started", "data_source_id", dataSourceID, "interval", p.interval)
}

func (p *Poller) check(ctx context.Context, dataSourceID int64, gen uint64) error {
	reqCtx, cancel := p.requestContext(ctx)
	job, err := p.backend.GetLatestJob(reqCtx, dataSourceID)
	cancel()
	if err != nil {
		failed := p.store.Get(dataSourceID).OrElse(service.AnalysisJob{DataSourceID: dataSourceID})
		failed.Status = service.StatusError
		failed.ErrorMessage = "failed to fetch status: " + err.Error()
		p.commit(dataSourceID, gen, failed, true)
		return &PollingError{DataSourceID: dataSourceID, Err: err}
	}
	if job.DataSourceID == 0 {
		job.DataSourceID = dataSourceID
	}
	terminal := job.Status.IsTerminal()
	if p.commit(dataSourceID, gen, *job, terminal) && terminal {
		p.logger.Info("analysis finished", "data_source_id", dataSourceID, "job_id", job.ID, "status", job.Status)
	}
	return nil
}

// commit writes job unless the poller is closed or gen was superseded by a
// newer Submit. stop also cancels the id's timer in the same critical section.
func (p *Poller) commit(dataSourceID int64, gen uint64, job service.AnalysisJob, stop bool) bool {
	p.mu.Lock()
	if p.closed || p.generations[dataSourceID] != gen {
		p.mu.Unlock()
		p.logger.Debug("dropped stale job update", "data_source_id", dataSourceID, "status", job.Status)
		return false
	}
	p.store.Put(dataSourceID, job)
	if stop {
		p.stopLocked(dataSourceID)
	}
	notify := p.notify
	p.mu.Unlock()

	if notify == nil {
		return true
	}
	if p.beforeNotify != nil {
		p.beforeNotify()
	}
	// notify may block on the UI loop, which can itself be inside CancelAll,
	// so it runs unlocked. Re-check closed to drop updates racing shutdown.
	if p.isClosed() {
		return true
	}
	notify(dataSourceID, job)
	return true
}

func (p *Poller) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Poller) stopLocked(dataSourceID int64) {
	if task, ok := p.timers[dataSourceID]; ok {
		task.Stop()
		delete(p.timers, dataSourceID)
	}
}

func (p *Poller) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = p.ctx
	}
	if p.requestTimeout > 0 {
		return context.WithTimeout(ctx, p.requestTimeout)
	}
	return context.WithCancel(ctx)
}
