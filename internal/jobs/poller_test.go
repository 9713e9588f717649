package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idh-tui/internal/jobs"
	"idh-tui/internal/jobs/jobstest"
	"idh-tui/internal/service"
)

type recorder struct {
	mu       sync.Mutex
	statuses map[int64][]service.JobStatus
}

func newRecorder() *recorder {
	return &recorder{statuses: make(map[int64][]service.JobStatus)}
}

func (r *recorder) notify(id int64, job service.AnalysisJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = append(r.statuses[id], job.Status)
}

func (r *recorder) seen(id int64) []service.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]service.JobStatus(nil), r.statuses[id]...)
}

func newPoller(t *testing.T, backend jobs.Backend) (*jobs.Poller, *jobstest.ManualScheduler, *recorder) {
	t.Helper()
	sched := jobstest.NewManualScheduler()
	rec := newRecorder()
	p := jobs.NewPoller(backend, jobs.NewStore(),
		jobs.WithScheduler(sched),
		jobs.WithNotify(rec.notify),
	)
	t.Cleanup(p.CancelAll)
	return p, sched, rec
}

func status(t *testing.T, p *jobs.Poller, id int64) service.JobStatus {
	t.Helper()
	job, ok := p.Store().Get(id).Get()
	require.True(t, ok, "no job stored for %d", id)
	return job.Status
}

func TestSubmit_PollsUntilCompleted(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueSubmit(42, jobstest.Job(1, 42, service.RULPrediction, service.StatusPending))
	backend.QueueStatus(42,
		jobstest.Job(1, 42, service.RULPrediction, service.StatusPending),
		jobstest.Job(1, 42, service.RULPrediction, service.StatusRunning),
		jobstest.Completed(1, 42, service.RULPrediction, `{"cycles":[1,2,3],"rul_predictions":[100,90,80]}`),
	)
	p, sched, rec := newPoller(t, backend)

	require.NoError(t, p.Submit(context.Background(), 42))
	assert.Equal(t, service.StatusPending, status(t, p, 42))
	assert.True(t, p.Active(42))
	assert.Equal(t, jobs.DefaultInterval, p.Interval())

	sched.Advance(jobs.DefaultInterval)
	assert.Equal(t, service.StatusRunning, status(t, p, 42))
	assert.True(t, p.Active(42))

	sched.Advance(jobs.DefaultInterval)
	job, ok := p.Store().Get(42).Get()
	require.True(t, ok)
	assert.Equal(t, service.StatusCompleted, job.Status)
	assert.True(t, job.HasDetails())
	assert.False(t, p.Active(42))
	assert.Equal(t, 0, sched.Active())

	sched.Advance(10 * jobs.DefaultInterval)
	assert.Equal(t, 3, backend.StatusCalls(42))
	assert.Equal(t, []service.JobStatus{
		service.StatusPending, // provisional
		service.StatusPending, // accepted
		service.StatusPending, // immediate check
		service.StatusRunning,
		service.StatusCompleted,
	}, rec.seen(42))
}

func TestSubmit_TwiceLeavesOneTimer(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueSubmit(7,
		jobstest.Job(1, 7, service.AnomalyDetection, service.StatusPending),
		jobstest.Job(2, 7, service.AnomalyDetection, service.StatusPending),
	)
	backend.QueueStatus(7, jobstest.Job(2, 7, service.AnomalyDetection, service.StatusRunning))
	p, sched, _ := newPoller(t, backend)

	require.NoError(t, p.Submit(context.Background(), 7))
	require.NoError(t, p.Submit(context.Background(), 7))

	assert.Equal(t, 1, p.ActiveCount())
	assert.Equal(t, 1, sched.Active())
	assert.Equal(t, 2, backend.SubmitCalls(7))

	sched.Advance(jobs.DefaultInterval)
	// two immediate checks plus exactly one tick
	assert.Equal(t, 3, backend.StatusCalls(7))
}

func TestSubmit_CompletedImmediatelySchedulesNothing(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueSubmit(3, jobstest.Job(9, 3, service.QCVisualClassification, service.StatusPending))
	backend.QueueStatus(3, jobstest.Completed(9, 3, service.QCVisualClassification, `{"verdict":"APROVADO"}`))
	p, sched, _ := newPoller(t, backend)

	require.NoError(t, p.Submit(context.Background(), 3))
	assert.Equal(t, service.StatusCompleted, status(t, p, 3))
	assert.False(t, p.Active(3))
	assert.Equal(t, 0, sched.Active())
}

func TestSubmit_FailureWritesFailedAndSchedulesNothing(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueSubmit(5, jobstest.Fail(errors.New("data source has no file")))
	p, sched, _ := newPoller(t, backend)

	err := p.Submit(context.Background(), 5)
	var subErr *jobs.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, int64(5), subErr.DataSourceID)

	job, ok := p.Store().Get(5).Get()
	require.True(t, ok)
	assert.Equal(t, service.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "failed to start job")
	assert.Contains(t, job.ErrorMessage, "data source has no file")
	assert.Equal(t, 0, sched.Active())
	assert.Equal(t, 0, backend.StatusCalls(5))
}

func TestCheckStatus_FetchFailureIsTerminal(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueSubmit(11, jobstest.Job(4, 11, service.RULPrediction, service.StatusPending))
	backend.QueueStatus(11,
		jobstest.Job(4, 11, service.RULPrediction, service.StatusRunning),
		jobstest.Fail(fmt.Errorf("%w: connection refused", service.ErrUnavailable)),
	)
	p, sched, _ := newPoller(t, backend)

	require.NoError(t, p.Submit(context.Background(), 11))
	assert.True(t, p.Active(11))

	sched.Advance(jobs.DefaultInterval)

	job, ok := p.Store().Get(11).Get()
	require.True(t, ok)
	assert.Equal(t, service.StatusError, job.Status)
	assert.Equal(t, int64(4), job.ID)
	assert.Contains(t, job.ErrorMessage, "failed to fetch status")
	assert.False(t, job.Status.IsActive())
	assert.False(t, p.Active(11))

	sched.Advance(10 * jobs.DefaultInterval)
	assert.Equal(t, 2, backend.StatusCalls(11))
}

func TestCheckStatus_ReturnsPollingError(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueStatus(8, jobstest.Fail(service.ErrTimeout))
	p, _, _ := newPoller(t, backend)

	err := p.CheckStatus(context.Background(), 8)
	var pollErr *jobs.PollingError
	require.ErrorAs(t, err, &pollErr)
	assert.ErrorIs(t, err, service.ErrTimeout)
	assert.Equal(t, service.StatusError, status(t, p, 8))
}

func TestCheckStatus_IdempotentAfterTerminal(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueSubmit(2, jobstest.Job(1, 2, service.AnomalyDetection, service.StatusPending))
	backend.QueueStatus(2,
		jobstest.Completed(1, 2, service.AnomalyDetection, `{"timestamps":[],"reconstruction_errors":[]}`),
		jobstest.Job(1, 2, service.AnomalyDetection, service.StatusRunning),
	)
	p, sched, _ := newPoller(t, backend)

	require.NoError(t, p.Submit(context.Background(), 2))
	require.Equal(t, service.StatusCompleted, status(t, p, 2))
	calls := backend.StatusCalls(2)

	require.NoError(t, p.CheckStatus(context.Background(), 2))
	require.NoError(t, p.CheckStatus(context.Background(), 2))

	assert.Equal(t, calls, backend.StatusCalls(2))
	assert.Equal(t, service.StatusCompleted, status(t, p, 2))
	assert.Equal(t, 0, sched.Active())
}

func TestPoller_IdsAreIndependent(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueSubmit(1, jobstest.Job(10, 1, service.RULPrediction, service.StatusPending))
	backend.QueueSubmit(2, jobstest.Job(20, 2, service.RULPrediction, service.StatusPending))
	backend.QueueStatus(1,
		jobstest.Job(10, 1, service.RULPrediction, service.StatusRunning),
		jobstest.Fail(service.ErrUnavailable),
	)
	backend.QueueStatus(2, jobstest.Job(20, 2, service.RULPrediction, service.StatusRunning))
	p, sched, _ := newPoller(t, backend)

	require.NoError(t, p.Submit(context.Background(), 1))
	require.NoError(t, p.Submit(context.Background(), 2))
	require.Equal(t, 2, p.ActiveCount())

	sched.Advance(jobs.DefaultInterval)

	assert.Equal(t, service.StatusError, status(t, p, 1))
	assert.Equal(t, service.StatusRunning, status(t, p, 2))
	assert.False(t, p.Active(1))
	assert.True(t, p.Active(2))
}

func TestCancelAll_StopsTimersAndRejectsWork(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueSubmit(4, jobstest.Job(1, 4, service.RULPrediction, service.StatusPending))
	backend.QueueStatus(4, jobstest.Job(1, 4, service.RULPrediction, service.StatusRunning))
	p, sched, rec := newPoller(t, backend)

	require.NoError(t, p.Submit(context.Background(), 4))
	calls := backend.StatusCalls(4)
	notified := len(rec.seen(4))

	p.CancelAll()
	assert.Equal(t, 0, p.ActiveCount())
	assert.Equal(t, 0, sched.Active())

	sched.Advance(5 * jobs.DefaultInterval)
	assert.Equal(t, calls, backend.StatusCalls(4))

	assert.ErrorIs(t, p.Submit(context.Background(), 4), jobs.ErrClosed)
	assert.NoError(t, p.CheckStatus(context.Background(), 4))
	assert.Equal(t, notified, len(rec.seen(4)))
}

type gatedBackend struct {
	release chan struct{}
	entered chan struct{}
}

func (g *gatedBackend) SubmitAnalysis(ctx context.Context, id int64) (*service.AnalysisJob, error) {
	close(g.entered)
	<-g.release
	return &service.AnalysisJob{ID: 1, DataSourceID: id, Status: service.StatusRunning}, nil
}

func (g *gatedBackend) GetLatestJob(ctx context.Context, id int64) (*service.AnalysisJob, error) {
	return &service.AnalysisJob{ID: 1, DataSourceID: id, Status: service.StatusRunning}, nil
}

func TestCancelAll_DropsInFlightWrites(t *testing.T) {
	backend := &gatedBackend{release: make(chan struct{}), entered: make(chan struct{})}
	p, sched, rec := newPoller(t, backend)

	done := make(chan error, 1)
	go func() { done <- p.Submit(context.Background(), 6) }()

	<-backend.entered
	p.CancelAll()
	close(backend.release)
	require.NoError(t, <-done)

	assert.Equal(t, service.StatusPending, status(t, p, 6))
	assert.Equal(t, []service.JobStatus{service.StatusPending}, rec.seen(6))
	assert.Equal(t, 0, sched.Active())
}

func TestCancelAll_SuppressesNotifyRacingShutdown(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueSubmit(2, jobstest.Job(8, 2, service.AnomalyDetection, service.StatusRunning))
	p, sched, rec := newPoller(t, backend)

	var once sync.Once
	jobs.SetBeforeNotify(p, func() { once.Do(p.CancelAll) })

	require.NoError(t, p.Submit(context.Background(), 2))
	assert.Equal(t, service.StatusPending, status(t, p, 2))
	assert.Empty(t, rec.seen(2))
	assert.Equal(t, 0, sched.Active())
}

func TestTrack(t *testing.T) {
	backend := jobstest.NewFakeBackend()
	backend.QueueStatus(1, jobstest.Fail(fmt.Errorf("wrapped: %w", service.ErrNotFound)))
	backend.QueueStatus(2, jobstest.Job(5, 2, service.AnomalyDetection, service.StatusRunning))
	backend.QueueStatus(3, jobstest.Completed(6, 3, service.RULPrediction, `{"cycles":[],"rul_predictions":[]}`))
	p, sched, _ := newPoller(t, backend)

	require.NoError(t, p.Track(context.Background(), 1))
	assert.True(t, p.Store().Get(1).IsAbsent())

	require.NoError(t, p.Track(context.Background(), 2))
	assert.True(t, p.Active(2))

	require.NoError(t, p.Track(context.Background(), 3))
	assert.False(t, p.Active(3))
	assert.Equal(t, service.StatusCompleted, status(t, p, 3))
	assert.Equal(t, 1, sched.Active())
}

func TestTickerScheduler_StopFromCallback(t *testing.T) {
	var (
		mu    sync.Mutex
		runs  int
		task  jobs.Task
		ready = make(chan struct{})
	)
	task = jobs.TickerScheduler{}.Every(2*time.Millisecond, func() {
		<-ready
		mu.Lock()
		runs++
		n := runs
		mu.Unlock()
		if n == 3 {
			task.Stop()
		}
	})
	close(ready)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 3
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, runs)
	task.Stop()
}
