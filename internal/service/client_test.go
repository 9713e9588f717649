package service_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idh-tui/internal/mockapi"
	"idh-tui/internal/result"
	"idh-tui/internal/service"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newMockServer(t *testing.T, opts ...mockapi.Option) (*service.Client, *mockapi.Backend, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]mockapi.Option{mockapi.WithClock(clock.Now), mockapi.WithTimings(time.Second, 3*time.Second)}, opts...)
	backend := mockapi.NewBackend(opts...)
	srv := httptest.NewServer(mockapi.NewRouter(backend))
	t.Cleanup(srv.Close)
	return service.NewClient(srv.URL+"/", 2*time.Second), backend, clock
}

func TestClient_DataSourceLifecycle(t *testing.T) {
	client, _, clock := newMockServer(t)
	ctx := context.Background()

	sources, err := client.ListDataSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)

	created, err := client.CreateDataSource(ctx, service.NewDataSource{
		Name:       "turbofan-fd001",
		SourceType: service.RULPrediction,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.HasFile())

	_, err = client.CreateDataSource(ctx, service.NewDataSource{Name: "turbofan-fd001", SourceType: service.RULPrediction})
	require.ErrorIs(t, err, service.ErrConflict)
	assert.Contains(t, err.Error(), "turbofan-fd001")

	_, err = client.SubmitAnalysis(ctx, created.ID)
	var apiErr *service.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = client.GetLatestJob(ctx, created.ID)
	require.ErrorIs(t, err, service.ErrNotFound)

	updated, err := client.UploadFile(ctx, created.ID, "/tmp/data/test_FD001.txt", strings.NewReader("1 1 0.0 0.0"))
	require.NoError(t, err)
	assert.Equal(t, "uploads/source_1_test_FD001.txt", updated.Location)

	job, err := client.SubmitAnalysis(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StatusPending, job.Status)
	assert.Equal(t, service.RULPrediction, job.AnalysisType)

	clock.Advance(time.Second)
	job, err = client.GetLatestJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StatusRunning, job.Status)

	clock.Advance(2 * time.Second)
	job, err = client.GetLatestJob(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StatusCompleted, job.Status)
	assert.True(t, job.HasDetails())
	assert.Contains(t, job.ResultSummary, "Final RUL prediction")

	parsed, err := result.Normalize(job.ResultDetailsJSON)
	require.NoError(t, err)
	assert.Contains(t, parsed, "cycles")
	assert.Contains(t, parsed, "rul_predictions")

	sources, err = client.ListDataSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "turbofan-fd001", sources[0].Name)
}

func TestClient_DoubleEncodedDetails(t *testing.T) {
	client, backend, clock := newMockServer(t, mockapi.WithDoubleEncoding(true))
	backend.Seed()
	ctx := context.Background()

	job, err := client.SubmitAnalysis(ctx, 3)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	job, err = client.GetLatestJob(ctx, job.DataSourceID)
	require.NoError(t, err)
	require.Equal(t, service.StatusCompleted, job.Status)
	assert.True(t, strings.HasPrefix(string(job.ResultDetailsJSON), `"\"{`))

	parsed, err := result.Normalize(job.ResultDetailsJSON)
	require.NoError(t, err)
	assert.Contains(t, parsed, "verdict")
}

func TestClient_SendsRequestID(t *testing.T) {
	seen := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sources, err := service.NewClient(srv.URL, time.Second).ListDataSources(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sources)
	_, err = uuid.Parse(<-seen)
	assert.NoError(t, err)
}

func TestClient_APIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"queue unavailable"}`))
	}))
	defer srv.Close()

	_, err := service.NewClient(srv.URL, time.Second).SubmitAnalysis(context.Background(), 9)
	var apiErr *service.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, "queue unavailable", apiErr.Message)
	assert.Contains(t, err.Error(), "/api/datasources/9/analyze")
}

func TestClient_TransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := service.NewClient(url, time.Second).GetLatestJob(context.Background(), 1)
	assert.ErrorIs(t, err, service.ErrUnavailable)

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = service.NewClient(slow.URL, 5*time.Second).GetLatestJob(ctx, 1)
	assert.ErrorIs(t, err, service.ErrTimeout)
}

func TestClient_CreateValidatesInput(t *testing.T) {
	client := service.NewClient("http://127.0.0.1:1", time.Second)
	_, err := client.CreateDataSource(context.Background(), service.NewDataSource{Name: " ", SourceType: service.RULPrediction})
	assert.Error(t, err)
	_, err = client.CreateDataSource(context.Background(), service.NewDataSource{Name: "x", SourceType: "OTHER"})
	assert.Error(t, err)
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, service.StatusError.IsTerminal())
	assert.True(t, service.StatusFailed.IsTerminal())
	assert.False(t, service.StatusRunning.IsTerminal())
	assert.True(t, service.StatusPending.IsActive())
	assert.False(t, service.StatusCompleted.IsActive())
	for _, raw := range []string{``, `null`, `""`, `"null"`, ` "null" `} {
		assert.False(t, service.AnalysisJob{ResultDetailsJSON: []byte(raw)}.HasDetails(), raw)
	}
	assert.True(t, service.AnalysisJob{ResultDetailsJSON: []byte(`"{}"`)}.HasDetails())
	assert.Equal(t, "RUL prediction", service.RULPrediction.Label())
}
