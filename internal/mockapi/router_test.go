package mockapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idh-tui/internal/service"
)

func do(t *testing.T, h http.Handler, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouter_Endpoints(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBackend(WithClock(func() time.Time { return now }), WithTimings(time.Second, 2*time.Second))
	h := NewRouter(b)

	rec := do(t, h, http.MethodGet, "/api/datasources", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, h, http.MethodPost, "/api/datasources", []byte(`{"name":"skab","sourceType":"ANOMALY_DETECTION"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code)
	var created service.DataSource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, int64(1), created.ID)

	rec = do(t, h, http.MethodPost, "/api/datasources", []byte(`{"name":"skab","sourceType":"ANOMALY_DETECTION"}`), "application/json")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/datasources", []byte(`{"name":"x","sourceType":"NOPE"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/datasources/1/analyze", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "valve1.csv")
	require.NoError(t, err)
	_, _ = part.Write([]byte("datetime;Accelerometer1RMS\n"))
	require.NoError(t, form.Close())
	rec = do(t, h, http.MethodPost, "/api/datasources/1/upload", buf.Bytes(), form.FormDataContentType())
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/datasources/analysis/latest/1", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/datasources/1/analyze", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	now = now.Add(5 * time.Second)
	rec = do(t, h, http.MethodGet, "/api/datasources/analysis/latest/1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var job service.AnalysisJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, service.StatusCompleted, job.Status)
	assert.Equal(t, service.AnomalyDetection, job.AnalysisType)

	rec = do(t, h, http.MethodPost, "/api/datasources/99/analyze", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/datasources/abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackend_CorruptFileFails(t *testing.T) {
	now := time.Now()
	b := NewBackend(WithClock(func() time.Time { return now }), WithTimings(0, time.Second))
	src, err := b.CreateDataSource(service.NewDataSource{Name: "bad", SourceType: service.RULPrediction})
	require.NoError(t, err)
	_, err = b.AttachFile(src.ID, "corrupt.txt", 10)
	require.NoError(t, err)
	_, err = b.SubmitAnalysis(src.ID)
	require.NoError(t, err)

	now = now.Add(time.Second)
	job, err := b.LatestJob(src.ID)
	require.NoError(t, err)
	assert.Equal(t, service.StatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "corrupt.txt")
}

func TestSampleResult_Deterministic(t *testing.T) {
	for _, typ := range service.AnalysisTypes {
		s1, d1 := sampleResult(typ, 5)
		s2, d2 := sampleResult(typ, 5)
		assert.Equal(t, s1, s2)
		assert.Equal(t, d1, d2)
	}
	_, details := sampleResult(service.AnomalyDetection, 1)
	assert.Len(t, details["timestamps"], anomalyWindows)
	assert.Len(t, details["reconstruction_errors"], anomalyWindows)
}

func TestSeed(t *testing.T) {
	b := NewBackend()
	b.Seed()
	sources := b.ListDataSources()
	require.Len(t, sources, 4)
	assert.True(t, sources[0].HasFile())
	assert.False(t, sources[3].HasFile())
}
