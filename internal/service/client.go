package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConflict    = errors.New("data source already exists")
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("backend unreachable")
	ErrTimeout     = errors.New("backend request timeout")
)

const requestIDHeader = "X-Request-ID"

// APIError is a non-success response from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("api %s %s failed with status %d", e.Method, e.Path, e.StatusCode)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusConflict:
		return ErrConflict
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client talks to the Industrial Data Hub REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) ListDataSources(ctx context.Context) ([]DataSource, error) {
	var sources []DataSource
	if err := c.doJSON(ctx, http.MethodGet, "/api/datasources", nil, &sources); err != nil {
		return nil, err
	}
	if sources == nil {
		sources = []DataSource{}
	}
	return sources, nil
}

func (c *Client) CreateDataSource(ctx context.Context, fields NewDataSource) (*DataSource, error) {
	fields.Name = strings.TrimSpace(fields.Name)
	if fields.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if !fields.SourceType.Valid() {
		return nil, fmt.Errorf("unknown source type %q", fields.SourceType)
	}
	var created DataSource
	if err := c.doJSON(ctx, http.MethodPost, "/api/datasources", fields, &created); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrConflict, fields.Name)
		}
		return nil, err
	}
	return &created, nil
}

func (c *Client) UploadFile(ctx context.Context, dataSourceID int64, filename string, content io.Reader) (*DataSource, error) {
	if content == nil {
		return nil, fmt.Errorf("file content is required")
	}
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy file content: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close multipart form: %w", err)
	}

	path := fmt.Sprintf("/api/datasources/%d/upload", dataSourceID)
	req, err := c.newRequest(ctx, http.MethodPost, path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var updated DataSource
	if err := c.do(req, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (c *Client) SubmitAnalysis(ctx context.Context, dataSourceID int64) (*AnalysisJob, error) {
	var job AnalysisJob
	path := fmt.Sprintf("/api/datasources/%d/analyze", dataSourceID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &job); err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, fmt.Errorf("backend did not return a job id")
	}
	return &job, nil
}

func (c *Client) GetLatestJob(ctx context.Context, dataSourceID int64) (*AnalysisJob, error) {
	var job AnalysisJob
	path := fmt.Sprintf("/api/datasources/analysis/latest/%d", dataSourceID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		blob, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request payload: %w", err)
		}
		body = bytes.NewReader(blob)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		blob, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{Method: req.Method, Path: req.URL.Path, StatusCode: resp.StatusCode}
		var decoded apiError
		if json.Unmarshal(blob, &decoded) == nil {
			apiErr.Message = strings.TrimSpace(decoded.Error)
			if apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(decoded.Message)
			}
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// classifyError maps transport failures onto ErrTimeout or ErrUnavailable.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
