package service

import (
	"encoding/json"
	"strings"
)

type AnalysisType string

const (
	AnomalyDetection       AnalysisType = "ANOMALY_DETECTION"
	RULPrediction          AnalysisType = "RUL_PREDICTION"
	QCVisualClassification AnalysisType = "QC_VISUAL_CLASSIFICATION"
)

// AnalysisTypes lists the analysis types the backend accepts, in display order.
var AnalysisTypes = []AnalysisType{AnomalyDetection, RULPrediction, QCVisualClassification}

func (t AnalysisType) Valid() bool {
	switch t {
	case AnomalyDetection, RULPrediction, QCVisualClassification:
		return true
	}
	return false
}

func (t AnalysisType) Label() string {
	switch t {
	case AnomalyDetection:
		return "Anomaly detection"
	case RULPrediction:
		return "RUL prediction"
	case QCVisualClassification:
		return "Visual QC"
	case "":
		return "-"
	}
	return string(t)
}

type JobStatus string

const (
	StatusPending   JobStatus = "PENDING"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
	// StatusError is client-local: the status fetch itself failed.
	StatusError JobStatus = "ERROR"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusError:
		return true
	}
	return false
}

func (s JobStatus) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

type DataSource struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	SourceType  AnalysisType `json:"sourceType"`
	Location    string       `json:"location,omitempty"`
	CreatedAt   string       `json:"createdAt,omitempty"`
}

func (d DataSource) HasFile() bool {
	return strings.TrimSpace(d.Location) != ""
}

type NewDataSource struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	SourceType  AnalysisType `json:"sourceType"`
}

// AnalysisJob mirrors the backend job record. ResultDetailsJSON is kept raw:
// the backend sends either an object, a JSON string, or null.
type AnalysisJob struct {
	ID                int64           `json:"id"`
	DataSourceID      int64           `json:"dataSourceId"`
	AnalysisType      AnalysisType    `json:"analysisType,omitempty"`
	Status            JobStatus       `json:"status"`
	ResultSummary     string          `json:"resultSummary,omitempty"`
	ResultDetailsJSON json.RawMessage `json:"resultDetailsJson,omitempty"`
	ErrorMessage      string          `json:"errorMessage,omitempty"`
	CreatedAt         string          `json:"createdAt,omitempty"`
	UpdatedAt         string          `json:"updatedAt,omitempty"`
}

// HasDetails reports whether the job carries a result payload. The literal
// null and the JSON strings "" and "null" all count as absent.
func (j AnalysisJob) HasDetails() bool {
	raw := strings.TrimSpace(string(j.ResultDetailsJSON))
	switch raw {
	case "", "null", `""`, `"null"`:
		return false
	}
	return true
}
