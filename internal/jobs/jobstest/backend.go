package jobstest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"idh-tui/internal/service"
)

type Response struct {
	Job *service.AnalysisJob
	Err error
}

// FakeBackend replays queued responses per data source id. The last queued
// response repeats once the queue is drained.
type FakeBackend struct {
	mu          sync.Mutex
	submits     map[int64][]Response
	statuses    map[int64][]Response
	submitCalls map[int64]int
	statusCalls map[int64]int
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		submits:     make(map[int64][]Response),
		statuses:    make(map[int64][]Response),
		submitCalls: make(map[int64]int),
		statusCalls: make(map[int64]int),
	}
}

func (f *FakeBackend) QueueSubmit(dataSourceID int64, responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits[dataSourceID] = append(f.submits[dataSourceID], responses...)
}

func (f *FakeBackend) QueueStatus(dataSourceID int64, responses ...Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[dataSourceID] = append(f.statuses[dataSourceID], responses...)
}

func (f *FakeBackend) SubmitCalls(dataSourceID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls[dataSourceID]
}

func (f *FakeBackend) StatusCalls(dataSourceID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[dataSourceID]
}

func (f *FakeBackend) SubmitAnalysis(ctx context.Context, dataSourceID int64) (*service.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls[dataSourceID]++
	return pop(f.submits, dataSourceID)
}

func (f *FakeBackend) GetLatestJob(ctx context.Context, dataSourceID int64) (*service.AnalysisJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls[dataSourceID]++
	return pop(f.statuses, dataSourceID)
}

func pop(queues map[int64][]Response, dataSourceID int64) (*service.AnalysisJob, error) {
	queue := queues[dataSourceID]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for data source %d", dataSourceID)
	}
	resp := queue[0]
	if len(queue) > 1 {
		queues[dataSourceID] = queue[1:]
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	job := *resp.Job
	return &job, nil
}

// Job builds a scripted job response.
func Job(jobID, dataSourceID int64, analysisType service.AnalysisType, status service.JobStatus) Response {
	return Response{Job: &service.AnalysisJob{
		ID:           jobID,
		DataSourceID: dataSourceID,
		AnalysisType: analysisType,
		Status:       status,
	}}
}

// Completed builds a finished job whose details are sent as a JSON string.
func Completed(jobID, dataSourceID int64, analysisType service.AnalysisType, details string) Response {
	encoded, _ := json.Marshal(details)
	resp := Job(jobID, dataSourceID, analysisType, service.StatusCompleted)
	resp.Job.ResultSummary = "Analysis finished"
	resp.Job.ResultDetailsJSON = encoded
	return resp
}

func Fail(err error) Response {
	return Response{Err: err}
}
