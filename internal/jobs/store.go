package jobs

import (
	"sync"

	"github.com/samber/mo"

	"idh-tui/internal/service"
)

// Store keeps the latest known job per data source id. Older jobs are not retained.
type Store struct {
	mu   sync.RWMutex
	jobs map[int64]service.AnalysisJob
}

func NewStore() *Store {
	return &Store{jobs: make(map[int64]service.AnalysisJob)}
}

func (s *Store) Get(dataSourceID int64) mo.Option[service.AnalysisJob] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[dataSourceID]
	if !ok {
		return mo.None[service.AnalysisJob]()
	}
	return mo.Some(job)
}

func (s *Store) Put(dataSourceID int64, job service.AnalysisJob) {
	s.mu.Lock()
	s.jobs[dataSourceID] = job
	s.mu.Unlock()
}

func (s *Store) Delete(dataSourceID int64) {
	s.mu.Lock()
	delete(s.jobs, dataSourceID)
	s.mu.Unlock()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Snapshot returns a copy safe to read without holding the lock.
func (s *Store) Snapshot() map[int64]service.AnalysisJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]service.AnalysisJob, len(s.jobs))
	for id, job := range s.jobs {
		out[id] = job
	}
	return out
}
