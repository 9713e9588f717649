// Package jobstest provides a virtual clock and a scripted backend for poller tests.
package jobstest

import (
	"sync"
	"time"

	"idh-tui/internal/jobs"
)

// ManualScheduler fires tasks only when Advance moves its virtual clock.
type ManualScheduler struct {
	mu    sync.Mutex
	now   time.Duration
	tasks []*manualTask
}

type manualTask struct {
	sched    *ManualScheduler
	interval time.Duration
	next     time.Duration
	fn       func()
	stopped  bool
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Every(interval time.Duration, fn func()) jobs.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTask{sched: s, interval: interval, next: s.now + interval, fn: fn}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves the clock forward by d and runs every task that falls due,
// in due order, on the calling goroutine.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	for {
		due := s.nextDueLocked(target)
		if due == nil {
			break
		}
		s.now = due.next
		due.next += due.interval
		s.mu.Unlock()
		due.fn()
		s.mu.Lock()
	}
	s.now = target
	s.mu.Unlock()
}

// Active counts tasks that have not been stopped.
func (s *ManualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (s *ManualScheduler) nextDueLocked(target time.Duration) *manualTask {
	var due *manualTask
	for _, t := range s.tasks {
		if t.stopped || t.next > target {
			continue
		}
		if due == nil || t.next < due.next {
			due = t
		}
	}
	return due
}

func (t *manualTask) Stop() {
	t.sched.mu.Lock()
	t.stopped = true
	t.sched.mu.Unlock()
}
