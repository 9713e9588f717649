package jobs

import (
	"sync"
	"time"
)

// Task is a cancellable periodic callback.
type Task interface {
	// Stop cancels future runs. It does not wait for a run in progress,
	// so it is safe to call from inside the callback itself.
	Stop()
}

// Scheduler runs fn every interval until the returned Task is stopped.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Task
}

// TickerScheduler schedules on the wall clock with one goroutine per task.
// Runs of a single task never overlap.
type TickerScheduler struct{}

func (TickerScheduler) Every(interval time.Duration, fn func()) Task {
	t := &tickerTask{
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	go t.loop(fn)
	return t
}

type tickerTask struct {
	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

func (t *tickerTask) loop(fn func()) {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			select {
			case <-t.done:
				return
			default:
			}
			fn()
		}
	}
}

func (t *tickerTask) Stop() {
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
	})
}
