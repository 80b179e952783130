package downloader

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Task is one in-flight or completed download.
type Task struct {
	ID         uuid.UUID
	URL        string
	Path       string
	MaxRetries int
	Chunks     int
	Headers    map[string]string

	done      chan struct{}
	err       error
	completed atomic.Bool
}

func newTask(url, path string, retries, chunks int, headers map[string]string) *Task {
	return &Task{
		ID:         uuid.New(),
		URL:        url,
		Path:       path,
		MaxRetries: retries,
		Chunks:     chunks,
		Headers:    headers,
		done:       make(chan struct{}),
	}
}

// finish records the terminal state. It must be called exactly once.
func (t *Task) finish(err error) {
	t.err = err
	t.completed.Store(true)
	close(t.done)
}

// Done is closed once the task has completed, successfully or not.
func (t *Task) Done() <-chan struct{} { return t.done }

// Completed reports whether the task has reached its terminal state.
func (t *Task) Completed() bool { return t.completed.Load() }

// Wait blocks until the task completes and returns its terminal error.
func (t *Task) Wait() error {
	<-t.done
	return t.err
}

// Err returns the terminal error without blocking; it is nil while the task
// is still running.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}
