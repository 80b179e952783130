package downloader

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// AwaitAll blocks until every task has completed, then returns the first
// non-nil error in argument order. Nil tasks are ignored.
func AwaitAll(tasks ...*Task) error {
	for _, t := range tasks {
		if t != nil {
			<-t.done
		}
	}
	for _, t := range tasks {
		if t != nil && t.err != nil {
			return t.err
		}
	}
	return nil
}

// Batch collects tasks started by different callers so they can be joined
// at one point.
type Batch struct {
	mu    sync.Mutex
	tasks []*Task
}

// Add appends tasks to the batch, skipping nil ones. It is safe for
// concurrent use.
func (b *Batch) Add(tasks ...*Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range tasks {
		if t != nil {
			b.tasks = append(b.tasks, t)
		}
	}
}

// Len reports how many tasks are waiting to be joined.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tasks)
}

// Wait joins every task added so far. When all of them succeeded they are
// removed from the batch; otherwise the batch is left untouched and the
// first error is returned.
func (b *Batch) Wait() error {
	b.mu.Lock()
	tasks := slices.Clone(b.tasks)
	b.mu.Unlock()

	for _, t := range tasks {
		<-t.done
		if t.err != nil {
			log.Error().Str("op", "downloader/batch").Err(t.err).Msgf("download of %s failed", t.URL)
		} else {
			log.Info().Str("op", "downloader/batch").Msgf("downloaded %s", t.Path)
		}
	}
	if err := AwaitAll(tasks...); err != nil {
		return err
	}

	b.mu.Lock()
	b.tasks = slices.Clone(b.tasks[len(tasks):])
	b.mu.Unlock()
	return nil
}
