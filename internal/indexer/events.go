package indexer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/coderag-mcp/internal/logging"
	"github.com/dshills/coderag-mcp/pkg/types"
)

// DefaultDebounce is the quiet period after the last event of a burst
const DefaultDebounce = 500 * time.Millisecond

// SyncFunc runs one sync of a project
type SyncFunc func(ctx context.Context, project string) error

// EventQueue turns bursts of change events into one sync per project.
// Each project has at most one sync in flight from the queue; events that
// arrive while it runs schedule exactly one more.
type EventQueue struct {
	debounce time.Duration
	sync     SyncFunc
	logger   *zap.Logger

	ready   chan string
	stopped chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running map[string]bool
	dirty   map[string]bool
}

// NewEventQueue creates a queue; Run must be called to process it
func NewEventQueue(debounce time.Duration, fn SyncFunc, logger *zap.Logger) *EventQueue {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &EventQueue{
		debounce: debounce,
		sync:     fn,
		logger:   logging.OrNop(logger),
		ready:    make(chan string),
		stopped:  make(chan struct{}),
		timers:   make(map[string]*time.Timer),
		running:  make(map[string]bool),
		dirty:    make(map[string]bool),
	}
}

// Push records a change in project and (re)starts its debounce timer
func (q *EventQueue) Push(project string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.timers[project]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(q.debounce, func() { q.fire(project, t) })
	q.timers[project] = t
}

func (q *EventQueue) fire(project string, t *time.Timer) {
	q.mu.Lock()
	if q.timers[project] == t {
		delete(q.timers, project)
	}
	q.mu.Unlock()

	select {
	case q.ready <- project:
	case <-q.stopped:
	}
}

// Pending returns the number of projects waiting for a sync
func (q *EventQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers) + len(q.dirty)
}

// Run processes debounced events until ctx is done, then waits for the
// syncs it started
func (q *EventQueue) Run(ctx context.Context) error {
	defer func() {
		close(q.stopped)
		q.mu.Lock()
		for p, t := range q.timers {
			t.Stop()
			delete(q.timers, p)
		}
		q.mu.Unlock()
		q.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case project := <-q.ready:
			q.mu.Lock()
			if q.running[project] {
				q.dirty[project] = true
				q.mu.Unlock()
				continue
			}
			q.running[project] = true
			q.mu.Unlock()

			q.wg.Add(1)
			go q.work(ctx, project)
		}
	}
}

func (q *EventQueue) work(ctx context.Context, project string) {
	defer q.wg.Done()
	for {
		err := q.sync(ctx, project)
		switch {
		case errors.Is(err, types.ErrConcurrentSync):
			// a writer outside the queue owns the project; try again later
			q.logger.Debug("sync busy, requeued", zap.String("project", project))
			if ctx.Err() == nil {
				q.Push(project)
			}
		case err != nil && ctx.Err() == nil:
			q.logger.Warn("queued sync failed", zap.String("project", project), zap.Error(err))
		}

		q.mu.Lock()
		if q.dirty[project] && ctx.Err() == nil {
			delete(q.dirty, project)
			q.mu.Unlock()
			continue
		}
		delete(q.dirty, project)
		delete(q.running, project)
		q.mu.Unlock()
		return
	}
}
