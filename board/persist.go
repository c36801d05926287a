package board

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jmossahebi/jello2/domain"
)

// Persister writes a full snapshot for the session identified by gen.
type Persister interface {
	Persist(ctx context.Context, snap domain.State, gen uint64)
}

type persistJob struct {
	snap domain.State
	gen  uint64
}

// persistQueue hands snapshots to a single worker so writes reach the
// store in mutation order. Jobs are never coalesced or dropped; a full
// buffer makes the caller wait.
type persistQueue struct {
	target  Persister
	timeout time.Duration
	logger  *log.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan persistJob
	wg     sync.WaitGroup
}

func newPersistQueue(target Persister, buffer int, timeout time.Duration, logger *log.Logger) *persistQueue {
	if buffer < 0 {
		buffer = 0
	}
	q := &persistQueue{
		target:  target,
		timeout: timeout,
		logger:  logger,
		jobs:    make(chan persistJob, buffer),
	}
	q.wg.Add(1)
	go q.worker()
	logger.Debugf("persist queue started, buffer: %d, timeout: %v", buffer, timeout)
	return q
}

func (q *persistQueue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		ctx := context.Background()
		cancel := context.CancelFunc(func() {})
		if q.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, q.timeout)
		}
		q.target.Persist(ctx, j.snap, j.gen)
		cancel()
	}
}

// enqueue reports false once the queue is closed.
func (q *persistQueue) enqueue(job persistJob) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
	}
	q.logger.Warnf("persist queue full, waiting, buffer: %d", cap(q.jobs))
	q.jobs <- job
	return true
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *persistQueue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
