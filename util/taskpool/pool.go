package taskpool

import (
	"context"
	"sync"
	"time"
)

// Job is a unit of work run by the pool.
type Job func(ctx context.Context)

const (
	defaultQueueSize   = 100
	defaultIdleTimeout = 30 * time.Second
)

type keyQueue struct {
	jobs chan Job
}

// TaskPool runs jobs serially per key and in parallel across keys.
//
// Each key gets one worker goroutine on first use. A worker exits once its
// queue has been empty for the idle timeout, so keys that stop receiving work
// do not pin goroutines. Submit never blocks: a full queue rejects the job.
//
//	pool := NewTaskPool()
//	defer pool.Stop()
//	pool.Submit("participant-a", func(ctx context.Context) { ... })
type TaskPool struct {
	queueSize   int
	idleTimeout time.Duration

	mu      sync.Mutex
	queues  map[string]*keyQueue
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a TaskPool.
type Option func(*TaskPool)

// WithQueueSize sets the per-key buffer.
func WithQueueSize(n int) Option {
	return func(tp *TaskPool) {
		if n > 0 {
			tp.queueSize = n
		}
	}
}

// WithIdleTimeout sets how long an idle key worker lingers.
func WithIdleTimeout(d time.Duration) Option {
	return func(tp *TaskPool) {
		if d > 0 {
			tp.idleTimeout = d
		}
	}
}

// NewTaskPool creates a running TaskPool
func NewTaskPool(opts ...Option) *TaskPool {
	ctx, cancel := context.WithCancel(context.Background())
	tp := &TaskPool{
		queueSize:   defaultQueueSize,
		idleTimeout: defaultIdleTimeout,
		queues:      make(map[string]*keyQueue),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(tp)
	}
	return tp
}

// Submit queues job behind earlier jobs for key. It returns false when the
// pool is stopped or the key's queue is full.
func (tp *TaskPool) Submit(key string, job Job) bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.stopped {
		return false
	}
	queue, exists := tp.queues[key]
	if !exists {
		queue = &keyQueue{jobs: make(chan Job, tp.queueSize)}
		tp.queues[key] = queue
		tp.wg.Add(1)
		go tp.worker(key, queue)
	}

	select {
	case queue.jobs <- job:
		return true
	default:
		return false
	}
}

func (tp *TaskPool) worker(key string, queue *keyQueue) {
	defer tp.wg.Done()

	idle := time.NewTimer(tp.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-tp.ctx.Done():
			return
		case job := <-queue.jobs:
			job(tp.ctx)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(tp.idleTimeout)
		case <-idle.C:
			// Submit enqueues under tp.mu, so an empty queue seen here stays
			// empty until the key is removed.
			tp.mu.Lock()
			if len(queue.jobs) == 0 {
				delete(tp.queues, key)
				tp.mu.Unlock()
				return
			}
			tp.mu.Unlock()
			idle.Reset(tp.idleTimeout)
		}
	}
}

// Stop cancels running jobs, drops queued ones and waits for workers to exit.
func (tp *TaskPool) Stop() {
	tp.mu.Lock()
	if tp.stopped {
		tp.mu.Unlock()
		return
	}
	tp.stopped = true
	tp.mu.Unlock()

	tp.cancel()
	tp.wg.Wait()
}

// Len returns the number of keys with a live worker.
func (tp *TaskPool) Len() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.queues)
}
