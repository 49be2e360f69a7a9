// Package scheduler runs named periodic tasks. Each task has its own initial
// delay and period, never overlaps itself, and is isolated from panics in
// other tasks.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xiaonanln/oambridge/util/logger"
	"github.com/xiaonanln/oambridge/util/metrics"
)

// Run results recorded in metrics and Stats.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultSkipped   = "skipped"
	ResultPanicked  = "panicked"
)

// Task is a named periodic job.
type Task struct {
	Name         string
	InitialDelay time.Duration
	Period       time.Duration
	// Timeout bounds the context passed to Run. Zero means Period.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Stats counts how a task's ticks were handled.
type Stats struct {
	Completed uint64
	Failed    uint64
	Skipped   uint64
	Panicked  uint64
	LastRun   time.Time
	LastError string
}

type taskState struct {
	Task
	running atomic.Bool // set while Run executes

	mu    sync.Mutex
	stats Stats
}

// Scheduler owns a set of tasks and their timers.
type Scheduler struct {
	logger *logger.Logger

	mu      sync.Mutex
	tasks   map[string]*taskState
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup // tick loops
	runs    sync.WaitGroup // in-flight runs
}

// New creates an empty Scheduler
func New() *Scheduler {
	return &Scheduler{
		logger: logger.NewLogger("Scheduler"),
		tasks:  make(map[string]*taskState),
	}
}

// Register adds a task. Tasks registered after Start begin immediately.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" {
		return fmt.Errorf("task name is required")
	}
	if t.Period <= 0 {
		return fmt.Errorf("task %s: period must be positive", t.Name)
	}
	if t.Run == nil {
		return fmt.Errorf("task %s: run function is required", t.Name)
	}
	if t.InitialDelay < 0 {
		t.InitialDelay = 0
	}
	if t.Timeout <= 0 {
		t.Timeout = t.Period
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.Name]; exists {
		return fmt.Errorf("task %s already registered", t.Name)
	}
	ts := &taskState{Task: t}
	s.tasks[t.Name] = ts
	if s.started {
		s.startLocked(ts)
	}
	return nil
}

// Start launches every registered task. It is idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, ts := range s.tasks {
		s.startLocked(ts)
	}
	s.logger.Infof("Scheduler started with %d tasks", len(s.tasks))
}

func (s *Scheduler) startLocked(ts *taskState) {
	s.wg.Add(1)
	go s.loop(s.ctx, ts)
}

// Stop cancels all tasks and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.runs.Wait()
	s.logger.Infof("Scheduler stopped")
}

// loop waits out the initial delay and then fires every period.
func (s *Scheduler) loop(ctx context.Context, ts *taskState) {
	defer s.wg.Done()

	delay := time.NewTimer(ts.InitialDelay)
	select {
	case <-ctx.Done():
		delay.Stop()
		return
	case <-delay.C:
	}
	s.fire(ctx, ts)

	ticker := time.NewTicker(ts.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, ts)
		}
	}
}

// fire starts a run unless the previous one is still executing.
func (s *Scheduler) fire(ctx context.Context, ts *taskState) {
	if !ts.running.CompareAndSwap(false, true) {
		s.logger.Debugf("Task %s still running, skipping tick", ts.Name)
		ts.record(ResultSkipped, nil)
		metrics.RecordDaemonRun(ts.Name, ResultSkipped)
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		defer ts.running.Store(false)
		s.execute(ctx, ts)
	}()
}

// RunNow executes a task once, synchronously, honouring the overlap guard.
// It returns false if the task is unknown or already running.
func (s *Scheduler) RunNow(ctx context.Context, name string) bool {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok || !ts.running.CompareAndSwap(false, true) {
		return false
	}
	defer ts.running.Store(false)
	s.execute(ctx, ts)
	return true
}

func (s *Scheduler) execute(parent context.Context, ts *taskState) {
	ctx, cancel := context.WithTimeout(parent, ts.Timeout)
	defer cancel()

	start := time.Now()
	result, err := ResultCompleted, error(nil)
	func() {
		defer func() {
			if r := recover(); r != nil {
				result = ResultPanicked
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		if runErr := ts.Run(ctx); runErr != nil {
			result, err = ResultFailed, runErr
		}
	}()

	elapsed := time.Since(start)
	metrics.RecordDaemonRun(ts.Name, result)
	metrics.RecordDaemonRunDuration(ts.Name, elapsed.Seconds())
	ts.record(result, err)

	switch result {
	case ResultPanicked:
		s.logger.Errorf("Task %s panicked after %v: %v", ts.Name, elapsed, err)
	case ResultFailed:
		s.logger.Warnf("Task %s failed after %v: %v", ts.Name, elapsed, err)
	default:
		s.logger.Debugf("Task %s completed in %v", ts.Name, elapsed)
	}
}

func (ts *taskState) record(result string, err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	switch result {
	case ResultCompleted:
		ts.stats.Completed++
	case ResultFailed:
		ts.stats.Failed++
	case ResultSkipped:
		ts.stats.Skipped++
		return
	case ResultPanicked:
		ts.stats.Panicked++
	}
	ts.stats.LastRun = time.Now()
	ts.stats.LastError = ""
	if err != nil {
		ts.stats.LastError = err.Error()
	}
}

// Stats returns a snapshot of a task's counters.
func (s *Scheduler) Stats(name string) (Stats, bool) {
	s.mu.Lock()
	ts, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.stats, true
}

// Names returns the registered task names in order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
