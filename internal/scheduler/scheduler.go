// Package scheduler implements the Lane Scheduler, the
// component that turns admitted daemon requests into serialized,
// per-lane work while letting independent lanes run with true
// parallelism up to a global cap. It owns no knowledge of what a lane
// key means (internal/lanekey computes that); it only enforces the
// FIFO-per-lane, round-robin-across-lanes, bounded-active, bounded-queue
// contract.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/runtime"
)

// Scheduler admits Tasks, one at a time per lane, up to a global
// concurrency cap. The zero value is not usable; construct with New or
// NewFromRuntime.
type Scheduler struct {
	mu sync.Mutex

	maxActive     int
	maxQueueDepth int
	queueWait     time.Duration

	lanes       map[string]*laneState
	runnable    []string
	activeTotal int
}

// New builds a Scheduler with explicit limits, bypassing environment
// resolution — the shape tests want.
func New(maxActive, maxQueueDepth int, queueWait time.Duration) *Scheduler {
	return &Scheduler{
		maxActive:     maxActive,
		maxQueueDepth: maxQueueDepth,
		queueWait:     queueWait,
		lanes:         make(map[string]*laneState),
	}
}

// NewFromRuntime builds a Scheduler using the daemon's resolved tunables
// (SURFWRIGHT_MAX_ACTIVE, SURFWRIGHT_MAX_QUEUE_DEPTH, SURFWRIGHT_QUEUE_WAIT_MS).
func NewFromRuntime(rt *runtime.Runtime) *Scheduler {
	return New(rt.MaxActive, rt.MaxQueueDepth, time.Duration(rt.QueueWaitMS)*time.Millisecond)
}

// Submit enqueues task on its lane and blocks until it has run, been
// cancelled, or timed out waiting for admission. It never blocks for
// longer than the scheduler's queue-wait deadline plus task execution
// time when admission is immediate.
func (s *Scheduler) Submit(task *Task) error {
	task.done = make(chan taskOutcome, 1)

	s.mu.Lock()
	lane := s.laneFor(task.LaneKey)
	if len(lane.queue) >= s.maxQueueDepth {
		s.mu.Unlock()
		return errs.New(errs.ErrDaemonQueueSaturated, "lane queue is full",
			errs.WithContext("laneKey", task.LaneKey))
	}

	wasIdle := lane.idle()
	lane.queue = append(lane.queue, task)
	if wasIdle {
		s.pushRunnableLocked(lane.key)
	}
	s.dispatchLocked()
	s.mu.Unlock()

	if s.queueWait <= 0 {
		return s.awaitOutcome(task)
	}

	timer := time.NewTimer(s.queueWait)
	defer timer.Stop()

	select {
	case outcome := <-task.done:
		return outcomeToErr(outcome)
	case <-timer.C:
		if s.expireIfStillQueued(lane, task) {
			return errs.New(errs.ErrDaemonQueueTimeout, "queue-wait deadline exceeded",
				errs.WithContext("laneKey", task.LaneKey))
		}
		return outcomeToErr(<-task.done)
	}
}

func (s *Scheduler) awaitOutcome(task *Task) error {
	return outcomeToErr(<-task.done)
}

func outcomeToErr(outcome taskOutcome) error {
	if outcome == outcomeCancelled {
		return context.Canceled
	}
	return nil
}

func (s *Scheduler) laneFor(key string) *laneState {
	lane, ok := s.lanes[key]
	if !ok {
		lane = &laneState{key: key}
		s.lanes[key] = lane
	}
	return lane
}

// dispatchLocked pops runnable lane keys and spawns their head tasks
// while under s.maxActive. Must be called with s.mu held.
func (s *Scheduler) dispatchLocked() {
	for s.activeTotal < s.maxActive && len(s.runnable) > 0 {
		key := s.popRunnableLocked()
		lane, ok := s.lanes[key]
		// A lane that is already running (a stale key left behind by a
		// queue-wait expiry) is re-pushed by complete() when its task ends.
		if !ok || len(lane.queue) == 0 || lane.activeCount > 0 {
			continue
		}

		task := lane.queue[0]
		lane.queue = lane.queue[1:]

		if task.Ctx != nil && task.Ctx.Err() != nil {
			task.done <- outcomeCancelled
			if len(lane.queue) > 0 {
				s.pushRunnableLocked(key)
			}
			continue
		}

		lane.activeCount++
		s.activeTotal++
		go s.run(lane, task)
	}
}

func (s *Scheduler) run(lane *laneState, task *Task) {
	task.Run(task.Ctx)
	s.complete(lane, task)
}

func (s *Scheduler) complete(lane *laneState, task *Task) {
	s.mu.Lock()
	lane.activeCount--
	s.activeTotal--
	if len(lane.queue) > 0 {
		s.pushRunnableLocked(lane.key)
	}
	s.dispatchLocked()
	s.mu.Unlock()

	task.done <- outcomeRan
}

// expireIfStillQueued removes task from lane's queue if the queue-wait
// timer fired before dispatch reached it. Returns false if dispatch had
// already popped (and is running, or discarded as cancelled) the task,
// in which case the caller must wait on task.done for the real outcome.
func (s *Scheduler) expireIfStillQueued(lane *laneState, task *Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lane.removeQueued(task)
}

func (s *Scheduler) pushRunnableLocked(key string) {
	s.runnable = append(s.runnable, key)
}

func (s *Scheduler) popRunnableLocked() string {
	key := s.runnable[0]
	s.runnable = s.runnable[1:]
	return key
}

// ActiveTotal reports the current global active-task count, for metrics
// and tests. Safe for concurrent use.
func (s *Scheduler) ActiveTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTotal
}

// QueueDepth reports the current queue length for a lane, 0 if the lane
// has never been used.
func (s *Scheduler) QueueDepth(laneKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane, ok := s.lanes[laneKey]
	if !ok {
		return 0
	}
	return len(lane.queue)
}
