package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/surfwright/surfwright/internal/errs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func blockingTask(laneKey string, started chan<- struct{}, release <-chan struct{}) *Task {
	return &Task{
		LaneKey: laneKey,
		Ctx:     context.Background(),
		Run: func(ctx context.Context) {
			if started != nil {
				close(started)
			}
			<-release
		},
	}
}

func noopTask(laneKey string) *Task {
	return &Task{
		LaneKey: laneKey,
		Ctx:     context.Background(),
		Run:     func(ctx context.Context) {},
	}
}

// TestSubmitRunsAndCompletesWithinLane exercises the common path: one
// lane, one task, no contention.
func TestSubmitRunsAndCompletesWithinLane(t *testing.T) {
	s := New(2, 2, time.Second)
	ran := make(chan struct{}, 1)
	task := &Task{
		LaneKey: "lane-a",
		Ctx:     context.Background(),
		Run:     func(ctx context.Context) { ran <- struct{}{} },
	}
	require.NoError(t, s.Submit(task))

	select {
	case <-ran:
	default:
		t.Fatal("task did not run")
	}
	require.Equal(t, 0, s.ActiveTotal())
}

// TestQueueSaturationFailsFast verifies that once a lane's queue is at
// MAX_QUEUE_DEPTH, the next submit fails immediately
// with E_DAEMON_QUEUE_SATURATED rather than waiting.
func TestQueueSaturationFailsFast(t *testing.T) {
	s := New(1, 2, 2*time.Second)
	release := make(chan struct{})
	started := make(chan struct{})

	errs1 := make(chan error, 1)
	go func() { errs1 <- s.Submit(blockingTask("lane-a", started, release)) }()
	<-started // task 1 is now active, holding the lane's only slot

	errs2 := make(chan error, 1)
	go func() { errs2 <- s.Submit(blockingTask("lane-a", nil, release)) }()
	errs3 := make(chan error, 1)
	go func() { errs3 <- s.Submit(blockingTask("lane-a", nil, release)) }()

	require.Eventually(t, func() bool { return s.QueueDepth("lane-a") == 2 }, time.Second, time.Millisecond)

	err := s.Submit(noopTask("lane-a"))
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.ErrDaemonQueueSaturated, e.Code)
	require.True(t, e.Retryable)

	close(release)
	require.NoError(t, <-errs1)
	require.NoError(t, <-errs2)
	require.NoError(t, <-errs3)
}

// TestQueueWaitDeadlineExpires verifies that a task stuck behind a
// long-running occupant of its lane fails with
// E_DAEMON_QUEUE_TIMEOUT once MAX_QUEUE_WAIT_MS elapses, without
// disturbing the occupant.
func TestQueueWaitDeadlineExpires(t *testing.T) {
	s := New(1, 4, 30*time.Millisecond)
	release := make(chan struct{})
	started := make(chan struct{})

	occupantErr := make(chan error, 1)
	go func() { occupantErr <- s.Submit(blockingTask("lane-a", started, release)) }()
	<-started

	err := s.Submit(noopTask("lane-a"))
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.ErrDaemonQueueTimeout, e.Code)
	require.True(t, e.Retryable)

	close(release)
	require.NoError(t, <-occupantErr)
}

// TestIndependentLanesRunConcurrently checks that MAX_ACTIVE bounds the
// global total, not a per-lane total: two lanes with one task each both
// admit immediately.
func TestIndependentLanesRunConcurrently(t *testing.T) {
	s := New(2, 1, time.Second)
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	startedA := make(chan struct{})
	startedB := make(chan struct{})

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- s.Submit(blockingTask("lane-a", startedA, releaseA)) }()
	go func() { doneB <- s.Submit(blockingTask("lane-b", startedB, releaseB)) }()

	<-startedA
	<-startedB
	require.Equal(t, 2, s.ActiveTotal())

	close(releaseA)
	close(releaseB)
	require.NoError(t, <-doneA)
	require.NoError(t, <-doneB)
}

// TestThirdLaneWaitsForActiveSlot checks MAX_ACTIVE is enforced across
// lanes: a third lane's task cannot start until one of two active slots
// frees up, even though its own lane queue is empty beforehand.
func TestThirdLaneWaitsForActiveSlot(t *testing.T) {
	s := New(2, 1, 2*time.Second)
	releaseA := make(chan struct{})
	releaseB := make(chan struct{})
	startedA := make(chan struct{})
	startedB := make(chan struct{})
	startedC := make(chan struct{})
	releaseC := make(chan struct{})

	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	doneC := make(chan error, 1)
	go func() { doneA <- s.Submit(blockingTask("lane-a", startedA, releaseA)) }()
	go func() { doneB <- s.Submit(blockingTask("lane-b", startedB, releaseB)) }()
	<-startedA
	<-startedB

	go func() { doneC <- s.Submit(blockingTask("lane-c", startedC, releaseC)) }()

	select {
	case <-startedC:
		t.Fatal("lane-c started before a slot was free")
	case <-time.After(20 * time.Millisecond):
	}

	close(releaseA)
	require.NoError(t, <-doneA)
	<-startedC // lane-c admitted once lane-a's slot freed

	close(releaseB)
	require.NoError(t, <-doneB)
	close(releaseC)
	require.NoError(t, <-doneC)
}

// TestCancelledTaskDiscardedWithoutConsumingSlot checks the cancellation
// contract: a task whose context is already done when dispatch reaches
// it is discarded, and never consumes an active slot or runs its body.
func TestCancelledTaskDiscardedWithoutConsumingSlot(t *testing.T) {
	s := New(1, 2, time.Second)
	release := make(chan struct{})
	started := make(chan struct{})

	occupantErr := make(chan error, 1)
	go func() { occupantErr <- s.Submit(blockingTask("lane-a", started, release)) }()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	cancelled := &Task{
		LaneKey: "lane-a",
		Ctx:     ctx,
		Run:     func(ctx context.Context) { ran = true },
	}

	doneCancelled := make(chan error, 1)
	go func() { doneCancelled <- s.Submit(cancelled) }()

	close(release)
	require.NoError(t, <-occupantErr)

	err := <-doneCancelled
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, ran)
	require.Equal(t, 0, s.ActiveTotal())
}
