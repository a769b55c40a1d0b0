package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surfwright/surfwright/internal/daemonmeta"
	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/lanekey"
	"github.com/surfwright/surfwright/internal/scheduler"
	"github.com/surfwright/surfwright/internal/transport"
)

func startTestDaemon(t *testing.T, metaPath string, run transport.RunFunc) func() {
	return startTestDaemonWithScheduler(t, metaPath, scheduler.New(2, 2, time.Second), run)
}

func startTestDaemonWithScheduler(t *testing.T, metaPath string, sched *scheduler.Scheduler, run transport.RunFunc) func() {
	t.Helper()
	token, err := daemonmeta.NewToken()
	require.NoError(t, err)

	s := &transport.Server{
		Token:         token,
		MaxFrameBytes: 4096,
		Scheduler:     sched,
		Resolver:      lanekey.NewResolver(lanekey.DefaultManifest),
		Run:           run,
	}
	port, err := s.Listen()
	require.NoError(t, err)
	require.NoError(t, daemonmeta.Publish(metaPath, daemonmeta.Meta{Pid: os.Getpid(), Port: port, Token: token, StartedAt: time.Now()}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { s.Serve(ctx); close(done) }()

	return func() {
		_ = s.Shutdown()
		cancel()
		<-done
	}
}

func TestRunUsesRunningDaemon(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "daemon.json")
	stop := startTestDaemon(t, metaPath, func(ctx context.Context, argv []string) (string, string, int, error) {
		return "from-daemon", "", 0, nil
	})
	defer stop()

	o := &Orchestrator{MetaPath: metaPath, SpawnLockPath: filepath.Join(dir, "spawn.lock")}
	result, err := o.Run(context.Background(), []string{"open", "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "from-daemon", result.Stdout)
	require.False(t, result.InProcess)
}

func TestRunSpawnsWhenNoDaemonMeta(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "daemon.json")

	var stop func()
	o := &Orchestrator{
		MetaPath:        metaPath,
		SpawnLockPath:   filepath.Join(dir, "spawn.lock"),
		SpawnSettleWait: time.Second,
		Spawn: func(ctx context.Context) error {
			stop = startTestDaemon(t, metaPath, func(ctx context.Context, argv []string) (string, string, int, error) {
				return "spawned", "", 0, nil
			})
			return nil
		},
	}

	result, err := o.Run(context.Background(), []string{"ping"})
	require.NoError(t, err)
	require.Equal(t, "spawned", result.Stdout)
	if stop != nil {
		defer stop()
	}
}

func TestRunFallsBackInProcessWhenSpawnFails(t *testing.T) {
	dir := t.TempDir()
	o := &Orchestrator{
		MetaPath:      filepath.Join(dir, "daemon.json"),
		SpawnLockPath: filepath.Join(dir, "spawn.lock"),
		Spawn: func(ctx context.Context) error {
			return errs.New(errs.ErrInternal, "spawn unavailable in test")
		},
		InProcess: func(ctx context.Context, argv []string) (string, string, int, error) {
			return "in-process", "", 0, nil
		},
	}

	result, err := o.Run(context.Background(), []string{"ping"})
	require.NoError(t, err)
	require.True(t, result.InProcess)
	require.Equal(t, "in-process", result.Stdout)
}

func TestRunWithZeroRetriesStillSucceedsAgainstHealthyDaemon(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "daemon.json")

	var calls int
	stop := startTestDaemon(t, metaPath, func(ctx context.Context, argv []string) (string, string, int, error) {
		calls++
		return "ok", "", 0, nil
	})
	defer stop()

	o := &Orchestrator{MetaPath: metaPath, SpawnLockPath: filepath.Join(dir, "spawn.lock"), MaxRetries: 0}
	result, err := o.Run(context.Background(), []string{"open", "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, "ok", result.Stdout)
	require.Equal(t, 1, calls)
}

func TestRunSurfacesQueueSaturationAfterExhaustingRetries(t *testing.T) {
	dir := t.TempDir()
	metaPath := filepath.Join(dir, "daemon.json")

	release := make(chan struct{})
	started := make(chan struct{}, 1)

	// maxActive=1, maxQueueDepth=1: one task runs, one may queue behind
	// it, and a third submission to the same lane must fail fast.
	sched := scheduler.New(1, 1, 5*time.Second)
	stop := startTestDaemonWithScheduler(t, metaPath, sched, func(ctx context.Context, argv []string) (string, string, int, error) {
		started <- struct{}{}
		<-release
		return "ok", "", 0, nil
	})
	defer stop()

	o := &Orchestrator{MetaPath: metaPath, SpawnLockPath: filepath.Join(dir, "spawn.lock"), MaxRetries: 0, InitialBackoff: time.Millisecond}

	errCh := make(chan error, 2)
	go func() {
		_, err := o.Run(context.Background(), []string{"open", "https://a.example.com"})
		errCh <- err
	}()
	<-started // first task now holds the lane's only active slot

	go func() {
		_, err := o.Run(context.Background(), []string{"open", "https://a.example.com"})
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond) // let the second call land in the lane's one queue slot

	_, err := o.Run(context.Background(), []string{"open", "https://a.example.com"})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.ErrDaemonQueueSaturated, e.Code)

	close(release) // let the running and the queued call finish
	<-errCh
	<-errCh
}
