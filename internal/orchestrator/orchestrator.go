// Package orchestrator implements the Client Orchestrator: discover the
// daemon, connect, send, retry on transient backpressure, spawn a
// daemon if none answers, and fall back to in-process execution as a
// last resort. The discover/autostart/poll flow is translated from an
// HTTP health-check shape to a framed-TCP ping and a spawn lock file
// instead of a bare "is something listening" probe.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/surfwright/surfwright/internal/daemonmeta"
	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/filelock"
	"github.com/surfwright/surfwright/internal/transport"
)

// SpawnFunc launches a detached daemon worker process. It returns once
// the launch has been initiated; it does not wait for readiness — the
// Orchestrator's own retry loop does that by re-reading daemon metadata.
type SpawnFunc func(ctx context.Context) error

// InProcessFunc executes argv without any daemon, sharing nothing with
// other invocations. Its output MUST be identical to what the daemon's
// RunFunc would have produced for the same argv.
type InProcessFunc func(ctx context.Context, argv []string) (stdout, stderr string, code int, err error)

// Orchestrator is the client-side entry point every CLI invocation goes
// through.
type Orchestrator struct {
	MetaPath      string
	SpawnLockPath string

	Client         transport.Client
	ConnectTimeout time.Duration

	MaxRetries     int
	InitialBackoff time.Duration

	SpawnLockTimeout time.Duration
	SpawnSettleWait  time.Duration

	Spawn     SpawnFunc
	InProcess InProcessFunc

	Now func() time.Time
}

// Result is what Run reports, regardless of which path produced it.
type Result struct {
	Stdout     string
	Stderr     string
	Code       int
	InProcess  bool
	SpawnedNew bool
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Run executes argv via the running daemon if one is reachable,
// spawning one if not, and falling back to in-process execution only
// if spawning doesn't produce a reachable daemon.
func (o *Orchestrator) Run(ctx context.Context, argv []string) (Result, error) {
	if resp, ok, err := o.trySend(ctx, argv); ok {
		if err != nil {
			return Result{}, err
		}
		return responseToResult(resp), nil
	}

	spawnedNew, err := o.ensureDaemonSpawned(ctx)
	if err != nil {
		return o.runInProcess(ctx, argv)
	}

	if resp, ok, err := o.trySend(ctx, argv); ok {
		if err != nil {
			return Result{}, err
		}
		result := responseToResult(resp)
		result.SpawnedNew = spawnedNew
		return result, nil
	}

	return o.runInProcess(ctx, argv)
}

// trySend reads daemon metadata and, if valid, sends one run request
// with the retry-on-backpressure loop. ok is
// false when there is no daemon to talk to at all (caller should move
// on to spawning); ok is true once a request was actually sent, whether
// or not it ultimately succeeded.
func (o *Orchestrator) trySend(ctx context.Context, argv []string) (transport.Response, bool, error) {
	meta, valid := daemonmeta.ReadValid(o.MetaPath)
	if !valid {
		return transport.Response{}, false, nil
	}
	addr := fmt.Sprintf("%s:%d", meta.Host, meta.Port)

	maxRetries := o.MaxRetries
	backoff := o.InitialBackoff
	if backoff <= 0 {
		backoff = 60 * time.Millisecond
	}

	client := o.Client
	if o.ConnectTimeout > 0 {
		client.Dialer.Timeout = o.ConnectTimeout
	}

	var lastResp transport.Response
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := client.Send(ctx, addr, transport.Request{Kind: transport.KindRun, Token: meta.Token, Argv: argv})
		if err != nil {
			if errs.CodeOf(err) == errs.ErrDaemonUnreachable {
				return transport.Response{}, false, nil
			}
			return transport.Response{}, true, err
		}

		if resp.OK || !isRetryableQueueError(resp.ErrorCode) || attempt == maxRetries {
			lastResp, lastErr = resp, transport.ResponseError(resp)
			return lastResp, true, lastErr
		}

		if err := sleepWithJitter(ctx, backoff); err != nil {
			return transport.Response{}, true, err
		}
		backoff *= 2
	}
	return lastResp, true, lastErr
}

func isRetryableQueueError(code string) bool {
	return code == string(errs.ErrDaemonQueueSaturated) || code == string(errs.ErrDaemonQueueTimeout)
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(base + jitter):
		return nil
	}
}

// ensureDaemonSpawned spawns a daemon worker behind an exclusive spawn
// lock so concurrent callers don't race to start two. If another
// process already holds the lock, this call simply waits for it to
// finish and relies on the caller's next trySend.
func (o *Orchestrator) ensureDaemonSpawned(ctx context.Context) (bool, error) {
	if o.Spawn == nil {
		return false, errs.New(errs.ErrInternal, "orchestrator has no Spawn configured")
	}

	lockTimeout := o.SpawnLockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	handle, err := filelock.Acquire(o.SpawnLockPath, lockTimeout)
	if err != nil {
		return false, err
	}
	defer handle.Release()

	if _, valid := daemonmeta.ReadValid(o.MetaPath); valid {
		return false, nil
	}

	if err := o.Spawn(ctx); err != nil {
		return false, err
	}

	settle := o.SpawnSettleWait
	if settle <= 0 {
		settle = 2 * time.Second
	}
	deadline := o.now().Add(settle)
	for o.now().Before(deadline) {
		if _, valid := daemonmeta.ReadValid(o.MetaPath); valid {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return true, nil
}

func (o *Orchestrator) runInProcess(ctx context.Context, argv []string) (Result, error) {
	if o.InProcess == nil {
		return Result{}, errs.New(errs.ErrInternal, "orchestrator has no InProcess fallback configured")
	}
	stdout, stderr, code, err := o.InProcess(ctx, argv)
	if err != nil {
		return Result{}, err
	}
	return Result{Stdout: stdout, Stderr: stderr, Code: code, InProcess: true}, nil
}

func responseToResult(resp transport.Response) Result {
	return Result{Stdout: resp.Stdout, Stderr: resp.Stderr, Code: resp.Code}
}

// CleanupIfOwned is called by a daemon worker on graceful shutdown; it
// delegates to daemonmeta's own ownership check so the rule lives in
// exactly one place.
func CleanupIfOwned(metaPath, token string) error {
	return daemonmeta.CleanupIfOwned(metaPath, token)
}
