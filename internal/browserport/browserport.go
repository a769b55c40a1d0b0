// Package browserport defines the interface the core consumes to launch,
// probe, and attach to browser processes. The core owns
// the SessionRecord; a Driver owns the OS process and the CDP endpoint.
// This package ships the interface, ManagedDriver (the os/exec-based
// driver cmd/surfwright uses), and an in-memory fake for tests of
// everything above it (scheduler, session resolver, maintenance).
package browserport

import (
	"context"
	"time"

	"github.com/surfwright/surfwright/internal/statestore"
)

// StartSpec is what the caller wants launched.
type StartSpec struct {
	DebugPort   int
	UserDataDir string
	BrowserMode statestore.BrowserMode
}

// StartedSession is what a Driver reports back after a successful
// startManaged: enough to populate a SessionRecord.
type StartedSession struct {
	BrowserPid int
	CDPOrigin  string
}

// EnsureResult is the outcome of ensureReachable.
type EnsureResult struct {
	Session   statestore.SessionRecord
	Restarted bool
}

// Driver is the browser port interface. All operations are safe for
// concurrent use; implementations that shell out to a real process must
// serialize their own OS-level state internally.
type Driver interface {
	// AllocateFreePort returns an ephemeral TCP port believed free at
	// the moment of the call. Callers must tolerate a TOCTOU loss.
	AllocateFreePort(ctx context.Context) (int, error)

	// StartManaged launches a browser per spec and waits for its debug
	// endpoint to answer before returning.
	StartManaged(ctx context.Context, spec StartSpec) (StartedSession, error)

	// Probe is a short reachability check. Implementations may cache
	// positive and negative results for a bounded TTL.
	Probe(ctx context.Context, cdpOrigin string, timeout time.Duration) bool

	// AttachHandshake performs the deeper verification used on an
	// explicit `session attach`, bypassing any probe cache.
	AttachHandshake(ctx context.Context, cdpOrigin string, timeout time.Duration) bool

	// EnsureReachable probes session; if unreachable and managed, it may
	// relaunch (honoring desiredBrowserMode if set). Attached sessions
	// that are unreachable are never auto-relaunched or rediscovered.
	EnsureReachable(ctx context.Context, session statestore.SessionRecord, timeout time.Duration, desiredBrowserMode *statestore.BrowserMode) (EnsureResult, error)

	// Kill terminates a managed browser process. A no-op (not an error)
	// if the process is already gone.
	Kill(ctx context.Context, browserPid int) error
}
