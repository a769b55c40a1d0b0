package browserport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/surfwright/surfwright/internal/statestore"
)

// FakeDriver is an in-memory Driver for tests of session resolution and
// maintenance logic without spawning a real browser. Reachability is
// controlled explicitly via SetReachable rather than probing anything.
type FakeDriver struct {
	mu          sync.Mutex
	nextPort    int
	nextPid     int
	reachable   map[string]bool
	startCalls  int
	killed      map[int]bool
}

// NewFakeDriver returns a FakeDriver with all origins reachable by
// default once started.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		nextPort:  20000,
		nextPid:   70000,
		reachable: make(map[string]bool),
		killed:    make(map[int]bool),
	}
}

func (f *FakeDriver) AllocateFreePort(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPort++
	return f.nextPort, nil
}

func (f *FakeDriver) StartManaged(ctx context.Context, spec StartSpec) (StartedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.nextPid++
	origin := fmt.Sprintf("http://127.0.0.1:%d", spec.DebugPort)
	f.reachable[origin] = true
	return StartedSession{BrowserPid: f.nextPid, CDPOrigin: origin}, nil
}

func (f *FakeDriver) Probe(ctx context.Context, cdpOrigin string, timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable[cdpOrigin]
}

func (f *FakeDriver) AttachHandshake(ctx context.Context, cdpOrigin string, timeout time.Duration) bool {
	return f.Probe(ctx, cdpOrigin, timeout)
}

func (f *FakeDriver) EnsureReachable(ctx context.Context, session statestore.SessionRecord, timeout time.Duration, desiredBrowserMode *statestore.BrowserMode) (EnsureResult, error) {
	return ensureReachableOnDriver(ctx, f, session, timeout, desiredBrowserMode)
}

func (f *FakeDriver) Kill(ctx context.Context, browserPid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed[browserPid] = true
	return nil
}

// SetReachable forces the reachability of an origin, for simulating a
// crashed or hung browser in tests.
func (f *FakeDriver) SetReachable(cdpOrigin string, reachable bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reachable[cdpOrigin] = reachable
}

// StartCalls reports how many times StartManaged has been invoked.
func (f *FakeDriver) StartCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

// Killed reports whether Kill was ever called for pid.
func (f *FakeDriver) Killed(pid int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killed[pid]
}
