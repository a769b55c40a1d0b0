package browserport

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/surfwright/surfwright/internal/statestore"
)

// ManagedDriver launches a real browser binary as a detached child
// process and polls its CDP debug endpoint until it answers. The
// browser launch command itself is injected so tests and non-Chrome
// targets don't need a real binary on PATH.
type ManagedDriver struct {
	// Binary is the executable to launch (e.g. a Chromium build).
	Binary string
	// Args builds the argv for one launch given the resolved spec.
	Args func(spec StartSpec) []string

	// PollInterval and StartTimeout govern startManaged's readiness wait.
	PollInterval time.Duration
	StartTimeout time.Duration

	probeCache *probeCache
}

// NewManagedDriver returns a ManagedDriver with sensible startup
// polling defaults.
func NewManagedDriver(binary string, args func(StartSpec) []string) *ManagedDriver {
	return &ManagedDriver{
		Binary:       binary,
		Args:         args,
		PollInterval: 100 * time.Millisecond,
		StartTimeout: 5 * time.Second,
		probeCache:   newProbeCache(256, 2*time.Second),
	}
}

func (d *ManagedDriver) AllocateFreePort(ctx context.Context) (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func (d *ManagedDriver) StartManaged(ctx context.Context, spec StartSpec) (StartedSession, error) {
	binary, err := exec.LookPath(d.Binary)
	if err != nil {
		return StartedSession{}, fmt.Errorf("%s not found in PATH: %w", d.Binary, err)
	}

	cmd := exec.CommandContext(context.Background(), binary, d.Args(spec)...)
	cmd.Stdout = nil
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return StartedSession{}, fmt.Errorf("start %s: %w", d.Binary, err)
	}
	go func() { _ = cmd.Wait() }()

	origin := fmt.Sprintf("http://127.0.0.1:%d", spec.DebugPort)
	deadline := time.Now().Add(d.StartTimeout)
	for time.Now().Before(deadline) {
		if d.probeReachable(ctx, origin) {
			return StartedSession{BrowserPid: cmd.Process.Pid, CDPOrigin: origin}, nil
		}
		select {
		case <-ctx.Done():
			return StartedSession{}, ctx.Err()
		case <-time.After(d.PollInterval):
		}
	}
	return StartedSession{}, fmt.Errorf("%s did not become ready within %s", d.Binary, d.StartTimeout)
}

func (d *ManagedDriver) Probe(ctx context.Context, cdpOrigin string, timeout time.Duration) bool {
	if cached, ok := d.probeCache.get(cdpOrigin); ok {
		return cached
	}
	result := d.probeReachable(ctx, cdpOrigin)
	d.probeCache.put(cdpOrigin, result)
	return result
}

func (d *ManagedDriver) AttachHandshake(ctx context.Context, cdpOrigin string, timeout time.Duration) bool {
	return d.probeReachable(ctx, cdpOrigin)
}

func (d *ManagedDriver) probeReachable(ctx context.Context, cdpOrigin string) bool {
	dialer := net.Dialer{Timeout: 500 * time.Millisecond}
	host := cdpOrigin
	if u, err := parseHostPort(cdpOrigin); err == nil {
		host = u
	}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (d *ManagedDriver) EnsureReachable(ctx context.Context, session statestore.SessionRecord, timeout time.Duration, desiredBrowserMode *statestore.BrowserMode) (EnsureResult, error) {
	return ensureReachableOnDriver(ctx, d, session, timeout, desiredBrowserMode)
}

func (d *ManagedDriver) Kill(ctx context.Context, browserPid int) error {
	proc, err := os.FindProcess(browserPid)
	if err != nil {
		return nil
	}
	if err := proc.Kill(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("kill browser pid %d: %w", browserPid, err)
	}
	return nil
}
