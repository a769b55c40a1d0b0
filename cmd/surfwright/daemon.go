package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/surfwright/surfwright/internal/browserport"
	"github.com/surfwright/surfwright/internal/daemonmeta"
	"github.com/surfwright/surfwright/internal/dispatch"
	"github.com/surfwright/surfwright/internal/lanekey"
	"github.com/surfwright/surfwright/internal/maintenance"
	"github.com/surfwright/surfwright/internal/metrics"
	"github.com/surfwright/surfwright/internal/obslog"
	"github.com/surfwright/surfwright/internal/orchestrator"
	"github.com/surfwright/surfwright/internal/runtime"
	"github.com/surfwright/surfwright/internal/scheduler"
	"github.com/surfwright/surfwright/internal/sessionresolver"
	"github.com/surfwright/surfwright/internal/statepaths"
	"github.com/surfwright/surfwright/internal/statestore"
	"github.com/surfwright/surfwright/internal/transport"
)

// chromeArgs builds a headless/headed launch argv for the managed
// browser driver. Kept tiny and swappable — nothing else in the daemon
// cares which browser binary answers CDP.
func chromeArgs(spec browserport.StartSpec) []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", spec.DebugPort),
		fmt.Sprintf("--user-data-dir=%s", spec.UserDataDir),
	}
	if spec.BrowserMode == statestore.BrowserHeadless {
		args = append(args, "--headless=new")
	}
	return args
}

// buildDispatcher wires the Session Resolver and Maintenance Engine onto
// one state store and browser driver, shared by the daemon worker and
// the in-process fallback path alike.
func buildDispatcher(rt *runtime.Runtime, paths statepaths.Paths) *dispatch.Dispatcher {
	store := statestore.New(paths.StateFile(), paths.LockFile(), 5*time.Second)
	driver := browserport.NewManagedDriver(chromeBinary(), chromeArgs)
	return &dispatch.Dispatcher{
		Resolver:    sessionresolver.New(store, driver, rt),
		Maintenance: maintenance.New(store, driver, rt),
	}
}

func chromeBinary() string {
	if bin := os.Getenv("SURFWRIGHT_BROWSER_BINARY"); bin != "" {
		return bin
	}
	return "chromium"
}

// runDaemonWorker is the hidden entry point a spawned worker process
// runs: it publishes daemon metadata, serves run/ping/shutdown requests
// through the Lane Scheduler, and cleans up its own metadata on exit.
func runDaemonWorker(rt *runtime.Runtime, paths statepaths.Paths) error {
	log := obslog.WithComponent("daemon")

	token, err := daemonmeta.NewToken()
	if err != nil {
		return fmt.Errorf("generate daemon token: %w", err)
	}

	var m *metrics.Metrics
	if rt.MetricsEnabled {
		m = metrics.New()
	}
	srv := &transport.Server{
		Token:         token,
		IdleTimeout:   time.Duration(rt.DaemonIdleMS) * time.Millisecond,
		MaxFrameBytes: 4 << 20,
		AgentID:       rt.AgentID,
		Scheduler:     scheduler.NewFromRuntime(rt),
		Resolver:      lanekey.NewResolver(lanekey.DefaultManifest),
		Run:           buildDispatcher(rt, paths).Run,
		Metrics:       m,
	}

	port, err := srv.Listen()
	if err != nil {
		return fmt.Errorf("bind daemon listener: %w", err)
	}

	if err := daemonmeta.Publish(paths.DaemonMetaFile(), daemonmeta.Meta{
		Pid:       os.Getpid(),
		Port:      port,
		Token:     token,
		StartedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("publish daemon metadata: %w", err)
	}
	defer func() {
		if err := orchestrator.CleanupIfOwned(paths.DaemonMetaFile(), token); err != nil {
			log.Warn().Err(err).Msg("cleanup daemon metadata on exit")
		}
	}()

	log.Info().Int("port", port).Msg("daemon listening")
	return srv.Serve(context.Background())
}
