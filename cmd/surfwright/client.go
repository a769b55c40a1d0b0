package main

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/surfwright/surfwright/internal/orchestrator"
	"github.com/surfwright/surfwright/internal/runtime"
	"github.com/surfwright/surfwright/internal/statepaths"
)

// daemonWorkerArg is the hidden subcommand argv used to re-exec this
// same binary as a detached daemon worker, re-exec'd rather than forked.
const daemonWorkerArg = "__daemon-worker"

// buildOrchestrator wires a client Orchestrator that spawns this binary
// itself (as a detached `__daemon-worker` subprocess) when no daemon
// answers, and falls back to an in-process Dispatcher otherwise.
func buildOrchestrator(rt *runtime.Runtime, paths statepaths.Paths) *orchestrator.Orchestrator {
	disp := buildDispatcher(rt, paths)

	o := &orchestrator.Orchestrator{
		MetaPath:         paths.DaemonMetaFile(),
		SpawnLockPath:    paths.SpawnLockFile(),
		ConnectTimeout:   2 * time.Second,
		MaxRetries:       rt.MaxClientRetries,
		InitialBackoff:   time.Duration(rt.InitialBackoffMS) * time.Millisecond,
		SpawnLockTimeout: 5 * time.Second,
		SpawnSettleWait:  3 * time.Second,
		InProcess:        disp.Run,
	}
	o.Spawn = func(ctx context.Context) error {
		return spawnDaemonWorker(ctx)
	}
	return o
}

func spawnDaemonWorker(ctx context.Context) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(self, daemonWorkerArg)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
