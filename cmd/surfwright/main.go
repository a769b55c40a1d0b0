// Command surfwright is the CLI entry point for the coordination
// substrate: it resolves a Runtime and state root, then either re-execs
// itself as a detached daemon worker or runs a command in-process,
// through the same Client Orchestrator either way.
//
// Only the command surface internal/dispatch understands is wired here
// (ping, session new/attach/ensure/use/list/prune, target prune, state
// reconcile, capture retention); the full open/target-click/page-read
// command surface stays an external collaborator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/surfwright/surfwright/internal/obslog"
	"github.com/surfwright/surfwright/internal/runtime"
	"github.com/surfwright/surfwright/internal/statepaths"
)

func main() {
	os.Exit(run())
}

// run builds the root command and executes it, returning the process
// exit code (0 success, 1 typed failure, 2 misuse).
func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if code, ok := exitCodeOf(err); ok {
			return code
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var stateDirFlag, agentIDFlag string

	root := &cobra.Command{
		Use:           "surfwright",
		Short:         "Local coordination daemon and CLI for browser automation agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// The Runtime package owns viper construction and defaults
			// end to end (internal/runtime); flags here only seed the
			// same SURFWRIGHT_* environment variables it already reads,
			// so there is exactly one place that resolves tunables.
			if stateDirFlag != "" {
				_ = os.Setenv("SURFWRIGHT_STATE_DIR", stateDirFlag)
			}
			if agentIDFlag != "" {
				_ = os.Setenv("SURFWRIGHT_AGENT_ID", agentIDFlag)
			}
		},
	}

	root.PersistentFlags().StringVar(&stateDirFlag, "state-dir", "", "override SURFWRIGHT_STATE_DIR")
	root.PersistentFlags().StringVar(&agentIDFlag, "agent-id", "", "override SURFWRIGHT_AGENT_ID")

	root.AddCommand(
		newDaemonWorkerCmd(),
		newPingCmd(),
		newSessionCmd(),
		newTargetCmd(),
		newStateCmd(),
		newCaptureCmd(),
	)
	return root
}

func newDaemonWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:    daemonWorkerArg,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt := runtime.New()
			obslog.Configure(obslog.Config{Level: rt.LogLevel, Console: rt.LogFormat == "console"})
			paths, err := statepaths.Resolve(rt.StateDir)
			if err != nil {
				return err
			}
			if err := paths.EnsureRoot(); err != nil {
				return err
			}
			return runDaemonWorker(rt, paths)
		},
	}
}
