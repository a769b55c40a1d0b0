package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/orchestrator"
	"github.com/surfwright/surfwright/internal/runtime"
	"github.com/surfwright/surfwright/internal/statepaths"
)

// runThroughOrchestrator resolves a Runtime and state root, builds a
// Client Orchestrator, and executes argv through it — the one path
// every leaf command below funnels through, so the daemon-or-in-process
// choice never leaks into the cobra layer.
func runThroughOrchestrator(cmd *cobra.Command, argv []string) error {
	rt := runtime.New()
	paths, err := statepaths.Resolve(rt.StateDir)
	if err != nil {
		return err
	}
	if err := paths.EnsureRoot(); err != nil {
		return err
	}

	o := buildOrchestrator(rt, paths)
	var result orchestrator.Result
	var runErr error
	if rt.DaemonEnabled {
		result, runErr = o.Run(cmd.Context(), argv)
	} else {
		// SURFWRIGHT_DAEMON=0: no daemon discovery or spawn, run in-process.
		result.Stdout, result.Stderr, result.Code, runErr = o.InProcess(cmd.Context(), argv)
		result.InProcess = true
	}
	if runErr != nil {
		if e, ok := errs.As(runErr); ok {
			b, marshalErr := errs.MarshalEnvelope(e)
			if marshalErr == nil {
				fmt.Println(string(b))
			}
			code := 1
			if e.Code == errs.ErrQueryInvalid {
				code = 2
			}
			return exitCodeErr{code: code, err: runErr}
		}
		fmt.Fprintln(os.Stderr, runErr)
		return exitCodeErr{code: 1, err: runErr}
	}

	if result.Stdout != "" {
		fmt.Println(result.Stdout)
	}
	if result.Stderr != "" {
		fmt.Fprintln(os.Stderr, result.Stderr)
	}
	if result.Code != 0 {
		return exitCodeErr{code: result.Code, err: fmt.Errorf("command exited with code %d", result.Code)}
	}
	return nil
}

func newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check whether the daemon is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThroughOrchestrator(cmd, []string{"ping"})
		},
	}
}

func newSessionCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "session",
		Short: "Manage browser sessions",
	}
	root.AddCommand(
		newSessionNewCmd(),
		newSessionAttachCmd(),
		newSessionEnsureCmd(),
		newSessionUseCmd(),
		newSessionListCmd(),
		newSessionPruneCmd(),
	)
	return root
}

func newSessionNewCmd() *cobra.Command {
	var id, policy, browserMode string
	var leaseMS int
	c := &cobra.Command{
		Use:   "new",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			argv := []string{"session", "new"}
			if id != "" {
				argv = append(argv, "--id", id)
			}
			if policy != "" {
				argv = append(argv, "--policy", policy)
			}
			if leaseMS != 0 {
				argv = append(argv, "--lease-ms", strconv.Itoa(leaseMS))
			}
			if browserMode != "" {
				argv = append(argv, "--browser-mode", browserMode)
			}
			return runThroughOrchestrator(cmd, argv)
		},
	}
	c.Flags().StringVar(&id, "id", "", "session id")
	c.Flags().StringVar(&policy, "policy", "", "session policy")
	c.Flags().IntVar(&leaseMS, "lease-ms", 0, "lease duration in milliseconds")
	c.Flags().StringVar(&browserMode, "browser-mode", "", "headless or headed")
	return c
}

func newSessionAttachCmd() *cobra.Command {
	var id, cdp, policy string
	var leaseMS int
	c := &cobra.Command{
		Use:   "attach",
		Short: "Attach to an externally managed browser via CDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			argv := []string{"session", "attach", "--cdp", cdp}
			if id != "" {
				argv = append(argv, "--id", id)
			}
			if policy != "" {
				argv = append(argv, "--policy", policy)
			}
			if leaseMS != 0 {
				argv = append(argv, "--lease-ms", strconv.Itoa(leaseMS))
			}
			return runThroughOrchestrator(cmd, argv)
		},
	}
	c.Flags().StringVar(&id, "id", "", "session id")
	c.Flags().StringVar(&cdp, "cdp", "", "CDP endpoint to attach to")
	c.Flags().StringVar(&policy, "policy", "", "session policy")
	c.Flags().IntVar(&leaseMS, "lease-ms", 0, "lease duration in milliseconds")
	return c
}

func newSessionEnsureCmd() *cobra.Command {
	var browserMode string
	c := &cobra.Command{
		Use:   "ensure",
		Short: "Ensure a default session exists, reusing or creating it",
		RunE: func(cmd *cobra.Command, args []string) error {
			argv := []string{"session", "ensure"}
			if browserMode != "" {
				argv = append(argv, "--browser-mode", browserMode)
			}
			return runThroughOrchestrator(cmd, argv)
		},
	}
	c.Flags().StringVar(&browserMode, "browser-mode", "", "headless or headed")
	return c
}

func newSessionUseCmd() *cobra.Command {
	var id string
	c := &cobra.Command{
		Use:   "use",
		Short: "Mark a session as the active one",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThroughOrchestrator(cmd, []string{"session", "use", "--id", id})
		},
	}
	c.Flags().StringVar(&id, "id", "", "session id")
	_ = c.MarkFlagRequired("id")
	return c
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThroughOrchestrator(cmd, []string{"session", "list"})
		},
	}
}

func newSessionPruneCmd() *cobra.Command {
	var timeoutMS int
	var dropManagedUnreachable bool
	c := &cobra.Command{
		Use:   "prune",
		Short: "Drop stale or unreachable sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			argv := []string{"session", "prune"}
			if timeoutMS != 0 {
				argv = append(argv, "--timeout-ms", strconv.Itoa(timeoutMS))
			}
			if dropManagedUnreachable {
				argv = append(argv, "--drop-managed-unreachable")
			}
			return runThroughOrchestrator(cmd, argv)
		},
	}
	c.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "reachability check timeout in milliseconds")
	c.Flags().BoolVar(&dropManagedUnreachable, "drop-managed-unreachable", false, "drop managed sessions whose browser process is unreachable")
	return c
}

func newTargetCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "target",
		Short: "Manage tracked page targets",
	}
	root.AddCommand(newTargetPruneCmd())
	return root
}

func newTargetPruneCmd() *cobra.Command {
	var maxAgeMS, maxPerSession int
	c := &cobra.Command{
		Use:   "prune",
		Short: "Drop stale or excess targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			argv := []string{"target", "prune"}
			if maxAgeMS != 0 {
				argv = append(argv, "--max-age-ms", strconv.Itoa(maxAgeMS))
			}
			if maxPerSession != 0 {
				argv = append(argv, "--max-per-session", strconv.Itoa(maxPerSession))
			}
			return runThroughOrchestrator(cmd, argv)
		},
	}
	c.Flags().IntVar(&maxAgeMS, "max-age-ms", 0, "maximum target age in milliseconds")
	c.Flags().IntVar(&maxPerSession, "max-per-session", 0, "maximum targets retained per session")
	return c
}

func newStateCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "state",
		Short: "Inspect and repair on-disk state",
	}
	root.AddCommand(newStateReconcileCmd())
	return root
}

func newStateReconcileCmd() *cobra.Command {
	var timeoutMS, maxAgeMS, maxPerSession int
	var dropManagedUnreachable bool
	c := &cobra.Command{
		Use:   "reconcile",
		Short: "Run the session and target sweeps together",
		RunE: func(cmd *cobra.Command, args []string) error {
			argv := []string{"state", "reconcile"}
			if timeoutMS != 0 {
				argv = append(argv, "--timeout-ms", strconv.Itoa(timeoutMS))
			}
			if dropManagedUnreachable {
				argv = append(argv, "--drop-managed-unreachable")
			}
			if maxAgeMS != 0 {
				argv = append(argv, "--max-age-ms", strconv.Itoa(maxAgeMS))
			}
			if maxPerSession != 0 {
				argv = append(argv, "--max-per-session", strconv.Itoa(maxPerSession))
			}
			return runThroughOrchestrator(cmd, argv)
		},
	}
	c.Flags().IntVar(&timeoutMS, "timeout-ms", 0, "reachability check timeout in milliseconds")
	c.Flags().BoolVar(&dropManagedUnreachable, "drop-managed-unreachable", false, "drop managed sessions whose browser process is unreachable")
	c.Flags().IntVar(&maxAgeMS, "max-age-ms", 0, "maximum target age in milliseconds")
	c.Flags().IntVar(&maxPerSession, "max-per-session", 0, "maximum targets retained per session")
	return c
}

func newCaptureCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "capture",
		Short: "Manage retained network captures",
	}
	root.AddCommand(newCaptureRetentionCmd())
	return root
}

func newCaptureRetentionCmd() *cobra.Command {
	var maxAgeMS, maxCount, maxTotalBytes int
	c := &cobra.Command{
		Use:   "retention",
		Short: "Enforce age, count, and size limits on captured artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			argv := []string{"capture", "retention"}
			if maxAgeMS != 0 {
				argv = append(argv, "--max-age-ms", strconv.Itoa(maxAgeMS))
			}
			if maxCount != 0 {
				argv = append(argv, "--max-count", strconv.Itoa(maxCount))
			}
			if maxTotalBytes != 0 {
				argv = append(argv, "--max-total-bytes", strconv.Itoa(maxTotalBytes))
			}
			return runThroughOrchestrator(cmd, argv)
		},
	}
	c.Flags().IntVar(&maxAgeMS, "max-age-ms", 0, "maximum capture age in milliseconds")
	c.Flags().IntVar(&maxCount, "max-count", 0, "maximum number of captures retained")
	c.Flags().IntVar(&maxTotalBytes, "max-total-bytes", 0, "maximum total bytes retained across captures")
	return c
}
