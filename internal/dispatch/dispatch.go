// Package dispatch is the one concrete command dispatcher this
// repository ships, giving the coordination substrate something real to
// drive through the Lane Scheduler. It covers only the slice of command
// surface needed to exercise session resolution and maintenance: ping,
// session new|attach|ensure|use|list|prune, target prune, state
// reconcile, capture retention. Full argv parsing for the user-facing
// command surface (open, target click, and friends) stays out of scope.
//
// Dispatch's signature matches transport.RunFunc and
// orchestrator.InProcessFunc exactly, so the same Dispatcher can serve
// as both the daemon's worker and the client's in-process fallback —
// the observable output is identical either way, since both paths run
// through one implementation.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/maintenance"
	"github.com/surfwright/surfwright/internal/sessionresolver"
	"github.com/surfwright/surfwright/internal/statestore"
)

// Dispatcher routes argv to the Session Resolver or Maintenance Engine
// and renders the result as the single JSON stdout line the wire
// protocol expects.
type Dispatcher struct {
	Resolver    *sessionresolver.Resolver
	Maintenance *maintenance.Engine
}

// Run implements transport.RunFunc and orchestrator.InProcessFunc.
func (d *Dispatcher) Run(ctx context.Context, argv []string) (stdout, stderr string, code int, err error) {
	if len(argv) == 0 {
		return "", "", 2, errs.New(errs.ErrQueryInvalid, "empty command")
	}

	switch argv[0] {
	case "ping":
		return d.ping(argv[1:])
	case "session":
		return d.session(ctx, argv[1:])
	case "target":
		return d.target(ctx, argv[1:])
	case "state":
		return d.state(ctx, argv[1:])
	case "capture":
		return d.capture(argv[1:])
	default:
		return "", "", 2, errs.New(errs.ErrQueryInvalid, "unrecognized command", errs.WithContext("command", argv[0]))
	}
}

func (d *Dispatcher) ping(_ []string) (string, string, int, error) {
	return encode(map[string]string{"status": "pong"}), "", 0, nil
}

func (d *Dispatcher) session(ctx context.Context, args []string) (string, string, int, error) {
	if len(args) == 0 {
		return "", "", 2, errs.New(errs.ErrQueryInvalid, "session requires a subcommand")
	}

	switch args[0] {
	case "new":
		return d.sessionNew(ctx, args[1:])
	case "attach":
		return d.sessionAttach(ctx, args[1:])
	case "ensure":
		return d.sessionEnsure(ctx, args[1:])
	case "use":
		return d.sessionUse(ctx, args[1:])
	case "list":
		return d.sessionList(args[1:])
	case "prune":
		return d.sessionPrune(ctx, args[1:])
	default:
		return "", "", 2, errs.New(errs.ErrQueryInvalid, "unrecognized session subcommand", errs.WithContext("subcommand", args[0]))
	}
}

func (d *Dispatcher) sessionNew(ctx context.Context, args []string) (string, string, int, error) {
	fs := parseFlags(args)
	report, err := d.Resolver.SessionNew(ctx, fs.str("--id"), statestore.SessionPolicy(fs.str("--policy")), fs.intOr("--lease-ms", 0), statestore.BrowserMode(fs.strOr("--browser-mode", string(statestore.BrowserHeadless))))
	if err != nil {
		return "", "", 1, err
	}
	return encode(sessionReportView(report)), "", 0, nil
}

func (d *Dispatcher) sessionAttach(ctx context.Context, args []string) (string, string, int, error) {
	fs := parseFlags(args)
	cdp := fs.str("--cdp")
	if cdp == "" {
		return "", "", 2, errs.New(errs.ErrQueryInvalid, "session attach requires --cdp")
	}
	report, err := d.Resolver.SessionAttach(ctx, fs.str("--id"), cdp, fs.intOr("--lease-ms", 0), statestore.SessionPolicy(fs.str("--policy")))
	if err != nil {
		return "", "", 1, err
	}
	return encode(sessionReportView(report)), "", 0, nil
}

func (d *Dispatcher) sessionEnsure(ctx context.Context, args []string) (string, string, int, error) {
	fs := parseFlags(args)
	report, err := d.Resolver.SessionEnsure(ctx, statestore.BrowserMode(fs.str("--browser-mode")))
	if err != nil {
		return "", "", 1, err
	}
	return encode(sessionReportView(report)), "", 0, nil
}

func (d *Dispatcher) sessionUse(ctx context.Context, args []string) (string, string, int, error) {
	fs := parseFlags(args)
	id := fs.str("--id")
	if id == "" {
		return "", "", 2, errs.New(errs.ErrQueryInvalid, "session use requires --id")
	}
	report, err := d.Resolver.SessionUse(ctx, id)
	if err != nil {
		return "", "", 1, err
	}
	return encode(sessionReportView(report)), "", 0, nil
}

func (d *Dispatcher) sessionList(_ []string) (string, string, int, error) {
	entries, err := d.Resolver.SessionList()
	if err != nil {
		return "", "", 1, err
	}
	view := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		view = append(view, map[string]any{
			"sessionId": e.Session.SessionID,
			"kind":      e.Session.Kind,
			"active":    e.Active,
		})
	}
	return encode(map[string]any{"sessions": view}), "", 0, nil
}

func (d *Dispatcher) sessionPrune(ctx context.Context, args []string) (string, string, int, error) {
	fs := parseFlags(args)
	opts := maintenance.SessionPruneOptions{
		Timeout:                time.Duration(fs.intOr("--timeout-ms", 0)) * time.Millisecond,
		DropManagedUnreachable: fs.flagBool("--drop-managed-unreachable"),
	}
	report, err := d.Maintenance.SessionPrune(ctx, opts)
	if err != nil {
		return "", "", 1, err
	}
	return encode(report), "", 0, nil
}

func (d *Dispatcher) target(ctx context.Context, args []string) (string, string, int, error) {
	if len(args) == 0 || args[0] != "prune" {
		return "", "", 2, errs.New(errs.ErrQueryInvalid, "target requires the prune subcommand")
	}
	fs := parseFlags(args[1:])
	opts := maintenance.TargetPruneOptions{
		MaxAge:        time.Duration(fs.intOr("--max-age-ms", 0)) * time.Millisecond,
		MaxPerSession: fs.intOr("--max-per-session", 0),
	}
	report, err := d.Maintenance.TargetPrune(opts)
	if err != nil {
		return "", "", 1, err
	}
	return encode(report), "", 0, nil
}

func (d *Dispatcher) state(ctx context.Context, args []string) (string, string, int, error) {
	if len(args) == 0 || args[0] != "reconcile" {
		return "", "", 2, errs.New(errs.ErrQueryInvalid, "state requires the reconcile subcommand")
	}
	fs := parseFlags(args[1:])
	sessionOpts := maintenance.SessionPruneOptions{
		Timeout:                time.Duration(fs.intOr("--timeout-ms", 0)) * time.Millisecond,
		DropManagedUnreachable: fs.flagBool("--drop-managed-unreachable"),
	}
	targetOpts := maintenance.TargetPruneOptions{
		MaxAge:        time.Duration(fs.intOr("--max-age-ms", 0)) * time.Millisecond,
		MaxPerSession: fs.intOr("--max-per-session", 0),
	}
	report, err := d.Maintenance.StateReconcile(ctx, sessionOpts, targetOpts)
	if err != nil {
		return "", "", 1, err
	}
	return encode(report), "", 0, nil
}

func (d *Dispatcher) capture(args []string) (string, string, int, error) {
	if len(args) == 0 || args[0] != "retention" {
		return "", "", 2, errs.New(errs.ErrQueryInvalid, "capture requires the retention subcommand")
	}
	fs := parseFlags(args[1:])
	opts := maintenance.CaptureRetentionOptions{
		MaxAge:        time.Duration(fs.intOr("--max-age-ms", 0)) * time.Millisecond,
		MaxCount:      fs.intOr("--max-count", 0),
		MaxTotalBytes: int64(fs.intOr("--max-total-bytes", 0)),
	}
	report, err := d.Maintenance.CaptureRetention(opts)
	if err != nil {
		return "", "", 1, err
	}
	return encode(report), "", 0, nil
}

func sessionReportView(r sessionresolver.SessionReport) map[string]any {
	return map[string]any{
		"sessionId": r.Session.SessionID,
		"kind":      r.Session.Kind,
		"created":   r.Created,
		"restarted": r.Restarted,
	}
}

func encode(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
