// Package maintenance implements the Maintenance Engine:
// session and target pruning, state reconciliation, capture retention,
// disk cleanup, and the opportunistic background sweep that parks idle
// managed browsers. Every sweep runs as an explicit operation or a
// background tick — never from the Session Resolver's hot path.
package maintenance

import (
	"context"
	"os"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/surfwright/surfwright/internal/browserport"
	"github.com/surfwright/surfwright/internal/runtime"
	"github.com/surfwright/surfwright/internal/statestore"
)

// Engine runs maintenance sweeps against the state store and browser
// driver.
type Engine struct {
	store  *statestore.Store
	driver browserport.Driver
	rt     *runtime.Runtime
}

// New builds an Engine.
func New(store *statestore.Store, driver browserport.Driver, rt *runtime.Runtime) *Engine {
	return &Engine{store: store, driver: driver, rt: rt}
}

func (e *Engine) now() time.Time {
	if e.rt != nil && e.rt.Now != nil {
		return e.rt.Now()
	}
	return time.Now()
}

// isExpiredByAge reports whether t is at least maxAge old as of now.
// A zero maxAge never expires.
func isExpiredByAge(t time.Time, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(t) >= maxAge
}

// SessionPruneOptions configures sessionPrune.
type SessionPruneOptions struct {
	Timeout                time.Duration
	DropManagedUnreachable bool
}

// SessionPruneReport summarizes what sessionPrune did.
type SessionPruneReport struct {
	RemovedAttached []string
	RemovedManaged  []string
	RepairedManaged []string
}

// SessionPrune probes every session concurrently (bounded by errgroup,
// not unbounded fan-out) and removes unreachable attached sessions
// unconditionally, repairs managed sessions with a stale browserPid,
// and drops unreachable managed sessions only when explicitly asked.
func (e *Engine) SessionPrune(ctx context.Context, opts SessionPruneOptions) (SessionPruneReport, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	doc, err := e.store.Read()
	if err != nil {
		return SessionPruneReport{}, err
	}

	type probeResult struct {
		id        string
		reachable bool
	}
	results := make([]probeResult, len(doc.Sessions))
	ids := make([]string, 0, len(doc.Sessions))
	for id := range doc.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8) // at most 8 probes in flight
	for i, id := range ids {
		i, id := i, id
		session := doc.Sessions[id]
		g.Go(func() error {
			results[i] = probeResult{id: id, reachable: e.driver.Probe(gctx, session.CDPOrigin, timeout)}
			return nil
		})
	}
	_ = g.Wait() // Probe never returns an error; Wait only joins the goroutines

	reachable := make(map[string]bool, len(results))
	for _, r := range results {
		reachable[r.id] = r.reachable
	}

	report := SessionPruneReport{}
	now := e.now()
	_, err = e.store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		for _, id := range ids {
			session, ok := doc.Sessions[id]
			if !ok {
				continue
			}
			if reachable[id] {
				session.ManagedUnreachableSince = nil
				session.ManagedUnreachableCount = 0
				doc.Sessions[id] = session
				continue
			}

			if session.Kind == statestore.SessionAttached {
				delete(doc.Sessions, id)
				unsetActive(doc, id)
				report.RemovedAttached = append(report.RemovedAttached, id)
				continue
			}

			if session.ManagedUnreachableSince == nil {
				session.ManagedUnreachableSince = &now
			}
			session.ManagedUnreachableCount++

			if opts.DropManagedUnreachable {
				delete(doc.Sessions, id)
				unsetActive(doc, id)
				report.RemovedManaged = append(report.RemovedManaged, id)
				continue
			}

			session.BrowserPid = nil
			doc.Sessions[id] = session
			report.RepairedManaged = append(report.RepairedManaged, id)
		}
		return nil, nil
	})
	if err != nil {
		return SessionPruneReport{}, err
	}
	return report, nil
}

func unsetActive(doc *statestore.StateDocument, id string) {
	if doc.ActiveSessionID != nil && *doc.ActiveSessionID == id {
		doc.ActiveSessionID = nil
	}
}

// TargetPruneOptions configures targetPrune.
type TargetPruneOptions struct {
	MaxAge        time.Duration
	MaxPerSession int
}

// TargetPruneReport lists the targetIds removed and why.
type TargetPruneReport struct {
	RemovedOrphan []string
	RemovedAged   []string
	RemovedCapped []string
}

// TargetPrune removes orphan targets (no owning session), age-expired
// targets, and caps per-session targets, keeping most-recently-updated
// first with ties broken by targetId ascending.
func (e *Engine) TargetPrune(opts TargetPruneOptions) (TargetPruneReport, error) {
	now := e.now()
	report := TargetPruneReport{}

	_, err := e.store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		bySession := map[string][]string{}
		for id, target := range doc.Targets {
			if _, ok := doc.Sessions[target.SessionID]; !ok {
				delete(doc.Targets, id)
				report.RemovedOrphan = append(report.RemovedOrphan, id)
				continue
			}
			if isExpiredByAge(target.UpdatedAt, opts.MaxAge, now) {
				delete(doc.Targets, id)
				report.RemovedAged = append(report.RemovedAged, id)
				continue
			}
			bySession[target.SessionID] = append(bySession[target.SessionID], id)
		}

		if opts.MaxPerSession > 0 {
			for _, ids := range bySession {
				if len(ids) <= opts.MaxPerSession {
					continue
				}
				sort.Slice(ids, func(i, j int) bool {
					ti, tj := doc.Targets[ids[i]], doc.Targets[ids[j]]
					if !ti.UpdatedAt.Equal(tj.UpdatedAt) {
						return ti.UpdatedAt.After(tj.UpdatedAt)
					}
					return ids[i] < ids[j]
				})
				for _, id := range ids[opts.MaxPerSession:] {
					delete(doc.Targets, id)
					report.RemovedCapped = append(report.RemovedCapped, id)
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return TargetPruneReport{}, err
	}
	sort.Strings(report.RemovedOrphan)
	sort.Strings(report.RemovedAged)
	sort.Strings(report.RemovedCapped)
	return report, nil
}

// ReconcileReport combines the results of a session prune and a target
// prune; the two passes commit as separate store transactions.
type ReconcileReport struct {
	Sessions SessionPruneReport
	Targets  TargetPruneReport
}

// StateReconcile runs sessionPrune then targetPrune. Each still takes
// its own store transaction (a session removed by the first pass must
// be visible to the second as having no owner), but together they give
// callers one combined result for a single `state reconcile` command.
func (e *Engine) StateReconcile(ctx context.Context, sessionOpts SessionPruneOptions, targetOpts TargetPruneOptions) (ReconcileReport, error) {
	sessions, err := e.SessionPrune(ctx, sessionOpts)
	if err != nil {
		return ReconcileReport{}, err
	}
	targets, err := e.TargetPrune(targetOpts)
	if err != nil {
		return ReconcileReport{}, err
	}
	return ReconcileReport{Sessions: sessions, Targets: targets}, nil
}

// CaptureRetentionOptions configures captureRetention.
type CaptureRetentionOptions struct {
	MaxAge        time.Duration
	MaxCount      int
	MaxTotalBytes int64
}

// CaptureRetentionReport lists the artifactIds removed and why, in the
// order retention considered them.
type CaptureRetentionReport struct {
	RemovedMissingFile []string
	RemovedAged        []string
	RemovedByCount     []string
	RemovedBySize      []string
}

// CaptureRetention enforces ordered retention over network artifacts:
// missing-file entries first, then age, then count, then size
// (largest-first) until under MaxTotalBytes.
func (e *Engine) CaptureRetention(opts CaptureRetentionOptions) (CaptureRetentionReport, error) {
	now := e.now()
	report := CaptureRetentionReport{}

	_, err := e.store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		ids := make([]string, 0, len(doc.NetworkArtifacts))
		for id := range doc.NetworkArtifacts {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			artifact := doc.NetworkArtifacts[id]
			if _, statErr := os.Stat(artifact.Path); statErr != nil {
				delete(doc.NetworkArtifacts, id)
				report.RemovedMissingFile = append(report.RemovedMissingFile, id)
			}
		}

		for _, id := range ids {
			artifact, ok := doc.NetworkArtifacts[id]
			if !ok {
				continue
			}
			if isExpiredByAge(artifact.CreatedAt, opts.MaxAge, now) {
				delete(doc.NetworkArtifacts, id)
				report.RemovedAged = append(report.RemovedAged, id)
			}
		}

		if opts.MaxCount > 0 {
			remaining := remainingArtifactIDs(doc, ids)
			if len(remaining) > opts.MaxCount {
				sort.Slice(remaining, func(i, j int) bool {
					ai, aj := doc.NetworkArtifacts[remaining[i]], doc.NetworkArtifacts[remaining[j]]
					if !ai.CreatedAt.Equal(aj.CreatedAt) {
						return ai.CreatedAt.After(aj.CreatedAt)
					}
					return remaining[i] < remaining[j]
				})
				for _, id := range remaining[opts.MaxCount:] {
					delete(doc.NetworkArtifacts, id)
					report.RemovedByCount = append(report.RemovedByCount, id)
				}
			}
		}

		if opts.MaxTotalBytes > 0 {
			remaining := remainingArtifactIDs(doc, ids)
			var total int64
			for _, id := range remaining {
				total += doc.NetworkArtifacts[id].Bytes
			}
			if total > opts.MaxTotalBytes {
				sort.Slice(remaining, func(i, j int) bool {
					bi, bj := doc.NetworkArtifacts[remaining[i]].Bytes, doc.NetworkArtifacts[remaining[j]].Bytes
					if bi != bj {
						return bi > bj
					}
					return remaining[i] < remaining[j]
				})
				for _, id := range remaining {
					if total <= opts.MaxTotalBytes {
						break
					}
					total -= doc.NetworkArtifacts[id].Bytes
					delete(doc.NetworkArtifacts, id)
					report.RemovedBySize = append(report.RemovedBySize, id)
				}
			}
		}
		return nil, nil
	})
	if err != nil {
		return CaptureRetentionReport{}, err
	}
	return report, nil
}

func remainingArtifactIDs(doc *statestore.StateDocument, candidateIDs []string) []string {
	out := make([]string, 0, len(candidateIDs))
	for _, id := range candidateIDs {
		if _, ok := doc.NetworkArtifacts[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// DiskPrune removes the given on-disk artifact files; it does not read
// or change the state index, so the caller chooses which paths to pass.
// It operates independently of captureRetention. With dryRun set it
// deletes nothing and returns the paths it would have removed.
func (e *Engine) DiskPrune(paths []string, dryRun bool) ([]string, error) {
	var removed []string
	for _, p := range paths {
		if dryRun {
			removed = append(removed, p)
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, p)
	}
	return removed, nil
}

// OpportunisticMaintenance parks managed browsers whose session has
// been idle longer than IdleProcessTTLMS: it kills the browser process
// and clears browserPid but keeps the session record, so a subsequent
// sessionEnsure/sessionUse relaunches it transparently. Gated by
// SURFWRIGHT_GC_ENABLED; callers are responsible for honoring
// SURFWRIGHT_GC_MIN_INTERVAL_MS between invocations.
func (e *Engine) OpportunisticMaintenance(ctx context.Context) ([]string, error) {
	if e.rt == nil || !e.rt.GCEnabled {
		return nil, nil
	}

	now := e.now()
	idleTTL := time.Duration(e.rt.IdleProcessTTLMS) * time.Millisecond

	var parked []string
	_, err := e.store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		ids := make([]string, 0, len(doc.Sessions))
		for id := range doc.Sessions {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			session := doc.Sessions[id]
			if session.Kind != statestore.SessionManaged || session.BrowserPid == nil {
				continue
			}
			if !isExpiredByAge(session.LastSeenAt, idleTTL, now) {
				continue
			}
			if err := e.driver.Kill(ctx, *session.BrowserPid); err != nil {
				continue
			}
			session.BrowserPid = nil
			doc.Sessions[id] = session
			parked = append(parked, id)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return parked, nil
}
