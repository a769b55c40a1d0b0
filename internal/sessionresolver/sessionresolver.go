// Package sessionresolver implements the Session Resolver: creating,
// attaching, ensuring, switching, and listing browser sessions, plus
// the reachability-repair and heartbeat rules that keep a SessionRecord
// honest about whether its browser is still there.
//
// sessionEnsure deliberately never triggers a full prune sweep — that
// belongs to the Maintenance Engine (internal/maintenance), invoked
// explicitly or on a background tick, never from this hot path.
package sessionresolver

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/surfwright/surfwright/internal/browserport"
	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/runtime"
	"github.com/surfwright/surfwright/internal/statestore"
)

// SessionSource explains how resolveForAction picked a session, for
// logging and for callers that want to distinguish an implicit default
// from an explicit choice.
type SessionSource string

const (
	SourceExplicit           SessionSource = "explicit"
	SourceInferredFromTarget SessionSource = "inferredFromTarget"
	SourceImplicitNew        SessionSource = "implicitNew"
)

// SessionReport is the result of any operation that creates, attaches,
// or repairs a session: the resulting record plus what happened to it.
type SessionReport struct {
	Session   statestore.SessionRecord
	Created   bool
	Restarted bool
}

// ActionHint is resolveForAction's input: the caller's best guess at
// which session an action targets.
type ActionHint struct {
	SessionID        string
	TargetID         string
	AllowImplicitNew bool
	BrowserMode      *statestore.BrowserMode
}

// Resolver ties the state store to a browser driver to implement every
// session-lifecycle operation.
type Resolver struct {
	store  *statestore.Store
	driver browserport.Driver
	rt     *runtime.Runtime
}

// New builds a Resolver.
func New(store *statestore.Store, driver browserport.Driver, rt *runtime.Runtime) *Resolver {
	return &Resolver{store: store, driver: driver, rt: rt}
}

func (r *Resolver) now() time.Time {
	if r.rt != nil && r.rt.Now != nil {
		return r.rt.Now()
	}
	return time.Now()
}

func (r *Resolver) clampLease(requestedMS int) int {
	ttl := requestedMS
	if ttl <= 0 {
		ttl = r.rt.SessionLeaseTTLMS
	}
	if ttl < runtime.MinLeaseMS {
		ttl = runtime.MinLeaseMS
	}
	if ttl > runtime.MaxLeaseMS {
		ttl = runtime.MaxLeaseMS
	}
	return ttl
}

// SessionNew creates a managed session with a freshly launched browser.
func (r *Resolver) SessionNew(ctx context.Context, requestedID string, policy statestore.SessionPolicy, leaseTTLMS int, browserMode statestore.BrowserMode) (SessionReport, error) {
	if policy == "" {
		policy = statestore.PolicyEphemeral
	}
	if browserMode == "" {
		browserMode = statestore.BrowserHeadless
	}

	port, err := r.driver.AllocateFreePort(ctx)
	if err != nil {
		return SessionReport{}, err
	}
	started, err := r.driver.StartManaged(ctx, browserport.StartSpec{DebugPort: port, BrowserMode: browserMode})
	if err != nil {
		return SessionReport{}, errs.New(errs.ErrCDPUnreachable, "failed to start managed browser",
			errs.WithContext("debugPort", strconv.Itoa(port)))
	}

	now := r.now()
	leaseTTL := r.clampLease(leaseTTLMS)
	record := statestore.SessionRecord{
		Kind:           statestore.SessionManaged,
		Policy:         policy,
		BrowserMode:    browserMode,
		CDPOrigin:      started.CDPOrigin,
		DebugPort:      &port,
		BrowserPid:     &started.BrowserPid,
		LeaseTTLMS:     leaseTTL,
		LeaseExpiresAt: now.Add(time.Duration(leaseTTL) * time.Millisecond),
		CreatedAt:      now,
		LastSeenAt:     now,
	}

	result, err := r.store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		id := requestedID
		if id == "" {
			id = uuid.NewString()
		} else if _, exists := doc.Sessions[id]; exists {
			return nil, errs.New(errs.ErrSessionExists, "session already exists", errs.WithContext("sessionId", id))
		}
		record.SessionID = id
		record.OwnerID = r.rt.AgentID
		doc.Sessions[id] = record
		doc.ActiveSessionID = &id
		return record, nil
	})
	if err != nil {
		return SessionReport{}, err
	}
	return SessionReport{Session: result.(statestore.SessionRecord), Created: true}, nil
}

// SessionAttach attaches to an already-running browser's CDP endpoint
// without launching anything.
func (r *Resolver) SessionAttach(ctx context.Context, requestedID, cdpOrigin string, leaseTTLMS int, policy statestore.SessionPolicy) (SessionReport, error) {
	if !r.driver.AttachHandshake(ctx, cdpOrigin, 2*time.Second) {
		return SessionReport{}, errs.New(errs.ErrCDPUnreachable, "cdp endpoint did not respond to attach handshake",
			errs.WithContext("cdpOrigin", cdpOrigin))
	}
	if policy == "" {
		policy = statestore.PolicyPersistent
	}

	now := r.now()
	leaseTTL := r.clampLease(leaseTTLMS)
	record := statestore.SessionRecord{
		Kind:           statestore.SessionAttached,
		Policy:         policy,
		BrowserMode:    statestore.BrowserUnknown,
		CDPOrigin:      cdpOrigin,
		LeaseTTLMS:     leaseTTL,
		LeaseExpiresAt: now.Add(time.Duration(leaseTTL) * time.Millisecond),
		CreatedAt:      now,
		LastSeenAt:     now,
	}

	result, err := r.store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		id := requestedID
		if id == "" {
			id = uuid.NewString()
		} else if _, exists := doc.Sessions[id]; exists {
			return nil, errs.New(errs.ErrSessionExists, "session already exists", errs.WithContext("sessionId", id))
		}
		record.SessionID = id
		record.OwnerID = r.rt.AgentID
		doc.Sessions[id] = record
		doc.ActiveSessionID = &id
		return record, nil
	})
	if err != nil {
		return SessionReport{}, err
	}
	return SessionReport{Session: result.(statestore.SessionRecord), Created: true}, nil
}

// SessionEnsure returns the active session if present and reachable,
// repairing a managed session's reachability inline if needed;
// otherwise it creates a managed default session. It never scans or
// prunes sessions other than the one it's resolving.
func (r *Resolver) SessionEnsure(ctx context.Context, browserMode statestore.BrowserMode) (SessionReport, error) {
	doc, err := r.store.Read()
	if err != nil {
		return SessionReport{}, err
	}

	if doc.ActiveSessionID != nil {
		if active, ok := doc.Sessions[*doc.ActiveSessionID]; ok {
			return r.ensureReachableAndHeartbeat(ctx, active, browserMode)
		}
	}

	mode := browserMode
	if mode == "" {
		mode = statestore.BrowserHeadless
	}
	return r.SessionNew(ctx, "", statestore.PolicyEphemeral, 0, mode)
}

// SessionUse switches the active session after verifying reachability.
func (r *Resolver) SessionUse(ctx context.Context, sessionID string) (SessionReport, error) {
	doc, err := r.store.Read()
	if err != nil {
		return SessionReport{}, err
	}
	session, ok := doc.Sessions[sessionID]
	if !ok {
		return SessionReport{}, errs.New(errs.ErrSessionNotFound, "session not found", errs.WithContext("sessionId", sessionID))
	}
	return r.ensureReachableAndHeartbeat(ctx, session, "")
}

func (r *Resolver) ensureReachableAndHeartbeat(ctx context.Context, session statestore.SessionRecord, desiredMode statestore.BrowserMode) (SessionReport, error) {
	var desired *statestore.BrowserMode
	if desiredMode != "" {
		desired = &desiredMode
	}

	ensured, err := r.driver.EnsureReachable(ctx, session, 2*time.Second, desired)
	if err != nil {
		return SessionReport{}, err
	}

	now := r.now()
	updated := ensured.Session
	updated.LastSeenAt = now
	updated.LeaseExpiresAt = now.Add(time.Duration(r.clampLease(updated.LeaseTTLMS)) * time.Millisecond)
	if ensured.Restarted {
		updated.ManagedUnreachableSince = nil
		updated.ManagedUnreachableCount = 0
	}

	result, err := r.store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		doc.Sessions[updated.SessionID] = updated
		doc.ActiveSessionID = &updated.SessionID
		return updated, nil
	})
	if err != nil {
		return SessionReport{}, err
	}
	return SessionReport{Session: result.(statestore.SessionRecord), Restarted: ensured.Restarted}, nil
}

// SessionListEntry is one row of sessionList's deterministic snapshot.
type SessionListEntry struct {
	Session statestore.SessionRecord
	Active  bool
}

// SessionList returns every session ordered by SessionID ascending, so
// repeated calls against an unchanged store produce byte-identical
// output.
func (r *Resolver) SessionList() ([]SessionListEntry, error) {
	doc, err := r.store.Read()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(doc.Sessions))
	for id := range doc.Sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]SessionListEntry, 0, len(ids))
	for _, id := range ids {
		active := doc.ActiveSessionID != nil && *doc.ActiveSessionID == id
		entries = append(entries, SessionListEntry{Session: doc.Sessions[id], Active: active})
	}
	return entries, nil
}

// ResolveForAction implements the action-time session helper: an
// explicit hint wins, then a known target's owning session, then (if
// permitted) an implicitly created default.
func (r *Resolver) ResolveForAction(ctx context.Context, hint ActionHint) (statestore.SessionRecord, SessionSource, error) {
	if hint.SessionID != "" {
		report, err := r.SessionUse(ctx, hint.SessionID)
		if err != nil {
			return statestore.SessionRecord{}, "", err
		}
		return report.Session, SourceExplicit, nil
	}

	if hint.TargetID != "" {
		doc, err := r.store.Read()
		if err != nil {
			return statestore.SessionRecord{}, "", err
		}
		if target, ok := doc.Targets[hint.TargetID]; ok {
			report, err := r.SessionUse(ctx, target.SessionID)
			if err != nil {
				return statestore.SessionRecord{}, "", err
			}
			return report.Session, SourceInferredFromTarget, nil
		}
	}

	if !hint.AllowImplicitNew {
		return statestore.SessionRecord{}, "", errs.New(errs.ErrSessionNotFound, "no session hint resolved and implicit creation is disallowed")
	}

	mode := statestore.BrowserHeadless
	if hint.BrowserMode != nil {
		mode = *hint.BrowserMode
	}
	report, err := r.SessionEnsure(ctx, mode)
	if err != nil {
		return statestore.SessionRecord{}, "", err
	}
	return report.Session, SourceImplicitNew, nil
}
