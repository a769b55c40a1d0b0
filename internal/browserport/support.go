package browserport

import (
	"container/list"
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/statestore"
)

func parseHostPort(cdpOrigin string) (string, error) {
	u, err := url.Parse(cdpOrigin)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid cdp origin %q", cdpOrigin)
	}
	return u.Host, nil
}

// ensureReachableOnDriver is the shared EnsureReachable algorithm:
// probe first; repair a managed session by relaunching once; never
// auto-attach an unreachable attached session to anything else — an
// explicit security boundary.
func ensureReachableOnDriver(ctx context.Context, d Driver, session statestore.SessionRecord, timeout time.Duration, desiredBrowserMode *statestore.BrowserMode) (EnsureResult, error) {
	if d.Probe(ctx, session.CDPOrigin, timeout) {
		return EnsureResult{Session: session}, nil
	}
	if session.Kind == statestore.SessionAttached {
		return EnsureResult{}, errs.New(errs.ErrSessionUnreachable, "attached session is unreachable",
			errs.WithContext("sessionId", session.SessionID))
	}

	spec := StartSpec{BrowserMode: session.BrowserMode, UserDataDir: derefString(session.UserDataDir)}
	if desiredBrowserMode != nil {
		spec.BrowserMode = *desiredBrowserMode
	}
	if session.DebugPort != nil {
		spec.DebugPort = *session.DebugPort
	} else {
		port, err := d.AllocateFreePort(ctx)
		if err != nil {
			return EnsureResult{}, err
		}
		spec.DebugPort = port
	}

	started, err := d.StartManaged(ctx, spec)
	if err != nil {
		return EnsureResult{}, err
	}
	session.BrowserPid = &started.BrowserPid
	session.CDPOrigin = started.CDPOrigin
	session.DebugPort = &spec.DebugPort
	session.BrowserMode = spec.BrowserMode
	return EnsureResult{Session: session, Restarted: true}, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// probeCache is a bounded LRU of recent reachability probes, keyed by
// CDP origin, so repeated checks against the same session within
// REACH_CACHE_TTL_MS don't each pay a network round trip.
type probeCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	entries  map[string]*list.Element
}

type probeCacheEntry struct {
	key       string
	reachable bool
	expiresAt time.Time
}

func newProbeCache(capacity int, ttl time.Duration) *probeCache {
	return &probeCache{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

func (c *probeCache) get(key string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false, false
	}
	entry := el.Value.(*probeCacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return false, false
	}
	c.order.MoveToFront(el)
	return entry.reachable, true
}

func (c *probeCache) put(key string, reachable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*probeCacheEntry).reachable = reachable
		el.Value.(*probeCacheEntry).expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&probeCacheEntry{key: key, reachable: reachable, expiresAt: time.Now().Add(c.ttl)})
	c.entries[key] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*probeCacheEntry).key)
	}
}
