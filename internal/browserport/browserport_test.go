package browserport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/statestore"
)

func TestFakeDriverStartManagedIsReachable(t *testing.T) {
	d := NewFakeDriver()
	port, err := d.AllocateFreePort(context.Background())
	require.NoError(t, err)

	started, err := d.StartManaged(context.Background(), StartSpec{DebugPort: port})
	require.NoError(t, err)
	require.True(t, d.Probe(context.Background(), started.CDPOrigin, time.Second))
}

func TestEnsureReachableRepairsManagedSession(t *testing.T) {
	d := NewFakeDriver()
	port, _ := d.AllocateFreePort(context.Background())
	started, err := d.StartManaged(context.Background(), StartSpec{DebugPort: port})
	require.NoError(t, err)

	session := statestore.SessionRecord{
		SessionID:  "s-1",
		Kind:       statestore.SessionManaged,
		CDPOrigin:  started.CDPOrigin,
		BrowserPid: &started.BrowserPid,
		DebugPort:  &port,
	}

	d.SetReachable(started.CDPOrigin, false)

	result, err := d.EnsureReachable(context.Background(), session, time.Second, nil)
	require.NoError(t, err)
	require.True(t, result.Restarted)
	require.Equal(t, 2, d.StartCalls())
}

func TestEnsureReachableNeverAutoRelaunchesAttachedSession(t *testing.T) {
	d := NewFakeDriver()
	session := statestore.SessionRecord{
		SessionID: "s-2",
		Kind:      statestore.SessionAttached,
		CDPOrigin: "http://127.0.0.1:9222",
	}

	_, err := d.EnsureReachable(context.Background(), session, time.Second, nil)
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.ErrSessionUnreachable, e.Code)
	require.Equal(t, 0, d.StartCalls())
}

func TestProbeCacheEvictsOldestBeyondCapacity(t *testing.T) {
	c := newProbeCache(2, time.Minute)
	c.put("a", true)
	c.put("b", true)
	c.put("c", true) // evicts "a", the least recently used

	_, ok := c.get("a")
	require.False(t, ok)
	v, ok := c.get("b")
	require.True(t, ok)
	require.True(t, v)
}

func TestProbeCacheExpiresByTTL(t *testing.T) {
	c := newProbeCache(8, time.Millisecond)
	c.put("a", true)
	time.Sleep(5 * time.Millisecond)

	_, ok := c.get("a")
	require.False(t, ok)
}
