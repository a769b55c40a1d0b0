package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surfwright/surfwright/internal/browserport"
	"github.com/surfwright/surfwright/internal/runtime"
	"github.com/surfwright/surfwright/internal/statestore"
)

func newTestEngine(t *testing.T) (*Engine, *statestore.Store, *browserport.FakeDriver, *runtime.Runtime) {
	t.Helper()
	dir := t.TempDir()
	store := statestore.New(filepath.Join(dir, "state.json"), filepath.Join(dir, "state.lock"), 2*time.Second)
	driver := browserport.NewFakeDriver()
	rt := runtime.TestDefault()
	return New(store, driver, rt), store, driver, rt
}

func putSession(t *testing.T, store *statestore.Store, s statestore.SessionRecord) {
	t.Helper()
	_, err := store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		doc.Sessions[s.SessionID] = s
		return nil, nil
	})
	require.NoError(t, err)
}

func TestSessionPruneRemovesUnreachableAttachedUnconditionally(t *testing.T) {
	eng, store, driver, _ := newTestEngine(t)
	putSession(t, store, statestore.SessionRecord{SessionID: "att-1", Kind: statestore.SessionAttached, CDPOrigin: "http://x"})
	driver.SetReachable("http://x", false)

	report, err := eng.SessionPrune(context.Background(), SessionPruneOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"att-1"}, report.RemovedAttached)

	doc, err := store.Read()
	require.NoError(t, err)
	require.NotContains(t, doc.Sessions, "att-1")
}

func TestSessionPruneRepairsManagedWithoutDropByDefault(t *testing.T) {
	eng, store, driver, _ := newTestEngine(t)
	pid := 123
	putSession(t, store, statestore.SessionRecord{SessionID: "mgd-1", Kind: statestore.SessionManaged, CDPOrigin: "http://y", BrowserPid: &pid})
	driver.SetReachable("http://y", false)

	report, err := eng.SessionPrune(context.Background(), SessionPruneOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"mgd-1"}, report.RepairedManaged)
	require.Empty(t, report.RemovedManaged)

	doc, err := store.Read()
	require.NoError(t, err)
	require.Contains(t, doc.Sessions, "mgd-1")
	require.Nil(t, doc.Sessions["mgd-1"].BrowserPid)
}

func TestSessionPruneDropsManagedWhenRequested(t *testing.T) {
	eng, store, driver, _ := newTestEngine(t)
	putSession(t, store, statestore.SessionRecord{SessionID: "mgd-2", Kind: statestore.SessionManaged, CDPOrigin: "http://z"})
	driver.SetReachable("http://z", false)

	report, err := eng.SessionPrune(context.Background(), SessionPruneOptions{DropManagedUnreachable: true})
	require.NoError(t, err)
	require.Equal(t, []string{"mgd-2"}, report.RemovedManaged)

	doc, err := store.Read()
	require.NoError(t, err)
	require.NotContains(t, doc.Sessions, "mgd-2")
}

func TestTargetPruneRemovesOrphansAndCapsPerSession(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	_, err := store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		doc.Sessions["s-1"] = statestore.SessionRecord{SessionID: "s-1"}
		doc.Targets["orphan"] = statestore.TargetRecord{TargetID: "orphan", SessionID: "ghost", UpdatedAt: time.Now()}
		base := time.Now()
		for i := 0; i < 3; i++ {
			id := []string{"t-a", "t-b", "t-c"}[i]
			doc.Targets[id] = statestore.TargetRecord{
				TargetID:  id,
				SessionID: "s-1",
				UpdatedAt: base.Add(time.Duration(i) * time.Second),
			}
		}
		return nil, nil
	})
	require.NoError(t, err)

	report, err := eng.TargetPrune(TargetPruneOptions{MaxPerSession: 2})
	require.NoError(t, err)
	// The store's normalization drops the orphan before it is persisted,
	// so it never reaches TargetPrune; it is gone all the same (see below).
	require.Empty(t, report.RemovedOrphan)
	require.Equal(t, []string{"t-a"}, report.RemovedCapped, "oldest-updated target is capped first")

	doc, err := store.Read()
	require.NoError(t, err)
	require.Contains(t, doc.Targets, "t-b")
	require.Contains(t, doc.Targets, "t-c")
	require.NotContains(t, doc.Targets, "t-a")
	require.NotContains(t, doc.Targets, "orphan")
}

func TestCaptureRetentionOrdersMissingFileAgeCountSize(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	dir := t.TempDir()
	present := filepath.Join(dir, "present.har")
	require.NoError(t, os.WriteFile(present, []byte("data"), 0o600))

	_, err := store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		doc.NetworkArtifacts["missing"] = statestore.NetworkArtifactRecord{ArtifactID: "missing", Path: filepath.Join(dir, "gone.har"), CreatedAt: time.Now(), Bytes: 10}
		doc.NetworkArtifacts["present"] = statestore.NetworkArtifactRecord{ArtifactID: "present", Path: present, CreatedAt: time.Now(), Bytes: 10}
		return nil, nil
	})
	require.NoError(t, err)

	report, err := eng.CaptureRetention(CaptureRetentionOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"missing"}, report.RemovedMissingFile)

	doc, err := store.Read()
	require.NoError(t, err)
	require.Contains(t, doc.NetworkArtifacts, "present")
	require.NotContains(t, doc.NetworkArtifacts, "missing")
}

func TestCaptureRetentionEnforcesMaxTotalBytesLargestFirst(t *testing.T) {
	eng, store, _, _ := newTestEngine(t)
	dir := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".har"), []byte("x"), 0o600))
	}

	_, err := store.Mutate(func(doc *statestore.StateDocument) (any, error) {
		doc.NetworkArtifacts["a"] = statestore.NetworkArtifactRecord{ArtifactID: "a", Path: filepath.Join(dir, "a.har"), CreatedAt: time.Now(), Bytes: 500}
		doc.NetworkArtifacts["b"] = statestore.NetworkArtifactRecord{ArtifactID: "b", Path: filepath.Join(dir, "b.har"), CreatedAt: time.Now(), Bytes: 100}
		doc.NetworkArtifacts["c"] = statestore.NetworkArtifactRecord{ArtifactID: "c", Path: filepath.Join(dir, "c.har"), CreatedAt: time.Now(), Bytes: 50}
		return nil, nil
	})
	require.NoError(t, err)

	report, err := eng.CaptureRetention(CaptureRetentionOptions{MaxTotalBytes: 200})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, report.RemovedBySize, "largest artifact removed first to satisfy the byte cap")

	doc, err := store.Read()
	require.NoError(t, err)
	require.Contains(t, doc.NetworkArtifacts, "b")
	require.Contains(t, doc.NetworkArtifacts, "c")
}

func TestOpportunisticMaintenanceParksIdleManagedBrowser(t *testing.T) {
	eng, store, driver, rt := newTestEngine(t)
	rt.IdleProcessTTLMS = 1
	pid := 555
	putSession(t, store, statestore.SessionRecord{
		SessionID:  "mgd-idle",
		Kind:       statestore.SessionManaged,
		BrowserPid: &pid,
		LastSeenAt: time.Now().Add(-time.Hour),
	})

	time.Sleep(2 * time.Millisecond)
	parked, err := eng.OpportunisticMaintenance(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"mgd-idle"}, parked)
	require.True(t, driver.Killed(pid))

	doc, err := store.Read()
	require.NoError(t, err)
	require.Nil(t, doc.Sessions["mgd-idle"].BrowserPid)
}

func TestOpportunisticMaintenanceDisabledByGCFlag(t *testing.T) {
	eng, store, _, rt := newTestEngine(t)
	rt.GCEnabled = false
	pid := 1
	putSession(t, store, statestore.SessionRecord{SessionID: "mgd-x", Kind: statestore.SessionManaged, BrowserPid: &pid, LastSeenAt: time.Now().Add(-time.Hour)})

	parked, err := eng.OpportunisticMaintenance(context.Background())
	require.NoError(t, err)
	require.Empty(t, parked)
}
