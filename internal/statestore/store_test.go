package statestore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surfwright/surfwright/internal/errs"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "state.json"), filepath.Join(dir, "state.json.lock"), time.Second)
}

func TestReadOnMissingFileReturnsEmptyDocument(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, CurrentVersion, doc.Version)
	require.Empty(t, doc.Sessions)
}

func TestMutatePersistsAndReadSeesIt(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Mutate(func(doc *StateDocument) (any, error) {
		doc.Sessions["s-1"] = SessionRecord{
			SessionID: "s-1", Kind: SessionManaged, Policy: PolicyPersistent,
			BrowserMode: BrowserHeadless, CDPOrigin: "http://127.0.0.1:9222",
			OwnerID: "agent-1", CreatedAt: time.Now(), LastSeenAt: time.Now(),
		}
		return nil, nil
	})
	require.NoError(t, err)

	doc, err := s.Read()
	require.NoError(t, err)
	require.Contains(t, doc.Sessions, "s-1")
}

func TestMutateOrdinalIncrementIsObservedAfterReturn(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Mutate(func(doc *StateDocument) (any, error) {
		doc.NextSessionOrdinal++
		return doc.NextSessionOrdinal, nil
	})
	require.NoError(t, err)

	doc, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, 2, doc.NextSessionOrdinal) // normalize() floors it at maxObserved+1 == 1, then our ++ makes 2
}

func TestOrphanTargetsRemovedOnNormalize(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Mutate(func(doc *StateDocument) (any, error) {
		doc.Targets["t-1"] = TargetRecord{TargetID: "t-1", SessionID: "missing-session"}
		return nil, nil
	})
	require.NoError(t, err)

	doc, err := s.Read()
	require.NoError(t, err)
	require.NotContains(t, doc.Targets, "t-1")
}

func TestActiveSessionClearedWhenDangling(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Mutate(func(doc *StateDocument) (any, error) {
		id := "ghost"
		doc.ActiveSessionID = &id
		return nil, nil
	})
	require.NoError(t, err)

	doc, err := s.Read()
	require.NoError(t, err)
	require.Nil(t, doc.ActiveSessionID)
}

func TestCorruptStateFileIsQuarantinedNotSilentlyReplaced(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte("{not json"), 0o600))

	s := New(statePath, filepath.Join(dir, "state.json.lock"), time.Second)
	_, err := s.Read()

	e, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.ErrStateCorrupt, e.Code)
	require.False(t, e.Retryable)

	require.NoFileExists(t, statePath)
	matches, globErr := filepath.Glob(statePath + ".quarantine.*")
	require.NoError(t, globErr)
	require.Len(t, matches, 1)
}

func TestVersionMismatchIsRejected(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{"version":999}`), 0o600))

	s := New(statePath, filepath.Join(dir, "state.json.lock"), time.Second)
	_, err := s.Read()

	e, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.ErrStateVersionMismatch, e.Code)
}

func TestNestedMutateIsRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Mutate(func(doc *StateDocument) (any, error) {
		return s.Mutate(func(*StateDocument) (any, error) { return nil, nil })
	})

	e, ok := errs.As(err)
	require.True(t, ok)
	require.Equal(t, errs.ErrInternal, e.Code)
}

func TestConcurrentMutateFromDifferentGoroutinesAllSucceed(t *testing.T) {
	s := newTestStore(t)

	const n = 16
	errsCh := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Mutate(func(doc *StateDocument) (any, error) {
				doc.NextSessionOrdinal++
				return nil, nil
			})
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)

	for err := range errsCh {
		require.NoError(t, err)
	}

	doc, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, 1+n, doc.NextSessionOrdinal) // normalize() floors at 1, then n increments land
}

func TestReadReturnsDeepCopy(t *testing.T) {
	s := newTestStore(t)
	port := 9222
	_, err := s.Mutate(func(doc *StateDocument) (any, error) {
		doc.Sessions["s-1"] = SessionRecord{SessionID: "s-1", Kind: SessionManaged, DebugPort: &port}
		return nil, nil
	})
	require.NoError(t, err)

	doc1, err := s.Read()
	require.NoError(t, err)
	*doc1.Sessions["s-1"].DebugPort = 1

	doc2, err := s.Read()
	require.NoError(t, err)
	require.Equal(t, 9222, *doc2.Sessions["s-1"].DebugPort)
}

func TestUnknownTopLevelFieldsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(statePath, []byte(`{"version":1,"futureField":{"x":1}}`), 0o600))

	s := New(statePath, filepath.Join(dir, "state.json.lock"), time.Second)
	_, err := s.Mutate(func(doc *StateDocument) (any, error) { return nil, nil })
	require.NoError(t, err)

	raw, err := os.ReadFile(statePath)
	require.NoError(t, err)
	require.Contains(t, string(raw), "futureField")
}
