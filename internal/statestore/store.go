package statestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/filelock"
)

// Store is the single transactional entry point onto the state document.
// All mutations go through Mutate; Read takes the lock briefly and
// returns a deep copy.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration

	mutatingMu sync.Mutex
	mutating   map[uint64]bool
}

// New builds a Store rooted at the given state file and lock sidecar.
func New(statePath, lockPath string, lockTimeout time.Duration) *Store {
	return &Store{path: statePath, lockPath: lockPath, lockTimeout: lockTimeout, mutating: make(map[uint64]bool)}
}

// Read takes the lock briefly, loads and normalizes the document, and
// returns a deep copy. It never silently substitutes an empty document
// for one that exists but is corrupt or version-mismatched.
func (s *Store) Read() (StateDocument, error) {
	h, err := filelock.Acquire(s.lockPath, s.lockTimeout)
	if err != nil {
		return StateDocument{}, err
	}
	defer h.Release()

	doc, _, err := s.load()
	if err != nil {
		return StateDocument{}, err
	}
	normalize(&doc)
	return deepCopy(doc), nil
}

// ReadOrFail is Read, named for its explicit-failure behavior: it never
// masks a corrupt/mismatched file as empty.
func (s *Store) ReadOrFail() (StateDocument, error) {
	return s.Read()
}

// Mutate takes the lock, loads and normalizes the document, runs fn,
// re-normalizes the result, persists it atomically, and returns fn's
// result. Nested Mutate calls from the same goroutine are forbidden and
// fail fast with errs.ErrInternal rather than deadlocking; concurrent
// Mutate calls from different goroutines are not nesting — they queue on
// the file lock below, per §5's "additional mutual-exclusion ring".
func (s *Store) Mutate(fn func(*StateDocument) (any, error)) (any, error) {
	gid := callerGoroutineID()
	if !s.enterMutate(gid) {
		return nil, errs.New(errs.ErrInternal, "nested Mutate call on the same goroutine")
	}
	defer s.leaveMutate(gid)

	h, err := filelock.Acquire(s.lockPath, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer h.Release()

	doc, _, err := s.load()
	if err != nil {
		return nil, err
	}
	normalize(&doc)

	result, err := fn(&doc)
	if err != nil {
		return nil, err
	}
	normalize(&doc)

	if err := s.persist(doc); err != nil {
		return nil, err
	}
	return result, nil
}

// enterMutate records that goroutine gid is inside Mutate, reporting
// false if it already was (the same-goroutine reentrant case). Two
// different goroutines calling Mutate concurrently both succeed here and
// simply serialize on the file lock acquired afterward.
func (s *Store) enterMutate(gid uint64) bool {
	s.mutatingMu.Lock()
	defer s.mutatingMu.Unlock()
	if s.mutating[gid] {
		return false
	}
	s.mutating[gid] = true
	return true
}

func (s *Store) leaveMutate(gid uint64) {
	s.mutatingMu.Lock()
	defer s.mutatingMu.Unlock()
	delete(s.mutating, gid)
}

// callerGoroutineID extracts the numeric id from this goroutine's own
// stack trace header ("goroutine 123 [running]: ..."). It exists only to
// scope Mutate's reentrancy guard to the calling goroutine rather than
// the whole process; nothing else in this package depends on goroutine
// identity.
func callerGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	line := buf[:n]
	line = bytes.TrimPrefix(line, []byte("goroutine "))
	if idx := bytes.IndexByte(line, ' '); idx >= 0 {
		line = line[:idx]
	}
	id, err := strconv.ParseUint(string(line), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// load reads the document from disk. A missing file is not an error: it
// means the store has never been written and an empty document is
// returned with existed=false (the caller's Mutate will create it on
// first successful write). A present-but-corrupt or version-mismatched
// file IS an error, and the corrupt file is quarantined aside.
func (s *Store) load() (StateDocument, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), false, nil
		}
		return StateDocument{}, false, errs.New(errs.ErrStateIO, fmt.Sprintf("read state file: %v", err), errs.WithContext("path", s.path))
	}

	var doc StateDocument
	if unmarshalErr := json.Unmarshal(data, &doc); unmarshalErr != nil {
		backupPath := s.quarantine()
		return StateDocument{}, false, errs.New(errs.ErrStateCorrupt, fmt.Sprintf("parse state file: %v", unmarshalErr),
			errs.WithContext("path", s.path), errs.WithContext("backupPath", backupPath))
	}

	if doc.Version != 0 && doc.Version != CurrentVersion {
		backupPath := s.quarantine()
		return StateDocument{}, false, errs.New(errs.ErrStateVersionMismatch,
			fmt.Sprintf("state file version %d does not match supported version %d", doc.Version, CurrentVersion),
			errs.WithContext("path", s.path), errs.WithContext("backupPath", backupPath))
	}

	return doc, true, nil
}

// quarantine moves the offending state file aside with a timestamped
// suffix and returns the new path, best-effort.
func (s *Store) quarantine() string {
	backupPath := fmt.Sprintf("%s.quarantine.%d", s.path, time.Now().UnixNano())
	if err := os.Rename(s.path, backupPath); err != nil {
		return ""
	}
	return backupPath
}

// persist writes doc atomically: temp file in the same directory,
// fsync, rename over the canonical path, fsync parent directory. On any
// failure the temp file is removed by renameio's Cleanup.
func (s *Store) persist(doc StateDocument) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return errs.New(errs.ErrStateIO, fmt.Sprintf("create state dir: %v", err))
	}

	pending, err := renameio.NewPendingFile(s.path,
		renameio.WithTempDir(filepath.Dir(s.path)),
		renameio.WithStaticPermissions(0o600),
	)
	if err != nil {
		return errs.New(errs.ErrStateIO, fmt.Sprintf("create pending state file: %v", err))
	}
	defer pending.Cleanup() //nolint:errcheck // best-effort cleanup of the temp file

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return errs.New(errs.ErrStateIO, fmt.Sprintf("encode state document: %v", err))
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return errs.New(errs.ErrStateIO, fmt.Sprintf("atomically replace state file: %v", err))
	}
	return nil
}

// deepCopy clones doc so callers of Read cannot mutate the store's
// internal state through shared pointers/maps.
func deepCopy(doc StateDocument) StateDocument {
	out := Empty()
	out.Version = doc.Version
	out.NextSessionOrdinal = doc.NextSessionOrdinal
	out.NextCaptureOrdinal = doc.NextCaptureOrdinal
	out.NextArtifactOrdinal = doc.NextArtifactOrdinal
	if doc.ActiveSessionID != nil {
		id := *doc.ActiveSessionID
		out.ActiveSessionID = &id
	}
	for k, v := range doc.Sessions {
		out.Sessions[k] = cloneSession(v)
	}
	for k, v := range doc.Targets {
		out.Targets[k] = cloneTarget(v)
	}
	for k, v := range doc.NetworkCaptures {
		out.NetworkCaptures[k] = cloneCapture(v)
	}
	for k, v := range doc.NetworkArtifacts {
		out.NetworkArtifacts[k] = cloneArtifact(v)
	}
	return out
}

func cloneSession(s SessionRecord) SessionRecord {
	if s.DebugPort != nil {
		v := *s.DebugPort
		s.DebugPort = &v
	}
	if s.UserDataDir != nil {
		v := *s.UserDataDir
		s.UserDataDir = &v
	}
	if s.BrowserPid != nil {
		v := *s.BrowserPid
		s.BrowserPid = &v
	}
	if s.ManagedUnreachableSince != nil {
		v := *s.ManagedUnreachableSince
		s.ManagedUnreachableSince = &v
	}
	return s
}

func cloneTarget(t TargetRecord) TargetRecord {
	if t.LastActionAt != nil {
		v := *t.LastActionAt
		t.LastActionAt = &v
	}
	return t
}

func cloneCapture(c NetworkCaptureRecord) NetworkCaptureRecord {
	if c.EndedAt != nil {
		v := *c.EndedAt
		c.EndedAt = &v
	}
	if c.WorkerPid != nil {
		v := *c.WorkerPid
		c.WorkerPid = &v
	}
	return c
}

func cloneArtifact(a NetworkArtifactRecord) NetworkArtifactRecord {
	if a.CaptureID != nil {
		v := *a.CaptureID
		a.CaptureID = &v
	}
	return a
}
