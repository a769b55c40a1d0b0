// Package daemonmeta publishes and validates the daemon's discovery
// file: {pid, host, port, token, startedAt}. All parsing and validation
// lives here; the daemon launcher and worker cleanup must not
// reimplement these rules independently.
package daemonmeta

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// CurrentVersion is the schema version this binary writes and expects.
const CurrentVersion = 1

// Host is the only host the daemon ever binds to: loopback only, no
// remote or networked access.
const Host = "127.0.0.1"

// Meta is the published daemon discovery record.
type Meta struct {
	Version   int       `json:"version"`
	Pid       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Token     string    `json:"token"`
	StartedAt time.Time `json:"startedAt"`
}

// NewToken generates a >=128-bit random hex token.
func NewToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate daemon token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Publish writes meta to path atomically with mode 0600, excluding
// group/other read.
func Publish(path string, meta Meta) error {
	meta.Version = CurrentVersion
	meta.Host = Host

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create daemon metadata dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithStaticPermissions(0o600),
	)
	if err != nil {
		return fmt.Errorf("create pending daemon metadata file: %w", err)
	}
	defer pending.Cleanup() //nolint:errcheck

	enc := json.NewEncoder(pending)
	if err := enc.Encode(meta); err != nil {
		return fmt.Errorf("encode daemon metadata: %w", err)
	}
	return pending.CloseAtomicallyReplace()
}

// ReadValid returns meta only if every validity check passes:
// restrictive file mode, matching version, positive port/pid, non-empty
// token, and pid owned by the current user. On any failure the file is
// removed (it is presumed stale) and ok is false.
func ReadValid(path string) (meta Meta, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		return Meta{}, false
	}
	if !hasRestrictivePermissions(info) {
		_ = os.Remove(path)
		return Meta{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		_ = os.Remove(path)
		return Meta{}, false
	}

	if err := json.Unmarshal(data, &meta); err != nil {
		_ = os.Remove(path)
		return Meta{}, false
	}

	if meta.Version != CurrentVersion || meta.Port <= 0 || meta.Pid <= 0 || meta.Token == "" {
		_ = os.Remove(path)
		return Meta{}, false
	}

	if !pidBelongsToCurrentUser(meta.Pid) {
		_ = os.Remove(path)
		return Meta{}, false
	}

	return meta, true
}

// CleanupIfOwned removes path only when the calling process is both the
// daemon that published it (pid match) and holds the matching token.
func CleanupIfOwned(path string, token string) error {
	meta, ok := ReadValid(path)
	if !ok {
		return nil
	}
	if meta.Pid != os.Getpid() || meta.Token != token {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cleanup daemon metadata: %w", err)
	}
	return nil
}
