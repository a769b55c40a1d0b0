// Package statepaths derives canonical on-disk locations for runtime
// artifacts from a root directory.
package statepaths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StateDirEnv overrides the default runtime state root.
const StateDirEnv = "SURFWRIGHT_STATE_DIR"

const xdgStateHomeEnv = "XDG_STATE_HOME"
const appName = "surfwright"

// Paths bundles every canonical location derived from one root.
type Paths struct {
	Root string
}

// Resolve determines the runtime state root. Resolution order:
//  1. override (if non-empty; normally SURFWRIGHT_STATE_DIR)
//  2. XDG_STATE_HOME/surfwright (if XDG_STATE_HOME is set)
//  3. os.UserConfigDir()/surfwright
func Resolve(override string) (Paths, error) {
	if strings.TrimSpace(override) != "" {
		root, err := normalizePath(override)
		if err != nil {
			return Paths{}, err
		}
		return Paths{Root: root}, nil
	}

	if xdg := strings.TrimSpace(os.Getenv(xdgStateHomeEnv)); xdg != "" {
		root, err := normalizePath(xdg)
		if err != nil {
			return Paths{}, err
		}
		return Paths{Root: filepath.Join(root, appName)}, nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("cannot determine user config directory: %w", err)
	}
	root, err := normalizePath(configDir)
	if err != nil {
		return Paths{}, err
	}
	return Paths{Root: filepath.Join(root, appName)}, nil
}

// EnsureRoot creates the root directory (and parents) with mode 0700 if
// it does not already exist. The helpers below join fixed names under
// Root; ProfileDir and the capture/artifact helpers also join a
// caller-supplied id, which they do not sanitize, so their result stays
// under Root only when that id contains no path separators or "..".
func (p Paths) EnsureRoot() error {
	return os.MkdirAll(p.Root, 0o700)
}

// StateFile is the canonical state document path.
func (p Paths) StateFile() string { return filepath.Join(p.Root, "state.json") }

// LockFile is the state document's lock sidecar.
func (p Paths) LockFile() string { return filepath.Join(p.Root, "state.json.lock") }

// DaemonMetaFile is the daemon metadata file.
func (p Paths) DaemonMetaFile() string { return filepath.Join(p.Root, "daemon.json") }

// SpawnLockFile coordinates concurrent daemon spawners.
func (p Paths) SpawnLockFile() string { return filepath.Join(p.Root, "daemon.spawn.lock") }

// ProfilesRoot is the parent of all managed browser user-data directories.
func (p Paths) ProfilesRoot() string { return filepath.Join(p.Root, "profiles") }

// ProfileDir returns the managed user-data directory for one session.
// sessionId is assumed already sanitized to [A-Za-z0-9._-] by the
// caller; this function does not re-derive trust from an unsanitized
// value.
func (p Paths) ProfileDir(sessionID string) string {
	return filepath.Join(p.ProfilesRoot(), sessionID)
}

// CapturesRoot is the parent of all capture coordination files.
func (p Paths) CapturesRoot() string { return filepath.Join(p.Root, "captures") }

// CaptureSignalFile is the stop-signal file a capture worker watches.
func (p Paths) CaptureSignalFile(captureID string) string {
	return filepath.Join(p.CapturesRoot(), captureID+".signal")
}

// CaptureDoneFile marks a capture worker's completion.
func (p Paths) CaptureDoneFile(captureID string) string {
	return filepath.Join(p.CapturesRoot(), captureID+".done")
}

// CaptureResultFile holds a finished capture's raw result payload.
func (p Paths) CaptureResultFile(captureID string) string {
	return filepath.Join(p.CapturesRoot(), captureID+".result.json")
}

// ArtifactsRoot is the parent of all persisted export artifacts.
func (p Paths) ArtifactsRoot() string { return filepath.Join(p.Root, "artifacts") }

// NetworkArtifactFile is a HAR export's on-disk path.
func (p Paths) NetworkArtifactFile(artifactID string) string {
	return filepath.Join(p.ArtifactsRoot(), "network", artifactID+".har")
}

func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(absPath), nil
}
