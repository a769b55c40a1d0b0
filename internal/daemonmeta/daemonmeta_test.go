package daemonmeta

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishReadValidRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.json")
	token, err := NewToken()
	require.NoError(t, err)

	meta := Meta{Pid: os.Getpid(), Port: 17890, Token: token, StartedAt: time.Now()}
	require.NoError(t, Publish(path, meta))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, ok := ReadValid(path)
	require.True(t, ok)
	require.Equal(t, meta.Pid, got.Pid)
	require.Equal(t, meta.Port, got.Port)
	require.Equal(t, token, got.Token)
	require.Equal(t, Host, got.Host)
}

func TestReadValidRejectsStalePid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.json")
	require.NoError(t, Publish(path, Meta{Pid: 999999, Port: 1, Token: "abc", StartedAt: time.Now()}))

	_, ok := ReadValid(path)
	require.False(t, ok)
	require.NoFileExists(t, path)
}

func TestReadValidRejectsLoosePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.json")
	require.NoError(t, Publish(path, Meta{Pid: os.Getpid(), Port: 1, Token: "abc", StartedAt: time.Now()}))
	require.NoError(t, os.Chmod(path, 0o644))

	_, ok := ReadValid(path)
	require.False(t, ok)
	require.NoFileExists(t, path)
}

func TestCleanupIfOwnedRequiresPidAndToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.json")
	require.NoError(t, Publish(path, Meta{Pid: os.Getpid(), Port: 1, Token: "tok-a", StartedAt: time.Now()}))

	require.NoError(t, CleanupIfOwned(path, "wrong-token"))
	require.FileExists(t, path)

	require.NoError(t, CleanupIfOwned(path, "tok-a"))
	require.NoFileExists(t, path)
}
