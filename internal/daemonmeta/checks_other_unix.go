//go:build !windows && !linux

package daemonmeta

import (
	"os"
	"syscall"
)

// hasRestrictivePermissions reports whether info grants no group/other
// access at all (no read, write or execute bit; POSIX mode bits).
func hasRestrictivePermissions(info os.FileInfo) bool {
	return info.Mode().Perm()&0o077 == 0
}

// pidBelongsToCurrentUser reports whether pid is alive. Non-Linux POSIX
// targets lack a portable /proc to confirm uid ownership without cgo, so
// this trusts the liveness check; the restrictive file-mode check above
// plus the token equality check in CleanupIfOwned are the stronger
// guards against cross-user interference on these platforms.
func pidBelongsToCurrentUser(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}
