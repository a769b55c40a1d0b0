//go:build windows

package daemonmeta

import "os"

// hasRestrictivePermissions is a no-op on Windows, whose ACL model does
// not map onto POSIX mode bits; the metadata file still inherits the
// user profile directory's ACLs.
func hasRestrictivePermissions(info os.FileInfo) bool {
	return true
}

// pidBelongsToCurrentUser reports whether pid refers to a process at
// all; ownership verification is delegated to CleanupIfOwned's token
// check, since os/syscall alone doesn't expose per-process owner SIDs.
func pidBelongsToCurrentUser(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
