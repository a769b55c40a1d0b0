// Package filelock implements the advisory cross-process lock the state
// store and the client's daemon spawn path serialize on. It is
// implemented as exclusive creation of a sidecar file containing the
// holder's pid, with exponential backoff + jitter while waiting and
// stale-holder detection so a crashed holder's lock is eventually
// reclaimed instead of wedging every future acquirer.
package filelock

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/surfwright/surfwright/internal/errs"
)

const (
	initialBackoff = 10 * time.Millisecond
	maxBackoff     = 200 * time.Millisecond
	// staleStrikeThreshold is how many consecutive observations of a dead
	// holder pid are required before the lock file is reclaimed.
	staleStrikeThreshold = 2
)

// Handle represents a held lock. Release must be called exactly once.
type Handle struct {
	path string
}

// Acquire blocks (subject to timeout) until the lock at path is held by
// this process, or fails with errs.ErrStateLockTimeout /
// errs.ErrStateLockIO.
func Acquire(path string, timeout time.Duration) (*Handle, error) {
	deadline := time.Now().Add(timeout)
	backoff := initialBackoff
	staleStrikes := 0

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			closeErr := f.Close()
			if werr != nil || closeErr != nil {
				_ = os.Remove(path)
				return nil, errs.New(errs.ErrStateLockIO, "write lock holder pid", errs.WithContext("lockPath", path))
			}
			return &Handle{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, errs.New(errs.ErrStateLockIO, fmt.Sprintf("create lock file: %v", err), errs.WithContext("lockPath", path))
		}

		holderPid, holderKnown := readHolderPid(path)
		if holderKnown && !processAlive(holderPid) {
			staleStrikes++
			if staleStrikes >= staleStrikeThreshold {
				_ = os.Remove(path)
				staleStrikes = 0
				continue
			}
		} else {
			staleStrikes = 0
		}

		if time.Now().After(deadline) {
			info, statErr := os.Stat(path)
			ageMs := int64(0)
			if statErr == nil {
				ageMs = time.Since(info.ModTime()).Milliseconds()
			}
			opts := []errs.Option{
				errs.WithContext("lockPath", path),
				errs.WithContext("lockAgeMs", strconv.FormatInt(ageMs, 10)),
			}
			if holderKnown {
				opts = append(opts, errs.WithContext("holderPidIfKnown", strconv.Itoa(holderPid)))
			}
			return nil, errs.New(errs.ErrStateLockTimeout, "lock not acquired within deadline", opts...)
		}

		sleepWithJitter(backoff)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Release removes the lock file, making it available to the next
// acquirer. It is idempotent.
func (h *Handle) Release() error {
	if h == nil {
		return nil
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return errs.New(errs.ErrStateLockIO, fmt.Sprintf("release lock: %v", err), errs.WithContext("lockPath", h.path))
	}
	return nil
}

func readHolderPid(path string) (pid int, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func sleepWithJitter(base time.Duration) {
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	time.Sleep(base/2 + jitter/2)
}
