// Package lock guards the runtime directory with an flock(2) so that
// only one agent drives the ASIC at a time.
//
// Two agents racing bf_switchd against the same device leave the
// pipeline in an undefined state, so the service object takes the lock
// when it is constructed and holds it for the life of the process.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("another stratum instance holds the runtime lock")

// Instance is a held lock. The zero value is not usable; obtain one
// with Acquire.
type Instance struct {
	f    *os.File
	path string
}

// Acquire takes an exclusive, non-blocking lock on path, creating the
// file if needed, and records the caller's pid in it. It fails with
// ErrLocked when the lock is already held.
func Acquire(path string) (*Instance, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	// The pid is informational; a failure to write it does not lose the lock.
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}

	return &Instance{f: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Instance) Path() string { return l.path }

// FD returns the raw lock file descriptor (for logging/diagnostics).
func (l *Instance) FD() int { return int(l.f.Fd()) }

// Release drops the lock. Safe to call more than once and on nil.
func (l *Instance) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
