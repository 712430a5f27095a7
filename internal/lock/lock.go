// Package lock serializes access to a store file across processes with
// flock(2) on a sibling lock file.
//
// flock is advisory and applies to an inode, not a pathname. Every cooperating
// process must take the lock for it to have effect, and the lock file must not
// be replaced or unlinked while locks may be held.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrWouldBlock is returned when the lock is held elsewhere and could not
	// be acquired before the timeout.
	ErrWouldBlock = errors.New("lock would block")

	// errInodeMismatch means the lock file was replaced between open and
	// flock. Callers retry.
	errInodeMismatch = errors.New("inode mismatch")
)

// Mode selects a shared or an exclusive lock.
type Mode int

// Lock modes.
const (
	Shared    Mode = unix.LOCK_SH
	Exclusive Mode = unix.LOCK_EX
)

func (m Mode) String() string {
	if m == Shared {
		return "shared"
	}

	return "exclusive"
}

// Suffix is appended to a store path to form its lock file path.
const Suffix = ".lock"

const (
	filePerm = 0o600
	dirPerm  = 0o755

	minBackoff = time.Millisecond
	maxBackoff = 25 * time.Millisecond
)

// Lock is a held lock. Release it with [Lock.Close].
type Lock struct {
	mu   sync.Mutex
	file *os.File
	mode Mode
}

// PathFor returns the lock file path guarding storePath.
func PathFor(storePath string) string {
	return storePath + Suffix
}

// Acquire takes a lock of the given mode on path, creating the file and its
// parent directories when needed.
//
// Acquisition polls with non-blocking flock calls and a 1ms to 25ms backoff.
// A timeout of zero tries once. It gives up with [ErrWouldBlock] when the
// timeout passes and with ctx.Err() when ctx is done.
func Acquire(ctx context.Context, path string, mode Mode, timeout time.Duration) (*Lock, error) {
	if timeout < 0 {
		return nil, fmt.Errorf("acquire %s lock: negative timeout %s", mode, timeout)
	}

	deadline := time.Now().Add(timeout)
	backoff := minBackoff

	for {
		file, err := openLockFile(path, mode)
		if err != nil {
			return nil, fmt.Errorf("opening lockfile: %w", err)
		}

		err = acquire(file, path, mode)
		if err == nil {
			return &Lock{file: file, mode: mode}, nil
		}

		_ = file.Close()

		if !errors.Is(err, ErrWouldBlock) && !errors.Is(err, errInodeMismatch) {
			return nil, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if timeout == 0 {
				return nil, fmt.Errorf("%w: %s held by another process", ErrWouldBlock, path)
			}

			return nil, fmt.Errorf("%w: timed out after %s waiting for %s", ErrWouldBlock, timeout, path)
		}

		timer := time.NewTimer(min(backoff, remaining))

		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, fmt.Errorf("acquire %s lock: %w", mode, ctx.Err())
		case <-timer.C:
		}

		backoff = min(backoff*2, maxBackoff)
	}
}

// Mode reports the mode the lock was taken with.
func (lk *Lock) Mode() Mode {
	return lk.mode
}

// Close releases the lock and closes the file. It is idempotent.
func (lk *Lock) Close() error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.file == nil {
		return nil
	}

	unlockErr := flockRetryEINTR(int(lk.file.Fd()), unix.LOCK_UN)
	closeErr := lk.file.Close()
	lk.file = nil

	if unlockErr != nil {
		unlockErr = fmt.Errorf("unlocking lock: %w", unlockErr)
	}

	if closeErr != nil {
		closeErr = fmt.Errorf("closing lock fd: %w", closeErr)
	}

	return errors.Join(unlockErr, closeErr)
}

// acquire flocks file without blocking and checks that it is still the file
// at path. On failure the file is unlocked but left open.
func acquire(file *os.File, path string, mode Mode) error {
	fd := int(file.Fd())

	err := flockRetryEINTR(fd, int(mode)|unix.LOCK_NB)
	if err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
			return ErrWouldBlock
		}

		return fmt.Errorf("flock: %w", err)
	}

	match, err := sameInode(file, path)
	if err != nil || !match {
		_ = flockRetryEINTR(fd, unix.LOCK_UN)

		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("verifying inode match: %w", err)
		}

		return errInodeMismatch
	}

	return nil
}

func openLockFile(path string, mode Mode) (*os.File, error) {
	flag := os.O_RDWR
	if mode == Shared {
		flag = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flag|os.O_CREATE, filePerm)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return f, err
	}

	err = os.MkdirAll(filepath.Dir(path), dirPerm)
	if err != nil {
		return nil, err
	}

	return os.OpenFile(path, flag|os.O_CREATE, filePerm)
}

// sameInode compares (dev, inode) of the open descriptor with the file
// currently at path. flock locks inodes, so a lock on a replaced file does not
// guard the path.
func sameInode(f *os.File, path string) (bool, error) {
	var open, current unix.Stat_t

	err := unix.Fstat(int(f.Fd()), &open)
	if err != nil {
		return false, fmt.Errorf("fstat: %w", err)
	}

	err = unix.Stat(path, &current)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, os.ErrNotExist
		}

		return false, fmt.Errorf("stat: %w", err)
	}

	return open.Dev == current.Dev && open.Ino == current.Ino, nil
}

// flockRetryEINTR retries flock when a signal interrupts it, with a cap so a
// signal storm cannot spin forever.
func flockRetryEINTR(fd int, how int) error {
	const maxEINTRRetries = 10000

	var err error
	for range maxEINTRRetries {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
