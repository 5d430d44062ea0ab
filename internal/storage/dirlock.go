package storage

import (
	"os"
	"path/filepath"
	"syscall"

	docerrors "github.com/kartikbazzad/docstore/internal/errors"
)

// DirLock is an advisory, process-exclusive lock on a collection
// directory, held via flock(2) on a dedicated LOCK file inside it.
// Concurrent access from independent processes to the same collection
// directory is unsupported and may corrupt data; the lock turns that
// misuse into a refused open instead. The kernel releases the flock
// automatically when the holding process exits, so a crash never
// leaves a stale lock behind.
type DirLock struct {
	f *os.File
}

// AcquireDirLock takes a non-blocking exclusive flock on dir/LOCK.
// Returns docerrors.ErrDirectoryLocked if another holder (a different
// process, or another open descriptor in this one) already has it.
func AcquireDirLock(dir string) (*DirLock, error) {
	f, err := os.OpenFile(filepath.Join(dir, "LOCK"), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK || err == syscall.EAGAIN {
			return nil, docerrors.ErrDirectoryLocked
		}
		return nil, err
	}
	return &DirLock{f: f}, nil
}

// Release drops the flock and closes the descriptor. Idempotent.
func (l *DirLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
