// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2019 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package osutil

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/retry.v1"
)

// FileLock describes a file system lock
type FileLock struct {
	file *os.File
}

// ErrAlreadyLocked is returned when an attempt to acquire a lock fails
// because the lock is already taken by someone else.
var ErrAlreadyLocked = errors.New("cannot acquire lock, already locked")

// ErrLockTimedOut is returned when a bounded lock acquisition gives up.
var ErrLockTimedOut = errors.New("cannot acquire lock, timed out")

// OpenExistingLockForReading opens an existing lock file given by "path".
// The lock is opened in read-only mode.
func OpenExistingLockForReading(path string) (*FileLock, error) {
	flag := unix.O_RDONLY | unix.O_CLOEXEC | unix.O_NOFOLLOW
	file, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	l := &FileLock{file: file}
	return l, nil
}

// NewFileLockWithMode creates and opens the lock file given by "path" with
// the given mode.
func NewFileLockWithMode(path string, mode os.FileMode) (*FileLock, error) {
	flag := unix.O_RDWR | unix.O_CREAT | unix.O_CLOEXEC | unix.O_NOFOLLOW
	file, err := os.OpenFile(path, flag, mode)
	if err != nil {
		return nil, err
	}
	l := &FileLock{file: file}
	return l, nil
}

// NewFileLock creates and opens the lock file given by "path" with mode 0600.
func NewFileLock(path string) (*FileLock, error) {
	return NewFileLockWithMode(path, 0600)
}

// Path returns the path of the lock file.
func (l *FileLock) Path() string {
	return l.file.Name()
}

// File returns the underlying file.
func (l *FileLock) File() *os.File {
	return l.file
}

// Close closes the lock, unlocking it automatically if needed.
func (l *FileLock) Close() error {
	return l.file.Close()
}

// Lock acquires an exclusive lock and blocks until the lock is free.
//
// Only one process can acquire an exclusive lock at a given time, preventing
// shared or exclusive locks from being acquired.
func (l *FileLock) Lock() error {
	return unix.Flock(int(l.file.Fd()), unix.LOCK_EX)
}

// ReadLock acquires a shared lock and blocks until the lock is free.
//
// Multiple processes can acquire a shared lock at the same time, unless an
// exclusive lock is held.
func (l *FileLock) ReadLock() error {
	return unix.Flock(int(l.file.Fd()), unix.LOCK_SH)
}

// TryLock acquires an exclusive lock and errors out if the lock is busy.
func (l *FileLock) TryLock() error {
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		err = ErrAlreadyLocked
	}
	return err
}

var flockRetryInterval = 10 * time.Millisecond

// TimedLock acquires an exclusive lock, giving up after the given timeout.
//
// The lock is attempted in non-blocking mode on an exponentially relaxed
// schedule so that a dead-but-slow peer does not stall us forever. The
// kernel releases advisory locks held by dead processes so the retry will
// eventually succeed unless the peer is truly stuck.
func (l *FileLock) TimedLock(timeout time.Duration) error {
	strategy := retry.LimitTime(timeout, retry.Exponential{
		Initial: flockRetryInterval,
		Factor:  1.5,
		MaxDelay: 100 * time.Millisecond,
	})
	for a := retry.Start(strategy, nil); a.Next(); {
		err := l.TryLock()
		if err == nil {
			return nil
		}
		if err != ErrAlreadyLocked {
			return err
		}
	}
	return ErrLockTimedOut
}

// Unlock releases an acquired lock.
func (l *FileLock) Unlock() error {
	return unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
}
