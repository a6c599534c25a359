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

// Package mountns manages preserved per-snap mount namespaces.
//
// A mount namespace is kept alive by bind mounting its nsfs file into the
// control directory. Subsequent invocations of the confinement helpers
// attach to the preserved namespace instead of constructing a fresh one.
// Access to the control directory is coordinated between processes with
// flock-based advisory locks: a master lock for operations spanning the
// whole directory and one lock per namespace.
package mountns

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zyga/snapd/dirs"
	"github.com/zyga/snapd/logger"
	"github.com/zyga/snapd/osutil"
	"github.com/zyga/snapd/osutil/safepath"
	"github.com/zyga/snapd/snap/naming"
)

const (
	// masterLockName is the advisory lock file protecting manager-wide
	// operations on the control directory.
	masterLockName = ".lock"

	// masterLockTimeout bounds the wait for the master lock. All the
	// programs touching the control directory hold it only briefly, so
	// not getting it quickly means something is stuck.
	masterLockTimeout = 5 * time.Second

	// mntExt is the extension of preserved namespace files.
	mntExt = ".mnt"
	// lockExt is the extension of per-namespace lock files.
	lockExt = ".lock"
)

// Allow mocking the mount related system calls in tests.
var (
	sysMount   = unix.Mount
	sysUnmount = unix.Unmount
	sysSetns   = unix.Setns
	sysUnshare = unix.Unshare
)

// Manager coordinates access to the namespace control directory.
type Manager struct {
	dirFd int
	lock  *osutil.FileLock

	bootstrapped bool
}

// NewManager creates, if necessary, and opens the namespace control
// directory along with its master lock file.
//
// None of the resources held by the manager leak to children processes.
func NewManager() (*Manager, error) {
	if err := os.MkdirAll(dirs.SnapRunNsDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create namespace control directory %s: %v", dirs.SnapRunNsDir, err)
	}
	dirFd, err := safepath.Open(dirs.SnapRunNsDir)
	if err != nil {
		return nil, fmt.Errorf("cannot open namespace control directory %s: %v", dirs.SnapRunNsDir, err)
	}
	lock, err := osutil.NewFileLock(filepath.Join(dirs.SnapRunNsDir, masterLockName))
	if err != nil {
		safepath.Close(dirFd)
		return nil, fmt.Errorf("cannot open master lock of namespace control directory: %v", err)
	}
	return &Manager{dirFd: dirFd, lock: lock}, nil
}

// Close releases the resources held by the manager.
func (m *Manager) Close() error {
	if m.lock != nil {
		m.lock.Close()
		m.lock = nil
	}
	if m.dirFd != -1 {
		safepath.Close(m.dirFd)
		m.dirFd = -1
	}
	return nil
}

// LockAll acquires the master lock of the namespace control directory.
//
// The lock is automatically released if the process dies. Acquisition is
// bounded so that a stuck peer surfaces as an error instead of a hang.
func (m *Manager) LockAll() error {
	if err := m.lock.TimedLock(masterLockTimeout); err != nil {
		return fmt.Errorf("cannot lock namespace control directory: %v", err)
	}
	return nil
}

// UnlockAll releases the master lock of the namespace control directory.
func (m *Manager) UnlockAll() error {
	if err := m.lock.Unlock(); err != nil {
		return fmt.Errorf("cannot unlock namespace control directory: %v", err)
	}
	return nil
}

// NamespaceNames returns the names of all the preserved namespaces.
//
// Namespaces are named after the snap they belong to. The caller should
// hold the master lock.
func (m *Manager) NamespaceNames() ([]string, error) {
	entries, err := os.ReadDir(dirs.SnapRunNsDir)
	if err != nil {
		return nil, fmt.Errorf("cannot enumerate namespace control directory: %v", err)
	}
	var names []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, mntExt) {
			names = append(names, strings.TrimSuffix(name, mntExt))
		}
	}
	return names, nil
}

// DiscardNamespace unmounts and removes the preserved namespace file of
// the given name.
//
// Discarding a namespace that does not exist or that was already
// unmounted is not an error, making the operation idempotent. A name that
// is not a valid snap name is reported as naming.InvalidSnapNameError so
// that bulk operations can skip it and continue. The work is done under
// the lock of the namespace group.
func (m *Manager) DiscardNamespace(name string) error {
	if err := naming.ValidateSnapName(name); err != nil {
		return err
	}
	lock, err := osutil.NewFileLock(filepath.Join(dirs.SnapRunNsDir, name+lockExt))
	if err != nil {
		return fmt.Errorf("cannot open lock file for namespace group %q: %v", name, err)
	}
	defer lock.Close()
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("cannot lock namespace group %q: %v", name, err)
	}
	path := filepath.Join(dirs.SnapRunNsDir, name+mntExt)
	err = sysUnmount(path, unix.UMOUNT_NOFOLLOW)
	if err != nil && err != unix.EINVAL && err != unix.ENOENT {
		return fmt.Errorf("cannot unmount preserved namespace %q: %v", name, err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove preserved namespace file %q: %v", name, err)
	}
	logger.Debugf("discarded preserved namespace %q", name)
	return nil
}

// controlDirIsPrivateMount scans the mount table for the control
// directory and reports whether it is a distinct mount point with private
// propagation.
func controlDirIsPrivateMount() (bool, error) {
	entries, err := osutil.LoadMountInfo()
	if err != nil {
		return false, fmt.Errorf("cannot parse mount table: %v", err)
	}
	for _, entry := range entries {
		if entry.MountDir != dirs.SnapRunNsDir {
			continue
		}
		for _, field := range entry.OptionalFields {
			if strings.HasPrefix(field, "shared:") {
				return false, nil
			}
		}
		return true, nil
	}
	return false, nil
}

// InitializeSharing prepares the control directory for storing preserved
// namespaces.
//
// The directory is bind mounted over itself and made private, unsharing
// it with all the peers, so that nsfs files bind mounted inside do not
// propagate anywhere. The operation runs under the master lock and is
// idempotent. The verification scan of the mount table is bounded to one
// retry after performing the mounts.
func (m *Manager) InitializeSharing() error {
	if m.bootstrapped {
		return nil
	}
	if err := m.LockAll(); err != nil {
		return err
	}
	defer m.UnlockAll()

	for attempt := 0; attempt < 2; attempt++ {
		ok, err := controlDirIsPrivateMount()
		if err != nil {
			return err
		}
		if ok {
			m.bootstrapped = true
			return nil
		}
		if attempt > 0 {
			break
		}
		logger.Debugf("bind mounting control directory %s over itself", dirs.SnapRunNsDir)
		if err := sysMount(dirs.SnapRunNsDir, dirs.SnapRunNsDir, "", unix.MS_BIND, ""); err != nil {
			return fmt.Errorf("cannot bind mount %s over itself: %v", dirs.SnapRunNsDir, err)
		}
		if err := sysMount("none", dirs.SnapRunNsDir, "", unix.MS_PRIVATE, ""); err != nil {
			return fmt.Errorf("cannot make %s a private mount: %v", dirs.SnapRunNsDir, err)
		}
	}
	return fmt.Errorf("cannot ensure %s is a private mount point", dirs.SnapRunNsDir)
}
