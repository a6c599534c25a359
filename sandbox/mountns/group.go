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

package mountns

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/zyga/snapd/dirs"
	"github.com/zyga/snapd/logger"
	"github.com/zyga/snapd/osutil"
	"github.com/zyga/snapd/osutil/safepath"
)

// GroupFlags alter how OpenGroup behaves.
type GroupFlags int

const (
	// FailGracefully makes OpenGroup return ErrNoControlDir instead of
	// a fatal error when the control directory does not exist.
	FailGracefully GroupFlags = 1 << iota
)

// ErrNoControlDir is reported by OpenGroup with FailGracefully when the
// namespace control directory does not exist.
var ErrNoControlDir = errors.New("namespace control directory does not exist")

// Group represents the mount namespace shared by all the processes of one
// snap.
type Group struct {
	name  string
	dirFd int
	lock  *osutil.FileLock

	// preserved is true once this process attached to an already
	// preserved namespace.
	preserved bool
	// shouldPopulate is true once this process unshared a fresh
	// namespace that it now has to populate and then preserve.
	shouldPopulate bool

	helper    *exec.Cmd
	eventFile *os.File
}

// OpenGroup opens the namespace group with the given name.
//
// This opens and keeps descriptors to the control directory and to the
// per-group lock file, creating the latter if necessary. The lock is not
// acquired until Lock is called.
func OpenGroup(name string, flags GroupFlags) (*Group, error) {
	dirFd, err := safepath.Open(dirs.SnapRunNsDir)
	if err != nil {
		if flags&FailGracefully != 0 && errors.Is(err, unix.ENOENT) {
			return nil, ErrNoControlDir
		}
		return nil, fmt.Errorf("cannot open namespace control directory %s: %v", dirs.SnapRunNsDir, err)
	}
	lock, err := osutil.NewFileLock(filepath.Join(dirs.SnapRunNsDir, name+lockExt))
	if err != nil {
		safepath.Close(dirFd)
		return nil, fmt.Errorf("cannot open lock file for namespace group %q: %v", name, err)
	}
	return &Group{name: name, dirFd: dirFd, lock: lock}, nil
}

// Name returns the name of the namespace group.
func (g *Group) Name() string {
	return g.name
}

// Lock acquires the exclusive lock protecting the namespace group.
//
// CreateOrJoin, ShouldPopulate, PreservePopulated and DiscardPreserved
// must only be called while the lock is held. If the process dies the
// kernel releases the lock.
func (g *Group) Lock() error {
	if err := g.lock.Lock(); err != nil {
		return fmt.Errorf("cannot lock namespace group %q: %v", g.name, err)
	}
	return nil
}

// Unlock releases the exclusive lock protecting the namespace group.
func (g *Group) Unlock() error {
	if err := g.lock.Unlock(); err != nil {
		return fmt.Errorf("cannot unlock namespace group %q: %v", g.name, err)
	}
	return nil
}

// CreateOrJoin attaches the process to the namespace of this group,
// creating it if necessary.
//
// If a preserved namespace exists the process simply attaches to it and
// ShouldPopulate subsequently returns false. Otherwise an event notifier
// is created and a helper process is started to capture the namespace,
// the calling process detaches from the current mount namespace, and
// ShouldPopulate returns true. The caller should then populate the fresh
// namespace and call PreservePopulated.
//
// The caller must hold the group lock.
func (g *Group) CreateOrJoin() error {
	mntFd, err := safepath.OpenChild(g.dirFd, g.name+mntExt, unix.O_RDONLY, 0)
	if err == nil {
		defer safepath.Close(mntFd)
		// Hold the thread: namespace membership is per-thread and the
		// goroutine must not migrate away from the attached one.
		runtime.LockOSThread()
		if err := sysSetns(mntFd, unix.CLONE_NEWNS); err != nil {
			runtime.UnlockOSThread()
			return fmt.Errorf("cannot attach to preserved namespace of group %q: %v", g.name, err)
		}
		logger.Debugf("attached to preserved namespace of group %q", g.name)
		g.preserved = true
		return nil
	}

	eventFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("cannot create event notifier for namespace group %q: %v", g.name, err)
	}
	eventFile := os.NewFile(uintptr(eventFd), "eventfd")

	helper, err := startCaptureHelper(g.name, eventFile)
	if err != nil {
		eventFile.Close()
		return fmt.Errorf("cannot start capture helper for namespace group %q: %v", g.name, err)
	}

	runtime.LockOSThread()
	if err := sysUnshare(unix.CLONE_NEWNS); err != nil {
		runtime.UnlockOSThread()
		eventFile.Close()
		helper.Process.Kill()
		helper.Wait()
		return fmt.Errorf("cannot detach from current mount namespace: %v", err)
	}
	logger.Debugf("created new mount namespace for group %q", g.name)
	g.helper = helper
	g.eventFile = eventFile
	g.shouldPopulate = true
	return nil
}

// ShouldPopulate returns true when the process is in a freshly unshared
// namespace that must be populated and preserved.
//
// The caller must hold the group lock.
func (g *Group) ShouldPopulate() bool {
	return g.shouldPopulate
}

// Preserved returns true when the process attached to an already
// preserved namespace.
func (g *Group) Preserved() bool {
	return g.preserved
}

// PreservePopulated signals the helper process to capture the populated
// namespace and waits for it to finish.
//
// Technically this writes to the event notifier which wakes the helper;
// the helper bind mounts the nsfs file of this process into the control
// directory and exits. A helper that exits unsuccessfully is fatal for
// the caller since without the capture the namespace would silently not
// be shared.
//
// The caller must hold the group lock.
func (g *Group) PreservePopulated() error {
	if g.helper == nil || g.eventFile == nil {
		return fmt.Errorf("cannot preserve namespace group %q: nothing to preserve", g.name)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := g.eventFile.Write(buf[:]); err != nil {
		return fmt.Errorf("cannot signal capture helper of namespace group %q: %v", g.name, err)
	}
	err := g.helper.Wait()
	g.helper = nil
	g.eventFile.Close()
	g.eventFile = nil
	g.shouldPopulate = false
	if err != nil {
		return fmt.Errorf("capture helper of namespace group %q failed: %v", g.name, err)
	}
	g.preserved = true
	logger.Debugf("preserved namespace of group %q", g.name)
	return nil
}

// DiscardPreserved unmounts the preserved namespace file of this group.
//
// The caller must hold the group lock.
func (g *Group) DiscardPreserved() error {
	path := filepath.Join(dirs.SnapRunNsDir, g.name+mntExt)
	err := sysUnmount(path, unix.UMOUNT_NOFOLLOW)
	if err != nil && err != unix.EINVAL && err != unix.ENOENT {
		return fmt.Errorf("cannot unmount preserved namespace of group %q: %v", g.name, err)
	}
	return nil
}

// Close releases all the resources held by the group.
//
// A helper process that is, against the rules, still alive at this point
// is killed and reaped so that no descriptors or zombies leak.
func (g *Group) Close() error {
	if g.helper != nil {
		g.helper.Process.Kill()
		g.helper.Wait()
		g.helper = nil
	}
	if g.eventFile != nil {
		g.eventFile.Close()
		g.eventFile = nil
	}
	if g.lock != nil {
		g.lock.Close()
		g.lock = nil
	}
	if g.dirFd != -1 {
		safepath.Close(g.dirFd)
		g.dirFd = -1
	}
	return nil
}
