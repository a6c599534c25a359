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

// Package safepath traverses privileged-writable or world-writable trees
// without ever following a symbolic link.
//
// The helpers using this package run with elevated permissions on
// filesystem hierarchies that are partially under the control of
// unprivileged processes. Composing paths as strings and handing them to
// open(2) in one go would allow a symlink planted between two operations
// to redirect the effect anywhere in the filesystem. Instead every
// descent happens one component at a time, relative to an already-opened
// directory descriptor, with O_NOFOLLOW set at each step.
package safepath

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/zyga/snapd/osutil/sys"
)

// Allow mocking the system calls in tests.
var (
	sysOpen    = unix.Open
	sysOpenat  = unix.Openat
	sysMkdirat = unix.Mkdirat
	sysFchown  = unix.Fchown
	sysClose   = unix.Close
	sysWrite   = unix.Write
)

// openDirFlags is used for every intermediate directory descriptor. With
// O_PATH the descriptor cannot be read from or written to, it can only
// anchor further *at() calls.
const openDirFlags = unix.O_PATH | unix.O_DIRECTORY | unix.O_NOFOLLOW | unix.O_CLOEXEC

func splitIntoSegments(path string) ([]string, error) {
	if path != strings.TrimSpace(path) {
		return nil, fmt.Errorf("cannot split path %q: no spaces allowed", path)
	}
	segments := strings.FieldsFunc(path, func(c rune) bool { return c == '/' })
	for _, segment := range segments {
		if segment == "." || segment == ".." {
			return nil, fmt.Errorf("cannot split path %q: no dot or dot-dot allowed", path)
		}
	}
	return segments, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("cannot use %q as path component", name)
	}
	if strings.ContainsRune(name, '/') {
		return fmt.Errorf("cannot use name %q containing the slash character", name)
	}
	return nil
}

// Open opens the directory given by the absolute path.
//
// The path is descended one component at a time. Every step refuses to
// traverse a symbolic link and requires the opened object to be a
// directory. The returned descriptor has O_PATH and O_CLOEXEC set.
func Open(path string) (int, error) {
	if !strings.HasPrefix(path, "/") {
		return -1, fmt.Errorf("cannot open %q: path is not absolute", path)
	}
	segments, err := splitIntoSegments(path)
	if err != nil {
		return -1, err
	}
	fd, err := sysOpen("/", openDirFlags, 0)
	if err != nil {
		return -1, fmt.Errorf("cannot open root directory: %v", err)
	}
	for _, segment := range segments {
		newFd, err := sysOpenat(fd, segment, openDirFlags, 0)
		sysClose(fd)
		if err != nil {
			return -1, fmt.Errorf("cannot open directory %q: %w", segment, err)
		}
		fd = newFd
	}
	return fd, nil
}

// OpenChild opens the object called name inside the directory referred to
// by dirfd.
//
// The name must be a single path component. O_NOFOLLOW and O_CLOEXEC are
// added to the given flags unconditionally.
func OpenChild(dirfd int, name string, flags int, perm uint32) (int, error) {
	if err := validName(name); err != nil {
		return -1, err
	}
	fd, err := sysOpenat(dirfd, name, flags|unix.O_NOFOLLOW|unix.O_CLOEXEC, perm)
	if err != nil {
		return -1, fmt.Errorf("cannot open %q: %w", name, err)
	}
	return fd, nil
}

// OpenChildDir opens the directory called name inside the directory
// referred to by dirfd, with the same flags as Open.
func OpenChildDir(dirfd int, name string) (int, error) {
	return OpenChild(dirfd, name, openDirFlags, 0)
}

// MkdirChild creates a directory called name inside the directory
// referred to by dirfd. A directory that already exists is not an error.
func MkdirChild(dirfd int, name string, perm uint32) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := sysMkdirat(dirfd, name, perm); err != nil && err != unix.EEXIST {
		return fmt.Errorf("cannot create directory %q: %v", name, err)
	}
	return nil
}

// WriteAll writes the whole buffer to the given descriptor.
//
// A short write is reported as an error.
func WriteAll(fd int, data []byte) error {
	n, err := sysWrite(fd, data)
	if err != nil {
		return err
	}
	if n < len(data) {
		return fmt.Errorf("cannot complete write: short write")
	}
	return nil
}

// Chown changes the ownership of the object referred to by fd.
func Chown(fd int, uid sys.UserID, gid sys.GroupID) error {
	return sysFchown(fd, int(uid), int(gid))
}

// ChownRoot resets the ownership of the object referred to by fd to
// root:root. This only has effect when running with effective uid 0.
func ChownRoot(fd int) error {
	return Chown(fd, 0, 0)
}

// Close closes a descriptor obtained from this package.
func Close(fd int) error {
	return sysClose(fd)
}
