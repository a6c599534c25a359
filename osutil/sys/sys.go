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

package sys

import (
	"os"

	"golang.org/x/sys/unix"
)

// UserID is the type of the system value for user identity.
type UserID uint32

// GroupID is the type of the system value for group identity.
type GroupID uint32

const (
	// FlagID can be passed to chown-ish functions to mean "no change".
	FlagID = 1<<32 - 1
)

// Getuid returns the real user ID of the calling process.
func Getuid() UserID {
	return UserID(unix.Getuid())
}

// Geteuid returns the effective user ID of the calling process.
func Geteuid() UserID {
	return UserID(unix.Geteuid())
}

// Getgid returns the real group ID of the calling process.
func Getgid() GroupID {
	return GroupID(unix.Getgid())
}

// Getegid returns the effective group ID of the calling process.
func Getegid() GroupID {
	return GroupID(unix.Getegid())
}

// ChownPath changes the ownership of the given path.
func ChownPath(path string, uid UserID, gid GroupID) error {
	return os.Chown(path, int(uid), int(gid))
}

// FchownFile is like os.File.Chown but for UserID and GroupID.
func FchownFile(f *os.File, uid UserID, gid GroupID) error {
	return f.Chown(int(uid), int(gid))
}
