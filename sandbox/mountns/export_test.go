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
	"os"
	"os/exec"
)

// NewTestGroup constructs a group around a running helper process, as
// CreateOrJoin would leave it, without touching any namespaces.
func NewTestGroup(name string, helper *exec.Cmd, eventFile *os.File) *Group {
	return &Group{
		name:           name,
		dirFd:          -1,
		helper:         helper,
		eventFile:      eventFile,
		shouldPopulate: true,
	}
}

var (
	ControlDirIsPrivateMount = controlDirIsPrivateMount
)

// SystemCalls encapsulates the mount related system calls performed by
// this package.
type SystemCalls interface {
	Mount(source string, target string, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
	Setns(fd int, nstype int) error
	Unshare(flags int) error
}

// MockSystemCalls replaces the real system calls with those of the argument.
func MockSystemCalls(sc SystemCalls) (restore func()) {
	oldSysMount := sysMount
	oldSysUnmount := sysUnmount
	oldSysSetns := sysSetns
	oldSysUnshare := sysUnshare

	sysMount = sc.Mount
	sysUnmount = sc.Unmount
	sysSetns = sc.Setns
	sysUnshare = sc.Unshare

	return func() {
		sysMount = oldSysMount
		sysUnmount = oldSysUnmount
		sysSetns = oldSysSetns
		sysUnshare = oldSysUnshare
	}
}
