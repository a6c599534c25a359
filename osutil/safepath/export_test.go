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

package safepath

var (
	SplitIntoSegments = splitIntoSegments
	ValidName         = validName
)

// SystemCalls encapsulates the system interactions performed by this package.
type SystemCalls interface {
	Open(path string, flags int, mode uint32) (int, error)
	Openat(dirfd int, path string, flags int, mode uint32) (int, error)
	Mkdirat(dirfd int, path string, mode uint32) error
	Fchown(fd int, uid int, gid int) error
	Close(fd int) error
	Write(fd int, buf []byte) (int, error)
}

// MockSystemCalls replaces the real system calls with those of the argument.
func MockSystemCalls(sc SystemCalls) (restore func()) {
	oldSysOpen := sysOpen
	oldSysOpenat := sysOpenat
	oldSysMkdirat := sysMkdirat
	oldSysFchown := sysFchown
	oldSysClose := sysClose
	oldSysWrite := sysWrite

	sysOpen = sc.Open
	sysOpenat = sc.Openat
	sysMkdirat = sc.Mkdirat
	sysFchown = sc.Fchown
	sysClose = sc.Close
	sysWrite = sc.Write

	return func() {
		sysOpen = oldSysOpen
		sysOpenat = oldSysOpenat
		sysMkdirat = oldSysMkdirat
		sysFchown = oldSysFchown
		sysClose = oldSysClose
		sysWrite = oldSysWrite
	}
}
