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

// Package dirs holds the locations the confinement helpers operate on.
// All paths are derived from GlobalRootDir so that tests can redirect the
// whole tree with SetRootDir.
package dirs

import (
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// GlobalRootDir is the root directory of the filesystem tree that
	// everything below is resolved against. It is "/" outside of tests.
	GlobalRootDir string

	// SnapRunNsDir is the control directory for preserved mount
	// namespaces and the advisory locks protecting them.
	SnapRunNsDir string

	// CgroupDir is the mount point of the cgroup filesystem(s).
	CgroupDir string
	// FreezerCgroupDir is the root of the freezer cgroup hierarchy.
	FreezerCgroupDir string
	// DevicesCgroupDir is the root of the device cgroup hierarchy.
	DevicesCgroupDir string

	// DevDir is where device nodes live.
	DevDir string

	// OsReleasePath is the os-release file used for distribution
	// classification.
	OsReleasePath string
	// MetaSnapYamlPath identifies core systems built from a snap.
	MetaSnapYamlPath string

	// SnapMountDir is the canonical location of mounted snaps.
	SnapMountDir string
	// AltSnapMountDir is used when distribution policy keeps /snap away.
	AltSnapMountDir string

	// ProcSelfMountInfo describes the mount table of this process.
	ProcSelfMountInfo string
)

// SetRootDir allows settings a new global root directory, this is useful
// for testing.
func SetRootDir(rootdir string) {
	if rootdir == "" {
		rootdir = "/"
	}
	GlobalRootDir = rootdir

	SnapRunNsDir = filepath.Join(rootdir, "/run/snapd/ns")

	CgroupDir = filepath.Join(rootdir, "/sys/fs/cgroup")
	FreezerCgroupDir = filepath.Join(CgroupDir, "freezer")
	DevicesCgroupDir = filepath.Join(CgroupDir, "devices")

	DevDir = filepath.Join(rootdir, "/dev")

	OsReleasePath = filepath.Join(rootdir, "/etc/os-release")
	MetaSnapYamlPath = filepath.Join(rootdir, "/meta/snap.yaml")

	SnapMountDir = filepath.Join(rootdir, "/snap")
	AltSnapMountDir = filepath.Join(rootdir, "/var/lib/snapd/snap")

	ProcSelfMountInfo = filepath.Join(rootdir, "/proc/self/mountinfo")
}

// StripRootDir strips the custom global root directory from the specified argument.
func StripRootDir(dir string) string {
	if !filepath.IsAbs(dir) {
		panic(fmt.Sprintf("supplied path is not absolute %q", dir))
	}
	if !strings.HasPrefix(dir, GlobalRootDir) {
		panic(fmt.Sprintf("supplied path is not related to global root %q", dir))
	}
	result, err := filepath.Rel(GlobalRootDir, dir)
	if err != nil {
		panic(err)
	}
	return "/" + result
}

func init() {
	// init the global directories at startup
	SetRootDir("/")
}
