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

package cgroup

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/zyga/snapd/dirs"
	"github.com/zyga/snapd/logger"
	"github.com/zyga/snapd/osutil/safepath"
)

// FreezerState is the value written to the freezer.state control file.
type FreezerState string

const (
	// Frozen suspends every process in the cgroup.
	Frozen FreezerState = "FROZEN"
	// Thawed resumes every process in the cgroup.
	Thawed FreezerState = "THAWED"
)

func freezerHierarchyName(snapName string) string {
	return fmt.Sprintf("snap.%s", snapName)
}

// Allow mocking in tests, where resetting ownership to root:root is not
// possible.
var chownRootFd = safepath.ChownRoot

// MockChownRootFd replaces the function resetting directory ownership,
// for testing.
func MockChownRootFd(fn func(fd int) error) (restore func()) {
	old := chownRootFd
	chownRootFd = fn
	return func() {
		chownRootFd = old
	}
}

// JoinFreezerCgroup moves the given process to the freezer hierarchy of
// the given snap, creating the hierarchy if necessary.
//
// Since the helpers may run from a setuid but not setgid executable the
// hierarchy directory ownership is reset to root:root.
func JoinFreezerCgroup(snapName string, pid int) error {
	hierarchy := freezerHierarchyName(snapName)

	cgroupFd, err := safepath.Open(dirs.FreezerCgroupDir)
	if err != nil {
		return fmt.Errorf("cannot open freezer cgroup (%s): %v", dirs.FreezerCgroupDir, err)
	}
	defer safepath.Close(cgroupFd)

	if err := safepath.MkdirChild(cgroupFd, hierarchy, 0755); err != nil {
		return fmt.Errorf("cannot create freezer cgroup hierarchy for snap %q: %v", snapName, err)
	}
	hierarchyFd, err := safepath.OpenChildDir(cgroupFd, hierarchy)
	if err != nil {
		return fmt.Errorf("cannot open freezer cgroup hierarchy for snap %q: %v", snapName, err)
	}
	defer safepath.Close(hierarchyFd)

	if err := chownRootFd(hierarchyFd); err != nil {
		return fmt.Errorf("cannot change owner of freezer cgroup hierarchy for snap %q to root.root: %v", snapName, err)
	}

	tasksFd, err := safepath.OpenChild(hierarchyFd, "tasks", unix.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open tasks file of freezer cgroup hierarchy for snap %q: %v", snapName, err)
	}
	defer safepath.Close(tasksFd)

	if err := safepath.WriteAll(tasksFd, []byte(strconv.Itoa(pid))); err != nil {
		return fmt.Errorf("cannot move process %d to freezer cgroup hierarchy for snap %q: %v", pid, snapName, err)
	}
	logger.Debugf("moved process %d to freezer cgroup hierarchy for snap %q", pid, snapName)
	return nil
}

// SetFreezerState writes the given state to the freezer.state file of the
// hierarchy belonging to the given snap.
func SetFreezerState(snapName string, state FreezerState) error {
	hierarchy := freezerHierarchyName(snapName)

	cgroupFd, err := safepath.Open(dirs.FreezerCgroupDir)
	if err != nil {
		return fmt.Errorf("cannot open freezer cgroup (%s): %v", dirs.FreezerCgroupDir, err)
	}
	defer safepath.Close(cgroupFd)

	hierarchyFd, err := safepath.OpenChildDir(cgroupFd, hierarchy)
	if err != nil {
		return fmt.Errorf("cannot open freezer cgroup hierarchy for snap %q: %v", snapName, err)
	}
	defer safepath.Close(hierarchyFd)

	stateFd, err := safepath.OpenChild(hierarchyFd, "freezer.state", unix.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open state file of freezer cgroup hierarchy for snap %q: %v", snapName, err)
	}
	defer safepath.Close(stateFd)

	if err := safepath.WriteAll(stateFd, []byte(state)); err != nil {
		return fmt.Errorf("cannot set freezer cgroup hierarchy for snap %q to %s: %v", snapName, state, err)
	}
	logger.Debugf("set freezer cgroup hierarchy for snap %q to %s", snapName, state)
	return nil
}

// FreezeSnapProcesses suspends all the processes in the freezer hierarchy
// of the given snap.
func FreezeSnapProcesses(snapName string) error {
	return SetFreezerState(snapName, Frozen)
}

// ThawSnapProcesses resumes all the processes in the freezer hierarchy of
// the given snap.
func ThawSnapProcesses(snapName string) error {
	return SetFreezerState(snapName, Thawed)
}

// ForEachFreezerPid invokes the visitor for every process in the freezer
// hierarchy of the given snap.
//
// The iteration stops on the first visitor error, which is then returned.
func ForEachFreezerPid(snapName string, visit func(pid string) error) error {
	hierarchy := freezerHierarchyName(snapName)

	cgroupFd, err := safepath.Open(dirs.FreezerCgroupDir)
	if err != nil {
		return fmt.Errorf("cannot open freezer cgroup (%s): %v", dirs.FreezerCgroupDir, err)
	}
	defer safepath.Close(cgroupFd)

	hierarchyFd, err := safepath.OpenChildDir(cgroupFd, hierarchy)
	if err != nil {
		return fmt.Errorf("cannot open freezer cgroup hierarchy for snap %q: %v", snapName, err)
	}
	defer safepath.Close(hierarchyFd)

	procsFd, err := safepath.OpenChild(hierarchyFd, "cgroup.procs", unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open cgroup.procs file of freezer cgroup hierarchy for snap %q: %v", snapName, err)
	}
	// The descriptor is owned by the file from now on.
	procsFile := os.NewFile(uintptr(procsFd), "cgroup.procs")
	defer procsFile.Close()

	scanner := bufio.NewScanner(procsFile)
	for scanner.Scan() {
		if pid := scanner.Text(); pid != "" {
			if err := visit(pid); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("cannot read process ID belonging to freezer cgroup hierarchy for snap %q: %v", snapName, err)
	}
	return nil
}

// CreateAndJoinCgroup creates the named cgroup under the given hierarchy
// root and moves the given process into it.
func CreateAndJoinCgroup(parent, name string, pid int) error {
	parentFd, err := safepath.Open(parent)
	if err != nil {
		return fmt.Errorf("cannot open cgroup hierarchy %s: %v", parent, err)
	}
	defer safepath.Close(parentFd)

	if err := safepath.MkdirChild(parentFd, name, 0755); err != nil {
		return fmt.Errorf("cannot create cgroup hierarchy %s/%s: %v", parent, name, err)
	}
	hierarchyFd, err := safepath.OpenChildDir(parentFd, name)
	if err != nil {
		return fmt.Errorf("cannot open cgroup hierarchy %s/%s: %v", parent, name, err)
	}
	defer safepath.Close(hierarchyFd)

	if err := chownRootFd(hierarchyFd); err != nil {
		return fmt.Errorf("cannot change owner of cgroup hierarchy %s/%s to root.root: %v", parent, name, err)
	}

	procsFd, err := safepath.OpenChild(hierarchyFd, "cgroup.procs", unix.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open file %s/%s/cgroup.procs: %v", parent, name, err)
	}
	defer safepath.Close(procsFd)

	if err := safepath.WriteAll(procsFd, []byte(strconv.Itoa(pid))); err != nil {
		return fmt.Errorf("cannot move process %d to cgroup hierarchy %s/%s: %v", pid, parent, name, err)
	}
	logger.Debugf("moved process %d to cgroup hierarchy %s/%s", pid, parent, name)
	return nil
}
