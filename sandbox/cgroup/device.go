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
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/zyga/snapd/dirs"
	"github.com/zyga/snapd/logger"
	"github.com/zyga/snapd/osutil/safepath"
)

var (
	// ErrCgroupsUnavailable is reported when the cgroup filesystem is
	// not mounted at all. Callers typically degrade to a warning.
	ErrCgroupsUnavailable = errors.New("cgroup v1 unavailable")
	// ErrDevicesControllerUnavailable is reported when the device
	// controller is not present. Callers typically degrade to a warning.
	ErrDevicesControllerUnavailable = errors.New("cgroup v1 device controller unavailable")
)

// AnyMajorMinor can be passed as major or minor to DeviceCgroup.Allow to
// admit the whole range.
const AnyMajorMinor = ^uint32(0)

// DeviceCgroup is the capability surface of a device cgroup backend.
//
// The v1 backend below is the only implementation today. The interface
// exists so that the allow-list policy is written once and a v2 backend
// can slot in under the same contract.
type DeviceCgroup interface {
	// Reset removes all entries from the device access list.
	Reset() error
	// Allow adds one entry to the device access list. The device type
	// is one of 'a', 'b' or 'c' and major/minor may be AnyMajorMinor.
	Allow(typ rune, major, minor uint32) error
}

// DeviceCgroupV1 holds the two control files of one v1 device cgroup.
type DeviceCgroupV1 struct {
	name    string
	allowFd int
	denyFd  int
}

// OpenDeviceCgroupV1 opens, creating it first if necessary, the named
// device cgroup.
//
// The cgroup directory ownership is reset to root:root. Two recoverable
// conditions are distinguished: ErrCgroupsUnavailable when the cgroup
// filesystem is not mounted and ErrDevicesControllerUnavailable when the
// devices controller is missing.
func OpenDeviceCgroupV1(name string) (*DeviceCgroupV1, error) {
	baseFd, err := safepath.Open(dirs.CgroupDir)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("cannot open %s: %w", dirs.CgroupDir, ErrCgroupsUnavailable)
		}
		return nil, fmt.Errorf("cannot open %s: %v", dirs.CgroupDir, err)
	}
	defer safepath.Close(baseFd)

	devicesFd, err := safepath.OpenChildDir(baseFd, "devices")
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("cannot open %s/devices: %w", dirs.CgroupDir, ErrDevicesControllerUnavailable)
		}
		return nil, fmt.Errorf("cannot open %s/devices: %v", dirs.CgroupDir, err)
	}
	defer safepath.Close(devicesFd)

	if err := safepath.MkdirChild(devicesFd, name, 0755); err != nil {
		return nil, fmt.Errorf("cannot create directory %s/%s: %v", dirs.DevicesCgroupDir, name, err)
	}
	cgroupFd, err := safepath.OpenChildDir(devicesFd, name)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s/%s: %v", dirs.DevicesCgroupDir, name, err)
	}
	defer safepath.Close(cgroupFd)

	if err := chownRootFd(cgroupFd); err != nil {
		return nil, fmt.Errorf("cannot chown %s/%s to root:root: %v", dirs.DevicesCgroupDir, name, err)
	}

	allowFd, err := safepath.OpenChild(cgroupFd, "devices.allow", unix.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s/%s/devices.allow: %v", dirs.DevicesCgroupDir, name, err)
	}
	denyFd, err := safepath.OpenChild(cgroupFd, "devices.deny", unix.O_WRONLY, 0)
	if err != nil {
		safepath.Close(allowFd)
		return nil, fmt.Errorf("cannot open %s/%s/devices.deny: %v", dirs.DevicesCgroupDir, name, err)
	}
	return &DeviceCgroupV1{name: name, allowFd: allowFd, denyFd: denyFd}, nil
}

// Close releases both control file descriptors. It is safe to call more
// than once.
func (cg *DeviceCgroupV1) Close() error {
	var firstErr error
	for _, fd := range []*int{&cg.allowFd, &cg.denyFd} {
		if *fd != -1 {
			if err := safepath.Close(*fd); err != nil && firstErr == nil {
				firstErr = err
			}
			*fd = -1
		}
	}
	return firstErr
}

// Reset removes all the entries added to the device access list in
// earlier invocations by writing 'a' to the deny list.
func (cg *DeviceCgroupV1) Reset() error {
	if err := safepath.WriteAll(cg.denyFd, []byte("a")); err != nil {
		return fmt.Errorf("cannot reset access list of device cgroup %s: %v", cg.name, err)
	}
	logger.Debugf("reset access list of device cgroup %s", cg.name)
	return nil
}

// Allow adds one entry to the device access list.
func (cg *DeviceCgroupV1) Allow(typ rune, major, minor uint32) error {
	if typ != 'a' && typ != 'b' && typ != 'c' {
		return fmt.Errorf(`device type must be one of 'a', 'b' or 'c'`)
	}
	var rule string
	switch {
	case major != AnyMajorMinor && minor != AnyMajorMinor:
		rule = fmt.Sprintf("%c %d:%d rwm", typ, major, minor)
	case major == AnyMajorMinor && minor != AnyMajorMinor:
		rule = fmt.Sprintf("%c *:%d rwm", typ, minor)
	case major != AnyMajorMinor && minor == AnyMajorMinor:
		rule = fmt.Sprintf("%c %d:* rwm", typ, major)
	default:
		rule = fmt.Sprintf("%c *:* rwm", typ)
	}
	if err := safepath.WriteAll(cg.allowFd, []byte(rule)); err != nil {
		return fmt.Errorf("cannot allow device access %q in device cgroup %s: %v", rule, cg.name, err)
	}
	logger.Debugf("allowed device access %q in device cgroup %s", rule, cg.name)
	return nil
}
