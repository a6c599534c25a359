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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/zyga/snapd/dirs"
	"github.com/zyga/snapd/logger"
)

// TaggedDevice is one device reported by udev for a given tag.
type TaggedDevice struct {
	// Syspath is the /sys path of the device.
	Syspath string
	// Major and Minor are the device node numbers.
	Major uint32
	Minor uint32
}

// IsBlock infers the device kind from the syspath, the same way the udev
// security backend does when writing tagging rules.
func (t *TaggedDevice) IsBlock() bool {
	return strings.Contains(t.Syspath, "/block/")
}

// Allow mocking in tests.
var (
	udevTaggedDevices = udevTaggedDevicesImpl
	osStat            = os.Stat
)

// MockUdevTaggedDevices replaces the udev enumeration with a canned list,
// for testing.
func MockUdevTaggedDevices(fn func(tag string) ([]TaggedDevice, error)) (restore func()) {
	old := udevTaggedDevices
	udevTaggedDevices = fn
	return func() {
		udevTaggedDevices = old
	}
}

// commonDevices have static number allocation.
// https://www.kernel.org/doc/html/v4.11/admin-guide/devices.html
var commonDevices = []struct{ major, minor uint32 }{
	{1, 3}, // /dev/null
	{1, 5}, // /dev/zero
	{1, 7}, // /dev/full
	{1, 8}, // /dev/random
	{1, 9}, // /dev/urandom
	{5, 0}, // /dev/tty
	{5, 1}, // /dev/console
	{5, 2}, // /dev/ptmx
}

func allowCommonDevices(cg DeviceCgroup) error {
	logger.Debugf("allowing access to common devices")
	for _, dev := range commonDevices {
		if err := cg.Allow('c', dev.major, dev.minor); err != nil {
			return err
		}
	}
	return nil
}

// allowPtySlaves admits current and future PTY slaves.
//
// They are added unconditionally since the confined environment uses a
// devpts newinstance. Unix98 PTY slave majors are 136-143.
func allowPtySlaves(cg DeviceCgroup) error {
	logger.Debugf("allowing access to current and future PTY slaves")
	for ptyMajor := uint32(136); ptyMajor <= 143; ptyMajor++ {
		if err := cg.Allow('c', ptyMajor, AnyMajorMinor); err != nil {
			return err
		}
	}
	return nil
}

func allowDeviceNode(cg DeviceCgroup, path string) (present bool, err error) {
	fi, err := osStat(path)
	if err != nil {
		return false, nil
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return false, fmt.Errorf("cannot inspect device node %s", path)
	}
	rdev := uint64(st.Rdev)
	return true, cg.Allow('c', uint32(unix.Major(rdev)), uint32(unix.Minor(rdev)))
}

// allowNvidiaDevices admits the proprietary nvidia device nodes.
//
// The nvidia modules are proprietary and therefore aren't in sysfs and
// can't be udev tagged. Existing nodes are added unconditionally, the MAC
// layer still mediates the actual access.
func allowNvidiaDevices(cg DeviceCgroup) error {
	logger.Debugf("allowing access to nvidia devices, if present")
	// Admit /dev/nvidia0 through /dev/nvidia254, stopping at the first
	// node that is not present on the system.
	for nvMinor := 0; nvMinor < 255; nvMinor++ {
		present, err := allowDeviceNode(cg, filepath.Join(dirs.DevDir, fmt.Sprintf("nvidia%d", nvMinor)))
		if err != nil {
			return err
		}
		if !present {
			break
		}
	}
	for _, name := range []string{"nvidiactl", "nvidia-uvm", "nvidia-modeset"} {
		if _, err := allowDeviceNode(cg, filepath.Join(dirs.DevDir, name)); err != nil {
			return err
		}
	}
	return nil
}

// allowUhid admits /dev/uhid which is not represented in sysfs.
func allowUhid(cg DeviceCgroup) error {
	logger.Debugf("allowing access to uhid, if present")
	_, err := allowDeviceNode(cg, filepath.Join(dirs.DevDir, "uhid"))
	return err
}

func allowTaggedDevices(cg DeviceCgroup, devices []TaggedDevice) error {
	logger.Debugf("allowing access to devices udev-tagged to the snap security tag")
	for _, dev := range devices {
		typ := 'c'
		if dev.IsBlock() {
			typ = 'b'
		}
		if err := cg.Allow(typ, dev.Major, dev.Minor); err != nil {
			return err
		}
	}
	return nil
}

// SetupDeviceCgroup runs one update cycle of the device access list.
//
// The udev security backend tags devices assigned to a particular snap
// application or hook with the udev flavour of the security tag. When at
// least one device carries the tag the access list is configured to
// deny-by-default plus a fixed allow list and the tagged devices. When no
// device carries the tag the cgroup still exists and the process is still
// placed in it but the list admits everything, so that tagging a device
// later takes effect without moving the process.
func SetupDeviceCgroup(udevTag string, cg DeviceCgroup) error {
	logger.Debugf("looking for devices udev-tagged with %s", udevTag)
	devices, err := udevTaggedDevices(udevTag)
	if err != nil {
		return err
	}
	if err := cg.Reset(); err != nil {
		return err
	}
	if len(devices) == 0 {
		logger.Debugf("configuring cgroup to allow access to all devices")
		return cg.Allow('a', AnyMajorMinor, AnyMajorMinor)
	}
	logger.Debugf("configuring cgroup to allow access to select devices")
	if err := allowCommonDevices(cg); err != nil {
		return err
	}
	if err := allowPtySlaves(cg); err != nil {
		return err
	}
	if err := allowNvidiaDevices(cg); err != nil {
		return err
	}
	if err := allowUhid(cg); err != nil {
		return err
	}
	return allowTaggedDevices(cg, devices)
}
