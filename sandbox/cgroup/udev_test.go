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

package cgroup_test

import (
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	. "gopkg.in/check.v1"
	"golang.org/x/sys/unix"

	"github.com/zyga/snapd/sandbox/cgroup"
	"github.com/zyga/snapd/testutil"
)

type udevSuite struct {
	testutil.BaseTest
	cg *recordingCgroup
}

var _ = Suite(&udevSuite{})

// recordingCgroup remembers the operations performed on it.
type recordingCgroup struct {
	calls []string
	fail  string
}

func (r *recordingCgroup) Reset() error {
	r.calls = append(r.calls, "reset")
	if r.fail == "reset" {
		return fmt.Errorf("reset failed")
	}
	return nil
}

func (r *recordingCgroup) Allow(typ rune, major, minor uint32) error {
	num := func(n uint32) string {
		if n == cgroup.AnyMajorMinor {
			return "*"
		}
		return fmt.Sprint(n)
	}
	call := fmt.Sprintf("allow %c %s:%s", typ, num(major), num(minor))
	r.calls = append(r.calls, call)
	if r.fail != "" && strings.HasPrefix(call, r.fail) {
		return fmt.Errorf("allow failed")
	}
	return nil
}

// fakeDeviceNode pretends to be a character device with the given numbers.
type fakeDeviceNode struct {
	name string
	rdev uint64
}

func (f *fakeDeviceNode) Name() string       { return f.name }
func (f *fakeDeviceNode) Size() int64        { return 0 }
func (f *fakeDeviceNode) Mode() os.FileMode  { return os.ModeDevice | os.ModeCharDevice }
func (f *fakeDeviceNode) ModTime() time.Time { return time.Time{} }
func (f *fakeDeviceNode) IsDir() bool        { return false }
func (f *fakeDeviceNode) Sys() interface{} {
	return &syscall.Stat_t{Rdev: f.rdev}
}

func (s *udevSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	s.cg = &recordingCgroup{}
	// no extra device nodes unless a test says otherwise
	s.AddCleanup(cgroup.MockOsStat(func(path string) (os.FileInfo, error) {
		return nil, os.ErrNotExist
	}))
}

func (s *udevSuite) TestSetupDeviceCgroupNoTaggedDevices(c *C) {
	restore := cgroup.MockUdevTaggedDevices(func(tag string) ([]cgroup.TaggedDevice, error) {
		c.Check(tag, Equals, "snap_foo_app")
		return nil, nil
	})
	defer restore()

	c.Assert(cgroup.SetupDeviceCgroup("snap_foo_app", s.cg), IsNil)
	// without tagged devices the cgroup exists but allows everything
	c.Check(s.cg.calls, DeepEquals, []string{
		"reset",
		"allow a *:*",
	})
}

func (s *udevSuite) TestSetupDeviceCgroupTaggedDevice(c *C) {
	restore := cgroup.MockUdevTaggedDevices(func(tag string) ([]cgroup.TaggedDevice, error) {
		return []cgroup.TaggedDevice{
			{Syspath: "/sys/devices/pci0000:00/0000:00:01.1/ata1/host0/target0:0:0/0:0:0:0/block/sda", Major: 8, Minor: 0},
			{Syspath: "/sys/devices/platform/serial8250/tty/ttyS4", Major: 4, Minor: 68},
		}, nil
	})
	defer restore()

	c.Assert(cgroup.SetupDeviceCgroup("snap_foo_app", s.cg), IsNil)

	expected := []string{"reset"}
	// the common devices come first
	for _, dev := range []string{"1:3", "1:5", "1:7", "1:8", "1:9", "5:0", "5:1", "5:2"} {
		expected = append(expected, "allow c "+dev)
	}
	// then the PTY slave majors
	for major := 136; major <= 143; major++ {
		expected = append(expected, fmt.Sprintf("allow c %d:*", major))
	}
	// and finally the tagged devices, block devices recognized by their syspath
	expected = append(expected, "allow b 8:0", "allow c 4:68")
	c.Check(s.cg.calls, DeepEquals, expected)
}

func (s *udevSuite) TestSetupDeviceCgroupNvidiaAndUhid(c *C) {
	restore := cgroup.MockUdevTaggedDevices(func(tag string) ([]cgroup.TaggedDevice, error) {
		return []cgroup.TaggedDevice{
			{Syspath: "/sys/devices/foo/bar", Major: 10, Minor: 20},
		}, nil
	})
	defer restore()

	// nvidia0, nvidia1 and the control nodes exist, nvidia2 onwards do not
	restore = cgroup.MockOsStat(func(path string) (os.FileInfo, error) {
		switch {
		case strings.HasSuffix(path, "/dev/nvidia0"):
			return &fakeDeviceNode{rdev: unix.Mkdev(195, 0)}, nil
		case strings.HasSuffix(path, "/dev/nvidia1"):
			return &fakeDeviceNode{rdev: unix.Mkdev(195, 1)}, nil
		case strings.HasSuffix(path, "/dev/nvidiactl"):
			return &fakeDeviceNode{rdev: unix.Mkdev(195, 255)}, nil
		case strings.HasSuffix(path, "/dev/uhid"):
			return &fakeDeviceNode{rdev: unix.Mkdev(10, 239)}, nil
		}
		return nil, os.ErrNotExist
	})
	defer restore()

	c.Assert(cgroup.SetupDeviceCgroup("snap_foo_app", s.cg), IsNil)

	// the probing stopped at the first missing nvidia node
	joined := strings.Join(s.cg.calls, "\n")
	c.Check(strings.Contains(joined, "allow c 195:0"), Equals, true)
	c.Check(strings.Contains(joined, "allow c 195:1"), Equals, true)
	c.Check(strings.Contains(joined, "allow c 195:2"), Equals, false)
	c.Check(strings.Contains(joined, "allow c 195:255"), Equals, true)
	c.Check(strings.Contains(joined, "allow c 10:239"), Equals, true)
	// the tagged device is admitted last
	c.Check(s.cg.calls[len(s.cg.calls)-1], Equals, "allow c 10:20")
}

func (s *udevSuite) TestSetupDeviceCgroupEnumerationError(c *C) {
	restore := cgroup.MockUdevTaggedDevices(func(tag string) ([]cgroup.TaggedDevice, error) {
		return nil, fmt.Errorf("cannot connect to udev")
	})
	defer restore()

	err := cgroup.SetupDeviceCgroup("snap_foo_app", s.cg)
	c.Assert(err, ErrorMatches, "cannot connect to udev")
	// nothing was touched
	c.Check(s.cg.calls, HasLen, 0)
}

func (s *udevSuite) TestSetupDeviceCgroupAllowFailureAborts(c *C) {
	restore := cgroup.MockUdevTaggedDevices(func(tag string) ([]cgroup.TaggedDevice, error) {
		return []cgroup.TaggedDevice{
			{Syspath: "/sys/devices/foo/bar", Major: 10, Minor: 20},
		}, nil
	})
	defer restore()

	s.cg.fail = "allow c 1:7"
	err := cgroup.SetupDeviceCgroup("snap_foo_app", s.cg)
	c.Assert(err, ErrorMatches, "allow failed")
	// the failing call is the last one made
	c.Check(s.cg.calls[len(s.cg.calls)-1], Equals, "allow c 1:7")
}

func (s *udevSuite) TestTaggedDeviceIsBlock(c *C) {
	dev := cgroup.TaggedDevice{Syspath: "/sys/devices/.../block/sda"}
	c.Check(dev.IsBlock(), Equals, true)
	dev = cgroup.TaggedDevice{Syspath: "/sys/devices/.../tty/ttyS0"}
	c.Check(dev.IsBlock(), Equals, false)
}
