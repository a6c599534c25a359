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
	"errors"
	"os"
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/zyga/snapd/dirs"
	"github.com/zyga/snapd/sandbox/cgroup"
	"github.com/zyga/snapd/testutil"
)

type deviceSuite struct {
	testutil.BaseTest
}

var _ = Suite(&deviceSuite{})

func (s *deviceSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	dirs.SetRootDir(c.MkDir())
	s.AddCleanup(func() { dirs.SetRootDir("/") })
	s.AddCleanup(cgroup.MockChownRootFd(func(fd int) error { return nil }))
}

// makeDeviceCgroup prepares the fake control files the kernel would
// provide for one device cgroup.
func (s *deviceSuite) makeDeviceCgroup(c *C, name string) string {
	p := filepath.Join(dirs.DevicesCgroupDir, name)
	c.Assert(os.MkdirAll(p, 0755), IsNil)
	for _, ctl := range []string{"devices.allow", "devices.deny"} {
		c.Assert(os.WriteFile(filepath.Join(p, ctl), nil, 0644), IsNil)
	}
	return p
}

func (s *deviceSuite) TestOpenDeviceCgroupNoCgroupFs(c *C) {
	_, err := cgroup.OpenDeviceCgroupV1("snap.foo.app")
	c.Assert(err, ErrorMatches, `cannot open .*/sys/fs/cgroup: cgroup v1 unavailable`)
	c.Check(errors.Is(err, cgroup.ErrCgroupsUnavailable), Equals, true)
}

func (s *deviceSuite) TestOpenDeviceCgroupNoDevicesController(c *C) {
	c.Assert(os.MkdirAll(dirs.CgroupDir, 0755), IsNil)
	_, err := cgroup.OpenDeviceCgroupV1("snap.foo.app")
	c.Assert(err, ErrorMatches, `cannot open .*/sys/fs/cgroup/devices: cgroup v1 device controller unavailable`)
	c.Check(errors.Is(err, cgroup.ErrDevicesControllerUnavailable), Equals, true)
}

func (s *deviceSuite) TestOpenDeviceCgroup(c *C) {
	p := s.makeDeviceCgroup(c, "snap.foo.app")

	cg, err := cgroup.OpenDeviceCgroupV1("snap.foo.app")
	c.Assert(err, IsNil)
	defer cg.Close()

	c.Assert(cg.Reset(), IsNil)
	c.Check(filepath.Join(p, "devices.deny"), testutil.FileEquals, "a")
}

// Opening creates the named cgroup when it is missing.
func (s *deviceSuite) TestOpenDeviceCgroupCreatesDirectory(c *C) {
	c.Assert(os.MkdirAll(dirs.DevicesCgroupDir, 0755), IsNil)

	// Without the kernel the fresh directory has no control files so the
	// open fails, but the directory itself was created.
	_, err := cgroup.OpenDeviceCgroupV1("snap.foo.app")
	c.Assert(err, ErrorMatches, `cannot open .*/devices.allow: .*`)
	fi, err := os.Stat(filepath.Join(dirs.DevicesCgroupDir, "snap.foo.app"))
	c.Assert(err, IsNil)
	c.Check(fi.IsDir(), Equals, true)
}

func (s *deviceSuite) TestAllowForms(c *C) {
	p := s.makeDeviceCgroup(c, "snap.foo.app")
	allowPath := filepath.Join(p, "devices.allow")

	for _, t := range []struct {
		typ          rune
		major, minor uint32
		rule         string
	}{
		{'c', 1, 3, "c 1:3 rwm"},
		{'b', 8, 0, "b 8:0 rwm"},
		{'c', cgroup.AnyMajorMinor, 5, "c *:5 rwm"},
		{'c', 136, cgroup.AnyMajorMinor, "c 136:* rwm"},
		{'a', cgroup.AnyMajorMinor, cgroup.AnyMajorMinor, "a *:* rwm"},
	} {
		c.Assert(os.WriteFile(allowPath, nil, 0644), IsNil)
		cg, err := cgroup.OpenDeviceCgroupV1("snap.foo.app")
		c.Assert(err, IsNil)
		c.Assert(cg.Allow(t.typ, t.major, t.minor), IsNil)
		c.Check(allowPath, testutil.FileEquals, t.rule)
		c.Assert(cg.Close(), IsNil)
	}
}

func (s *deviceSuite) TestAllowBadType(c *C) {
	s.makeDeviceCgroup(c, "snap.foo.app")

	cg, err := cgroup.OpenDeviceCgroupV1("snap.foo.app")
	c.Assert(err, IsNil)
	defer cg.Close()

	c.Assert(cg.Allow('x', 1, 1), ErrorMatches, `device type must be one of 'a', 'b' or 'c'`)
}

func (s *deviceSuite) TestCloseTwice(c *C) {
	s.makeDeviceCgroup(c, "snap.foo.app")

	cg, err := cgroup.OpenDeviceCgroupV1("snap.foo.app")
	c.Assert(err, IsNil)
	c.Assert(cg.Close(), IsNil)
	c.Assert(cg.Close(), IsNil)
}
