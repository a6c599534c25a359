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

package osutil_test

import (
	"os"
	"path/filepath"
	"time"

	. "gopkg.in/check.v1"

	"github.com/zyga/snapd/osutil"
)

type flockSuite struct{}

var _ = Suite(&flockSuite{})

// Test that opening and closing a lock works as expected, and that the mode is right.
func (s *flockSuite) TestNewFileLock(c *C) {
	path := filepath.Join(c.MkDir(), "name")
	lock, err := osutil.NewFileLock(path)
	c.Assert(err, IsNil)
	defer lock.Close()

	fi, err := os.Stat(lock.Path())
	c.Assert(err, IsNil)
	c.Check(fi.Mode().IsRegular(), Equals, true)
	c.Check(fi.Mode().Perm(), Equals, os.FileMode(0600))
}

// Test that a locked lock file prevents others from locking it.
func (s *flockSuite) TestLockLocked(c *C) {
	path := filepath.Join(c.MkDir(), "name")
	lock1, err := osutil.NewFileLock(path)
	c.Assert(err, IsNil)
	defer lock1.Close()
	c.Assert(lock1.Lock(), IsNil)

	// The same lock file opened through a second descriptor is busy.
	lock2, err := osutil.NewFileLock(path)
	c.Assert(err, IsNil)
	defer lock2.Close()
	c.Check(lock2.TryLock(), Equals, osutil.ErrAlreadyLocked)

	// Once the first holder unlocks the lock can be taken over.
	c.Assert(lock1.Unlock(), IsNil)
	c.Check(lock2.TryLock(), IsNil)
}

// Test that a lock can be taken and released repeatedly.
func (s *flockSuite) TestLockUnlockWorks(c *C) {
	path := filepath.Join(c.MkDir(), "name")
	lock, err := osutil.NewFileLock(path)
	c.Assert(err, IsNil)
	defer lock.Close()

	c.Assert(lock.Lock(), IsNil)
	c.Assert(lock.Unlock(), IsNil)
	c.Assert(lock.Lock(), IsNil)
	c.Assert(lock.Unlock(), IsNil)
}

// Test that the shared lock can be taken by two readers at once.
func (s *flockSuite) TestReadLock(c *C) {
	path := filepath.Join(c.MkDir(), "name")
	lock1, err := osutil.NewFileLock(path)
	c.Assert(err, IsNil)
	defer lock1.Close()
	c.Assert(lock1.ReadLock(), IsNil)

	lock2, err := osutil.OpenExistingLockForReading(path)
	c.Assert(err, IsNil)
	defer lock2.Close()
	c.Assert(lock2.ReadLock(), IsNil)
}

// Test that a bounded lock acquisition gives up in time.
func (s *flockSuite) TestTimedLockTimesOut(c *C) {
	path := filepath.Join(c.MkDir(), "name")
	lock1, err := osutil.NewFileLock(path)
	c.Assert(err, IsNil)
	defer lock1.Close()
	c.Assert(lock1.Lock(), IsNil)

	lock2, err := osutil.NewFileLock(path)
	c.Assert(err, IsNil)
	defer lock2.Close()

	c.Check(lock2.TimedLock(100*time.Millisecond), Equals, osutil.ErrLockTimedOut)
}

// Test that a bounded lock acquisition succeeds on a free lock.
func (s *flockSuite) TestTimedLockSucceeds(c *C) {
	path := filepath.Join(c.MkDir(), "name")
	lock, err := osutil.NewFileLock(path)
	c.Assert(err, IsNil)
	defer lock.Close()

	c.Check(lock.TimedLock(time.Second), IsNil)
	c.Check(lock.Unlock(), IsNil)
}

// Test that opening a missing lock file for reading fails.
func (s *flockSuite) TestOpenExistingLockForReadingMissing(c *C) {
	path := filepath.Join(c.MkDir(), "name")
	_, err := osutil.OpenExistingLockForReading(path)
	c.Assert(err, NotNil)
	c.Check(os.IsNotExist(err), Equals, true)
}
