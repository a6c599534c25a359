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

// Package testutil contains helpers for testing.
package testutil

import (
	"gopkg.in/check.v1"
)

// BaseTest is a structure used as a base for tests that need to clean up
// after themselves.
type BaseTest struct {
	cleanups []func()
}

// SetUpTest prepares the cleanup stack.
func (s *BaseTest) SetUpTest(c *check.C) {
	s.cleanups = nil
}

// TearDownTest runs the cleanup handlers in reverse order.
func (s *BaseTest) TearDownTest(c *check.C) {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
	s.cleanups = nil
}

// AddCleanup registers a function to run on TearDownTest.
func (s *BaseTest) AddCleanup(f func()) {
	s.cleanups = append(s.cleanups, f)
}
