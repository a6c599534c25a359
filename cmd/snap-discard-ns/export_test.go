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

package main

import (
	"io"
)

var (
	Run        = run
	DiscardAll = discardAll
)

// NamespaceManager is the seam used by tests to run discardAll against a
// fake manager.
type NamespaceManager = namespaceManager

// MockStderr redirects the diagnostics stream.
func MockStderr(w io.Writer) (restore func()) {
	old := stderr
	stderr = w
	return func() {
		stderr = old
	}
}

// ResetArgs clears the parsed options between tests.
func ResetArgs() {
	opts.All = false
	opts.Positional.SnapName = ""
}
