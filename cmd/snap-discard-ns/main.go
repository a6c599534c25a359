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
	"errors"
	"fmt"
	"io"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/zyga/snapd/logger"
	"github.com/zyga/snapd/sandbox/mountns"
	"github.com/zyga/snapd/snap/naming"
)

var opts struct {
	All bool `long:"all" description:"Discard all preserved namespaces"`

	Positional struct {
		SnapName string `positional-arg-name:"SNAP_NAME"`
	} `positional-args:"true"`
}

var (
	osExit = os.Exit
	stderr io.Writer = os.Stderr
)

func main() {
	if err := logger.SimpleSetup(); err != nil {
		fmt.Fprintf(os.Stderr, "cannot initialize logger: %v\n", err)
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cannot discard preserved namespace: %v\n", err)
		osExit(1)
	}
}

func run(args []string) error {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}
	if opts.All == (opts.Positional.SnapName != "") {
		return fmt.Errorf("usage: snap-discard-ns [--all | SNAP_NAME]")
	}

	mgr, err := mountns.NewManager()
	if err != nil {
		return err
	}
	defer mgr.Close()

	// The master lock is held around the whole operation. Each namespace
	// is in addition discarded under its own group lock, which serializes
	// the discard with creation and preservation of that namespace.
	if err := mgr.LockAll(); err != nil {
		return err
	}
	defer mgr.UnlockAll()

	if opts.All {
		return discardAll(mgr)
	}
	return mgr.DiscardNamespace(opts.Positional.SnapName)
}

// namespaceManager is the part of mountns.Manager used by discardAll.
type namespaceManager interface {
	NamespaceNames() ([]string, error)
	DiscardNamespace(name string) error
}

func discardAll(mgr namespaceManager) error {
	names, err := mgr.NamespaceNames()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := mgr.DiscardNamespace(name); err != nil {
			// A file with a funky name is not ours to discard. Log the
			// problem and discard as many namespaces as we can.
			var invalidName naming.InvalidSnapNameError
			if errors.As(err, &invalidName) {
				fmt.Fprintf(stderr, "(ignored) %v\n", err)
				continue
			}
			return err
		}
	}
	return nil
}
