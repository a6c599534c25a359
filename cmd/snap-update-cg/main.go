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
	"github.com/zyga/snapd/sandbox/cgroup"
	"github.com/zyga/snapd/snap/naming"
)

// set at build time via -ldflags
var version = "unknown"

var opts struct {
	Version bool `long:"version" description:"Print the version and exit"`

	Positional struct {
		CgroupName  string `positional-arg-name:"<cgroup-name>"`
		SecurityTag string `positional-arg-name:"<security-tag>"`
	} `positional-args:"true"`
}

var (
	osExit           = os.Exit
	stdout io.Writer = os.Stdout
)

func main() {
	if err := logger.SimpleSetup(); err != nil {
		fmt.Fprintf(os.Stderr, "cannot initialize logger: %v\n", err)
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cannot update device cgroup: %v\n", err)
		osExit(1)
	}
}

func run(args []string) error {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}
	if opts.Version {
		fmt.Fprintf(stdout, "snap-update-device-cgroup %s\n", version)
		return nil
	}
	if opts.Positional.CgroupName == "" || opts.Positional.SecurityTag == "" {
		return fmt.Errorf("usage: snap-update-device-cgroup <cgroup-name> <security-tag>")
	}
	if _, err := naming.SnapNameFromSecurityTag(opts.Positional.SecurityTag); err != nil {
		return err
	}
	return updateDeviceCgroup(opts.Positional.CgroupName, opts.Positional.SecurityTag)
}

func updateDeviceCgroup(cgroupName, securityTag string) error {
	// Udev does not allow dots in tag names so snapd tags devices with
	// the underscore flavour of the security tag. Match that behavior.
	udevTag := naming.UdevTagForSecurityTag(securityTag)

	cg, err := cgroup.OpenDeviceCgroupV1(cgroupName)
	if err != nil {
		// Both conditions are ordinary on cgroup v2 only systems and on
		// kernels built without the device controller; the access list
		// simply cannot be managed there.
		if errors.Is(err, cgroup.ErrCgroupsUnavailable) {
			fmt.Fprintf(stdout, "cgroup v1 unavailable, ignoring\n")
			return nil
		}
		if errors.Is(err, cgroup.ErrDevicesControllerUnavailable) {
			fmt.Fprintf(stdout, "cgroup v1 device controller unavailable, ignoring\n")
			return nil
		}
		return err
	}
	defer cg.Close()

	return cgroup.SetupDeviceCgroup(udevTag, cg)
}
