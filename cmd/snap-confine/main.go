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
	"os"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sys/unix"

	"github.com/zyga/snapd/dirs"
	"github.com/zyga/snapd/logger"
	"github.com/zyga/snapd/release"
	"github.com/zyga/snapd/sandbox/cgroup"
	"github.com/zyga/snapd/sandbox/mountns"
	"github.com/zyga/snapd/snap/naming"
)

var opts struct {
	Positional struct {
		SecurityTag string   `positional-arg-name:"<security-tag>"`
		Command     string   `positional-arg-name:"<command>"`
		Args        []string `positional-arg-name:"<args>"`
	} `positional-args:"true"`
}

func main() {
	// When asked to, this process is the namespace capture helper of
	// another snap-confine and nothing else.
	mountns.CaptureHelperMain()
	if err := logger.SimpleSetup(); err != nil {
		fmt.Fprintf(os.Stderr, "cannot initialize logger: %v\n", err)
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "cannot confine snap application: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.ParseArgs(args); err != nil {
		return err
	}
	if opts.Positional.SecurityTag == "" || opts.Positional.Command == "" {
		return fmt.Errorf("usage: snap-confine <security-tag> <command> [<args>...]")
	}
	securityTag := opts.Positional.SecurityTag
	if err := naming.ValidateSecurityTag(securityTag); err != nil {
		return err
	}
	snapName, err := naming.SnapNameFromSecurityTag(securityTag)
	if err != nil {
		return err
	}

	distro := release.ClassifyDistro()
	logger.Debugf("distribution class %s", distro)

	if err := setupNamespace(snapName); err != nil {
		return err
	}

	// Track the application process in the per-snap freezer hierarchy so
	// that its processes can later be enumerated, frozen and thawed.
	if err := cgroup.JoinFreezerCgroup(snapName, os.Getpid()); err != nil {
		return err
	}

	if err := setupDeviceCgroup(securityTag); err != nil {
		return err
	}

	// Replace ourselves with the application process.
	argv := append([]string{opts.Positional.Command}, opts.Positional.Args...)
	return unix.Exec(opts.Positional.Command, argv, os.Environ())
}

// setupNamespace attaches this process to the preserved mount namespace
// of the snap, creating and preserving it first when this is the first
// running process of the snap.
func setupNamespace(snapName string) error {
	mgr, err := mountns.NewManager()
	if err != nil {
		return err
	}
	defer mgr.Close()
	if err := mgr.InitializeSharing(); err != nil {
		return err
	}

	group, err := mountns.OpenGroup(snapName, 0)
	if err != nil {
		return err
	}
	defer group.Close()

	if err := group.Lock(); err != nil {
		return err
	}
	defer group.Unlock()

	if err := group.CreateOrJoin(); err != nil {
		return err
	}
	if group.ShouldPopulate() {
		// No mount profile is applied here: the freshly unshared
		// namespace is preserved as it is.
		if err := group.PreservePopulated(); err != nil {
			return err
		}
	}
	return nil
}

func setupDeviceCgroup(securityTag string) error {
	cg, err := cgroup.OpenDeviceCgroupV1(securityTag)
	if err != nil {
		// On systems without cgroup v1 device controller support the
		// device access list simply cannot be managed.
		if errors.Is(err, cgroup.ErrCgroupsUnavailable) || errors.Is(err, cgroup.ErrDevicesControllerUnavailable) {
			logger.Noticef("device cgroup not available, ignoring")
			return nil
		}
		return err
	}
	defer cg.Close()

	udevTag := naming.UdevTagForSecurityTag(securityTag)
	if err := cgroup.SetupDeviceCgroup(udevTag, cg); err != nil {
		return err
	}
	return cgroup.CreateAndJoinCgroup(dirs.DevicesCgroupDir, securityTag, os.Getpid())
}
