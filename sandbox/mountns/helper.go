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

package mountns

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/zyga/snapd/dirs"
	"github.com/zyga/snapd/logger"
)

// The nsfs file of a mount namespace can only be bind mounted from a
// process that is not a member of that namespace: once the parent has
// unshared, its own /proc/self/ns/mnt already refers to the new
// namespace, and the kernel refuses the bind mount from the inside. The
// capture is therefore delegated to a helper process, still in the
// original namespace, that reaches the parent's namespace through
// /proc/<ppid>/ns/mnt.
//
// Go cannot fork without exec, so the helper is this very executable run
// again with captureEnv set and the event notifier inherited as an extra
// file. Every program using CreateOrJoin runs CaptureHelperMain first
// thing in main to take the helper branch when asked to.

const (
	// captureEnv carries the name of the namespace group to capture.
	captureEnv = "SNAPD_NS_CAPTURE_GROUP"

	// captureEventFd is where the event notifier lands in the helper,
	// right after stdin, stdout and stderr.
	captureEventFd = 3
)

func startCaptureHelper(name string, eventFile *os.File) (*exec.Cmd, error) {
	helper := exec.Command("/proc/self/exe")
	helper.ExtraFiles = []*os.File{eventFile}
	helper.Env = append(os.Environ(), fmt.Sprintf("%s=%s", captureEnv, name))
	helper.Stderr = os.Stderr
	if err := helper.Start(); err != nil {
		return nil, err
	}
	return helper, nil
}

func runCaptureHelper(name string) error {
	eventFile := os.NewFile(uintptr(captureEventFd), "eventfd")
	defer eventFile.Close()

	// Block until the parent finished populating its namespace. A read
	// from an eventfd blocks while its counter is zero, so any value read
	// is the go-ahead; a zero value is rejected defensively.
	var buf [8]byte
	if _, err := eventFile.Read(buf[:]); err != nil {
		return fmt.Errorf("cannot wait for wakeup: %v", err)
	}
	if binary.LittleEndian.Uint64(buf[:]) == 0 {
		return fmt.Errorf("woken up without a go-ahead")
	}

	path := filepath.Join(dirs.SnapRunNsDir, name+mntExt)
	// The bind mount target must exist as a regular file.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("cannot create %s: %v", path, err)
	}
	f.Close()

	source := fmt.Sprintf("/proc/%d/ns/mnt", os.Getppid())
	if err := sysMount(source, path, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("cannot bind mount %s to %s: %v", source, path, err)
	}
	logger.Debugf("captured mount namespace of group %q", name)
	return nil
}

// CaptureHelperMain runs the namespace capture helper and exits when this
// process was started as one.
//
// Programs that use Group.CreateOrJoin must call this at the very top of
// their main function, before any argument handling.
func CaptureHelperMain() {
	name := os.Getenv(captureEnv)
	if name == "" {
		return
	}
	os.Unsetenv(captureEnv)
	if err := runCaptureHelper(name); err != nil {
		fmt.Fprintf(os.Stderr, "cannot capture mount namespace: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
