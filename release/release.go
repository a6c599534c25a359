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

// Package release classifies the host distribution so that the
// confinement helpers can pick between the normal and the legacy
// execution modes.
package release

import (
	"errors"
	"os"
	"strings"

	"github.com/mvo5/goconfigparser"
	"gopkg.in/yaml.v2"

	"github.com/zyga/snapd/dirs"
	"github.com/zyga/snapd/osutil"
)

var readFile = os.ReadFile

var errNoSnapMountDir = errors.New("cannot locate the snap mount directory")

// Distro describes the kind of system the helpers run on.
type Distro int

const (
	// DistroClassic is a regular Linux distribution with snapd added.
	DistroClassic Distro = iota
	// DistroCore16 is an all-snap Ubuntu Core 16 system.
	DistroCore16
	// DistroCoreOther is any other all-snap system.
	DistroCoreOther
)

func (d Distro) String() string {
	switch d {
	case DistroClassic:
		return "classic"
	case DistroCore16:
		return "core16"
	case DistroCoreOther:
		return "core-other"
	}
	return "unknown"
}

// OS carries the relevant fields of the os-release file.
type OS struct {
	ID        string
	VersionID string
	VariantID string
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// ReadOSRelease parses the os-release file.
//
// A missing or unreadable file yields the zero value, matching systems
// with no os-release at all.
func ReadOSRelease() OS {
	var os OS
	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = true
	if err := cfg.ReadFile(dirs.OsReleasePath); err != nil {
		return os
	}
	if id, err := cfg.Get("", "ID"); err == nil {
		os.ID = unquote(strings.TrimSpace(id))
	}
	if versionID, err := cfg.Get("", "VERSION_ID"); err == nil {
		os.VersionID = unquote(strings.TrimSpace(versionID))
	}
	if variantID, err := cfg.Get("", "VARIANT_ID"); err == nil {
		os.VariantID = unquote(strings.TrimSpace(variantID))
	}
	return os
}

// metaSnapYaml is the subset of snap.yaml needed to recognize a system
// built from a snap.
type metaSnapYaml struct {
	Name string `yaml:"name"`
	Base string `yaml:"base"`
	Type string `yaml:"type"`
}

func onSnapBuiltSystem() bool {
	// Classic systems do not carry a /meta/snap.yaml, so a parseable
	// one qualifies the system as core.
	data, err := readFile(dirs.MetaSnapYamlPath)
	if err != nil {
		return false
	}
	var meta metaSnapYaml
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return false
	}
	return meta.Name != ""
}

// ClassifyDistro inspects the host and decides what kind of system the
// helpers run on.
func ClassifyDistro() Distro {
	osRelease := ReadOSRelease()

	isCore := false
	coreVersion := 0

	if osRelease.ID == "ubuntu-core" {
		isCore = true
	}
	if osRelease.VersionID == "16" {
		coreVersion = 16
	}
	if osRelease.VariantID == "snappy" {
		isCore = true
	}
	if !isCore && onSnapBuiltSystem() {
		isCore = true
	}

	switch {
	case isCore && coreVersion == 16:
		return DistroCore16
	case isCore:
		return DistroCoreOther
	default:
		return DistroClassic
	}
}

// ShouldUseNormalMode returns true when the helpers should use the
// pivot-root based execution mode rather than the legacy one.
func ShouldUseNormalMode(distro Distro, baseSnapName string) bool {
	return distro != DistroCore16 || baseSnapName != "core"
}

// SnapMountDir picks the location snaps are mounted under on this system.
//
// The canonical /snap may be absent or may be a symlink expressing a
// compatibility choice; in both cases distribution policy places snaps
// under the alternative directory.
func SnapMountDir() (string, error) {
	if osutil.IsDirectory(dirs.SnapMountDir) && !osutil.IsSymlink(dirs.SnapMountDir) {
		return dirs.SnapMountDir, nil
	}
	if osutil.IsDirectory(dirs.AltSnapMountDir) {
		return dirs.AltSnapMountDir, nil
	}
	return "", errNoSnapMountDir
}
