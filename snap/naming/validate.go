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

// Package naming implements naming constraints and concepts for snaps and
// their elements.
package naming

import (
	"fmt"
	"regexp"
	"strings"
)

// validSnapName rejects, among others, names that start or end with a
// hyphen and names with consecutive hyphens.
var validSnapName = regexp.MustCompile("^([a-z0-9]+-?)*[a-z](-?[a-z0-9])*$")

// validSecurityTag matches the executable environment tag associated with
// an application or a hook of a snap:
// snap.<name>.(<appname>|hook.<hookname>)
// - <name> must start with a lowercase letter, then may contain lowercase
//   alphanumerics and '-'
// - <appname> may contain alphanumerics and '-'
// - <hookname> must start with a lowercase letter, then may contain
//   lowercase letters and '-'
var validSecurityTag = regexp.MustCompile(`^snap\.[a-z](-?[a-z0-9])*\.([a-zA-Z0-9](-?[a-zA-Z0-9])*|hook\.[a-z](-?[a-z])*)$`)

// securityTagSnapName additionally captures the snap name of a security
// tag, allowing for an optional instance key.
var securityTagSnapName = regexp.MustCompile(`^snap\.([a-z0-9](-?[a-z0-9])*(_[a-z0-9]{1,10})?)\.([a-zA-Z0-9](-?[a-zA-Z0-9])*|hook\.[a-z](-?[a-z])*)$`)

// InvalidSnapNameError describes an identifier rejected by
// ValidateSnapName. Bulk operations match on this type to skip the
// offending entry and keep going.
type InvalidSnapNameError struct {
	Name string
}

func (e InvalidSnapNameError) Error() string {
	return fmt.Sprintf("invalid snap name: %q", e.Name)
}

// ValidateSnapName checks if a string can be used as a snap name.
func ValidateSnapName(name string) error {
	if !validSnapName.MatchString(name) {
		return InvalidSnapNameError{Name: name}
	}
	return nil
}

// ValidateSecurityTag checks if a string is a valid snap security tag.
func ValidateSecurityTag(tag string) error {
	if !validSecurityTag.MatchString(tag) {
		return fmt.Errorf("invalid security tag: %q", tag)
	}
	return nil
}

// SnapNameFromSecurityTag returns the snap name embedded in a security
// tag, allowing for an optional instance key in the name.
func SnapNameFromSecurityTag(tag string) (string, error) {
	m := securityTagSnapName.FindStringSubmatch(tag)
	if m == nil {
		return "", fmt.Errorf("invalid security tag: %q", tag)
	}
	return m[1], nil
}

// UdevTagForSecurityTag derives the udev tag corresponding to the given
// security tag. Udev does not allow dots in tag names so snapd replaces
// them with underscores when tagging devices, and this mirrors that
// substitution. The operation is idempotent on strings without dots.
func UdevTagForSecurityTag(tag string) string {
	return strings.Replace(tag, ".", "_", -1)
}
