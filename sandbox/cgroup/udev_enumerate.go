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

package cgroup

import (
	"fmt"

	"github.com/jochenvg/go-udev"
)

// udevTaggedDevicesImpl asks udev for all the devices carrying the given
// tag and translates each entry to its syspath and device numbers.
func udevTaggedDevicesImpl(tag string) ([]TaggedDevice, error) {
	u := udev.Udev{}
	e := u.NewEnumerate()
	if err := e.AddMatchTag(tag); err != nil {
		return nil, fmt.Errorf("cannot add tag match to udev device enumeration: %v", err)
	}
	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("cannot enumerate udev devices: %v", err)
	}
	var result []TaggedDevice
	for _, device := range devices {
		if device == nil {
			return nil, fmt.Errorf("cannot find device from udev enumeration entry")
		}
		devnum := device.Devnum()
		result = append(result, TaggedDevice{
			Syspath: device.Syspath(),
			Major:   uint32(devnum.Major()),
			Minor:   uint32(devnum.Minor()),
		})
	}
	return result, nil
}
