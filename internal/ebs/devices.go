// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package ebs

import (
	"os"
)

// devicePrefix anchors the candidate namespace at /dev/xvdb[a-z].
// The xvdb range deliberately avoids the /dev/xvda boot disk names on
// virtualization platforms that only support this extended naming
// scheme, so an allocation can never collide with the root volume.
const devicePrefix = "/dev/xvdb"

// deviceCandidates returns the candidate device names in allocation
// order, a through z.
func deviceCandidates() []string {
	candidates := make([]string, 0, 26)
	for suffix := 'a'; suffix <= 'z'; suffix++ {
		candidates = append(candidates, devicePrefix+string(suffix))
	}
	return candidates
}

// nextDevice returns the first candidate device name with no block
// device currently present at that path. The check is point-in-time,
// not a reservation; callers must hold the allocation mutex from here
// through attachment.
func nextDevice(exists func(string) bool) (string, error) {
	for _, device := range deviceCandidates() {
		if !exists(device) {
			return device, nil
		}
	}
	return "", ErrDeviceNamespaceExhausted
}

// blockDeviceExists reports whether a block device is present at path.
func blockDeviceExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeDevice != 0
}
