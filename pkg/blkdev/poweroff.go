// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package blkdev

import (
	"os"
	"path/filepath"
)

// PowerOffSiblings runs the power-off sequence for one USB enclosure's
// sibling block devices (spec.md §5: "Power-off sequences the sibling
// block devices: sync each, send SCSI SYNCHRONIZE CACHE then START
// STOP UNIT (failures are non-fatal and logged), then write '1' to the
// USB parent's remove sysfs attribute"). devicePaths are the /dev node
// paths of every sibling; usbParentSysfsPath is the enclosure's own
// sysfs directory.
func PowerOffSiblings(devicePaths []string, usbParentSysfsPath string) error {
	for _, path := range devicePaths {
		syncAndSpinDown(path)
	}
	return removeSysfsAttribute(usbParentSysfsPath)
}

func syncAndSpinDown(path string) {
	dev, err := Open(path)
	if err != nil {
		log.WithError(err).WithField("device", path).Warn("power-off: failed to open sibling device")
		return
	}
	defer dev.Close()

	if err := dev.f.Sync(); err != nil {
		log.WithError(err).WithField("device", path).Warn("power-off: sync failed")
	}
	if err := dev.SynchronizeCache(); err != nil {
		log.WithError(err).WithField("device", path).Warn("power-off: SYNCHRONIZE CACHE failed")
	}
	if err := dev.StartStopUnit(false); err != nil {
		log.WithError(err).WithField("device", path).Warn("power-off: START STOP UNIT failed")
	}
}

func removeSysfsAttribute(usbParentSysfsPath string) error {
	return os.WriteFile(filepath.Join(usbParentSysfsPath, "remove"), []byte("1"), 0200)
}
