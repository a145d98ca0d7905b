// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package blkdev

import (
	"fmt"
	"runtime"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/storaged-project/storaged/pkg/record"
)

// hdioGetIdentity is Linux's HDIO_GET_IDENTITY ioctl, the kernel's own
// direct path to a cached ATA IDENTIFY DEVICE response. It is preferred
// here over hand-building an ATA PASS-THROUGH(12) IDENTIFY CDB through
// SG_IO: the exact CDB byte layout for anything beyond the SMART/
// SYNCHRONIZE CACHE/START STOP UNIT commands sgio.go already issues is
// out of scope (spec.md's non-goal on "SCSI/NVMe CDB byte layouts
// beyond their named use").
const hdioGetIdentity = 0x030d

const nvmeAdminIdentify = 0x06

// IdentifyATA reads the cached ATA IDENTIFY DEVICE data for path, the
// probe worker's enrichment step for ATA disks (spec.md §4.2).
func (Refresher) IdentifyATA(path string) ([]byte, error) {
	dev, err := OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("blkdev: opening %s for IDENTIFY: %w", path, err)
	}
	defer dev.Close()

	buf := make([]byte, 512)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.f.Fd(), hdioGetIdentity, uintptr(unsafe.Pointer(&buf[0])))
	runtime.KeepAlive(buf)
	if errno != 0 {
		return nil, fmt.Errorf("blkdev: HDIO_GET_IDENTITY on %s: %w", path, errno)
	}
	return buf, nil
}

// IdentifyNVMeController issues the NVMe admin Identify command (CNS=1,
// controller) and decodes the serial/model/firmware/controller-id
// fields the probe worker's enrichment step needs (spec.md §4.2).
// Transport and subsystem NQN are not present in the Identify
// Controller data structure; callers fill those in from sysfs.
func (Refresher) IdentifyNVMeController(path string) (*record.NVMeControllerInfo, error) {
	dev, err := OpenReadOnly(path)
	if err != nil {
		return nil, fmt.Errorf("blkdev: opening %s for Identify Controller: %w", path, err)
	}
	defer dev.Close()

	buf := make([]byte, 4096)
	cmd := nvmePassthruCmd{
		opcode:  nvmeAdminIdentify,
		addr:    uint64(uintptr(unsafe.Pointer(&buf[0]))),
		dataLen: uint32(len(buf)),
		cdw10:   1, // CNS=1: Identify Controller
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.f.Fd(), nvmeIoctlAdminCmd, uintptr(unsafe.Pointer(&cmd)))
	runtime.KeepAlive(buf)
	if errno != 0 {
		return nil, fmt.Errorf("blkdev: NVMe Identify Controller on %s: %w", path, errno)
	}

	return &record.NVMeControllerInfo{
		SerialNumber: trimNVMeString(buf[4:24]),
		ModelNumber:  trimNVMeString(buf[24:64]),
		FirmwareRev:  trimNVMeString(buf[64:72]),
		ControllerID: uint16(buf[78]) | uint16(buf[79])<<8,
	}, nil
}

// trimNVMeString strips the trailing space-padding NVMe Identify string
// fields carry.
func trimNVMeString(b []byte) string {
	return strings.TrimRight(string(b), " \x00")
}
