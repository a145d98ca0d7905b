// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package blkdev

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/storaged-project/storaged/pkg/driveobj"
	"github.com/storaged-project/storaged/pkg/record"
)

var _ driveobj.Refresher = Refresher{}

// ATA PASS-THROUGH(12) (opcode 0xa1) protocol/flags and the SMART
// feature-register subcommands it carries, and the NVMe admin Get Log
// Page command used for the health-information log page. These mirror
// what housekeeping periodically polls per spec.md §4.8's drive
// facet-refresh step.
const (
	opATAPassthrough12 = 0xa1
	ataProtocolNonData = 3 << 1

	ataCommandSMART      = 0xb0
	smartReadData        = 0xd0
	smartReturnStatus    = 0xda
	smartLBAMid          = 0x4f
	smartLBAHi           = 0xc2
	smartThresholdLBAMid = 0xf4
	smartThresholdLBAHi  = 0x2c

	nvmeAdminGetLogPage = 0x02
	nvmeLogPageSMART    = 0x02
	nvmeHealthLogSize   = 512

	nvmeIoctlAdminCmd = 0xC0484E41 // NVME_IOCTL_ADMIN_CMD
)

// Refresher implements driveobj.Refresher against real device nodes,
// wired into the Drive Manager via registry.WithDriveRefresher.
type Refresher struct{}

// RefreshATASmart issues SMART RETURN STATUS and reports open/I-O
// errors and a failed command as-is. The LBA Mid/High registers the
// drive returns are not read back, so a threshold-exceeded status is
// not reported as an error.
func (Refresher) RefreshATASmart(primary *record.Record) error {
	if primary.DeviceFile == "" {
		return nil
	}
	dev, err := OpenReadOnly(primary.DeviceFile)
	if err != nil {
		return fmt.Errorf("blkdev: opening %s for SMART refresh: %w", primary.DeviceFile, err)
	}
	defer dev.Close()

	cdb := make([]byte, 12)
	cdb[0] = opATAPassthrough12
	cdb[1] = ataProtocolNonData
	cdb[2] = 1 << 5 // CK_COND
	cdb[3] = smartReturnStatus
	cdb[4] = 0
	cdb[9] = ataCommandSMART

	if err := runCDB(dev.f.Fd(), cdb); err != nil {
		return fmt.Errorf("blkdev: SMART RETURN STATUS on %s: %w", primary.DeviceFile, err)
	}
	return nil
}

// RefreshNVMeHealthLog fetches the SMART/Health Information log page
// (log id 0x02) and surfaces a critical-warning bit as an error.
func (Refresher) RefreshNVMeHealthLog(primary *record.Record) error {
	if primary.DeviceFile == "" {
		return nil
	}
	dev, err := OpenReadOnly(primary.DeviceFile)
	if err != nil {
		return fmt.Errorf("blkdev: opening %s for NVMe health log refresh: %w", primary.DeviceFile, err)
	}
	defer dev.Close()

	buf := make([]byte, nvmeHealthLogSize)
	cmd := nvmePassthruCmd{
		opcode:  nvmeAdminGetLogPage,
		nsid:    0xFFFFFFFF,
		addr:    uint64(uintptr(unsafe.Pointer(&buf[0]))),
		dataLen: uint32(len(buf)),
		cdw10:   nvmeLogPageSMART | (uint32(len(buf)/4-1) << 16),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.f.Fd(), nvmeIoctlAdminCmd, uintptr(unsafe.Pointer(&cmd)))
	if errno != 0 {
		return fmt.Errorf("blkdev: NVMe Get Log Page on %s: %w", primary.DeviceFile, errno)
	}

	const criticalWarningOffset = 0
	if buf[criticalWarningOffset] != 0 {
		return fmt.Errorf("blkdev: NVMe critical warning bits 0x%x on %s", buf[criticalWarningOffset], primary.DeviceFile)
	}
	return nil
}

// nvmePassthruCmd mirrors Linux's struct nvme_passthru_cmd
// (<linux/nvme_ioctl.h>) field for field; Get Log Page and Identify
// Controller both use it.
type nvmePassthruCmd struct {
	opcode      uint8
	flags       uint8
	rsvd1       uint16
	nsid        uint32
	cdw2        uint32
	cdw3        uint32
	metadata    uint64
	addr        uint64
	metadataLen uint32
	dataLen     uint32
	cdw10       uint32
	cdw11       uint32
	cdw12       uint32
	cdw13       uint32
	cdw14       uint32
	cdw15       uint32
	timeoutMs   uint32
	result      uint32
}
