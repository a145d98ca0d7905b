// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package blkdev

import (
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SCSI generic ioctl and CDB constants (spec.md §5: "SCSI generic
// (SG_IO) v4 with a v3 fallback; CDBs: SYNCHRONIZE CACHE (opcode 0x35,
// 10 bytes) and START STOP UNIT (opcode 0x1b, 6 bytes). 30 s timeout").
const (
	sgIO = 0x2285

	sgInterfaceIDv3 = 'S'
	sgInterfaceIDv4 = 'Q'

	sgDXferNone = -1

	opSynchronizeCache10 = 0x35
	opStartStopUnit      = 0x1b

	cdbTimeout = 30 * time.Second
)

// sgIOHdrV3 mirrors Linux's struct sg_io_hdr (<scsi/sg.h>).
type sgIOHdrV3 struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSbLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         uintptr
	cmdp           uintptr
	sbp            uintptr
	timeout        uint32
	flags          uint32
	packID         int32
	usrPtr         uintptr
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

// sgIOHdrV4 mirrors Linux's struct sg_io_v4 (<scsi/sg.h>), trimmed to
// the fields a simple non-bidirectional CDB needs.
type sgIOHdrV4 struct {
	guard            int32
	protocol         uint32
	subprotocol      uint32
	requestLen       uint32
	request          uintptr
	requestTag       uint64
	requestAttr      uint32
	requestPriority  uint32
	requestExtra     uint32
	maxResponseLen   uint32
	response         uintptr
	dxferLen         uint32
	dxferp           uintptr
	diOutLen         uint32
	diOutp           uintptr
	diInLen          uint32
	diInp            uintptr
	timeout          uint32
	flags            uint32
	usrPtr           uint64
	spareIn          uint32
	driverStatus     uint32
	transportStatus  uint32
	deviceStatus     uint32
	retryDelay       uint32
	info             uint32
	durationMs       uint32
	responseLen      uint32
	diOutResid       int32
	diInResid        int32
	generatedTag     uint32
	spareOut         uint32
	padding          [4]uint32
}

// runCDB sends cdb to the SCSI device behind fd, preferring SG_IO v4
// and falling back to v3 when the kernel rejects the v4 ioctl (spec.md
// §5's "v4 with a v3 fallback"). A non-good SCSI status is returned as
// an error; the caller decides whether that's fatal (it is not, during
// power-off — spec.md §5: "failures are non-fatal and logged").
func runCDB(fd uintptr, cdb []byte) error {
	err := runCDBv4(fd, cdb)
	if err == nil {
		return nil
	}
	if errno, ok := err.(unix.Errno); ok && (errno == unix.EINVAL || errno == unix.ENOTTY) {
		return runCDBv3(fd, cdb)
	}
	return err
}

func runCDBv4(fd uintptr, cdb []byte) error {
	hdr := sgIOHdrV4{
		guard:      sgInterfaceIDv4,
		requestLen: uint32(len(cdb)),
		request:    uintptr(unsafe.Pointer(&cdb[0])),
		timeout:    uint32(cdbTimeout.Milliseconds()),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, sgIO, uintptr(unsafe.Pointer(&hdr)))
	if errno != 0 {
		return errno
	}
	if hdr.deviceStatus != 0 {
		return fmt.Errorf("blkdev: SG_IO v4 device status 0x%x", hdr.deviceStatus)
	}
	return nil
}

func runCDBv3(fd uintptr, cdb []byte) error {
	var sense [32]byte
	hdr := sgIOHdrV3{
		interfaceID:    sgInterfaceIDv3,
		dxferDirection: sgDXferNone,
		cmdLen:         uint8(len(cdb)),
		mxSbLen:        uint8(len(sense)),
		cmdp:           uintptr(unsafe.Pointer(&cdb[0])),
		sbp:            uintptr(unsafe.Pointer(&sense[0])),
		timeout:        uint32(cdbTimeout.Milliseconds()),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, sgIO, uintptr(unsafe.Pointer(&hdr)))
	if errno != 0 {
		return errno
	}
	if hdr.status != 0 {
		return fmt.Errorf("blkdev: SG_IO v3 SCSI status 0x%x", hdr.status)
	}
	return nil
}

// SynchronizeCache issues SCSI SYNCHRONIZE CACHE(10) (opcode 0x35).
func (d *Device) SynchronizeCache() error {
	cdb := make([]byte, 10)
	cdb[0] = opSynchronizeCache10
	err := runCDB(d.f.Fd(), cdb)
	return err
}

// StartStopUnit issues SCSI START STOP UNIT (opcode 0x1b); start=false
// requests a stop (spin-down) as part of power-off sequencing.
func (d *Device) StartStopUnit(start bool) error {
	cdb := make([]byte, 6)
	cdb[0] = opStartStopUnit
	if start {
		cdb[4] = 0x01
	}
	return runCDB(d.f.Fd(), cdb)
}
