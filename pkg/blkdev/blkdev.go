// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package blkdev is the low-level block-device I/O layer (spec.md §5):
// BLKRRPART/BLKGETSIZE64 ioctls, SCSI generic (SG_IO) passthrough for
// power-off sequencing, and BSD-advisory device locking for
// partition-table mutation. Nothing above this package talks to a
// device node directly.
package blkdev

import (
	"errors"
	"os"
	"runtime"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var log = logrus.WithField("subsystem", "blkdev")

// SetLogger rebinds the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// Device wraps an open block-device node, following the same
// thin-handle-plus-ioctl shape the pack's siderolabs block-device
// reference uses.
type Device struct {
	f *os.File
}

// Open opens a block device node read-write.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &Device{f: f}, nil
}

// OpenReadOnly opens a block device node read-only (spec.md §5: "On
// partition-table reread the daemon opens the disk read-only").
func OpenReadOnly(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &Device{f: f}, nil
}

// Close releases the underlying file descriptor.
func (d *Device) Close() error { return d.f.Close() }

// Fd returns the raw file descriptor backing d.
func (d *Device) Fd() uintptr { return d.f.Fd() }

// Size returns the device's size in bytes via BLKGETSIZE64 (spec.md
// §5: "BLKGETSIZE64 to read partition size after resize").
func (d *Device) Size() (uint64, error) {
	var size uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size))); errno != 0 {
		return 0, errno
	}
	runtime.KeepAlive(d)
	return size, nil
}

// rereadPartitionTable issues one BLKRRPART.
func (d *Device) rereadPartitionTable() error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), unix.BLKRRPART, 0)
	runtime.KeepAlive(d)
	if errno != 0 {
		return errno
	}
	return nil
}

// Lock takes a blocking BSD-advisory lock on the device's whole-disk
// file descriptor (spec.md §5: "Flock LOCK_EX|LOCK_NB and
// LOCK_SH|LOCK_NB for block-device locking").
func (d *Device) Lock(exclusive bool) error { return d.flock(exclusive, 0) }

// TryLock takes a non-blocking lock, returning unix.EWOULDBLOCK if
// already held elsewhere.
func (d *Device) TryLock(exclusive bool) error { return d.flock(exclusive, unix.LOCK_NB) }

// Unlock releases any lock held by d.
func (d *Device) Unlock() error {
	for {
		if err := unix.Flock(int(d.f.Fd()), unix.LOCK_UN); !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

func (d *Device) flock(exclusive bool, flag int) error {
	if exclusive {
		flag |= unix.LOCK_EX
	} else {
		flag |= unix.LOCK_SH
	}
	for {
		err := unix.Flock(int(d.f.Fd()), flag)
		if !errors.Is(err, unix.EINTR) {
			runtime.KeepAlive(d)
			return err
		}
	}
}
