// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemon

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// sysfsChecker supplies blockobj.MountChecker and
// blockobj.KernelPartitionChecker from live /proc and sysfs state,
// following the same hand-parse-the-proc-file approach the teacher
// uses for /proc/self/mountinfo (virtcontainers/mount.go's
// findMountSourceForMountPoint).
type sysfsChecker struct {
	sysfsRoot string
	procRoot  string
}

func newSysfsChecker() *sysfsChecker {
	return &sysfsChecker{sysfsRoot: "/sys", procRoot: "/proc"}
}

// IsMountedFilesystem reports whether the device at sysfsPath appears
// as a mounted filesystem in /proc/self/mountinfo, matched by major:minor
// rather than by device path so bind mounts and multiple device nodes for
// the same device are handled uniformly.
func (c *sysfsChecker) IsMountedFilesystem(sysfsPath string) bool {
	devNum, ok := c.devNumber(sysfsPath)
	if !ok {
		return false
	}
	data, err := os.ReadFile(c.procRoot + "/self/mountinfo")
	if err != nil {
		return false
	}
	return mountinfoHasDevice(data, devNum)
}

// IsMountedSwap reports whether the device at sysfsPath is listed as
// active swap in /proc/swaps, matched by resolving each listed swap
// device to its major:minor pair via stat.
func (c *sysfsChecker) IsMountedSwap(sysfsPath string) bool {
	devNum, ok := c.devNumber(sysfsPath)
	if !ok {
		return false
	}
	data, err := os.ReadFile(c.procRoot + "/swaps")
	if err != nil {
		return false
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	first := true
	for sc.Scan() {
		if first {
			first = false // header line: "Filename Type Size Used Priority"
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if n, ok := statDevNumber(fields[0]); ok && n == devNum {
			return true
		}
	}
	return false
}

// IsKernelPartitioned reports whether sysfs lists at least one child
// entry under /sys/class/block/diskName whose name starts with diskName,
// the kernel's own partition-table-scanned-this-disk signal.
func (c *sysfsChecker) IsKernelPartitioned(diskName string) bool {
	entries, err := os.ReadDir(c.sysfsRoot + "/class/block/" + diskName)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), diskName) && e.Name() != diskName {
			return true
		}
	}
	return false
}

// devNumber reads sysfsPath's "dev" attribute ("MAJOR:MINOR").
func (c *sysfsChecker) devNumber(sysfsPath string) (string, bool) {
	b, err := os.ReadFile(sysfsPath + "/dev")
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

// mountinfoHasDevice scans /proc/self/mountinfo-formatted data for a
// line whose major:minor field (the third whitespace-separated field)
// matches devNum.
func mountinfoHasDevice(data []byte, devNum string) bool {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		if fields[2] == devNum {
			return true
		}
	}
	return false
}

// statDevNumber stats path and returns its underlying device's
// major:minor pair in the same "MAJOR:MINOR" textual form sysfs uses,
// so it can be compared directly against a "dev" attribute read.
func statDevNumber(path string) (string, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return "", false
	}
	return formatDevNumber(uint64(st.Rdev)), true
}

// formatDevNumber unpacks a Linux dev_t into "MAJOR:MINOR", matching
// the glibc major()/minor() bit layout sysfs's own "dev" attribute uses.
func formatDevNumber(rdev uint64) string {
	major := (rdev >> 8) & 0xfff
	minor := (rdev & 0xff) | ((rdev >> 12) & 0xfff00)
	return strconv.FormatUint(major, 10) + ":" + strconv.FormatUint(minor, 10)
}
