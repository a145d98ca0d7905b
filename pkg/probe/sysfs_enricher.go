// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package probe

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/storaged-project/storaged/pkg/blkdev"
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

// identifier is the subset of blkdev.Refresher the sysfs-backed
// production Enricher drives; narrowed here so it can be swapped for a
// fake in tests without dragging in real ioctls.
type identifier interface {
	IdentifyATA(path string) ([]byte, error)
	IdentifyNVMeController(path string) (*record.NVMeControllerInfo, error)
}

// SysfsEnricher is the production Enricher binding named in spec.md
// §4.2: it reads sysfs for settle/record-building state and calls into
// pkg/blkdev for the ATA IDENTIFY / NVMe Identify Controller I/O.
type SysfsEnricher struct {
	ident identifier
}

// NewSysfsEnricher constructs the production Enricher.
func NewSysfsEnricher() SysfsEnricher {
	return SysfsEnricher{ident: blkdev.Refresher{}}
}

// Settled reports whether udev has finished processing the device,
// approximated by the presence of its entry in the udev runtime
// database (spec.md §4.2 step 1's "initialized" flag).
func (e SysfsEnricher) Settled(raw *uevent.RawDevice) bool {
	major, minor, ok := readDevNum(raw.SysfsPath)
	if !ok {
		return true
	}
	for _, kind := range [2]byte{'b', 'c'} {
		path := fmt.Sprintf("/run/udev/data/%c%d:%d", kind, major, minor)
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
}

// BuildRecord assembles a record.Record from the raw uevent properties
// and a handful of sysfs attributes, independent of ATA/NVMe
// enrichment.
func (e SysfsEnricher) BuildRecord(raw *uevent.RawDevice) (*record.Record, error) {
	major, minor, _ := readDevNum(raw.SysfsPath)

	devType := record.DevTypeNone
	switch raw.Properties["DEVTYPE"] {
	case "disk":
		devType = record.DevTypeDisk
	case "partition":
		devType = record.DevTypePartition
	}

	deviceFile := raw.Properties["DEVNAME"]
	if deviceFile == "" && raw.DeviceName != "" {
		deviceFile = "/dev/" + raw.DeviceName
	}

	var symlinks []string
	if dl := raw.Properties["DEVLINKS"]; dl != "" {
		symlinks = strings.Fields(dl)
	}

	sysfsAttrs := readSysfsAttrs(raw.SysfsPath, []string{"size", "ro", "removable", "queue/rotational"})

	rec := record.New(record.Subsystem(raw.Subsystem), raw.SysfsPath, raw.DeviceName, devType,
		record.DeviceNumber{Major: major, Minor: minor}, deviceFile,
		raw.Properties, nil, sysfsAttrs, symlinks)
	return rec, nil
}

// Enrich runs the subject-specific ATA IDENTIFY / NVMe Identify
// Controller I/O, returning all-nil for subjects with nothing to probe
// (partitions, NVMe namespaces, non-ATA block devices).
func (e SysfsEnricher) Enrich(raw *uevent.RawDevice) (ataIdentify, ataIdentifyPacket []byte, nvmeInfo *record.NVMeControllerInfo, err error) {
	deviceFile := raw.Properties["DEVNAME"]
	if deviceFile == "" {
		deviceFile = "/dev/" + raw.DeviceName
	}

	switch raw.Subsystem {
	case "nvme":
		if raw.Properties["DEVTYPE"] == "" && readSysfsAttr(raw.SysfsPath, "nsid") != "" {
			return nil, nil, nil, nil
		}
		info, ierr := e.ident.IdentifyNVMeController(deviceFile)
		if ierr != nil {
			return nil, nil, nil, ierr
		}
		info.Transport = readSysfsAttr(raw.SysfsPath, "transport")
		info.SubsystemNQN = readSysfsAttr(raw.SysfsPath, "subsysnqn")
		info.HostNQN = readSysfsAttr(raw.SysfsPath, "hostnqn")
		return nil, nil, info, nil
	case "block":
		if raw.Properties["DEVTYPE"] == "partition" || (raw.Properties["ID_ATA"] != "1" && raw.Properties["ID_BUS"] != "ata") {
			return nil, nil, nil, nil
		}
		data, ierr := e.ident.IdentifyATA(deviceFile)
		if ierr != nil {
			return nil, nil, nil, ierr
		}
		return data, nil, nil, nil
	default:
		return nil, nil, nil, nil
	}
}

// readDevNum reads sysfsPath's "dev" attribute ("MAJOR:MINOR").
func readDevNum(sysfsPath string) (major, minor uint32, ok bool) {
	raw := readSysfsAttr(sysfsPath, "dev")
	maj, min, found := strings.Cut(raw, ":")
	if !found {
		return 0, 0, false
	}
	majV, err1 := strconv.ParseUint(maj, 10, 32)
	minV, err2 := strconv.ParseUint(min, 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(majV), uint32(minV), true
}

func readSysfsAttr(sysfsPath, attr string) string {
	b, err := os.ReadFile(sysfsPath + "/" + attr)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readSysfsAttrs(sysfsPath string, attrs []string) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if v := readSysfsAttr(sysfsPath, a); v != "" {
			out[a] = v
		}
	}
	return out
}
