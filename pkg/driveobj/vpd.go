// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package driveobj implements Drive Object aggregation: computing the
// Vital Product Data identity string that lets several Device Records
// (often several sysfs paths for the same physical disk, or an NVMe
// controller's namespaces) be folded into one Drive Object (spec.md
// §4.4).
package driveobj

import (
	"fmt"
	"strings"

	"github.com/storaged-project/storaged/pkg/record"
)

// blacklistedWWNs mirrors known-bad WWN values unsuitable for drive
// identification (udiskslinuxdriveobject.c's is_wwn_black_listed):
// the SAMSUNG SP1604N (PATA) ships this fixed WWN on every unit, see
// https://bugzilla.redhat.com/show_bug.cgi?id=838691#c4.
var blacklistedWWNs = map[string]bool{
	"50f0000000000000": true,
}

// wwnBlacklisted reports whether wwn names a black-listed WWN, matching
// with an optional "0x"/"0X" prefix stripped and case-insensitively, the
// same normalization is_wwn_black_listed applies before comparing.
func wwnBlacklisted(wwn string) bool {
	if len(wwn) >= 2 && (wwn[:2] == "0x" || wwn[:2] == "0X") {
		wwn = wwn[2:]
	}
	return blacklistedWWNs[strings.ToLower(wwn)]
}

// ComputeVPD derives the VPD string for rec following the priority
// chain in spec.md §4.4. ok is false when no VPD candidate applies,
// meaning rec is not eligible to found or join a Drive.
func ComputeVPD(rec *record.Record) (vpd string, ok bool) {
	if rec.Subsystem == record.SubsystemNVMe && rec.NVMeInfo != nil {
		return computeNVMeVPD(rec), true
	}

	wwn := rec.Property("ID_WWN_WITH_EXTENSION")
	if wwn == "" {
		wwn = rec.Property("ID_WWN")
	}
	serial := rec.Property("ID_SERIAL")
	model := rec.Property("ID_MODEL")

	if extWWN := rec.Property("ID_WWN_WITH_EXTENSION"); extWWN != "" && !wwnBlacklisted(extWWN) && serial != "" {
		return "wwn_serial:" + extWWN + ":" + serial, true
	}
	if wwn != "" && !wwnBlacklisted(wwn) {
		return "wwn:" + wwn, true
	}
	if model != "" && serial != "" {
		return "model_serial:" + model + ":" + serial, true
	}
	if serial != "" {
		return "serial:" + serial, true
	}
	if path := rec.Property("ID_PATH"); path != "" {
		return "path:" + path, true
	}

	if name := rec.DeviceName; strings.HasPrefix(name, "fd") {
		return "floppy:" + name, true
	}
	if name := rec.DeviceName; strings.HasPrefix(name, "vd") && rec.Property("ID_VENDOR") == "" {
		return "virtio:" + name, true
	}
	if rec.Property("ID_VENDOR") == "VMware" || rec.Property("ID_VENDOR") == "VMware," {
		return "vmware:" + rec.DeviceName, true
	}
	if fw := rec.Property("ID_WWN_FIREWIRE"); fw != "" {
		return "firewire:" + fw, true
	}
	if slave := rec.Property("DM_MULTIPATH_DEVICE_PATH"); slave != "" {
		return "multipath:" + slave, true
	}

	return "", false
}

func computeNVMeVPD(rec *record.Record) string {
	host := rec.NVMeInfo.HostNQN
	if host == "" {
		host = "nohostnqn"
	}
	transport := rec.NVMeInfo.Transport
	if transport == "" {
		transport = "notransport"
	}
	return fmt.Sprintf("NVMe:hostnqn=%s+transport=%s+%s", host, transport, rec.SysfsPath)
}
