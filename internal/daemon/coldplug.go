// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemon

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

// coldplugClasses are the sysfs class directories enumerated at startup,
// matching uevent.Source's own watched-subsystem filter (spec.md §4.1):
// every subsystem the Kernel Device Source listens for live also needs a
// cold-plug equivalent at start, or devices already present when the
// daemon starts would never be seen.
var coldplugClasses = map[string]string{
	"block":            "/sys/class/block",
	"nvme":             "/sys/class/nvme",
	"iscsi_connection": "/sys/class/iscsi_connection",
}

// coldplugEvents synthesizes one "add" Event per device currently
// present under each watched sysfs class, the ordinary startup
// cold-plug: existing devices are replayed as if they had just been
// added (see SPEC_FULL.md §4.1).
func coldplugEvents() []uevent.Event {
	var out []uevent.Event
	for subsystem, class := range coldplugClasses {
		entries, err := os.ReadDir(class)
		if err != nil {
			continue
		}
		for _, e := range entries {
			sysfsPath, err := filepath.EvalSymlinks(filepath.Join(class, e.Name()))
			if err != nil {
				sysfsPath = filepath.Join(class, e.Name())
			}
			raw := readColdplugRawDevice(subsystem, sysfsPath, e.Name())
			if raw == nil {
				continue
			}
			out = append(out, uevent.Event{Action: uevent.ActionAdd, Raw: raw})
		}
	}
	return out
}

// readColdplugRawDevice builds a RawDevice from a device's own "uevent"
// sysfs attribute, the same KEY=VALUE text udev itself consumes to
// re-synthesize a device's properties outside of a live netlink
// notification.
func readColdplugRawDevice(subsystem, sysfsPath, deviceName string) *uevent.RawDevice {
	data, err := os.ReadFile(sysfsPath + "/uevent")
	if err != nil {
		return nil
	}

	raw := &uevent.RawDevice{
		Subsystem:  subsystem,
		SysfsPath:  sysfsPath,
		DeviceName: deviceName,
		DevPath:    strings.TrimPrefix(sysfsPath, "/sys"),
		Properties: map[string]string{"SUBSYSTEM": subsystem},
	}
	for _, line := range strings.Split(string(data), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if k == "DEVNAME" {
			raw.DeviceName = v
		}
		raw.Properties[k] = v
	}
	return raw
}

// replayKnownRecords dispatches action for every record in recs, the
// synthetic double-coldplug spec.md §4.7 calls for once a module
// finishes loading: "for each currently known Device Record, dispatch
// an add event through the full pipeline (module registry included)
// twice, so that inter-device dependencies introduced by modules can
// settle."
func replayKnownRecords(dispatch func(uevent.Action, *record.Record) error, recs []*record.Record) {
	for i := 0; i < 2; i++ {
		for _, rec := range recs {
			if err := dispatch(uevent.ActionAdd, rec); err != nil {
				log.WithError(err).WithField("sysfs-path", rec.SysfsPath).Warn("synthetic coldplug replay dispatch failed")
			}
		}
	}
}
