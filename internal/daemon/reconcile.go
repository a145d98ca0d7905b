// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/storaged-project/storaged/pkg/journal"
	"github.com/storaged-project/storaged/pkg/record"
)

var reconcileLog = logrus.WithField("subsystem", "daemon-reconcile")

// sysReconciler answers journal staleness checks from current sysfs
// state: an entry is stale once the device it names is gone, the same
// "is the sysfs path still present" signal the rest of the daemon uses
// to learn a device disappeared.
type sysReconciler struct{ sysfsRoot string }

func newSysReconciler() *sysReconciler { return &sysReconciler{sysfsRoot: "/sys"} }

func (r *sysReconciler) devNumExists(dn record.DeviceNumber) bool {
	_, err := os.Stat(fmt.Sprintf("%s/dev/block/%d:%d", r.sysfsRoot, dn.Major, dn.Minor))
	return err == nil
}

// MountedFSStale reports the mount gone once its block device no longer
// appears in /proc/self/mountinfo at all (the mount was removed from
// under the daemon, e.g. by a manual umount).
func (r *sysReconciler) MountedFSStale(e journal.MountedFSEntry) bool {
	data, err := os.ReadFile("/proc/self/mountinfo")
	if err != nil {
		return false
	}
	devNum := fmt.Sprintf("%d:%d", e.BlockDevice.Major, e.BlockDevice.Minor)
	return !mountinfoHasDevice(data, devNum)
}

// UnlockedCryptoDevStale reports the cleartext mapping gone once its
// device node has vanished from sysfs.
func (r *sysReconciler) UnlockedCryptoDevStale(e journal.UnlockedCryptoDevEntry) bool {
	return !r.devNumExists(e.CleartextDevice)
}

// LoopStale reports the loop device gone, or re-associated with a
// different backing file than the journal recorded.
func (r *sysReconciler) LoopStale(e journal.LoopEntry) bool {
	name := strings.TrimPrefix(e.DeviceFile, "/dev/")
	backing, err := os.ReadFile(fmt.Sprintf("%s/class/block/%s/loop/backing_file", r.sysfsRoot, name))
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(backing)) != e.BackingFile
}

// MDRaidStale reports the array gone once its device node has vanished.
func (r *sysReconciler) MDRaidStale(e journal.MDRaidEntry) bool {
	return !r.devNumExists(e.RaidDevice)
}

// sysReverser performs the physical cleanup the journal's Check calls
// for by shelling out to the same userspace tools spec.md §6 names,
// the same exec.Command-plus-logged-error shape the teacher uses for
// its own hypervisor-control-binary invocations (e.g. acrn.go's
// updateBlockDevice).
type sysReverser struct{}

func newSysReverser() sysReverser { return sysReverser{} }

func (sysReverser) run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (s sysReverser) UnmountStale(e journal.MountedFSEntry) error {
	if err := s.run("umount", e.MountPoint); err != nil {
		reconcileLog.WithError(err).WithField("mount-point", e.MountPoint).Warn("stale unmount failed")
		return err
	}
	return nil
}

func (s sysReverser) LockCryptoDevStale(e journal.UnlockedCryptoDevEntry) error {
	if err := s.run("dmsetup", "remove", e.DMUUID); err != nil {
		reconcileLog.WithError(err).Warn("stale crypto lock failed")
		return err
	}
	return nil
}

func (s sysReverser) DetachLoopStale(e journal.LoopEntry) error {
	if err := s.run("losetup", "-d", e.DeviceFile); err != nil {
		reconcileLog.WithError(err).WithField("device-file", e.DeviceFile).Warn("stale loop detach failed")
		return err
	}
	return nil
}

func (s sysReverser) StopMDRaidStale(e journal.MDRaidEntry) error {
	devPath := "/dev/block/" + strconv.FormatUint(uint64(e.RaidDevice.Major), 10) + ":" + strconv.FormatUint(uint64(e.RaidDevice.Minor), 10)
	if err := s.run("mdadm", "--stop", devPath); err != nil {
		reconcileLog.WithError(err).Warn("stale mdraid stop failed")
		return err
	}
	return nil
}
