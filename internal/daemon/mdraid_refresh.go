// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/storaged-project/storaged/pkg/mdraid"
	"github.com/storaged-project/storaged/pkg/registry"
)

// mdRaidRefresher reads an MDRaid's published properties straight out of
// its array device's sysfs tree, the same attributes
// udiskslinuxmdraid.c's property-update routine reads (md/degraded,
// md/sync_action, md/sync_completed, md/bitmap/location, md/chunk_size,
// md/sync_speed), plus the per-member md/dev-*/{slot,state,errors}
// entries resolved back to a Block Object via its "block" symlink.
//
// Unlike the original, level and size are read from the array's own
// "md/level"/"size" sysfs attributes rather than forwarded from a
// member's UDISKS_MD_LEVEL uevent property: pkg/mdraid's Dispatch never
// threads uevent properties through, only sysfs paths and UUIDs (see
// DESIGN.md).
type mdRaidRefresher struct {
	reg *registry.Registry
}

func newMDRaidRefresher(reg *registry.Registry) *mdRaidRefresher {
	return &mdRaidRefresher{reg: reg}
}

var _ registry.MDRaidRefresher = (*mdRaidRefresher)(nil)

func (r *mdRaidRefresher) Refresh(o *mdraid.Object) {
	arrayPath := o.ArraySysfsPath()
	if arrayPath == "" {
		o.ApplyProperties("", 0, 0, "", "", 0, 0, 0, 0)
		o.Members = nil
		return
	}

	level := readSysfsAttr(arrayPath, "md/level")
	size := readSysfsAttrUint64(arrayPath, "size") * 512
	degraded := int(readSysfsAttrUint64(arrayPath, "md/degraded"))
	syncAction := readSysfsAttr(arrayPath, "md/sync_action")
	bitmapLocation := readSysfsAttr(arrayPath, "md/bitmap/location")
	chunkSize := readSysfsAttrUint64(arrayPath, "md/chunk_size")

	var syncCompleted float64
	var syncRate, syncRemaining uint64
	if raw := readSysfsAttr(arrayPath, "md/sync_completed"); raw != "" && raw != "none" {
		if completed, total, ok := parseSyncCompleted(raw); ok && total != 0 {
			syncCompleted = float64(completed) / float64(total)
			syncRate = readSysfsAttrUint64(arrayPath, "md/sync_speed") * 1024
			if syncRate > 0 && total >= completed {
				remainingBytes := (total - completed) * 512
				// microseconds = bytes / (bytes/s) * 1e6, matching
				// G_USEC_PER_SEC * num_bytes_remaining / sync_rate.
				syncRemaining = uint64(float64(remainingBytes) / float64(syncRate) * 1_000_000)
			}
		}
	}

	o.ApplyProperties(level, size, degraded, syncAction, bitmapLocation, chunkSize, syncCompleted, syncRate, syncRemaining)
	r.refreshMembers(o, arrayPath)
}

// parseSyncCompleted parses sysfs md/sync_completed's "N / M" format.
func parseSyncCompleted(raw string) (completed, total uint64, ok bool) {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	c, err1 := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	t, err2 := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return c, t, true
}

// refreshMembers re-derives Members from arrayPath's "md/dev-*"
// directories, dropping any member whose directory is no longer there.
func (r *mdRaidRefresher) refreshMembers(o *mdraid.Object, arrayPath string) {
	mdDir := arrayPath + "/md"
	entries, err := os.ReadDir(mdDir)
	if err != nil {
		return
	}

	seen := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "dev-") {
			continue
		}
		blockObjectPath, ok := r.resolveMemberBlock(mdDir, name)
		if !ok {
			continue
		}

		slot := -1
		if s := readSysfsAttr(arrayPath, "md/"+name+"/slot"); s != "" && s != "none" {
			if v, err := strconv.Atoi(s); err == nil {
				slot = v
			}
		}
		var stateSet []string
		if s := readSysfsAttr(arrayPath, "md/"+name+"/state"); s != "" {
			stateSet = strings.Split(s, ",")
		}
		errorCount := int(readSysfsAttrUint64(arrayPath, "md/"+name+"/errors"))

		o.ApplyMemberUpdate(blockObjectPath, slot, stateSet, errorCount)
		seen[blockObjectPath] = true
	}

	for _, m := range append([]mdraid.Member(nil), o.Members...) {
		if !seen[m.ObjectPath] {
			o.RemoveMember(m.ObjectPath)
		}
	}
}

// resolveMemberBlock follows mdDir/name/block (a symlink to the member's
// sysfs device directory) and looks up the Block Object already
// registered for it.
func (r *mdRaidRefresher) resolveMemberBlock(mdDir, name string) (objectPath string, ok bool) {
	target, err := filepath.EvalSymlinks(mdDir + "/" + name + "/block")
	if err != nil {
		return "", false
	}
	blk := r.reg.Block(target)
	if blk == nil {
		return "", false
	}
	return blk.ObjectPath, true
}

func readSysfsAttr(sysfsPath, attr string) string {
	b, err := os.ReadFile(sysfsPath + "/" + attr)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func readSysfsAttrUint64(sysfsPath, attr string) uint64 {
	v, err := strconv.ParseUint(readSysfsAttr(sysfsPath, attr), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
