// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storaged-project/storaged/pkg/blockobj"
	"github.com/storaged-project/storaged/pkg/mdraid"
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/registry"
	"github.com/storaged-project/storaged/pkg/uevent"
)

func TestMDRaidRefresherPopulatesPropertiesFromSysfs(t *testing.T) {
	root := t.TempDir()
	arrayPath := filepath.Join(root, "sys", "block", "md0")
	mdDir := filepath.Join(arrayPath, "md")
	require.NoError(t, os.MkdirAll(mdDir, 0755))

	write := func(rel, content string) {
		p := filepath.Join(arrayPath, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	write("size", "2048")
	write("md/level", "raid1")
	write("md/degraded", "1")
	write("md/sync_action", "resync")
	write("md/sync_completed", "512 / 2048")
	write("md/sync_speed", "1024") // 1024 KiB/s
	write("md/bitmap/location", "file")
	write("md/chunk_size", "65536")

	reg := registry.New("/org/storaged/storaged")
	ref := newMDRaidRefresher(reg)

	o := &mdraid.Object{UUID: "u1", ObjectPath: "/org/storaged/storaged/mdraid/u1"}
	setArraySysfsPath(t, o, arrayPath)

	ref.Refresh(o)

	assert.Equal(t, "raid1", o.Level)
	assert.Equal(t, uint64(2048*512), o.Size)
	assert.Equal(t, 1, o.DegradedCount)
	assert.Equal(t, "resync", o.SyncAction)
	assert.Equal(t, "file", o.BitmapLocation)
	assert.Equal(t, uint64(65536), o.ChunkSize)
	assert.InDelta(t, 0.25, o.SyncCompleted, 0.0001)
	assert.Equal(t, uint64(1024*1024), o.SyncRateBytesPS)
	assert.True(t, o.Polling())
}

func TestMDRaidRefresherResolvesMemberBlockObject(t *testing.T) {
	root := t.TempDir()
	sysfsPath := filepath.Join(root, "sys", "block", "md0")
	memberSysfsPath := filepath.Join(root, "sys", "block", "sda")
	require.NoError(t, os.MkdirAll(memberSysfsPath, 0755))

	devDir := filepath.Join(sysfsPath, "md", "dev-sda")
	require.NoError(t, os.MkdirAll(devDir, 0755))
	require.NoError(t, os.Symlink(memberSysfsPath, filepath.Join(devDir, "block")))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "slot"), []byte("0"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "state"), []byte("in_sync"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "errors"), []byte("0"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(sysfsPath, "size"), []byte("0"), 0644))

	reg := registry.New("/org/storaged/storaged")
	memberRec := record.New(record.SubsystemBlock, memberSysfsPath, "sda", record.DevTypeDisk,
		record.DeviceNumber{Major: 8}, "/dev/sda", nil, nil, nil, nil)
	require.NoError(t, reg.Dispatch(uevent.ActionAdd, memberRec))

	ref := newMDRaidRefresher(reg)
	o := &mdraid.Object{UUID: "u1", ObjectPath: "/org/storaged/storaged/mdraid/u1"}
	setArraySysfsPath(t, o, sysfsPath)

	ref.Refresh(o)

	require.Len(t, o.Members, 1)
	expected := blockobj.BusPath("/org/storaged/storaged", memberRec)
	assert.Equal(t, expected, o.Members[0].ObjectPath)
	assert.Equal(t, 0, o.Members[0].Slot)
	assert.Equal(t, []string{"in_sync"}, o.Members[0].StateSet)
}

// setArraySysfsPath drives an Object into having arrayPath as its array
// side the same way Manager.Dispatch would, since arraySysfsPath is
// unexported.
func setArraySysfsPath(t *testing.T, o *mdraid.Object, arrayPath string) {
	t.Helper()
	m := mdraid.NewManager("/org/storaged/storaged")
	m.Dispatch(uevent.ActionAdd, arrayPath, "", o.UUID)
	live := m.ByUUID(o.UUID)
	require.NotNil(t, live)
	*o = *live
}
