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

	"github.com/storaged-project/storaged/pkg/journal"
	"github.com/storaged-project/storaged/pkg/record"
)

func TestSysReconcilerDevNumExists(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dev", "block"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dev", "block", "8:1"), nil, 0644))

	r := &sysReconciler{sysfsRoot: root}
	assert.True(t, r.devNumExists(record.DeviceNumber{Major: 8, Minor: 1}))
	assert.False(t, r.devNumExists(record.DeviceNumber{Major: 8, Minor: 2}))
}

func TestSysReconcilerMDRaidStale(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dev", "block"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "dev", "block", "9:0"), nil, 0644))

	r := &sysReconciler{sysfsRoot: root}
	assert.False(t, r.MDRaidStale(journal.MDRaidEntry{RaidDevice: record.DeviceNumber{Major: 9, Minor: 0}}))
	assert.True(t, r.MDRaidStale(journal.MDRaidEntry{RaidDevice: record.DeviceNumber{Major: 9, Minor: 1}}))
}

func TestSysReconcilerLoopStale(t *testing.T) {
	root := t.TempDir()
	loopDir := filepath.Join(root, "class", "block", "loop0", "loop")
	require.NoError(t, os.MkdirAll(loopDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(loopDir, "backing_file"), []byte("/images/a.img\n"), 0644))

	r := &sysReconciler{sysfsRoot: root}
	assert.False(t, r.LoopStale(journal.LoopEntry{DeviceFile: "/dev/loop0", BackingFile: "/images/a.img"}))
	assert.True(t, r.LoopStale(journal.LoopEntry{DeviceFile: "/dev/loop0", BackingFile: "/images/b.img"}))
	assert.True(t, r.LoopStale(journal.LoopEntry{DeviceFile: "/dev/loop1", BackingFile: "/images/a.img"}))
}

func TestSysReverserRunReportsFailure(t *testing.T) {
	s := newSysReverser()
	err := s.run("false")
	assert.Error(t, err)
}

func TestSysReverserRunSucceeds(t *testing.T) {
	s := newSysReverser()
	err := s.run("true")
	assert.NoError(t, err)
}
