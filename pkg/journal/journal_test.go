// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package journal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storaged-project/storaged/pkg/record"
)

func newTestJournal(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	j, err := New(path, opts...)
	require.NoError(t, err)
	return j
}

func TestAddAndFindMountedFS(t *testing.T) {
	j := newTestJournal(t)
	dev := record.DeviceNumber{Major: 8, Minor: 1}

	require.NoError(t, j.AddMountedFS("/media/disk", dev, 1000, false))

	entry, found := j.FindMountedFS(dev)
	require.True(t, found)
	assert.Equal(t, "/media/disk", entry.MountPoint)
	assert.EqualValues(t, 1000, entry.UID)
	assert.False(t, entry.FstabMount)
}

func TestFindMountedFSMissing(t *testing.T) {
	j := newTestJournal(t)
	_, found := j.FindMountedFS(record.DeviceNumber{Major: 8, Minor: 9})
	assert.False(t, found)
}

func TestJournalSurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	j1, err := New(path)
	require.NoError(t, err)

	dev := record.DeviceNumber{Major: 253, Minor: 0}
	require.NoError(t, j1.AddMDRaid(dev, 0))

	j2, err := New(path)
	require.NoError(t, err)
	entry, found := j2.HasMDRaid(dev)
	require.True(t, found)
	assert.EqualValues(t, 0, entry.UID)
}

type fakeReconciler struct {
	mountedStale bool
	cryptoStale  bool
	loopStale    bool
	mdraidStale  bool
}

func (f *fakeReconciler) MountedFSStale(MountedFSEntry) bool             { return f.mountedStale }
func (f *fakeReconciler) UnlockedCryptoDevStale(UnlockedCryptoDevEntry) bool { return f.cryptoStale }
func (f *fakeReconciler) LoopStale(LoopEntry) bool                       { return f.loopStale }
func (f *fakeReconciler) MDRaidStale(MDRaidEntry) bool                   { return f.mdraidStale }

type recordingReverser struct {
	unmounted []MountedFSEntry
}

func (r *recordingReverser) UnmountStale(e MountedFSEntry) error {
	r.unmounted = append(r.unmounted, e)
	return nil
}
func (r *recordingReverser) LockCryptoDevStale(UnlockedCryptoDevEntry) error { return nil }
func (r *recordingReverser) DetachLoopStale(LoopEntry) error                { return nil }
func (r *recordingReverser) StopMDRaidStale(MDRaidEntry) error              { return nil }

func TestCheckWithNilReconcilerIsNoOp(t *testing.T) {
	j := newTestJournal(t)
	dev := record.DeviceNumber{Major: 8, Minor: 1}
	require.NoError(t, j.AddMountedFS("/media/disk", dev, 1000, false))

	j.Check()

	_, found := j.FindMountedFS(dev)
	assert.True(t, found, "Check with no reconciler must never drop entries")
}

func TestCheckReversesAndDropsStaleEntry(t *testing.T) {
	reconciler := &fakeReconciler{mountedStale: true}
	reverser := &recordingReverser{}
	j := newTestJournal(t, WithReconciler(reconciler), WithReverser(reverser))

	dev := record.DeviceNumber{Major: 8, Minor: 1}
	require.NoError(t, j.AddMountedFS("/media/disk", dev, 1000, false))

	j.Check()

	_, found := j.FindMountedFS(dev)
	assert.False(t, found)
	assert.Len(t, reverser.unmounted, 1)
}

func TestCheckKeepsLiveEntries(t *testing.T) {
	reconciler := &fakeReconciler{mountedStale: false}
	j := newTestJournal(t, WithReconciler(reconciler))

	dev := record.DeviceNumber{Major: 8, Minor: 1}
	require.NoError(t, j.AddMountedFS("/media/disk", dev, 1000, false))

	j.Check()
	j.Check()

	_, found := j.FindMountedFS(dev)
	assert.True(t, found)
}

func TestAddAndHasLoop(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, j.AddLoop("/dev/loop0", "/home/user/disk.img", record.DeviceNumber{Major: 8, Minor: 2}, 1000))

	entry, found := j.HasLoop("/dev/loop0")
	require.True(t, found)
	assert.Equal(t, "/home/user/disk.img", entry.BackingFile)

	_, found = j.HasLoop("/dev/loop1")
	assert.False(t, found)
}

func TestAddAndFindUnlockedCryptoDev(t *testing.T) {
	j := newTestJournal(t)
	cleartext := record.DeviceNumber{Major: 253, Minor: 1}
	crypto := record.DeviceNumber{Major: 8, Minor: 3}
	require.NoError(t, j.AddUnlockedCryptoDev(cleartext, crypto, "CRYPT-LUKS2-abc", 1000))

	entry, found := j.FindUnlockedCryptoDev(crypto)
	require.True(t, found)
	assert.Equal(t, cleartext, entry.CleartextDevice)
	assert.Equal(t, "CRYPT-LUKS2-abc", entry.DMUUID)
}
