// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storaged-project/storaged/pkg/blockobj"
	"github.com/storaged-project/storaged/pkg/driveobj"
	"github.com/storaged-project/storaged/pkg/mdraid"
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

func diskRecord(sysfsPath, name string, props map[string]string) *record.Record {
	return record.New(record.SubsystemBlock, sysfsPath, name, record.DevTypeDisk, record.DeviceNumber{Major: 8}, "/dev/"+name, props, nil, nil, nil)
}

type orderRecordingPublisher struct {
	events []string
}

func (p *orderRecordingPublisher) BlockExported(o *blockobj.Object)   { p.events = append(p.events, "block+"+o.ObjectPath) }
func (p *orderRecordingPublisher) BlockUnexported(o *blockobj.Object) { p.events = append(p.events, "block-"+o.ObjectPath) }
func (p *orderRecordingPublisher) DriveExported(o *driveobj.Object)   { p.events = append(p.events, "drive+"+o.ObjectPath) }
func (p *orderRecordingPublisher) DriveUnexported(o *driveobj.Object) { p.events = append(p.events, "drive-"+o.ObjectPath) }
func (p *orderRecordingPublisher) MDRaidExported(o *mdraid.Object)    { p.events = append(p.events, "mdraid+"+o.ObjectPath) }
func (p *orderRecordingPublisher) MDRaidUnexported(o *mdraid.Object)  { p.events = append(p.events, "mdraid-"+o.ObjectPath) }

func TestDispatchOrderingDriveBeforeBlockOnAdd(t *testing.T) {
	pub := &orderRecordingPublisher{}
	r := New("/org/storaged/storaged", WithPublisher(pub))

	rec := diskRecord("/sys/block/sda", "sda", map[string]string{"ID_SERIAL": "S1"})
	require.NoError(t, r.Dispatch(uevent.ActionAdd, rec))

	require.Len(t, pub.events, 2)
	assert.Contains(t, pub.events[0], "drive+", "Drive must be exported before its owning Block")
	assert.Contains(t, pub.events[1], "block+")
}

func TestDispatchOrderingBlockBeforeDriveOnRemove(t *testing.T) {
	pub := &orderRecordingPublisher{}
	r := New("/org/storaged/storaged", WithPublisher(pub))
	rec := diskRecord("/sys/block/sda", "sda", map[string]string{"ID_SERIAL": "S1"})
	require.NoError(t, r.Dispatch(uevent.ActionAdd, rec))
	pub.events = nil

	require.NoError(t, r.Dispatch(uevent.ActionRemove, rec))
	require.Len(t, pub.events, 2)
	assert.Contains(t, pub.events[0], "block-", "Block must be unexported before its owning Drive")
	assert.Contains(t, pub.events[1], "drive-")
}

func TestDispatchIdempotentAddProducesOneBlockAndOneDrive(t *testing.T) {
	r := New("/org/storaged/storaged")
	rec := diskRecord("/sys/block/sda", "sda", map[string]string{"ID_SERIAL": "S1"})

	require.NoError(t, r.Dispatch(uevent.ActionAdd, rec))
	require.NoError(t, r.Dispatch(uevent.ActionAdd, rec))

	require.NotNil(t, r.Block("/sys/block/sda"))
	drive := r.Drives().BySysfsPath("/sys/block/sda")
	require.NotNil(t, drive)
	assert.Len(t, drive.Records(), 1)
}

func TestDispatchRemoveSymmetry(t *testing.T) {
	r := New("/org/storaged/storaged")
	rec := diskRecord("/sys/block/sda", "sda", map[string]string{"ID_SERIAL": "S1"})

	require.NoError(t, r.Dispatch(uevent.ActionAdd, rec))
	require.NoError(t, r.Dispatch(uevent.ActionRemove, rec))

	assert.Nil(t, r.Block("/sys/block/sda"))
	assert.False(t, r.IsKnown("/sys/block/sda"))
	assert.Nil(t, r.Drives().BySysfsPath("/sys/block/sda"))
}

func TestDispatchSkipsWhenDMUdevDisableFlagSet(t *testing.T) {
	r := New("/org/storaged/storaged")
	rec := diskRecord("/sys/block/dm-0", "dm-0", map[string]string{"DM_UDEV_DISABLE_OTHER_RULES_FLAG": "1"})

	require.NoError(t, r.Dispatch(uevent.ActionAdd, rec))
	assert.False(t, r.IsKnown("/sys/block/dm-0"), "dispatch must be skipped entirely when the dm-udev flag is set")
}

func TestDispatchDMUdevFlagDoesNotSkipRemove(t *testing.T) {
	r := New("/org/storaged/storaged")
	rec := diskRecord("/sys/block/sda", "sda", map[string]string{"ID_SERIAL": "S1"})
	require.NoError(t, r.Dispatch(uevent.ActionAdd, rec))

	flagged := diskRecord("/sys/block/sda", "sda", map[string]string{"ID_SERIAL": "S1", "DM_UDEV_DISABLE_OTHER_RULES_FLAG": "1"})
	require.NoError(t, r.Dispatch(uevent.ActionRemove, flagged))
	assert.False(t, r.IsKnown("/sys/block/sda"), "the remove path must never be skipped by the dm-udev flag")
}

type countingJournal struct{ checks int }

func (j *countingJournal) Check() { j.checks++ }

func TestJournalCheckInvokedAfterNonAddEvents(t *testing.T) {
	j := &countingJournal{}
	r := New("/org/storaged/storaged", WithJournal(j))
	rec := diskRecord("/sys/block/sda", "sda", map[string]string{"ID_SERIAL": "S1"})

	require.NoError(t, r.Dispatch(uevent.ActionAdd, rec))
	assert.Equal(t, 0, j.checks, "check must not run after add")

	require.NoError(t, r.Dispatch(uevent.ActionChange, rec))
	assert.Equal(t, 1, j.checks)

	require.NoError(t, r.Dispatch(uevent.ActionRemove, rec))
	assert.Equal(t, 2, j.checks)
}

func TestDispatchS1DriveDiscoveryByVPD(t *testing.T) {
	r := New("/org/storaged/storaged")
	props := map[string]string{"ID_WWN_WITH_EXTENSION": "0x5000c500abcdef01", "ID_SERIAL": "S123"}

	require.NoError(t, r.Dispatch(uevent.ActionAdd, diskRecord("/sys/block/sda", "sda", props)))
	require.NoError(t, r.Dispatch(uevent.ActionAdd, diskRecord("/sys/block/sdb", "sdb", props)))

	drive := r.Drives().BySysfsPath("/sys/block/sda")
	require.NotNil(t, drive)
	assert.Same(t, drive, r.Drives().BySysfsPath("/sys/block/sdb"))
	require.Len(t, drive.Records(), 2)
	assert.Equal(t, "/sys/block/sda", drive.Records()[0].SysfsPath)
	assert.Equal(t, "/sys/block/sdb", drive.Records()[1].SysfsPath)
	require.NotNil(t, r.Block("/sys/block/sda"))
	require.NotNil(t, r.Block("/sys/block/sdb"))
}

func TestDispatchS3MDRaidMemberAndArrayPublishesOnce(t *testing.T) {
	pub := &orderRecordingPublisher{}
	r := New("/org/storaged/storaged", WithPublisher(pub))

	memberRec := diskRecord("/sys/block/sda", "sda", map[string]string{"UDISKS_MD_MEMBER_UUID": "u1"})
	arrayRec := diskRecord("/sys/block/md0", "md0", map[string]string{"UDISKS_MD_UUID": "u1"})

	require.NoError(t, r.Dispatch(uevent.ActionAdd, memberRec))
	require.NoError(t, r.Dispatch(uevent.ActionAdd, arrayRec))

	o := r.MDRaids().ByUUID("u1")
	require.NotNil(t, o)
	assert.True(t, o.Running())
	assert.Equal(t, 1, o.MemberCount())
	assert.Contains(t, pub.events, "mdraid+"+o.ObjectPath)
}

func TestDispatchMDRaidUnexportedWhenBothSidesGone(t *testing.T) {
	pub := &orderRecordingPublisher{}
	r := New("/org/storaged/storaged", WithPublisher(pub))

	memberRec := diskRecord("/sys/block/sda", "sda", map[string]string{"UDISKS_MD_MEMBER_UUID": "u1"})
	arrayRec := diskRecord("/sys/block/md0", "md0", map[string]string{"UDISKS_MD_UUID": "u1"})
	require.NoError(t, r.Dispatch(uevent.ActionAdd, memberRec))
	require.NoError(t, r.Dispatch(uevent.ActionAdd, arrayRec))
	objPath := r.MDRaids().ByUUID("u1").ObjectPath
	pub.events = nil

	require.NoError(t, r.Dispatch(uevent.ActionRemove, memberRec))
	assert.NotNil(t, r.MDRaids().ByUUID("u1"), "member side alone must not tear down the object")
	require.NoError(t, r.Dispatch(uevent.ActionRemove, arrayRec))

	assert.Contains(t, pub.events, "mdraid-"+objPath)
	assert.Nil(t, r.MDRaids().ByUUID("u1"))
}
