// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package bus

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storaged-project/storaged/pkg/blockobj"
	"github.com/storaged-project/storaged/pkg/driveobj"
	"github.com/storaged-project/storaged/pkg/job"
	"github.com/storaged-project/storaged/pkg/record"
)

func TestPropHandlerGetReturnsStoredVariant(t *testing.T) {
	p := newPropHandler()
	p.set(IfaceDrive, toVariants(map[string]interface{}{"Vendor": "ACME"}))

	v, dbusErr := p.Get(IfaceDrive, "Vendor")
	require.Nil(t, dbusErr)
	assert.Equal(t, "ACME", v.Value())
}

func TestPropHandlerGetUnknownInterfaceErrors(t *testing.T) {
	p := newPropHandler()
	_, dbusErr := p.Get("org.storaged.storaged.Nope", "X")
	require.NotNil(t, dbusErr)
	assert.Equal(t, "org.freedesktop.DBus.Error.UnknownInterface", dbusErr.Name)
}

func TestPropHandlerGetUnknownPropertyErrors(t *testing.T) {
	p := newPropHandler()
	p.set(IfaceDrive, toVariants(map[string]interface{}{"Vendor": "ACME"}))
	_, dbusErr := p.Get(IfaceDrive, "NoSuchProperty")
	require.NotNil(t, dbusErr)
	assert.Equal(t, "org.freedesktop.DBus.Error.UnknownProperty", dbusErr.Name)
}

func TestPropHandlerGetAllReturnsEveryProperty(t *testing.T) {
	p := newPropHandler()
	p.set(IfaceDrive, toVariants(map[string]interface{}{"Vendor": "ACME", "Model": "Widget"}))

	all, dbusErr := p.GetAll(IfaceDrive)
	require.Nil(t, dbusErr)
	assert.Len(t, all, 2)
	assert.Equal(t, "ACME", all["Vendor"].Value())
}

func TestPropHandlerSetIsAlwaysRejected(t *testing.T) {
	p := newPropHandler()
	p.set(IfaceDrive, toVariants(map[string]interface{}{"Vendor": "ACME"}))

	dbusErr := p.Set(IfaceDrive, "Vendor", dbus.MakeVariant("Evil Corp"))
	require.NotNil(t, dbusErr)
	assert.Equal(t, "org.freedesktop.DBus.Error.PropertyReadOnly", dbusErr.Name)
}

func ataRecord() *record.Record {
	return record.New(record.SubsystemBlock, "/sys/devices/fake", "sda", record.DevTypeDisk,
		record.DeviceNumber{Major: 8, Minor: 0}, "/dev/sda",
		map[string]string{"ID_ATA": "1", "ID_VENDOR": "ACME", "ID_MODEL": "Widget", "ID_SERIAL_SHORT": "SN123"},
		nil, nil, nil)
}

func TestDrivePropertiesIncludesIdentityAndFacets(t *testing.T) {
	rec := ataRecord()
	drive := driveobj.New("ACME_Widget_SN123", rec, "/org/storaged/storaged", nil)
	drive.AddRecord(rec)

	props := driveProperties(drive)
	assert.Equal(t, "ACME_Widget_SN123", props["Vpd"])
	assert.Equal(t, "ACME", props["Vendor"])
	assert.Equal(t, "Widget", props["Model"])
	assert.Equal(t, "SN123", props["Serial"])
}

func TestBlockPropertiesReadsDeviceAndFacets(t *testing.T) {
	blk := blockobj.New(ataRecord(), "/org/storaged/storaged")

	props := blockProperties(blk)
	assert.Equal(t, "/dev/sda", props["Device"])
	assert.Equal(t, [2]uint32{8, 0}, props["DeviceNumber"])
	assert.Equal(t, false, props["Partition"])
}

func TestJobPropertiesReflectsProgressAndRate(t *testing.T) {
	registry := job.NewRegistry()
	j := registry.Start(job.KindFilesystemResize, "/org/storaged/storaged/block_devices/sda1", 1000, true)
	j.SetProgress(0.5)
	j.SetRate(1024)

	props := jobProperties(j.State())
	assert.Equal(t, 0.5, props["Progress"])
	assert.EqualValues(t, 1024, props["Rate"])
	assert.Equal(t, true, props["Cancellable"])
}

func TestJobPathNestsUnderRoot(t *testing.T) {
	assert.Equal(t, dbus.ObjectPath("/org/storaged/storaged/jobs/abc-123"), JobPath("/org/storaged/storaged", "abc-123"))
}
