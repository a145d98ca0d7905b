// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package driveobj

import "github.com/storaged-project/storaged/pkg/record"

// DriveFacet publishes the identity properties re-derived from the
// primary Device Record on every facet refresh: vendor, model, serial,
// revision, WWN, connection bus, seat, removable flag,
// media-compatibility list and sort key. Size and RotationRate are not
// derived by Update and stay zero.
type DriveFacet struct {
	Vendor        string
	Model         string
	Serial        string
	Revision      string
	WWN           string
	Size          uint64
	RotationRate  int32
	ConnectionBus string
	Seat          string
	MediaCompat   []string
	SortKey       string
	Removable     bool
}

// NewDriveFacet builds a DriveFacet from a Device Record.
func NewDriveFacet(rec *record.Record) *DriveFacet {
	f := &DriveFacet{}
	f.Update(rec)
	return f
}

func (f *DriveFacet) Update(rec *record.Record) {
	f.Vendor = rec.Property("ID_VENDOR")
	f.Model = rec.Property("ID_MODEL")
	f.Serial = rec.Property("ID_SERIAL")
	f.Revision = rec.Property("ID_REVISION")
	f.WWN = rec.Property("ID_WWN_WITH_EXTENSION")
	if f.WWN == "" {
		f.WWN = rec.Property("ID_WWN")
	}
	f.ConnectionBus = rec.Property("ID_BUS")
	f.Seat = rec.Property("ID_SEAT")
	if f.Seat == "" {
		f.Seat = "seat0"
	}
	f.Removable = rec.SysfsAttr("removable") == "1"
	f.MediaCompat = rec.PropertyList("ID_DRIVE_MEDIA_COMPATIBILITY")
	f.SortKey = f.Vendor + "_" + f.Model + "_" + f.Serial
}

func (f *DriveFacet) Close() {}

// ATAFacet publishes SMART-adjacent ATA identity. Update sets
// SmartSupported when the record carries ATA IDENTIFY data; it does not
// read the drive's persisted configuration (pkg/driveconfig), and
// SmartEnabled is never set.
type ATAFacet struct {
	SmartSupported bool
	SmartEnabled   bool
}

func NewATAFacet(rec *record.Record) *ATAFacet {
	f := &ATAFacet{}
	f.Update(rec)
	return f
}

func (f *ATAFacet) Update(rec *record.Record) {
	f.SmartSupported = len(rec.ATAIdentify) > 0
}

func (f *ATAFacet) Close() {}

// NVMeControllerFacet publishes the decoded Identify Controller data.
type NVMeControllerFacet struct {
	ControllerID uint16
	SubsystemNQN string
	ModelNumber  string
	SerialNumber string
	FirmwareRev  string
}

func NewNVMeControllerFacet(rec *record.Record) *NVMeControllerFacet {
	f := &NVMeControllerFacet{}
	f.Update(rec)
	return f
}

func (f *NVMeControllerFacet) Update(rec *record.Record) {
	if rec.NVMeInfo == nil {
		return
	}
	f.ControllerID = rec.NVMeInfo.ControllerID
	f.SubsystemNQN = rec.NVMeInfo.SubsystemNQN
	f.ModelNumber = rec.NVMeInfo.ModelNumber
	f.SerialNumber = rec.NVMeInfo.SerialNumber
	f.FirmwareRev = rec.NVMeInfo.FirmwareRev
}

func (f *NVMeControllerFacet) Close() {}

// NVMeFabricsFacet publishes fabrics-transport-specific identity (host
// NQN, transport type) for controllers reached over RDMA/TCP/FC.
type NVMeFabricsFacet struct {
	Transport string
	HostNQN   string
}

func NewNVMeFabricsFacet(rec *record.Record) *NVMeFabricsFacet {
	f := &NVMeFabricsFacet{}
	f.Update(rec)
	return f
}

func (f *NVMeFabricsFacet) Update(rec *record.Record) {
	if rec.NVMeInfo == nil {
		return
	}
	f.Transport = rec.NVMeInfo.Transport
	f.HostNQN = rec.NVMeInfo.HostNQN
}

func (f *NVMeFabricsFacet) Close() {}
