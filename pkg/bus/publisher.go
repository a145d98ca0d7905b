// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package bus

import (
	"github.com/godbus/dbus/v5"

	"github.com/storaged-project/storaged/pkg/blockobj"
	"github.com/storaged-project/storaged/pkg/driveobj"
	"github.com/storaged-project/storaged/pkg/mdraid"
	"github.com/storaged-project/storaged/pkg/registry"
)

var _ registry.Publisher = (*Manager)(nil)

// DriveExported exports a newly discovered Drive Object.
func (m *Manager) DriveExported(o *driveobj.Object) {
	m.export(dbus.ObjectPath(o.ObjectPath), IfaceDrive, driveProperties(o))
}

// DriveUnexported retracts a Drive Object that dropped its last
// Device Record.
func (m *Manager) DriveUnexported(o *driveobj.Object) {
	m.unexport(dbus.ObjectPath(o.ObjectPath))
}

// BlockExported exports a newly discovered Block Object.
func (m *Manager) BlockExported(o *blockobj.Object) {
	m.export(dbus.ObjectPath(o.ObjectPath), IfaceBlock, blockProperties(o))
}

// BlockUnexported retracts a removed Block Object.
func (m *Manager) BlockUnexported(o *blockobj.Object) {
	m.unexport(dbus.ObjectPath(o.ObjectPath))
}

// MDRaidExported publishes an MDRaid Object's current properties. It
// doubles as the update path: registry.Registry calls it both the
// first time an MDRaid is seen and on every later refresh, and update
// falls back to an export when the path is not managed yet, so
// InterfacesAdded fires once and PropertiesChanged fires after.
func (m *Manager) MDRaidExported(o *mdraid.Object) {
	m.update(dbus.ObjectPath(o.ObjectPath), IfaceMDRaid, mdraidProperties(o))
}

// MDRaidUnexported retracts an MDRaid Object that lost both its member
// and array sides.
func (m *Manager) MDRaidUnexported(o *mdraid.Object) {
	m.unexport(dbus.ObjectPath(o.ObjectPath))
}

// RefreshDrive re-publishes a Drive Object's properties after a facet
// refresh (spec.md §4.8: "Updating a facet may re-publish derived
// properties"). Not part of registry.Publisher; nothing in the
// repository calls it.
func (m *Manager) RefreshDrive(o *driveobj.Object) {
	m.update(dbus.ObjectPath(o.ObjectPath), IfaceDrive, driveProperties(o))
}

// RefreshBlock is RefreshDrive's Block Object counterpart.
func (m *Manager) RefreshBlock(o *blockobj.Object) {
	m.update(dbus.ObjectPath(o.ObjectPath), IfaceBlock, blockProperties(o))
}

func driveProperties(o *driveobj.Object) map[string]interface{} {
	props := map[string]interface{}{
		"Vpd": o.VPD,
	}
	primary := o.PrimaryRecord()
	if primary == nil {
		return props
	}
	props["Vendor"] = primary.Property("ID_VENDOR")
	props["Model"] = primary.Property("ID_MODEL")
	props["Serial"] = primary.Property("ID_SERIAL_SHORT")
	props["Revision"] = primary.Property("ID_REVISION")
	props["ATA"] = o.HasFacet(driveobj.FacetATA)
	props["NVMeController"] = o.HasFacet(driveobj.FacetNVMeController)
	return props
}

// mdraidMember is the D-Bus wire shape of one per-member entry,
// matching spec.md §4.5's "(object_path, slot, state_set, error_count)".
type mdraidMember struct {
	ObjectPath string
	Slot       int32
	StateSet   []string
	ErrorCount uint64
}

func mdraidProperties(o *mdraid.Object) map[string]interface{} {
	members := make([]mdraidMember, 0, len(o.Members))
	for _, mem := range o.Members {
		members = append(members, mdraidMember{
			ObjectPath: mem.ObjectPath,
			Slot:       int32(mem.Slot),
			StateSet:   mem.StateSet,
			ErrorCount: uint64(mem.ErrorCount),
		})
	}
	return map[string]interface{}{
		"Uuid":            o.UUID,
		"Running":         o.Running(),
		"Level":           o.Level,
		"NumDevices":      uint32(o.MemberCount()),
		"Size":            o.Size,
		"Degraded":        uint32(o.DegradedCount),
		"SyncAction":      o.SyncAction,
		"BitmapLocation":  o.BitmapLocation,
		"ChunkSize":       o.ChunkSize,
		"SyncCompleted":   o.SyncCompleted,
		"SyncRate":        o.SyncRateBytesPS,
		"SyncRemainingTime": o.SyncRemainingUS,
		"ActiveDevices":   members,
	}
}

func blockProperties(o *blockobj.Object) map[string]interface{} {
	rec := o.Record()
	if rec == nil {
		return map[string]interface{}{}
	}
	props := map[string]interface{}{
		"Device":         rec.DeviceFile,
		"DeviceNumber":   [2]uint32{rec.DeviceNumber.Major, rec.DeviceNumber.Minor},
		"Id":             rec.Property("ID_FS_UUID"),
		"IdType":         rec.Property("ID_FS_TYPE"),
		"PartitionTable": o.HasFacet(blockobj.FacetPartitionTable),
		"Partition":      o.HasFacet(blockobj.FacetPartition),
		"Filesystem":     o.HasFacet(blockobj.FacetFilesystem),
		"Encrypted":      o.HasFacet(blockobj.FacetEncrypted),
	}
	if part, ok := o.Facet(blockobj.FacetPartition).(*blockobj.PartitionFacet); ok {
		props["PartitionNumber"] = uint32(part.Number)
		props["PartitionType"] = part.Type
		props["PartitionIsContainer"] = part.IsContainer
		props["PartitionIsContained"] = part.IsContained
	}
	return props
}
