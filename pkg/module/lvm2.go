// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package module

import (
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

// LVM2Module is a Block-facet-only module illustrating the facet-type
// descriptor contract of spec.md §4.7: it claims Block Objects whose
// Device Record carries DM_LV_NAME, publishing the logical-volume and
// volume-group names. It contributes no standalone objects, no
// manager facet and no Drive facets — the composition contract is the
// point, not LVM business logic (that stays out of scope, matching
// the spec's non-goal on per-module logic beyond composition).
type LVM2Module struct{}

func NewLVM2Module() *LVM2Module { return &LVM2Module{} }

func (m *LVM2Module) ID() string { return "lvm2" }

func (m *LVM2Module) ManagerFacet() Instance { return nil }

func (m *LVM2Module) NewStandaloneObject(rec *record.Record) Instance { return nil }

func (m *LVM2Module) BlockFacetTypes() []string { return []string{"LogicalVolume"} }

func (m *LVM2Module) NewBlockFacet(facetType, blockObjectPath string, rec *record.Record) Instance {
	if facetType != "LogicalVolume" {
		return nil
	}
	if rec.Property("DM_LV_NAME") == "" {
		return nil
	}
	return newLVM2LogicalVolumeFacet(blockObjectPath, rec)
}

func (m *LVM2Module) DriveFacetTypes() []string { return nil }
func (m *LVM2Module) NewDriveFacet(facetType, driveObjectPath string, rec *record.Record) Instance {
	return nil
}

// lvm2LogicalVolumeFacet publishes the logical-volume/volume-group
// name pair for a device-mapper block device backed by LVM2.
type lvm2LogicalVolumeFacet struct {
	objectPath string

	LVName string
	VGName string
}

func newLVM2LogicalVolumeFacet(blockObjectPath string, rec *record.Record) *lvm2LogicalVolumeFacet {
	f := &lvm2LogicalVolumeFacet{objectPath: blockObjectPath}
	f.update(rec)
	return f
}

func (f *lvm2LogicalVolumeFacet) ObjectPath() string { return f.objectPath }

func (f *lvm2LogicalVolumeFacet) ProcessUevent(action uevent.Action, rec *record.Record) (processed, keep bool) {
	if rec.Property("DM_LV_NAME") == "" || action == uevent.ActionRemove {
		return true, false
	}
	f.update(rec)
	return true, true
}

func (f *lvm2LogicalVolumeFacet) update(rec *record.Record) {
	f.LVName = rec.Property("DM_LV_NAME")
	f.VGName = rec.Property("DM_VG_NAME")
}

func (f *lvm2LogicalVolumeFacet) Housekeeping(float64) error { return nil }
func (f *lvm2LogicalVolumeFacet) Close()                     {}
