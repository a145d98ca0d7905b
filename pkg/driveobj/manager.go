// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package driveobj

import (
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

// InitialHousekeeper is invoked, on its own worker, the first time a
// Drive is seen (spec.md §4.4 point 2: "Scheduled side effect (not on
// cold-plug)"). Implementations should NOT block the dispatch path.
type InitialHousekeeper interface {
	ScheduleInitial(drive *Object)
}

// Manager owns every Drive Object, indexed both by VPD and by every
// sysfs path currently aggregated into one. Callers must hold whatever
// outer lock the registry defines; Manager itself does no locking.
type Manager struct {
	rootPrefix  string
	byVPD       map[string]*Object
	bySysfsPath map[string]*Object
	initial     InitialHousekeeper
	newFacet    func(kind FacetKind, primary *record.Record) Facet
	refresher   Refresher
}

// NewManager constructs an empty Drive manager. initial may be nil, in
// which case no initial housekeeping is ever scheduled (useful in
// tests).
func NewManager(rootPrefix string, initial InitialHousekeeper) *Manager {
	return &Manager{
		rootPrefix:  rootPrefix,
		byVPD:       make(map[string]*Object),
		bySysfsPath: make(map[string]*Object),
		initial:     initial,
		newFacet:    defaultFacetConstructor,
	}
}

// WithRefresher attaches the out-of-band SMART/health-log Refresher new
// Drives should be constructed with.
func (m *Manager) WithRefresher(r Refresher) *Manager {
	m.refresher = r
	return m
}

// WithInitial attaches the InitialHousekeeper scheduled the first time
// a Drive is seen.
func (m *Manager) WithInitial(h InitialHousekeeper) *Manager {
	m.initial = h
	return m
}

// Snapshot returns a copy of every currently known Drive Object, the
// snapshot spec.md §4.8's housekeeping scheduler sweeps under the
// registry lock before running (possibly slow) per-object maintenance
// outside it.
func (m *Manager) Snapshot() []*Object {
	out := make([]*Object, 0, len(m.byVPD))
	for _, d := range m.byVPD {
		out = append(out, d)
	}
	return out
}

func defaultFacetConstructor(kind FacetKind, primary *record.Record) Facet {
	switch kind {
	case FacetATA:
		return NewATAFacet(primary)
	case FacetNVMeController:
		return NewNVMeControllerFacet(primary)
	case FacetNVMeFabrics:
		return NewNVMeFabricsFacet(primary)
	default:
		return nil
	}
}

// ByVPD returns the Drive currently known for vpd, or nil.
func (m *Manager) ByVPD(vpd string) *Object {
	return m.byVPD[vpd]
}

// BySysfsPath returns the Drive currently owning sysfsPath, or nil.
func (m *Manager) BySysfsPath(sysfsPath string) *Object {
	return m.bySysfsPath[sysfsPath]
}

// IsKnown reports whether sysfsPath is already aggregated into a
// Drive, satisfying probe.KnownPathChecker for the spurious-event
// filter (spec.md §8 property 5).
func (m *Manager) IsKnown(sysfsPath string) bool {
	_, ok := m.bySysfsPath[sysfsPath]
	return ok
}

// Dispatch applies one Device Record event to the Drive registry,
// following spec.md §4.4 points 2-4. Eligible events are disk-like
// block devices and NVMe controller nodes; rec that does not qualify
// for a VPD is a no-op here (e.g. a partition node).
func (m *Manager) Dispatch(action uevent.Action, rec *record.Record) {
	if action == uevent.ActionRemove {
		m.remove(rec.SysfsPath)
		return
	}

	vpd, ok := ComputeVPD(rec)
	if !ok {
		// No VPD candidate: if this path used to have one, tear it down
		// (VPD stability property, spec.md §8 property 3).
		m.remove(rec.SysfsPath)
		return
	}

	if existing, had := m.bySysfsPath[rec.SysfsPath]; had && existing.VPD != vpd {
		m.remove(rec.SysfsPath)
	}

	drive, isNew := m.upsert(vpd, rec)
	drive.EnsureDriveFacet(func(r *record.Record) Facet { return NewDriveFacet(r) })
	drive.RefreshFacets(m.newFacet)

	if isNew && m.initial != nil {
		m.initial.ScheduleInitial(drive)
	}
}

func (m *Manager) upsert(vpd string, rec *record.Record) (drive *Object, isNew bool) {
	drive, ok := m.byVPD[vpd]
	if !ok {
		drive = New(vpd, rec, m.rootPrefix, m.refresher)
		m.byVPD[vpd] = drive
		isNew = true
	}
	if !drive.AddRecord(rec) {
		drive.ReplaceRecord(rec)
	}
	m.bySysfsPath[rec.SysfsPath] = drive
	return drive, isNew
}

// remove drops the Device Record for sysfsPath from its owning Drive,
// erasing the Drive if it was the last record (spec.md §4.4 point 4).
// Returns the erased Drive, or nil if the Drive survives or none was
// found.
func (m *Manager) remove(sysfsPath string) *Object {
	drive, ok := m.bySysfsPath[sysfsPath]
	if !ok {
		return nil
	}
	delete(m.bySysfsPath, sysfsPath)

	if empty := drive.RemoveRecord(sysfsPath); empty {
		delete(m.byVPD, drive.VPD)
		drive.Close()
		return drive
	}
	return nil
}
