// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package driveobj

import (
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/udevprops"
)

// Facet is a sub-interface attached to a Drive Object when its
// predicate matches: Drive (always), ATA, NVMeController, NVMeFabrics.
type Facet interface {
	// Update re-derives and re-publishes properties from rec.
	Update(rec *record.Record)
	// Close releases any resources the facet holds.
	Close()
}

// FacetKind names an attachable facet type.
type FacetKind string

const (
	FacetDrive          FacetKind = "Drive"
	FacetATA            FacetKind = "ATA"
	FacetNVMeController FacetKind = "NVMeController"
	FacetNVMeFabrics    FacetKind = "NVMeFabrics"
)

// Refresher performs the out-of-band I/O a Drive Object's housekeeping
// pass needs (ATA SMART read, NVMe health log fetch); the real
// implementation lives in pkg/blkdev. A nil Refresher makes Housekeeping
// a no-op, which keeps driveobj usable without it (e.g. in tests).
type Refresher interface {
	RefreshATASmart(primary *record.Record) error
	RefreshNVMeHealthLog(primary *record.Record) error
}

// Object is a Drive Object: the aggregation of every Device Record
// sharing a VPD. Device Records are kept in insertion order so
// multi-path operations can pick the first non-multipath record
// deterministically (spec.md §4.4 tie-breaking rule).
type Object struct {
	VPD        string
	ObjectPath string

	records   []*record.Record
	facets    map[FacetKind]Facet
	refresher Refresher
}

// New constructs an empty Drive Object for vpd and derives its bus
// object path from the first Device Record's identity properties
// (spec.md §6: "<root>/drives/<escaped_vendor>_<escaped_model>_<escaped_serial>").
func New(vpd string, first *record.Record, rootPrefix string, refresher Refresher) *Object {
	return &Object{
		VPD:        vpd,
		ObjectPath: BusPath(rootPrefix, first),
		facets:     make(map[FacetKind]Facet),
		refresher:  refresher,
	}
}

// BusPath derives the Drive object path from a Device Record's vendor,
// model and serial properties, omitting empty fields and collapsing
// the separators around them (spec.md §6).
func BusPath(rootPrefix string, rec *record.Record) string {
	var parts []string
	for _, p := range []string{rec.Property("ID_VENDOR"), rec.Property("ID_MODEL"), rec.Property("ID_SERIAL")} {
		if p == "" {
			continue
		}
		parts = append(parts, udevprops.EscapeObjectPathComponent(p))
	}
	if len(parts) == 0 {
		parts = []string{udevprops.EscapeObjectPathComponent(rec.DeviceName)}
	}
	return rootPrefix + "/drives/" + joinUnderscore(parts)
}

func joinUnderscore(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "_" + p
	}
	return out
}

// AddRecord appends rec if its sysfs path isn't already tracked.
// Returns true if rec was newly added.
func (o *Object) AddRecord(rec *record.Record) bool {
	for _, r := range o.records {
		if r.SysfsPath == rec.SysfsPath {
			return false
		}
	}
	o.records = append(o.records, rec)
	return true
}

// ReplaceRecord swaps the record tracked for a given sysfs path,
// preserving its position (insertion order, spec.md §8 property S1).
func (o *Object) ReplaceRecord(rec *record.Record) {
	for i, r := range o.records {
		if r.SysfsPath == rec.SysfsPath {
			o.records[i] = rec
			return
		}
	}
	o.records = append(o.records, rec)
}

// RemoveRecord drops the record for sysfsPath. Returns true if the
// Drive now has no remaining records (caller should unexport/erase).
func (o *Object) RemoveRecord(sysfsPath string) (empty bool) {
	for i, r := range o.records {
		if r.SysfsPath == sysfsPath {
			o.records = append(o.records[:i], o.records[i+1:]...)
			break
		}
	}
	return len(o.records) == 0
}

// Records returns the tracked Device Records in insertion order.
// Callers must not mutate the returned slice.
func (o *Object) Records() []*record.Record {
	return o.records
}

// PrimaryRecord returns the first non-multipath record, or the first
// record if every one is a multipath slave (spec.md §4.4 tie-break).
func (o *Object) PrimaryRecord() *record.Record {
	if len(o.records) == 0 {
		return nil
	}
	for _, r := range o.records {
		if r.Property("DM_MULTIPATH_DEVICE_PATH") == "" {
			return r
		}
	}
	return o.records[0]
}

// SetFacet attaches or replaces a facet.
func (o *Object) SetFacet(kind FacetKind, f Facet) {
	o.facets[kind] = f
}

// RemoveFacet closes and detaches a facet, if present.
func (o *Object) RemoveFacet(kind FacetKind) {
	if f, ok := o.facets[kind]; ok {
		f.Close()
		delete(o.facets, kind)
	}
}

// HasFacet reports whether kind is currently attached.
func (o *Object) HasFacet(kind FacetKind) bool {
	_, ok := o.facets[kind]
	return ok
}

// Facet returns the attached facet for kind, or nil.
func (o *Object) Facet(kind FacetKind) Facet {
	return o.facets[kind]
}

// RefreshFacets evaluates the {ATA, NVMeController, NVMeFabrics}
// predicates against the primary record and adds/removes/updates
// facets accordingly. The Drive facet itself is evaluated by the
// caller (it is unconditional) via EnsureDriveFacet.
func (o *Object) RefreshFacets(newFacet func(kind FacetKind, primary *record.Record) Facet) {
	primary := o.PrimaryRecord()
	if primary == nil {
		return
	}

	predicates := map[FacetKind]bool{
		FacetATA:            primary.Property("ID_ATA") == "1" || primary.Property("ID_ATA") == "yes",
		FacetNVMeController: primary.Subsystem == record.SubsystemNVMe && primary.NVMeInfo != nil,
		FacetNVMeFabrics:    primary.Subsystem == record.SubsystemNVMe && primary.NVMeInfo != nil && isFabricsTransport(primary.NVMeInfo.Transport),
	}

	for kind, want := range predicates {
		has := o.HasFacet(kind)
		switch {
		case want && !has:
			if f := newFacet(kind, primary); f != nil {
				o.SetFacet(kind, f)
			}
		case !want && has:
			o.RemoveFacet(kind)
		case want && has:
			o.Facet(kind).Update(primary)
		}
	}
}

func isFabricsTransport(transport string) bool {
	switch transport {
	case "rdma", "tcp", "fc":
		return true
	default:
		return false
	}
}

// EnsureDriveFacet attaches the unconditional Drive facet on first
// creation and refreshes it on every subsequent call.
func (o *Object) EnsureDriveFacet(newFacet func(primary *record.Record) Facet) {
	primary := o.PrimaryRecord()
	if primary == nil {
		return
	}
	if !o.HasFacet(FacetDrive) {
		o.SetFacet(FacetDrive, newFacet(primary))
		return
	}
	o.Facet(FacetDrive).Update(primary)
}

// Close tears down every attached facet, used when the Drive Object is
// erased because its last Device Record was removed.
func (o *Object) Close() {
	for kind := range o.facets {
		o.RemoveFacet(kind)
	}
}

// Housekeeping runs the periodic maintenance pass spec.md §4.8
// describes: ATA drives get a SMART refresh, NVMe controllers get a
// health log refresh; the controller type is not checked. secondsSinceLast is
// unused by drives that refresh unconditionally on every sweep; it is
// accepted so Object satisfies the scheduler's uniform Housekeeper
// contract alongside module standalone objects.
func (o *Object) Housekeeping(secondsSinceLast float64) error {
	if o.refresher == nil {
		return nil
	}
	primary := o.PrimaryRecord()
	if primary == nil {
		return nil
	}
	switch {
	case o.HasFacet(FacetATA):
		return o.refresher.RefreshATASmart(primary)
	case o.HasFacet(FacetNVMeController):
		return o.refresher.RefreshNVMeHealthLog(primary)
	default:
		return nil
	}
}
