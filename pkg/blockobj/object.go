// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package blockobj implements the Block Object and its facet
// composition (spec.md §4.6): PartitionTable, Partition, Filesystem,
// Swap, Encrypted, Loop and NVMeNamespace facets attached or removed
// as their predicate over the current Device Record changes.
package blockobj

import (
	"strconv"
	"strings"

	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/udevprops"
)

// Facet is a sub-interface attached to a Block Object when its
// predicate matches.
type Facet interface {
	Update(rec *record.Record)
	Close()
}

// FacetKind names an attachable Block facet type.
type FacetKind string

const (
	FacetPartitionTable FacetKind = "PartitionTable"
	FacetPartition      FacetKind = "Partition"
	FacetFilesystem     FacetKind = "Filesystem"
	FacetSwap           FacetKind = "Swap"
	FacetEncrypted      FacetKind = "Encrypted"
	FacetLoop           FacetKind = "Loop"
	FacetNVMeNamespace  FacetKind = "NVMeNamespace"
)

// MountChecker and KernelPartitionChecker are the two pieces of
// external reality the facet predicate table depends on beyond the
// Device Record itself: whether the device is presently mounted, and
// whether sysfs lists kernel-discovered child partitions.
type MountChecker interface {
	IsMountedFilesystem(sysfsPath string) bool
	IsMountedSwap(sysfsPath string) bool
}

type KernelPartitionChecker interface {
	// IsKernelPartitioned reports whether sysfs lists at least one
	// child entry whose name starts with diskName.
	IsKernelPartitioned(diskName string) bool
}

// Object is a Block Object: one sysfs path, its latest Device Record,
// and its currently attached facets.
type Object struct {
	ObjectPath string
	record     *record.Record
	facets     map[FacetKind]Facet
}

// New constructs a Block Object from an initial Device Record.
func New(rec *record.Record, rootPrefix string) *Object {
	return &Object{
		ObjectPath: BusPath(rootPrefix, rec),
		record:     rec,
		facets:     make(map[FacetKind]Facet),
	}
}

// BusPath derives the Block object path (spec.md §6:
// "<root>/block_devices/<escaped_devname>").
func BusPath(rootPrefix string, rec *record.Record) string {
	return rootPrefix + "/block_devices/" + udevprops.EscapeObjectPathComponent(rec.DeviceName)
}

// Record returns the current Device Record.
func (o *Object) Record() *record.Record { return o.record }

// SetRecord replaces the current Device Record (spec.md §3: "Immutable
// after construction; replacement is the only update").
func (o *Object) SetRecord(rec *record.Record) { o.record = rec }

func (o *Object) HasFacet(kind FacetKind) bool {
	_, ok := o.facets[kind]
	return ok
}

func (o *Object) Facet(kind FacetKind) Facet {
	return o.facets[kind]
}

func (o *Object) removeFacet(kind FacetKind) {
	if f, ok := o.facets[kind]; ok {
		f.Close()
		delete(o.facets, kind)
	}
}

// FacetKinds returns the currently attached facet kinds, for
// inspection/tests.
func (o *Object) FacetKinds() []FacetKind {
	kinds := make([]FacetKind, 0, len(o.facets))
	for k := range o.facets {
		kinds = append(kinds, k)
	}
	return kinds
}

// Close tears down every facet; called when the Block Object itself is
// removed.
func (o *Object) Close() {
	for kind := range o.facets {
		o.removeFacet(kind)
	}
}

// newFacet constructs the concrete facet implementation for kind.
type newFacetFunc func(kind FacetKind, rec *record.Record) Facet

func defaultNewFacet(kind FacetKind, rec *record.Record) Facet {
	switch kind {
	case FacetPartitionTable:
		return NewPartitionTableFacet(rec)
	case FacetPartition:
		return NewPartitionFacet(rec)
	case FacetFilesystem:
		return NewFilesystemFacet(rec)
	case FacetSwap:
		return NewSwapFacet(rec)
	case FacetEncrypted:
		return NewEncryptedFacet(rec)
	case FacetLoop:
		return NewLoopFacet(rec)
	case FacetNVMeNamespace:
		return NewNVMeNamespaceFacet(rec)
	default:
		return nil
	}
}

// RefreshFacets evaluates every predicate in spec.md §4.6's table
// against rec and applies the common facet-update rule: construct on
// absent+true, remove on present+false, update-hook on present+true.
func (o *Object) RefreshFacets(rec *record.Record, mounts MountChecker, kparts KernelPartitionChecker) {
	o.SetRecord(rec)
	o.refreshFacetsWith(rec, mounts, kparts, defaultNewFacet)
}

func (o *Object) refreshFacetsWith(rec *record.Record, mounts MountChecker, kparts KernelPartitionChecker, newFacet newFacetFunc) {
	diskName := rec.DeviceName
	if rec.DevType == record.DevTypePartition {
		diskName = parentDiskName(rec.DeviceName)
	}
	kernelPartitioned := kparts != nil && kparts.IsKernelPartitioned(diskName)

	mountedFS := mounts != nil && mounts.IsMountedFilesystem(rec.SysfsPath)
	mountedSwap := mounts != nil && mounts.IsMountedSwap(rec.SysfsPath)

	predicates := map[FacetKind]bool{
		FacetPartitionTable: rec.DevType == record.DevTypeDisk &&
			((rec.HasProperty("ID_PART_TABLE_TYPE") && !(rec.Property("ID_FS_USAGE") == "filesystem" && !kernelPartitioned)) || kernelPartitioned),
		FacetPartition: rec.DevType == record.DevTypePartition || rec.HasProperty("ID_PART_ENTRY_SCHEME"),
		FacetFilesystem: (rec.Property("ID_FS_USAGE") == "filesystem" && !(rec.DevType == record.DevTypeDisk && kernelPartitioned)) ||
			rec.Property("ID_DRIVE_MEDIA_CHANGE_SUPPORT") == "0" || mountedFS,
		FacetSwap:          (rec.Property("ID_FS_USAGE") == "other" && rec.Property("ID_FS_TYPE") == "swap") || mountedSwap,
		FacetEncrypted:     isEncryptedType(rec.Property("ID_FS_TYPE")),
		FacetLoop:          strings.HasPrefix(rec.DeviceName, "loop") && rec.DevType == record.DevTypeDisk,
		FacetNVMeNamespace: rec.Subsystem == record.SubsystemNVMe && rec.SysfsAttr("nsid") != "",
	}

	for kind, want := range predicates {
		has := o.HasFacet(kind)
		switch {
		case want && !has:
			if f := newFacet(kind, rec); f != nil {
				o.facets[kind] = f
			}
		case !want && has:
			o.removeFacet(kind)
		case want && has:
			o.facets[kind].Update(rec)
		}
	}
}

func isEncryptedType(fsType string) bool {
	switch fsType {
	case "crypto_LUKS", "crypto_TCRYPT", "BitLocker", "unknown-crypto":
		return true
	default:
		return false
	}
}

// parentDiskName strips a trailing partition number (and, for names
// such as NVMe namespaces or mmcblk devices whose disk name ends in a
// digit, the "p" separator before it) to recover the whole-disk device
// name for kernel-partitioned lookups.
func parentDiskName(partName string) string {
	i := len(partName)
	for i > 0 && partName[i-1] >= '0' && partName[i-1] <= '9' {
		i--
	}
	name := partName[:i]
	if n := len(name); n >= 2 && name[n-1] == 'p' && name[n-2] >= '0' && name[n-2] <= '9' {
		name = name[:n-1]
	}
	return name
}

// DOSContainerNumber reports whether partition entry type t with
// partition number n is a DOS extended-partition container or is
// contained within one (spec.md §4.6: numbered ≤4 with type in
// [0x05,0x0f,0x85] is a container; any entry numbered ≥5 is contained,
// regardless of its own type, since a logical partition's own type
// describes its filesystem, not the extended container holding it).
func DOSContainerNumber(t string, n int) (isContainer, isContained bool) {
	if n >= 5 {
		return false, true
	}
	typ, err := strconv.ParseInt(strings.TrimPrefix(t, "0x"), 16, 32)
	if err != nil {
		return false, false
	}
	switch typ {
	case 0x05, 0x0f, 0x85:
		return true, false
	default:
		return false, false
	}
}
