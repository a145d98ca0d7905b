// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package blockobj

import (
	"strconv"

	"github.com/storaged-project/storaged/pkg/record"
)

// PartitionTableFacet publishes the partition table type. Whether the
// kernel itself scanned the table is not part of the facet.
type PartitionTableFacet struct {
	Type string
}

func NewPartitionTableFacet(rec *record.Record) *PartitionTableFacet {
	f := &PartitionTableFacet{}
	f.Update(rec)
	return f
}
func (f *PartitionTableFacet) Update(rec *record.Record) { f.Type = rec.Property("ID_PART_TABLE_TYPE") }
func (f *PartitionTableFacet) Close()                    {}

// PartitionFacet publishes a partition entry's identity within its
// table, including its DOS extended-partition container/contained
// status (spec.md §4.6: entries typed 0x05/0x0f/0x85 numbered ≤4 are
// containers; any entry numbered ≥5 is contained within one).
type PartitionFacet struct {
	Number      int
	Type        string
	UUID        string
	Flags       string
	Name        string
	IsContainer bool
	IsContained bool
}

func NewPartitionFacet(rec *record.Record) *PartitionFacet {
	f := &PartitionFacet{}
	f.Update(rec)
	return f
}
func (f *PartitionFacet) Update(rec *record.Record) {
	f.Number, _ = strconv.Atoi(rec.Property("ID_PART_ENTRY_NUMBER"))
	f.Type = rec.Property("ID_PART_ENTRY_TYPE")
	f.UUID = rec.Property("ID_PART_ENTRY_UUID")
	f.Flags = rec.Property("ID_PART_ENTRY_FLAGS")
	f.Name = rec.Property("ID_PART_ENTRY_NAME")
	f.IsContainer, f.IsContained = DOSContainerNumber(f.Type, f.Number)
}
func (f *PartitionFacet) Close() {}

// FilesystemFacet publishes filesystem identity (type, UUID, label); it
// carries no mount state.
type FilesystemFacet struct {
	Type  string
	UUID  string
	Label string
}

func NewFilesystemFacet(rec *record.Record) *FilesystemFacet {
	f := &FilesystemFacet{}
	f.Update(rec)
	return f
}
func (f *FilesystemFacet) Update(rec *record.Record) {
	f.Type = rec.Property("ID_FS_TYPE")
	f.UUID = rec.Property("ID_FS_UUID")
	f.Label = rec.Property("ID_FS_LABEL")
}
func (f *FilesystemFacet) Close() {}

// SwapFacet publishes swap identity.
type SwapFacet struct {
	UUID  string
	Label string
}

func NewSwapFacet(rec *record.Record) *SwapFacet {
	f := &SwapFacet{}
	f.Update(rec)
	return f
}
func (f *SwapFacet) Update(rec *record.Record) {
	f.UUID = rec.Property("ID_FS_UUID")
	f.Label = rec.Property("ID_FS_LABEL")
}
func (f *SwapFacet) Close() {}

// EncryptedFacet publishes crypto-container identity. HintEncryptionType
// records which of LUKS/TCRYPT/BitLocker/unknown-crypto matched.
type EncryptedFacet struct {
	HintEncryptionType string
	UUID               string
}

func NewEncryptedFacet(rec *record.Record) *EncryptedFacet {
	f := &EncryptedFacet{}
	f.Update(rec)
	return f
}
func (f *EncryptedFacet) Update(rec *record.Record) {
	f.HintEncryptionType = rec.Property("ID_FS_TYPE")
	f.UUID = rec.Property("ID_FS_UUID")
}
func (f *EncryptedFacet) Close() {}

// LoopFacet publishes the backing file of a loop device.
type LoopFacet struct {
	BackingFile string
	Autoclear   bool
}

func NewLoopFacet(rec *record.Record) *LoopFacet {
	f := &LoopFacet{}
	f.Update(rec)
	return f
}
func (f *LoopFacet) Update(rec *record.Record) {
	f.BackingFile = rec.SysfsAttr("loop/backing_file")
	f.Autoclear = rec.SysfsAttr("loop/autoclear") == "1"
}
func (f *LoopFacet) Close() {}

// NVMeNamespaceFacet publishes the namespace id; it carries no size.
type NVMeNamespaceFacet struct {
	NSID uint32
}

func NewNVMeNamespaceFacet(rec *record.Record) *NVMeNamespaceFacet {
	f := &NVMeNamespaceFacet{}
	f.Update(rec)
	return f
}
func (f *NVMeNamespaceFacet) Update(rec *record.Record) {
	var nsid uint32
	for _, c := range rec.SysfsAttr("nsid") {
		if c < '0' || c > '9' {
			break
		}
		nsid = nsid*10 + uint32(c-'0')
	}
	f.NSID = nsid
}
func (f *NVMeNamespaceFacet) Close() {}
