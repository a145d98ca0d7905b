// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package blockobj

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storaged-project/storaged/pkg/record"
)

type fakeMounts struct {
	fs, swap map[string]bool
}

func (f *fakeMounts) IsMountedFilesystem(sysfsPath string) bool { return f.fs[sysfsPath] }
func (f *fakeMounts) IsMountedSwap(sysfsPath string) bool       { return f.swap[sysfsPath] }

type fakeKernelParts struct {
	partitioned map[string]bool
}

func (f *fakeKernelParts) IsKernelPartitioned(diskName string) bool { return f.partitioned[diskName] }

func newRec(sysfsPath, name string, devType record.DevType, props map[string]string) *record.Record {
	return record.New(record.SubsystemBlock, sysfsPath, name, devType, record.DeviceNumber{Major: 8}, "/dev/"+name, props, nil, nil, nil)
}

func TestRefreshFacetsAttachesFilesystemForIDFSUsage(t *testing.T) {
	rec := newRec("/sys/block/sda/sda1", "sda1", record.DevTypePartition, map[string]string{"ID_FS_USAGE": "filesystem", "ID_FS_TYPE": "ext4"})
	o := New(rec, "/org/storaged/storaged")
	mounts := &fakeMounts{}
	kparts := &fakeKernelParts{}

	o.RefreshFacets(rec, mounts, kparts)

	assert.True(t, o.HasFacet(FacetFilesystem))
	assert.True(t, o.HasFacet(FacetPartition))
	assert.False(t, o.HasFacet(FacetPartitionTable))
}

func TestRefreshFacetsAttachesPartitionTableForKernelPartitionedDisk(t *testing.T) {
	rec := newRec("/sys/block/sda", "sda", record.DevTypeDisk, nil)
	o := New(rec, "/org/storaged/storaged")
	kparts := &fakeKernelParts{partitioned: map[string]bool{"sda": true}}

	o.RefreshFacets(rec, &fakeMounts{}, kparts)

	assert.True(t, o.HasFacet(FacetPartitionTable))
	assert.False(t, o.HasFacet(FacetFilesystem), "a kernel-partitioned whole disk must not also be a Filesystem")
}

func TestRefreshFacetsRemovesFacetWhenPredicateGoesFalse(t *testing.T) {
	rec := newRec("/sys/block/sda1", "sda1", record.DevTypePartition, map[string]string{"ID_FS_USAGE": "filesystem"})
	o := New(rec, "/org/storaged/storaged")
	o.RefreshFacets(rec, &fakeMounts{}, &fakeKernelParts{})
	assert.True(t, o.HasFacet(FacetFilesystem))

	rec2 := newRec("/sys/block/sda1", "sda1", record.DevTypePartition, map[string]string{"ID_FS_USAGE": "other", "ID_FS_TYPE": "swap"})
	o.RefreshFacets(rec2, &fakeMounts{}, &fakeKernelParts{})
	assert.False(t, o.HasFacet(FacetFilesystem))
	assert.True(t, o.HasFacet(FacetSwap))
}

func TestRefreshFacetsKeepsFilesystemWhileMountedEvenWithoutUsageProperty(t *testing.T) {
	rec := newRec("/sys/block/sda1", "sda1", record.DevTypePartition, nil)
	o := New(rec, "/org/storaged/storaged")
	mounts := &fakeMounts{fs: map[string]bool{"/sys/block/sda1": true}}

	o.RefreshFacets(rec, mounts, &fakeKernelParts{})
	assert.True(t, o.HasFacet(FacetFilesystem))
}

func TestRefreshFacetsAttachesEncryptedForLUKS(t *testing.T) {
	rec := newRec("/sys/block/sda1", "sda1", record.DevTypePartition, map[string]string{"ID_FS_TYPE": "crypto_LUKS"})
	o := New(rec, "/org/storaged/storaged")
	o.RefreshFacets(rec, &fakeMounts{}, &fakeKernelParts{})
	assert.True(t, o.HasFacet(FacetEncrypted))
}

func TestRefreshFacetsAttachesLoopForLoopDevices(t *testing.T) {
	rec := newRec("/sys/block/loop0", "loop0", record.DevTypeDisk, nil)
	o := New(rec, "/org/storaged/storaged")
	o.RefreshFacets(rec, &fakeMounts{}, &fakeKernelParts{})
	assert.True(t, o.HasFacet(FacetLoop))
}

func TestDOSContainerNumber(t *testing.T) {
	isContainer, isContained := DOSContainerNumber("0x05", 2)
	assert.True(t, isContainer)
	assert.False(t, isContained)

	isContainer, isContained = DOSContainerNumber("0x05", 6)
	assert.False(t, isContainer)
	assert.True(t, isContained)

	isContainer, isContained = DOSContainerNumber("0x83", 1)
	assert.False(t, isContainer)
	assert.False(t, isContained)
}

func TestRefreshFacetsComputesPartitionContainerAndContained(t *testing.T) {
	containerRec := newRec("/sys/block/sda/sda3", "sda3", record.DevTypePartition, map[string]string{
		"ID_PART_ENTRY_TYPE":   "0x0f",
		"ID_PART_ENTRY_NUMBER": "3",
	})
	o := New(containerRec, "/org/storaged/storaged")
	o.RefreshFacets(containerRec, &fakeMounts{}, &fakeKernelParts{})
	part, ok := o.Facet(FacetPartition).(*PartitionFacet)
	require.True(t, ok)
	assert.True(t, part.IsContainer)
	assert.False(t, part.IsContained)

	containedRec := newRec("/sys/block/sda/sda5", "sda5", record.DevTypePartition, map[string]string{
		"ID_PART_ENTRY_TYPE":   "0x83",
		"ID_PART_ENTRY_NUMBER": "5",
	})
	o2 := New(containedRec, "/org/storaged/storaged")
	o2.RefreshFacets(containedRec, &fakeMounts{}, &fakeKernelParts{})
	part2, ok := o2.Facet(FacetPartition).(*PartitionFacet)
	require.True(t, ok)
	assert.False(t, part2.IsContainer)
	assert.True(t, part2.IsContained)
}

func TestBusPathEscapesDeviceName(t *testing.T) {
	rec := newRec("/sys/block/sda", "sda", record.DevTypeDisk, nil)
	assert.Equal(t, "/org/storaged/storaged/block_devices/sda", BusPath("/org/storaged/storaged", rec))
}
