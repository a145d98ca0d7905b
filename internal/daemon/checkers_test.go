// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDevNumber(t *testing.T) {
	// sda: major 8, minor 0 -> rdev 0x0800
	assert.Equal(t, "8:0", formatDevNumber(0x0800))
	// loop0: major 7, minor 0
	assert.Equal(t, "7:0", formatDevNumber(0x0700))
}

func TestMountinfoHasDevice(t *testing.T) {
	data := []byte("36 35 8:1 / / rw,relatime shared:1 - ext4 /dev/root rw\n" +
		"37 35 0:3 / /sys rw\n")
	assert.True(t, mountinfoHasDevice(data, "8:1"))
	assert.False(t, mountinfoHasDevice(data, "8:2"))
}

func TestSysfsCheckerIsMountedFilesystem(t *testing.T) {
	root := t.TempDir()
	devDir := filepath.Join(root, "sys", "class", "block", "sda1")
	require.NoError(t, os.MkdirAll(devDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "dev"), []byte("8:1\n"), 0644))

	procDir := filepath.Join(root, "proc", "self")
	require.NoError(t, os.MkdirAll(procDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "mountinfo"),
		[]byte("36 35 8:1 / / rw\n"), 0644))

	c := &sysfsChecker{sysfsRoot: filepath.Join(root, "sys"), procRoot: filepath.Join(root, "proc")}
	assert.True(t, c.IsMountedFilesystem(devDir))

	require.NoError(t, os.WriteFile(filepath.Join(procDir, "mountinfo"),
		[]byte("36 35 8:2 / / rw\n"), 0644))
	assert.False(t, c.IsMountedFilesystem(devDir))
}

func TestSysfsCheckerIsMountedFilesystemNoDevAttr(t *testing.T) {
	c := &sysfsChecker{sysfsRoot: t.TempDir(), procRoot: t.TempDir()}
	assert.False(t, c.IsMountedFilesystem("/no/such/path"))
}

func TestSysfsCheckerIsKernelPartitioned(t *testing.T) {
	root := t.TempDir()
	classDir := filepath.Join(root, "class", "block")
	require.NoError(t, os.MkdirAll(filepath.Join(classDir, "sda"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(classDir, "sda1"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(classDir, "sdb"), 0755))

	c := &sysfsChecker{sysfsRoot: root, procRoot: t.TempDir()}
	assert.True(t, c.IsKernelPartitioned("sda"))
	assert.False(t, c.IsKernelPartitioned("sdb"))
	assert.False(t, c.IsKernelPartitioned("nonexistent"))
}

func TestSysfsCheckerIsMountedSwap(t *testing.T) {
	root := t.TempDir()
	swapFile := filepath.Join(root, "swapfile")
	require.NoError(t, os.WriteFile(swapFile, []byte{0}, 0644))

	devDir := filepath.Join(root, "sys", "class", "block", "sda2")
	require.NoError(t, os.MkdirAll(devDir, 0755))

	devNum, ok := statDevNumber(swapFile)
	require.True(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(devDir, "dev"), []byte(devNum+"\n"), 0644))

	procDir := filepath.Join(root, "proc")
	require.NoError(t, os.MkdirAll(procDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(procDir, "swaps"),
		[]byte("Filename Type Size Used Priority\n"+swapFile+" file 1048572 0 -2\n"), 0644))

	c := &sysfsChecker{sysfsRoot: filepath.Join(root, "sys"), procRoot: procDir}
	assert.True(t, c.IsMountedSwap(devDir))
}
