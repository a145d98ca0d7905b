// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package driveobj

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storaged-project/storaged/pkg/record"
)

func TestComputeVPDPrefersWWNSerialOverWWN(t *testing.T) {
	rec := newBlockRecord("/sys/block/sda", "sda", map[string]string{
		"ID_WWN_WITH_EXTENSION": "0x5000c500abcdef01",
		"ID_WWN":                "0x5000c500abcdef00",
		"ID_SERIAL":             "S1",
	})
	vpd, ok := ComputeVPD(rec)
	require.True(t, ok)
	assert.Equal(t, "wwn_serial:0x5000c500abcdef01:S1", vpd)
}

// TestComputeVPDRejectsBlacklistedWWN is scenario S4: the SAMSUNG
// SP1604N ships WWN 50f0000000000000 on every unit, so that WWN must
// never be used for drive identification (udiskslinuxdriveobject.c's
// is_wwn_black_listed).
func TestComputeVPDRejectsBlacklistedWWN(t *testing.T) {
	rec := newBlockRecord("/sys/block/sda", "sda", map[string]string{
		"ID_WWN_WITH_EXTENSION": "0x50f0000000000000",
		"ID_SERIAL":             "XYZ",
		"ID_MODEL":              "SP1604N",
	})
	vpd, ok := ComputeVPD(rec)
	require.True(t, ok)
	assert.Equal(t, "model_serial:SP1604N:XYZ", vpd, "blacklisted WWN must fall through to the next candidate")
}

func TestComputeVPDRejectsBlacklistedWWNCaseAndPrefixInsensitive(t *testing.T) {
	rec := newBlockRecord("/sys/block/sda", "sda", map[string]string{
		"ID_WWN_WITH_EXTENSION": "50F0000000000000",
		"ID_SERIAL":             "XYZ",
		"ID_MODEL":              "SP1604N",
	})
	vpd, ok := ComputeVPD(rec)
	require.True(t, ok)
	assert.Equal(t, "model_serial:SP1604N:XYZ", vpd, "match must be 0x-prefix and case insensitive")
}

func TestComputeVPDFallsBackToModelSerial(t *testing.T) {
	rec := newBlockRecord("/sys/block/sda", "sda", map[string]string{"ID_MODEL": "ModelX", "ID_SERIAL": "S1"})
	vpd, ok := ComputeVPD(rec)
	require.True(t, ok)
	assert.Equal(t, "model_serial:ModelX:S1", vpd)
}

func TestComputeVPDFallsBackToSerialAlone(t *testing.T) {
	rec := newBlockRecord("/sys/block/sda", "sda", map[string]string{"ID_SERIAL": "S1"})
	vpd, ok := ComputeVPD(rec)
	require.True(t, ok)
	assert.Equal(t, "serial:S1", vpd)
}

func TestComputeVPDFallsBackToIDPath(t *testing.T) {
	rec := newBlockRecord("/sys/block/sda", "sda", map[string]string{"ID_PATH": "pci-0000:00:1f.2-ata-1"})
	vpd, ok := ComputeVPD(rec)
	require.True(t, ok)
	assert.Equal(t, "path:pci-0000:00:1f.2-ata-1", vpd)
}

func TestComputeVPDReturnsNotOKWithNoCandidate(t *testing.T) {
	rec := newBlockRecord("/sys/block/sda1", "sda1", nil)
	_, ok := ComputeVPD(rec)
	assert.False(t, ok)
}

func TestComputeVPDForNVMeController(t *testing.T) {
	rec := record.New(record.SubsystemNVMe, "/sys/class/nvme/nvme0", "nvme0", record.DevTypeNone, record.DeviceNumber{}, "", nil, nil, nil, nil)
	rec = rec.WithEnrichment(nil, nil, &record.NVMeControllerInfo{HostNQN: "nqn.host1", Transport: "tcp"}, true)
	vpd, ok := ComputeVPD(rec)
	require.True(t, ok)
	assert.Equal(t, "NVMe:hostnqn=nqn.host1+transport=tcp+/sys/class/nvme/nvme0", vpd)
}
