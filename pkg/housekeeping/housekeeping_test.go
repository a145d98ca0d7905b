// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package housekeeping

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storaged-project/storaged/pkg/driveobj"
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

type fakeHousekeeper struct {
	path  string
	calls int32
	err   error
	block chan struct{}
}

func (f *fakeHousekeeper) ObjectPath() string { return f.path }

func (f *fakeHousekeeper) Housekeeping(secondsSinceLast float64) error {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	return f.err
}

func TestSweepNowInvokesEveryObject(t *testing.T) {
	a := &fakeHousekeeper{path: "/a"}
	b := &fakeHousekeeper{path: "/b"}
	s := New(func() []Housekeeper { return []Housekeeper{a, b} })

	s.SweepNow()

	assert.EqualValues(t, 1, atomic.LoadInt32(&a.calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&b.calls))
}

func TestSweepContinuesAfterOneObjectFails(t *testing.T) {
	failing := &fakeHousekeeper{path: "/fail", err: assertError("boom")}
	ok := &fakeHousekeeper{path: "/ok"}
	s := New(func() []Housekeeper { return []Housekeeper{failing, ok} })

	s.SweepNow()

	assert.EqualValues(t, 1, atomic.LoadInt32(&failing.calls))
	assert.EqualValues(t, 1, atomic.LoadInt32(&ok.calls))
}

type recoverableErr string

func (e recoverableErr) Error() string   { return string(e) }
func (e recoverableErr) Recoverable() bool { return true }

func TestSweepDowngradesRecoverableErrorsWithoutCountingFailure(t *testing.T) {
	sleepy := &fakeHousekeeper{path: "/sleepy", err: recoverableErr("drive asleep")}
	s := New(func() []Housekeeper { return []Housekeeper{sleepy} })

	before := testutil.ToFloat64(failuresTotal)
	s.SweepNow()
	after := testutil.ToFloat64(failuresTotal)

	assert.EqualValues(t, 1, atomic.LoadInt32(&sleepy.calls))
	assert.Equal(t, before, after, "a recoverable error must not increment the failure counter")
}

func TestNonOverlappingSweepsDropTheSecondTick(t *testing.T) {
	block := make(chan struct{})
	slow := &fakeHousekeeper{path: "/slow", block: block}
	s := New(func() []Housekeeper { return []Housekeeper{slow} })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.sweep()
	}()

	// give the first sweep time to mark itself running
	for i := 0; i < 100 && atomic.LoadInt32(&s.running) == 0; i++ {
		time.Sleep(time.Millisecond)
	}

	s.sweep() // should be dropped immediately, not block

	close(block)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&slow.calls), "overlapping sweep must be dropped, not queued")
}

func TestRunExecutesInitialSweepImmediately(t *testing.T) {
	a := &fakeHousekeeper{path: "/a"}
	s := New(func() []Housekeeper { return []Housekeeper{a} })

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	for i := 0; i < 200 && atomic.LoadInt32(&a.calls) == 0; i++ {
		time.Sleep(time.Millisecond)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&a.calls))

	s.Stop()
	<-done
}

type assertError string

func (e assertError) Error() string { return string(e) }

type fakeDriveRefresher struct {
	ataCalls int32
}

func (f *fakeDriveRefresher) RefreshATASmart(*record.Record) error {
	atomic.AddInt32(&f.ataCalls, 1)
	return nil
}

func (f *fakeDriveRefresher) RefreshNVMeHealthLog(*record.Record) error { return nil }

func TestDriveAdapterSatisfiesHousekeeperAndRunsSMARTRefresh(t *testing.T) {
	refresher := &fakeDriveRefresher{}
	m := driveobj.NewManager("/org/storaged/storaged", nil).WithRefresher(refresher)

	rec := record.New(record.SubsystemBlock, "/sys/block/sda", "sda", record.DevTypeDisk, record.DeviceNumber{Major: 8}, "/dev/sda", map[string]string{
		"ID_SERIAL": "S123",
		"ID_ATA":    "1",
	}, nil, nil, nil)
	m.Dispatch(uevent.ActionAdd, rec)

	drives := m.Snapshot()
	require.Len(t, drives, 1)

	adapter := DriveAdapter{Drive: drives[0]}
	var h Housekeeper = adapter
	assert.NotEmpty(t, h.ObjectPath())

	require.NoError(t, h.Housekeeping(0))
	assert.EqualValues(t, 1, atomic.LoadInt32(&refresher.ataCalls))
}
