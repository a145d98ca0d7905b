// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRegistersJobAndPublishes(t *testing.T) {
	var published *Job
	r := NewRegistry(WithPublishHook(func(j *Job) { published = j }))

	j := r.Start(KindFilesystemMount, "/org/storaged/storaged/block_devices/sda1", 1000, true)

	require.NotNil(t, published)
	assert.Equal(t, j, published)
	assert.Equal(t, j, r.Get(j.State().ID))
	assert.Len(t, r.List(), 1)
}

func TestFinishRetiresAndRemovesJob(t *testing.T) {
	var retired *Job
	r := NewRegistry(WithRetireHook(func(j *Job) { retired = j }))

	j := r.Start(KindFilesystemResize, "/org/storaged/storaged/block_devices/sda1", 1000, true)
	r.Finish(j, OutcomeSucceeded)

	assert.Equal(t, j, retired)
	assert.Nil(t, r.Get(j.State().ID))
	assert.Empty(t, r.List())
	assert.Equal(t, OutcomeSucceeded, j.State().Outcome)
}

func TestFinishIsIdempotent(t *testing.T) {
	calls := 0
	r := NewRegistry(WithRetireHook(func(*Job) { calls++ }))

	j := r.Start(KindEncryptedUnlock, "/x", 1000, true)
	r.Finish(j, OutcomeFailed)
	r.Finish(j, OutcomeFailed)

	assert.Equal(t, 1, calls, "finishing an already-retired job must not fire the retire hook twice")
}

func TestCancelRespectsCancellableFlag(t *testing.T) {
	r := NewRegistry()
	nonCancellable := r.Start(KindMDRaidSync, "/x", 0, false)
	assert.False(t, nonCancellable.Cancel(), "mdraid sync jobs are explicitly not cancellable")

	cancellableJob := r.Start(KindFilesystemMount, "/x", 1000, true)
	assert.True(t, cancellableJob.Cancel())

	select {
	case <-cancellableJob.Context().Done():
	default:
		t.Fatal("Cancel on a cancellable job must cancel its context")
	}
}

func TestSetProgressClampsToUnitRange(t *testing.T) {
	r := NewRegistry()
	j := r.Start(KindFilesystemResize, "/x", 1000, true)

	j.SetProgress(1.5)
	require.NotNil(t, j.State().Progress)
	assert.Equal(t, 1.0, *j.State().Progress)

	j.SetProgress(-1)
	assert.Equal(t, 0.0, *j.State().Progress)
}

func TestOwnerUIDTracksStarter(t *testing.T) {
	r := NewRegistry()
	j := r.Start(KindFilesystemMount, "/x", 1000, true)
	assert.EqualValues(t, 1000, j.OwnerUID())
}
