// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//
package storagederr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailedWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := Failed("mkfs failed", cause)

	assert.True(t, errors.Is(err, errFailed))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestWrapPreservesSentinelKind(t *testing.T) {
	cause := errors.New("udisks: wrong passphrase")
	err := Wrap(ErrNotAuthorized, "unlock declined", cause)

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.ErrorIs(t, err, cause)
}

func TestSentinelsAreDistinct(t *testing.T) {
	kinds := []error{
		ErrNotAuthorized, ErrNotAuthorizedDismissed, ErrNotAuthorizedCanObtain,
		ErrNotSupported, ErrOptionNotPermitted, ErrDeviceBusy, ErrWouldWakeUp, ErrCancelled,
	}
	for i, a := range kinds {
		for j, b := range kinds {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), "%v should not match %v", a, b)
		}
	}
}
