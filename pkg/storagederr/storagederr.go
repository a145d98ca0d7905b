// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//
// Package storagederr defines the closed set of error kinds the daemon
// distinguishes when propagating failures to bus callers.
package storagederr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers compare with errors.Is; wrapped causes
// remain inspectable with errors.Unwrap.
var (
	ErrNotAuthorized          = errors.New("not authorized")
	ErrNotAuthorizedDismissed = errors.New("not authorized: dismissed")
	ErrNotAuthorizedCanObtain = errors.New("not authorized: can obtain")
	ErrNotSupported           = errors.New("not supported")
	ErrOptionNotPermitted     = errors.New("option not permitted")
	ErrDeviceBusy             = errors.New("device busy")
	ErrWouldWakeUp            = errors.New("would wake up device")
	ErrCancelled              = errors.New("cancelled")
)

// kindError wraps a catch-all failure with a formatted reason while
// keeping the original cause reachable via Unwrap.
type kindError struct {
	kind   error
	reason string
	cause  error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.reason, e.cause)
	}
	return e.reason
}

func (e *kindError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.kind
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

// Failed builds the catch-all "Failed" kind with a formatted reason,
// preserving cause for errors.Unwrap/errors.As.
func Failed(reason string, cause error) error {
	return &kindError{kind: errFailed, reason: reason, cause: cause}
}

var errFailed = errors.New("failed")

// Wrap attaches kind to cause so that errors.Is(result, kind) succeeds
// while the original cause stays reachable through Unwrap.
func Wrap(kind error, reason string, cause error) error {
	return &kindError{kind: kind, reason: reason, cause: cause}
}
