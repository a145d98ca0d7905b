// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package authorize implements the Authorization Gate (spec.md §4.9): a
// blocking check invoked inline by every externally-triggered
// operation, consulting a policy authority over the bus with a
// caller-uid fallback when none is reachable.
package authorize

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/storaged-project/storaged/pkg/storagederr"
)

var log = logrus.WithField("subsystem", "authorize")

// SetLogger rebinds the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// DefaultSeat is used when a drive carries no seat property (spec.md
// §4.9: "default is seat0").
const DefaultSeat = "seat0"

// Subject identifies the caller an authorization check is performed
// against.
type Subject struct {
	UID uint32
	PID uint32
}

// Result is the four-way taxonomy spec.md §4.9 point 4 requires.
type Result int

const (
	ResultAuthorized Result = iota
	ResultNotAuthorized
	ResultDismissed
	ResultCanObtain
)

// Err maps a Result to the storagederr sentinel bus callers expect.
// ResultAuthorized has no error (nil).
func (r Result) Err() error {
	switch r {
	case ResultAuthorized:
		return nil
	case ResultDismissed:
		return storagederr.ErrNotAuthorizedDismissed
	case ResultCanObtain:
		return storagederr.ErrNotAuthorizedCanObtain
	default:
		return storagederr.ErrNotAuthorized
	}
}

// Authority is a policy authority capable of resolving one action id
// for one subject with a detail dictionary (spec.md §4.9 point 2).
type Authority interface {
	CheckAuthorization(ctx context.Context, actionID string, details map[string]string, subject Subject, allowUserInteraction bool) (Result, error)
}

// Options carries the per-call inputs to Check beyond the action id and
// subject: whether the caller opted out of interactive prompts, and the
// human-facing message template (propagated into the detail dictionary
// under "polkit.message" so a reachable authority can surface it).
type Options struct {
	AllowUserInteraction bool
	Message              string
}

// Gate resolves authorization checks, falling back to a uid-zero-only
// policy whenever no Authority is configured or the configured one
// fails (spec.md §4.9 point 3).
type Gate struct {
	authority Authority
}

// New constructs a Gate. authority may be nil, in which case every
// check degrades straight to the uid-zero fallback.
func New(authority Authority) *Gate {
	return &Gate{authority: authority}
}

// Check resolves actionID for subject, consulting the configured
// Authority first and falling back to "permit iff uid == 0" if none is
// configured or the call itself errors (spec.md §4.9 point 3). details
// should already carry the drive/block metadata dictionary (vendor,
// model, wwn, serial, revision, media compatibility, id-type/usage/
// label/uuid, partition number/type/flags/name/uuid, composite
// "device"/"drive" labels) spec.md §4.9 point 2 names.
func (g *Gate) Check(ctx context.Context, actionID string, details map[string]string, subject Subject, opts Options) Result {
	if g.authority != nil {
		merged := mergeMessage(details, opts.Message)
		result, err := g.authority.CheckAuthorization(ctx, actionID, merged, subject, opts.AllowUserInteraction)
		if err == nil {
			return result
		}
		log.WithError(err).WithField("action-id", actionID).Warn("policy authority unreachable, falling back to uid-zero check")
	}

	if subject.UID == 0 {
		return ResultAuthorized
	}
	return ResultNotAuthorized
}

func mergeMessage(details map[string]string, message string) map[string]string {
	if message == "" {
		return details
	}
	merged := make(map[string]string, len(details)+1)
	for k, v := range details {
		merged[k] = v
	}
	merged["polkit.message"] = message
	return merged
}

// ActionID builds a policy action id following spec.md §4.9's
// `[...-system|-other-seat|-crypttab]` discipline: base is the
// caller-chosen operation id; the suffix reflects whether the device
// belongs to the system (not removable/hotpluggable), lives on another
// seat than the caller's, or is named in /etc/crypttab.
func ActionID(base string, systemDevice, otherSeat, crypttab bool) string {
	switch {
	case crypttab:
		return fmt.Sprintf("%s-crypttab", base)
	case otherSeat:
		return fmt.Sprintf("%s-other-seat", base)
	case systemDevice:
		return fmt.Sprintf("%s-system", base)
	default:
		return base
	}
}

// Seat returns seatProperty if non-empty, else DefaultSeat.
func Seat(seatProperty string) string {
	if seatProperty == "" {
		return DefaultSeat
	}
	return seatProperty
}
