// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package authorize

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// DBusAuthority calls out to a configurable well-known bus name/object/
// interface implementing the CheckAuthorization method this package
// expects (naming the contract rather than a concrete polkit wire
// format, per spec.md's non-goal on exact authentication-policy
// identifiers).
type DBusAuthority struct {
	conn    *dbus.Conn
	busName string
	objPath dbus.ObjectPath
	iface   string
}

// NewDBusAuthority binds to busName/objPath/iface over conn.
func NewDBusAuthority(conn *dbus.Conn, busName string, objPath dbus.ObjectPath, iface string) *DBusAuthority {
	return &DBusAuthority{conn: conn, busName: busName, objPath: objPath, iface: iface}
}

// CheckAuthorization implements Authority by calling
// "<iface>.CheckAuthorization" on the configured bus object, passing
// the subject, action id, detail dictionary and interaction flag, and
// decoding a (resultCode uint32) reply where 0=authorized,
// 1=not-authorized, 2=dismissed, 3=can-obtain.
func (a *DBusAuthority) CheckAuthorization(ctx context.Context, actionID string, details map[string]string, subject Subject, allowUserInteraction bool) (Result, error) {
	obj := a.conn.Object(a.busName, a.objPath)

	variantDetails := make(map[string]dbus.Variant, len(details))
	for k, v := range details {
		variantDetails[k] = dbus.MakeVariant(v)
	}

	subjectStruct := struct {
		UID uint32
		PID uint32
	}{UID: subject.UID, PID: subject.PID}

	call := obj.CallWithContext(ctx, a.iface+".CheckAuthorization", 0, subjectStruct, actionID, variantDetails, allowUserInteraction)
	if call.Err != nil {
		return ResultNotAuthorized, fmt.Errorf("policy authority call failed: %w", call.Err)
	}

	var code uint32
	if err := call.Store(&code); err != nil {
		return ResultNotAuthorized, fmt.Errorf("decoding policy authority reply: %w", err)
	}

	switch code {
	case 0:
		return ResultAuthorized, nil
	case 2:
		return ResultDismissed, nil
	case 3:
		return ResultCanObtain, nil
	default:
		return ResultNotAuthorized, nil
	}
}
