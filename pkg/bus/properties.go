// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package bus

import (
	"sync"

	"github.com/godbus/dbus/v5"
)

// propHandler implements org.freedesktop.DBus.Properties for one
// exported object, across however many interfaces it carries.
type propHandler struct {
	mu     sync.Mutex
	ifaces map[string]map[string]dbus.Variant
}

func newPropHandler() *propHandler {
	return &propHandler{ifaces: make(map[string]map[string]dbus.Variant)}
}

func (p *propHandler) set(iface string, props map[string]dbus.Variant) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ifaces[iface] = props
}

// Get implements org.freedesktop.DBus.Properties.Get.
func (p *propHandler) Get(iface, property string) (dbus.Variant, *dbus.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	props, ok := p.ifaces[iface]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{iface})
	}
	v, ok := props[property]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{property})
	}
	return v, nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (p *propHandler) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	props, ok := p.ifaces[iface]
	if !ok {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{iface})
	}
	out := make(map[string]dbus.Variant, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out, nil
}

// Set implements org.freedesktop.DBus.Properties.Set. Every property
// this daemon exposes over the bus is derived from the object model,
// not client-writable; direct Set is always rejected in favor of the
// object's own operations (spec.md's authorization-gated operations).
func (p *propHandler) Set(iface, property string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", []interface{}{iface, property})
}
