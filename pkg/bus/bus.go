// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package bus implements the Bus Manager (spec.md's IPC bus layer): a
// hand-rolled org.freedesktop.DBus.ObjectManager-shaped export/unexport
// of Drive, Block and Job objects, with property-change signals on
// update. It satisfies pkg/registry's Publisher interface and
// pkg/job's WithPublishHook/WithRetireHook seam.
package bus

import (
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("subsystem", "bus")

// SetLogger rebinds the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

const (
	ifaceObjectManager = "org.freedesktop.DBus.ObjectManager"
	ifaceProperties    = "org.freedesktop.DBus.Properties"

	IfaceDrive  = "org.storaged.storaged.Drive1"
	IfaceBlock  = "org.storaged.storaged.Block1"
	IfaceJob    = "org.storaged.storaged.Job1"
	IfaceMDRaid = "org.storaged.storaged.MDRaid1"
)

// managedObject is one exported object's interface-name -> property-name
// -> value table, and the propHandler currently exported for it.
type managedObject struct {
	ifaces  map[string]map[string]dbus.Variant
	handler *propHandler
}

// Manager owns the bus connection, the well-known name, and the
// export/unexport bookkeeping for every live object, mirroring udisks'
// own ObjectManager-at-the-root shape.
type Manager struct {
	conn     *dbus.Conn
	busName  string
	rootPath dbus.ObjectPath

	mu      sync.Mutex
	objects map[dbus.ObjectPath]*managedObject
}

// NewManager connects m to the given *dbus.Conn (already authenticated
// and with Hello() called by the caller), requests busName and exports
// the root ObjectManager.
func NewManager(conn *dbus.Conn, busName string, rootPath dbus.ObjectPath) (*Manager, error) {
	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return nil, errNameTaken(busName)
	}

	m := &Manager{
		conn:     conn,
		busName:  busName,
		rootPath: rootPath,
		objects:  make(map[dbus.ObjectPath]*managedObject),
	}

	if err := conn.Export(m, rootPath, ifaceObjectManager); err != nil {
		return nil, err
	}
	return m, nil
}

// GetManagedObjects implements org.freedesktop.DBus.ObjectManager.
func (m *Manager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant, len(m.objects))
	for path, obj := range m.objects {
		ifaces := make(map[string]map[string]dbus.Variant, len(obj.ifaces))
		for iface, props := range obj.ifaces {
			ifaces[iface] = props
		}
		out[path] = ifaces
	}
	return out, nil
}

// export publishes one object's single interface, creating it if this
// is the object's first interface, and emits InterfacesAdded.
func (m *Manager) export(path dbus.ObjectPath, iface string, props map[string]interface{}) {
	variants := toVariants(props)

	m.mu.Lock()
	obj, ok := m.objects[path]
	if !ok {
		obj = &managedObject{ifaces: make(map[string]map[string]dbus.Variant), handler: newPropHandler()}
		m.objects[path] = obj
		if err := m.conn.Export(obj.handler, path, ifaceProperties); err != nil {
			log.WithError(err).WithField("path", path).Warn("failed to export Properties interface")
		}
	}
	obj.handler.set(iface, variants)
	obj.ifaces[iface] = variants
	m.mu.Unlock()

	m.conn.Emit(m.rootPath, ifaceObjectManager+".InterfacesAdded", path, map[string]map[string]dbus.Variant{iface: variants})
}

// update re-publishes props for an already-exported object/interface
// and emits PropertiesChanged.
func (m *Manager) update(path dbus.ObjectPath, iface string, props map[string]interface{}) {
	variants := toVariants(props)

	m.mu.Lock()
	obj, ok := m.objects[path]
	if !ok {
		m.mu.Unlock()
		m.export(path, iface, props)
		return
	}
	obj.handler.set(iface, variants)
	obj.ifaces[iface] = variants
	m.mu.Unlock()

	m.conn.Emit(path, ifaceProperties+".PropertiesChanged", iface, variants, []string{})
}

// unexport removes one object entirely (every interface it carried)
// and emits InterfacesRemoved.
func (m *Manager) unexport(path dbus.ObjectPath) {
	m.mu.Lock()
	obj, ok := m.objects[path]
	if !ok {
		m.mu.Unlock()
		return
	}
	ifaceNames := make([]string, 0, len(obj.ifaces))
	for iface := range obj.ifaces {
		ifaceNames = append(ifaceNames, iface)
	}
	delete(m.objects, path)
	if err := m.conn.Export(nil, path, ifaceProperties); err != nil {
		log.WithError(err).WithField("path", path).Warn("failed to unexport Properties interface")
	}
	m.mu.Unlock()

	m.conn.Emit(m.rootPath, ifaceObjectManager+".InterfacesRemoved", path, ifaceNames)
}

func toVariants(props map[string]interface{}) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(props))
	for k, v := range props {
		out[k] = dbus.MakeVariant(v)
	}
	return out
}

type errNameTaken string

func (e errNameTaken) Error() string { return "bus: well-known name already owned: " + string(e) }
