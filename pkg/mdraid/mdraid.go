// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package mdraid implements MDRaid Object aggregation (spec.md §4.5):
// folding member and array Device Records that share an array UUID
// into one MDRaid Object, regardless of which side (member disk or
// /dev/mdN array node) the event originated from.
package mdraid

import (
	"sort"

	"github.com/storaged-project/storaged/pkg/udevprops"
	"github.com/storaged-project/storaged/pkg/uevent"
)

// bogus treats the documented all-zero placeholder as absent.
func bogus(uuid string) bool {
	if uuid == "" {
		return true
	}
	for _, c := range uuid {
		if c != '0' && c != '-' {
			return false
		}
	}
	return true
}

// Member is one array member's published state.
type Member struct {
	ObjectPath string
	Slot       int
	StateSet   []string
	ErrorCount int
}

// Object is an MDRaid Object: the array-level aggregation keyed by
// array UUID.
type Object struct {
	UUID       string
	ObjectPath string

	arraySysfsPath   string
	memberSysfsPaths map[string]bool

	Level           string
	Size            uint64
	DegradedCount   int
	SyncAction      string
	BitmapLocation  string
	ChunkSize       uint64
	SyncCompleted   float64
	SyncRateBytesPS uint64
	SyncRemainingUS uint64
	Members         []Member
}

func newObject(rootPrefix, uuid string) *Object {
	return &Object{UUID: uuid, ObjectPath: BusPath(rootPrefix, uuid), memberSysfsPaths: make(map[string]bool)}
}

// BusPath computes an MDRaid Object's bus path from its array UUID. The
// original daemon keys its equivalent GDBus object the same way (one
// object per array UUID); the "/mdraid/" segment is this port's own
// choice, there being no udisks naming precedent left in the filtered
// original-source tree to follow (see DESIGN.md).
func BusPath(rootPrefix, uuid string) string {
	return rootPrefix + "/mdraid/" + udevprops.EscapeObjectPathComponent(uuid)
}

// Running reports whether the array node is currently present
// (spec.md §8 scenario S3: "exposed property Running=true").
func (o *Object) Running() bool {
	return o.arraySysfsPath != ""
}

// ArraySysfsPath returns the sysfs path of the array (/dev/mdN) device
// currently associated with the MDRaid, or "" if none is (Running is
// false). Refreshers use it to locate the sysfs attributes backing the
// published properties.
func (o *Object) ArraySysfsPath() string {
	return o.arraySysfsPath
}

// MemberSysfsPaths returns the sysfs paths of every member currently
// indexed under this MDRaid.
func (o *Object) MemberSysfsPaths() []string {
	out := make([]string, 0, len(o.memberSysfsPaths))
	for p := range o.memberSysfsPaths {
		out = append(out, p)
	}
	return out
}

// MemberCount returns the number of member sysfs paths currently
// indexed, used to publish the member-count property.
func (o *Object) MemberCount() int {
	return len(o.memberSysfsPaths)
}

// ApplyProperties overwrites every sysfs-derived published property at
// once, the shape a Refresher fills in from the array's sysfs tree
// (spec.md §4.5's published facet). Members is left untouched: callers
// drive it per-member through ApplyMemberUpdate/RemoveMember instead.
func (o *Object) ApplyProperties(level string, size uint64, degraded int, syncAction, bitmapLocation string, chunkSize uint64, syncCompleted float64, syncRateBytesPS, syncRemainingUS uint64) {
	o.Level = level
	o.Size = size
	o.DegradedCount = degraded
	o.SyncAction = syncAction
	o.BitmapLocation = bitmapLocation
	o.ChunkSize = chunkSize
	o.SyncCompleted = syncCompleted
	o.SyncRateBytesPS = syncRateBytesPS
	o.SyncRemainingUS = syncRemainingUS
}

// Polling reports whether spec.md §4.5's 1s sysfs poll should run:
// whenever sync_action is neither empty nor "idle".
func (o *Object) Polling() bool {
	return o.SyncAction != "" && o.SyncAction != "idle"
}

// ApplyMemberUpdate updates the published per-member property from a
// member Device Record and keeps Members sorted by (slot, object
// path) as spec.md §4.5 requires.
func (o *Object) ApplyMemberUpdate(objectPath string, slot int, stateSet []string, errorCount int) {
	for i, m := range o.Members {
		if m.ObjectPath == objectPath {
			o.Members[i] = Member{ObjectPath: objectPath, Slot: slot, StateSet: stateSet, ErrorCount: errorCount}
			o.sortMembers()
			return
		}
	}
	o.Members = append(o.Members, Member{ObjectPath: objectPath, Slot: slot, StateSet: stateSet, ErrorCount: errorCount})
	o.sortMembers()
}

func (o *Object) RemoveMember(objectPath string) {
	for i, m := range o.Members {
		if m.ObjectPath == objectPath {
			o.Members = append(o.Members[:i], o.Members[i+1:]...)
			return
		}
	}
}

func (o *Object) sortMembers() {
	sort.Slice(o.Members, func(i, j int) bool {
		if o.Members[i].Slot != o.Members[j].Slot {
			return o.Members[i].Slot < o.Members[j].Slot
		}
		return o.Members[i].ObjectPath < o.Members[j].ObjectPath
	})
}

// Manager owns every MDRaid Object, indexed by array UUID and by
// whichever sysfs path (member or array side) currently maps to it.
// Callers must hold whatever outer lock the registry defines.
type Manager struct {
	rootPrefix  string
	byUUID      map[string]*Object
	bySysfsPath map[string]*Object
}

func NewManager(rootPrefix string) *Manager {
	return &Manager{rootPrefix: rootPrefix, byUUID: make(map[string]*Object), bySysfsPath: make(map[string]*Object)}
}

func (m *Manager) ByUUID(uuid string) *Object { return m.byUUID[uuid] }

func (m *Manager) BySysfsPath(sysfsPath string) *Object { return m.bySysfsPath[sysfsPath] }

// Snapshot returns a copy of every currently known MDRaid Object, for
// the sync poller to scan for Polling()==true under the registry lock
// before running sysfs I/O outside it.
func (m *Manager) Snapshot() []*Object {
	out := make([]*Object, 0, len(m.byUUID))
	for _, o := range m.byUUID {
		out = append(out, o)
	}
	return out
}

// IsEmpty reports whether there is no MDRaid Object at all, used by
// callers deciding whether to invoke Dispatch at all for a non-raid
// subsystem event.
func (m *Manager) IsEmpty() bool { return len(m.byUUID) == 0 }

// side identifies which half of an MDRaid a sysfs path occupies.
type side int

const (
	sideMember side = iota
	sideArray
)

// Dispatch applies one event that may carry a member-UUID and/or an
// array-UUID (spec.md §4.5). Either may be empty or bogus. Returns the
// MDRaid Object(s) touched, for callers that need to re-publish
// properties or tear down an object once both sides are gone.
func (m *Manager) Dispatch(action uevent.Action, sysfsPath, memberUUID, arrayUUID string) (touched []*Object, erased []*Object) {
	if memberUUID != "" {
		o, e := m.dispatchSide(action, sysfsPath, memberUUID, sideMember)
		if o != nil {
			touched = append(touched, o)
		}
		if e != nil {
			erased = append(erased, e)
		}
	}
	if arrayUUID != "" {
		o, e := m.dispatchSide(action, sysfsPath, arrayUUID, sideArray)
		if o != nil {
			touched = append(touched, o)
		}
		if e != nil {
			erased = append(erased, e)
		}
	}
	return touched, erased
}

func (m *Manager) dispatchSide(action uevent.Action, sysfsPath, uuid string, s side) (touched *Object, erased *Object) {
	if action == uevent.ActionRemove || bogus(uuid) {
		return m.unregisterSide(sysfsPath)
	}

	if existing, had := m.bySysfsPath[sysfsPath]; had && existing.UUID != uuid {
		touched, erased = m.unregisterSide(sysfsPath)
	}

	o, ok := m.byUUID[uuid]
	if !ok {
		o = newObject(m.rootPrefix, uuid)
		m.byUUID[uuid] = o
	}
	switch s {
	case sideMember:
		o.memberSysfsPaths[sysfsPath] = true
	case sideArray:
		o.arraySysfsPath = sysfsPath
	}
	m.bySysfsPath[sysfsPath] = o
	return o, erased
}

// unregisterSide removes sysfsPath from whichever MDRaid currently
// claims it, unexporting (erasing) the MDRaid if neither side remains.
func (m *Manager) unregisterSide(sysfsPath string) (touched *Object, erased *Object) {
	o, ok := m.bySysfsPath[sysfsPath]
	if !ok {
		return nil, nil
	}
	delete(m.bySysfsPath, sysfsPath)
	delete(o.memberSysfsPaths, sysfsPath)
	if o.arraySysfsPath == sysfsPath {
		o.arraySysfsPath = ""
	}

	if o.arraySysfsPath == "" && len(o.memberSysfsPaths) == 0 {
		delete(m.byUUID, o.UUID)
		return nil, o
	}
	return o, nil
}
