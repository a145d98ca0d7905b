// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package module

import (
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

// ISCSIModule publishes standalone Session objects for iscsi_connection
// subsystem events, one per session id
// (grounded on original_source/modules/iscsi's
// StoragedLinuxISCSISessionObject, keyed by session_id under
// "/org/storaged/Storaged/iscsi/<session_id>").
type ISCSIModule struct {
	rootPrefix string
	manager    *iscsiManagerFacet
}

// NewISCSIModule constructs the iscsi module, rooting its session
// objects under rootPrefix+"/iscsi/<session_id>" (spec.md §6).
func NewISCSIModule(rootPrefix string) *ISCSIModule {
	return &ISCSIModule{rootPrefix: rootPrefix, manager: &iscsiManagerFacet{}}
}

func (m *ISCSIModule) ID() string { return "iscsi" }

func (m *ISCSIModule) ManagerFacet() Instance { return m.manager }

// NewStandaloneObject creates an iSCSI Session object the first time a
// session id is seen on the iscsi_connection subsystem.
func (m *ISCSIModule) NewStandaloneObject(rec *record.Record) Instance {
	if rec.Subsystem != record.SubsystemISCSIConnection {
		return nil
	}
	sessionID := rec.Property("ISCSI_SESSION_ID")
	if sessionID == "" {
		return nil
	}
	return newISCSISession(m.rootPrefix, sessionID)
}

func (m *ISCSIModule) BlockFacetTypes() []string { return nil }
func (m *ISCSIModule) NewBlockFacet(facetType, blockObjectPath string, rec *record.Record) Instance {
	return nil
}

func (m *ISCSIModule) DriveFacetTypes() []string { return nil }
func (m *ISCSIModule) NewDriveFacet(facetType, driveObjectPath string, rec *record.Record) Instance {
	return nil
}

// iscsiManagerFacet is the module's root-attached facet: global iSCSI
// operations (login/logout/discovery) live here in a full
// implementation; the composition contract only requires that it
// exist and be addressable.
type iscsiManagerFacet struct{}

func (f *iscsiManagerFacet) ObjectPath() string { return "" }
func (f *iscsiManagerFacet) ProcessUevent(uevent.Action, *record.Record) (bool, bool) {
	return false, true
}
func (f *iscsiManagerFacet) Housekeeping(float64) error { return nil }
func (f *iscsiManagerFacet) Close()                     {}

// iscsiSession is a standalone Session object, one per iSCSI session id.
type iscsiSession struct {
	objectPath string
	sessionID  string

	TargetName string
	Persistent bool
	Username   string

	alive bool
}

func newISCSISession(rootPrefix, sessionID string) *iscsiSession {
	return &iscsiSession{
		objectPath: rootPrefix + "/iscsi/" + sessionID,
		sessionID:  sessionID,
		alive:      true,
	}
}

func (s *iscsiSession) ObjectPath() string { return s.objectPath }

// ProcessUevent claims any event carrying this session's id, updates
// the published target/credentials properties, and tears itself down
// when the session's connection is removed.
func (s *iscsiSession) ProcessUevent(action uevent.Action, rec *record.Record) (processed, keep bool) {
	if rec.Property("ISCSI_SESSION_ID") != s.sessionID {
		return false, true
	}

	if action == uevent.ActionRemove {
		s.alive = false
		return true, false
	}

	s.TargetName = rec.Property("ISCSI_TARGET_NAME")
	s.Persistent = rec.Property("ISCSI_PERSISTENT") == "1"
	s.Username = rec.Property("ISCSI_USERNAME")
	return true, true
}

func (s *iscsiSession) Housekeeping(secondsSinceLast float64) error { return nil }

func (s *iscsiSession) Close() { s.alive = false }
