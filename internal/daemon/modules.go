// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemon

import (
	"github.com/storaged-project/storaged/pkg/module"
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

// LoadMode selects how the module subsystem loads its catalog, the
// three choices spec.md names: `--force-load-modules` loads everything
// up front, `--disable-modules` never loads any, and the default is
// lazy (load on first matching event).
type LoadMode int

const (
	LoadLazy LoadMode = iota
	LoadForce
	LoadDisable
)

// moduleTriggers maps a module id to the predicate that decides whether
// an event should cause it to be lazily loaded, read directly off each
// module's own claim logic (ISCSIModule.NewStandaloneObject,
// LVM2Module.NewBlockFacet): iscsi claims iscsi_connection subsystem
// records, lvm2 claims Block records carrying DM_LV_NAME.
var moduleTriggers = map[string]func(*record.Record) bool{
	"iscsi": func(rec *record.Record) bool { return rec.Subsystem == record.SubsystemISCSIConnection },
	"lvm2":  func(rec *record.Record) bool { return rec.Property("DM_LV_NAME") != "" },
}

// moduleAdapter wraps a module.Manager to add the three load modes and
// lazy-load triggering on top of it. It satisfies registry.ModuleDispatcher,
// registry.BlockFacetRefresher and registry.DriveFacetRefresher by
// delegating straight through to the wrapped Manager.
//
// Dispatch runs inside registry.Registry.Dispatch, which holds the
// registry's single non-reentrant lock for its whole duration
// (pkg/module's own doc comment on Load: "callers are responsible for
// issuing the synthetic double-coldplug afterward"). So a lazy load
// here only records which module id just got loaded on a buffered,
// non-blocking channel; the daemon's main loop drains that channel
// once Dispatch has returned and the lock is released, and replays the
// synthetic double-coldplug there.
type moduleAdapter struct {
	mgr     *module.Manager
	mode    LoadMode
	catalog []module.Module
	pending chan string
}

func newModuleAdapter(mode LoadMode, mods ...module.Module) *moduleAdapter {
	a := &moduleAdapter{
		mgr:     module.NewManager(),
		mode:    mode,
		catalog: mods,
		pending: make(chan string, 16),
	}
	if mode == LoadForce {
		for _, m := range mods {
			a.mgr.Load(m)
		}
	}
	return a
}

// PendingLoads returns the channel the main loop drains for module ids
// that were just lazily loaded and need a synthetic double-coldplug.
func (a *moduleAdapter) PendingLoads() <-chan string { return a.pending }

// Dispatch implements registry.ModuleDispatcher.
func (a *moduleAdapter) Dispatch(action uevent.Action, rec *record.Record) error {
	if a.mode == LoadLazy {
		a.maybeLoad(rec)
	}
	return a.mgr.Dispatch(action, rec)
}

func (a *moduleAdapter) maybeLoad(rec *record.Record) {
	for _, m := range a.catalog {
		id := m.ID()
		if a.mgr.Loaded(id) {
			continue
		}
		trigger, ok := moduleTriggers[id]
		if !ok || !trigger(rec) {
			continue
		}
		a.mgr.Load(m)
		select {
		case a.pending <- id:
		default:
			log.WithField("module", id).Warn("pending-load signal queue full, dropping synthetic coldplug trigger")
		}
	}
}

func (a *moduleAdapter) RefreshBlockFacets(action uevent.Action, blockObjectPath string, rec *record.Record) {
	a.mgr.RefreshBlockFacets(action, blockObjectPath, rec)
}

func (a *moduleAdapter) RemoveBlockObject(blockObjectPath string) {
	a.mgr.RemoveBlockObject(blockObjectPath)
}

func (a *moduleAdapter) RefreshDriveFacets(action uevent.Action, driveObjectPath string, rec *record.Record) {
	a.mgr.RefreshDriveFacets(action, driveObjectPath, rec)
}

func (a *moduleAdapter) RemoveDriveObject(driveObjectPath string) {
	a.mgr.RemoveDriveObject(driveObjectPath)
}

// StandaloneObjects exposes the wrapped Manager's standalone instances
// for the housekeeping scheduler's snapshot.
func (a *moduleAdapter) StandaloneObjects() []module.Instance {
	return a.mgr.StandaloneObjects()
}
