// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package module implements the Module Subsystem (spec.md §4.7) as an
// in-tree compile-time trait registry rather than dynamically loaded
// shared objects, per the spec's Design Notes on safer implementations.
//
// Every method here is called while the registry's single serializing
// lock is held (spec.md §5); the manager does no locking of its own.
package module

import (
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

// Instance is the uniform shape of every module-owned thing: a
// standalone object, a Block facet or a Drive facet. It carries the
// per-object `process_uevent`/housekeeping hooks spec.md §4.7 names.
type Instance interface {
	ObjectPath() string
	// ProcessUevent implements the module's claim protocol: processed
	// reports whether this instance cared about the event at all; keep
	// reports whether the instance should continue to exist.
	ProcessUevent(action uevent.Action, rec *record.Record) (processed, keep bool)
	Housekeeping(secondsSinceLast float64) error
	Close()
}

// Module is the trait every module value implements (spec.md §4.7's
// four entry-point groups, minus the failable module-init: modules are
// registered as already-initialized Go values in this implementation).
type Module interface {
	ID() string

	// ManagerFacet returns the module's manager-facet instance, or nil
	// if the module contributes none.
	ManagerFacet() Instance

	// NewStandaloneObject is offered a fresh event once no existing
	// standalone instance of this module claimed it; it returns nil if
	// the event doesn't originate a new standalone object.
	NewStandaloneObject(rec *record.Record) Instance

	// BlockFacetTypes lists the Block-facet type names this module may
	// attach.
	BlockFacetTypes() []string
	// NewBlockFacet constructs a Block facet of facetType owned by
	// blockObjectPath, or nil if this record doesn't warrant one.
	NewBlockFacet(facetType, blockObjectPath string, rec *record.Record) Instance

	// DriveFacetTypes lists the Drive-facet type names this module may
	// attach.
	DriveFacetTypes() []string
	// NewDriveFacet constructs a Drive facet of facetType owned by
	// driveObjectPath, or nil if this record doesn't warrant one.
	NewDriveFacet(facetType, driveObjectPath string, rec *record.Record) Instance
}

type moduleState struct {
	mod         Module
	standalone  []Instance
	blockFacets map[string]map[string]Instance // blockObjectPath -> facetType -> Instance
	driveFacets map[string]map[string]Instance // driveObjectPath -> facetType -> Instance
}

// Manager is the module registry: the set of loaded modules plus the
// live instances (standalone objects and Block/Drive facets) each has
// created.
type Manager struct {
	order   []string
	modules map[string]*moduleState
}

func NewManager() *Manager {
	return &Manager{modules: make(map[string]*moduleState)}
}

// Load registers mod. Per spec.md §4.7, modules not yet loaded publish
// no facets; callers are responsible for issuing the synthetic
// double-coldplug afterward (internal/daemon does this, since it alone
// has the full set of currently-known Device Records).
func (m *Manager) Load(mod Module) {
	id := mod.ID()
	if _, ok := m.modules[id]; ok {
		return
	}
	m.order = append(m.order, id)
	m.modules[id] = &moduleState{
		mod:         mod,
		blockFacets: make(map[string]map[string]Instance),
		driveFacets: make(map[string]map[string]Instance),
	}
}

// Loaded reports whether a module id is registered.
func (m *Manager) Loaded(id string) bool {
	_, ok := m.modules[id]
	return ok
}

// IDs returns the loaded module ids in load order.
func (m *Manager) IDs() []string {
	return append([]string(nil), m.order...)
}

// ManagerFacet returns the manager facet contributed by module id, or
// nil.
func (m *Manager) ManagerFacet(id string) Instance {
	ms, ok := m.modules[id]
	if !ok {
		return nil
	}
	return ms.mod.ManagerFacet()
}

// Dispatch implements spec.md §4.7's "Module Objects" top-level
// dispatch step for standalone objects: existing instances get first
// chance to claim the event; a fresh instance is only created if none
// did; each module's coarse per-event hook — represented here by
// whether NewStandaloneObject itself inspects the event — runs last.
func (m *Manager) Dispatch(action uevent.Action, rec *record.Record) error {
	for _, id := range m.order {
		ms := m.modules[id]
		var claimed bool
		kept := ms.standalone[:0]
		for _, inst := range ms.standalone {
			processed, keep := inst.ProcessUevent(action, rec)
			if !processed {
				kept = append(kept, inst)
				continue
			}
			claimed = true
			if keep {
				kept = append(kept, inst)
			} else {
				inst.Close()
			}
		}
		ms.standalone = kept

		if !claimed && action != uevent.ActionRemove {
			if inst := ms.mod.NewStandaloneObject(rec); inst != nil {
				inst.ProcessUevent(action, rec)
				ms.standalone = append(ms.standalone, inst)
			}
		}
	}
	return nil
}

// StandaloneObjects returns every currently live standalone instance
// across all modules, the snapshot spec.md §4.8's housekeeping
// scheduler sweeps alongside Drive Objects.
func (m *Manager) StandaloneObjects() []Instance {
	var out []Instance
	for _, id := range m.order {
		out = append(out, m.modules[id].standalone...)
	}
	return out
}

// RefreshBlockFacets runs the claim/construct algorithm for every
// loaded module against a single Block Object's current record
// (spec.md §4.7, applied per-owner instead of globally: a Block's
// module facets are only ever evaluated in the context of that Block).
func (m *Manager) RefreshBlockFacets(action uevent.Action, blockObjectPath string, rec *record.Record) {
	for _, id := range m.order {
		ms := m.modules[id]
		facets := ms.blockFacets[blockObjectPath]
		if facets == nil {
			facets = make(map[string]Instance)
			ms.blockFacets[blockObjectPath] = facets
		}
		refreshFacetMap(facets, action, rec, ms.mod.BlockFacetTypes(), func(facetType string) Instance {
			return ms.mod.NewBlockFacet(facetType, blockObjectPath, rec)
		})
	}
}

// RefreshDriveFacets is RefreshBlockFacets's counterpart for Drive
// Objects.
func (m *Manager) RefreshDriveFacets(action uevent.Action, driveObjectPath string, rec *record.Record) {
	for _, id := range m.order {
		ms := m.modules[id]
		facets := ms.driveFacets[driveObjectPath]
		if facets == nil {
			facets = make(map[string]Instance)
			ms.driveFacets[driveObjectPath] = facets
		}
		refreshFacetMap(facets, action, rec, ms.mod.DriveFacetTypes(), func(facetType string) Instance {
			return ms.mod.NewDriveFacet(facetType, driveObjectPath, rec)
		})
	}
}

// refreshFacetMap applies spec.md §4.7 steps 1-2 to one module's
// facets of one owner: existing facets get first chance via
// ProcessUevent; a fresh facet is constructed per claimable type only
// if no facet of that type is attached after that pass (step (c): at
// most one facet of a given type per owner).
func refreshFacetMap(facets map[string]Instance, action uevent.Action, rec *record.Record, claimableTypes []string, construct func(facetType string) Instance) {
	for facetType, inst := range facets {
		processed, keep := inst.ProcessUevent(action, rec)
		if !processed {
			continue
		}
		if !keep {
			inst.Close()
			delete(facets, facetType)
		}
	}

	if action == uevent.ActionRemove {
		return
	}
	for _, facetType := range claimableTypes {
		if _, claimed := facets[facetType]; claimed {
			continue
		}
		if inst := construct(facetType); inst != nil {
			inst.ProcessUevent(action, rec)
			facets[facetType] = inst
		}
	}
}

// RemoveBlockObject closes every module facet owned by blockObjectPath,
// called when the Block Object itself is removed.
func (m *Manager) RemoveBlockObject(blockObjectPath string) {
	for _, id := range m.order {
		ms := m.modules[id]
		for _, inst := range ms.blockFacets[blockObjectPath] {
			inst.Close()
		}
		delete(ms.blockFacets, blockObjectPath)
	}
}

// RemoveDriveObject is RemoveBlockObject's counterpart for Drive
// Objects.
func (m *Manager) RemoveDriveObject(driveObjectPath string) {
	for _, id := range m.order {
		ms := m.modules[id]
		for _, inst := range ms.driveFacets[driveObjectPath] {
			inst.Close()
		}
		delete(ms.driveFacets, driveObjectPath)
	}
}

// BlockFacetCount returns how many facets of facetType are currently
// attached to blockObjectPath by module moduleID; used to assert the
// module-facet-cardinality invariant (spec.md §8 property 6) never
// exceeds one per module.
func (m *Manager) BlockFacetCount(moduleID, blockObjectPath, facetType string) int {
	ms, ok := m.modules[moduleID]
	if !ok {
		return 0
	}
	if _, ok := ms.blockFacets[blockObjectPath][facetType]; ok {
		return 1
	}
	return 0
}
