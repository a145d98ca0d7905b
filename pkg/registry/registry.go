// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package registry implements the Object Registry and Event Dispatch
// (spec.md §4.3): the single serializing lock and the canonical
// dispatch ordering that fan one Device Record event out across the
// Module, MDRaid, Drive and Block sub-registries.
package registry

import (
	"sync"
	"time"

	merr "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/storaged-project/storaged/pkg/blockobj"
	"github.com/storaged-project/storaged/pkg/driveobj"
	"github.com/storaged-project/storaged/pkg/mdraid"
	"github.com/storaged-project/storaged/pkg/metrics"
	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

var log = logrus.WithField("subsystem", "registry")

// SetLogger rebinds the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// ModuleDispatcher routes an event through the module subsystem's
// standalone objects (spec.md §4.7 step applied at the top level).
// Implemented by pkg/module; kept as an interface here so the registry
// can be exercised without a real module set.
type ModuleDispatcher interface {
	Dispatch(action uevent.Action, rec *record.Record) error
}

// BlockFacetRefresher lets the module subsystem attach/refresh/detach
// its own Block facets as part of Block Object processing (spec.md
// §4.7's facet-type descriptor contract, evaluated per Block Object
// rather than at the top-level module dispatch step — see DESIGN.md).
// Optional: a ModuleDispatcher that doesn't implement this simply
// contributes no Block facets.
type BlockFacetRefresher interface {
	RefreshBlockFacets(action uevent.Action, blockObjectPath string, rec *record.Record)
	RemoveBlockObject(blockObjectPath string)
}

// DriveFacetRefresher is BlockFacetRefresher's counterpart for Drive
// Objects.
type DriveFacetRefresher interface {
	RefreshDriveFacets(action uevent.Action, driveObjectPath string, rec *record.Record)
	RemoveDriveObject(driveObjectPath string)
}

// MDRaidRefresher performs the out-of-band sysfs reads needed to
// populate a dispatched MDRaid Object's published properties, mirroring
// driveobj.Refresher. Implemented by internal/daemon, which alone knows
// how to resolve a member's sysfs path back to a Block Object.
type MDRaidRefresher interface {
	Refresh(o *mdraid.Object)
}

// JournalChecker reconciles the State Journal against current reality.
// Implemented by pkg/journal.
type JournalChecker interface {
	Check()
}

// Publisher receives object-lifecycle notifications so a bus layer can
// emit ObjectManager export/unexport signals in the exact order the
// registry produces them. All methods are called while the registry
// lock is held; implementations must not call back into the registry.
type Publisher interface {
	BlockExported(o *blockobj.Object)
	BlockUnexported(o *blockobj.Object)
	DriveExported(o *driveobj.Object)
	DriveUnexported(o *driveobj.Object)
	MDRaidExported(o *mdraid.Object)
	MDRaidUnexported(o *mdraid.Object)
}

type noopPublisher struct{}

func (noopPublisher) BlockExported(*blockobj.Object)     {}
func (noopPublisher) BlockUnexported(*blockobj.Object)   {}
func (noopPublisher) DriveExported(*driveobj.Object)     {}
func (noopPublisher) DriveUnexported(*driveobj.Object)   {}
func (noopPublisher) MDRaidExported(*mdraid.Object)      {}
func (noopPublisher) MDRaidUnexported(*mdraid.Object)    {}

// Registry is the coarse-locked central object graph (spec.md §5:
// "Single serializing lock... All mutation to the object graph
// happens under it").
type Registry struct {
	mu sync.Mutex

	rootPrefix string
	blocks     map[string]*blockobj.Object

	drives      *driveobj.Manager
	mdraids     *mdraid.Manager
	mdrefresher MDRaidRefresher
	modules     ModuleDispatcher
	journal     JournalChecker
	pub         Publisher

	mounts blockobj.MountChecker
	kparts blockobj.KernelPartitionChecker
}

// Option configures optional Registry collaborators.
type Option func(*Registry)

func WithModules(m ModuleDispatcher) Option   { return func(r *Registry) { r.modules = m } }
func WithJournal(j JournalChecker) Option     { return func(r *Registry) { r.journal = j } }
func WithPublisher(p Publisher) Option        { return func(r *Registry) { r.pub = p } }
func WithMountChecker(m blockobj.MountChecker) Option {
	return func(r *Registry) { r.mounts = m }
}
func WithKernelPartitionChecker(k blockobj.KernelPartitionChecker) Option {
	return func(r *Registry) { r.kparts = k }
}
func WithInitialHousekeeper(h driveobj.InitialHousekeeper) Option {
	return func(r *Registry) { r.drives.WithInitial(h) }
}

func WithDriveRefresher(ref driveobj.Refresher) Option {
	return func(r *Registry) { r.drives.WithRefresher(ref) }
}

func WithMDRaidRefresher(ref MDRaidRefresher) Option {
	return func(r *Registry) { r.mdrefresher = ref }
}

// SetMDRaidRefresher attaches the MDRaid refresher after construction,
// for the one collaborator (internal/daemon's sysfs reader) that itself
// needs a reference to the already-built Registry to resolve a member's
// sysfs path back to its Block Object.
func (r *Registry) SetMDRaidRefresher(ref MDRaidRefresher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mdrefresher = ref
}

// New constructs an empty Registry rooted at rootPrefix (e.g.
// "/org/storaged/storaged").
func New(rootPrefix string, opts ...Option) *Registry {
	r := &Registry{
		rootPrefix: rootPrefix,
		blocks:     make(map[string]*blockobj.Object),
		mdraids:    mdraid.NewManager(rootPrefix),
		pub:        noopPublisher{},
	}
	r.drives = driveobj.NewManager(rootPrefix, nil)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsKnown satisfies probe.KnownPathChecker: a sysfs path is known once
// it has either a Block Object or a Drive association.
func (r *Registry) IsKnown(sysfsPath string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blocks[sysfsPath]; ok {
		return true
	}
	return r.drives.IsKnown(sysfsPath)
}

// Block returns the Block Object for sysfsPath, or nil.
func (r *Registry) Block(sysfsPath string) *blockobj.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocks[sysfsPath]
}

// Drives exposes the Drive manager for read access (e.g. housekeeping
// snapshots). Callers must not mutate the returned maps directly.
func (r *Registry) Drives() *driveobj.Manager { return r.drives }

// MDRaids exposes the MDRaid manager for read access (e.g. the sync
// poller's scan for objects with Polling() true). Callers must not
// mutate the returned maps directly.
func (r *Registry) MDRaids() *mdraid.Manager { return r.mdraids }

// MDRaidsPolling copies out every MDRaid Object whose Polling() is true
// under the registry lock, the snapshot the sync poller sweeps every 1s
// (spec.md §4.5).
func (r *Registry) MDRaidsPolling() []*mdraid.Object {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*mdraid.Object
	for _, o := range r.mdraids.Snapshot() {
		if o.Polling() {
			out = append(out, o)
		}
	}
	return out
}

// RefreshMDRaid re-runs the MDRaid refresher and republishes o, the
// entry point the sync poller uses outside of event dispatch (spec.md
// §4.5: "poll its sysfs every 1 s"). A no-op once o has been erased.
func (r *Registry) RefreshMDRaid(o *mdraid.Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mdraids.ByUUID(o.UUID) != o {
		return
	}
	r.refreshAndPublishMDRaid(o)
}

// refreshAndPublishMDRaid re-runs the refresher, if any, and publishes
// the result. MDRaidExported doubles as both "export" and "update": the
// Bus Manager tracks whether o's path is already exported and emits the
// matching ObjectManager signal either way, so callers never need to
// distinguish first-publish from a later refresh.
func (r *Registry) refreshAndPublishMDRaid(o *mdraid.Object) {
	if r.mdrefresher != nil {
		r.mdrefresher.Refresh(o)
	}
	r.pub.MDRaidExported(o)
}

// HousekeepingSnapshot copies out every Drive Object under the registry
// lock (spec.md §4.8's "copying the map under the registry lock" step).
// Module standalone objects are snapshotted separately by
// internal/daemon, which alone holds a concretely typed module manager;
// the registry only ever sees one through the narrow ModuleDispatcher
// seam.
func (r *Registry) HousekeepingSnapshot() []*driveobj.Object {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drives.Snapshot()
}

// KnownRecords copies out the latest Device Record for every Block
// Object and every Drive Object's tracked records under the registry
// lock, the snapshot internal/daemon replays as a synthetic coldplug
// once a module finishes loading (spec.md §4.7: "for each currently
// known Device Record, dispatch an add event... twice").
func (r *Registry) KnownRecords() []*record.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*record.Record, 0, len(r.blocks))
	for _, o := range r.blocks {
		out = append(out, o.Record())
	}
	for _, d := range r.drives.Snapshot() {
		out = append(out, d.Records()...)
	}
	return out
}

const dmUdevDisableOtherRulesFlag = "DM_UDEV_DISABLE_OTHER_RULES_FLAG"

func isDiskLike(rec *record.Record) bool {
	if rec.Subsystem == record.SubsystemNVMe {
		return rec.SysfsAttr("nsid") == ""
	}
	return rec.Subsystem == record.SubsystemBlock && rec.DevType == record.DevTypeDisk
}

// Dispatch applies one Device Record event across every sub-registry
// in the canonical order from spec.md §4.3.
func (r *Registry) Dispatch(action uevent.Action, rec *record.Record) error {
	start := time.Now()
	defer func() { metrics.ObserveDispatchDuration(time.Since(start)) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	if action != uevent.ActionRemove && rec.Property(dmUdevDisableOtherRulesFlag) == "1" {
		log.WithField("sysfs-path", rec.SysfsPath).Debug("dm-udev requested other rules be skipped")
		return nil
	}

	var errs *merr.Error

	if action == uevent.ActionRemove {
		r.dispatchBlockRemove(rec)
		r.dispatchDriveRemove(rec)
		r.dispatchMDRaid(action, rec)
		if r.modules != nil {
			if err := r.modules.Dispatch(action, rec); err != nil {
				errs = merr.Append(errs, err)
			}
		}
	} else {
		if r.modules != nil {
			if err := r.modules.Dispatch(action, rec); err != nil {
				errs = merr.Append(errs, err)
			}
		}
		r.dispatchMDRaid(action, rec)
		r.dispatchDriveUpsert(action, rec)
		r.dispatchBlockUpsert(action, rec)
	}

	if action != uevent.ActionAdd && r.journal != nil {
		r.journal.Check()
	}

	return errs.ErrorOrNil()
}

func (r *Registry) dispatchBlockUpsert(action uevent.Action, rec *record.Record) {
	if rec.Subsystem != record.SubsystemBlock {
		return
	}
	o, existed := r.blocks[rec.SysfsPath]
	if !existed {
		o = blockobj.New(rec, r.rootPrefix)
		r.blocks[rec.SysfsPath] = o
	}
	o.RefreshFacets(rec, r.mounts, r.kparts)
	if fr, ok := r.modules.(BlockFacetRefresher); ok {
		fr.RefreshBlockFacets(action, o.ObjectPath, rec)
	}
	if !existed {
		r.pub.BlockExported(o)
	}
}

func (r *Registry) dispatchBlockRemove(rec *record.Record) {
	o, ok := r.blocks[rec.SysfsPath]
	if !ok {
		return
	}
	if fr, ok := r.modules.(BlockFacetRefresher); ok {
		fr.RefreshBlockFacets(uevent.ActionRemove, o.ObjectPath, rec)
		fr.RemoveBlockObject(o.ObjectPath)
	}
	delete(r.blocks, rec.SysfsPath)
	o.Close()
	r.pub.BlockUnexported(o)
}

func (r *Registry) dispatchDriveUpsert(action uevent.Action, rec *record.Record) {
	if !isDiskLike(rec) {
		return
	}
	before := r.drives.ByVPD(vpdOrEmpty(rec))
	r.drives.Dispatch(action, rec)
	after := r.drives.BySysfsPath(rec.SysfsPath)
	if after != nil && after != before {
		r.pub.DriveExported(after)
	}
	if after != nil {
		if fr, ok := r.modules.(DriveFacetRefresher); ok {
			fr.RefreshDriveFacets(action, after.ObjectPath, rec)
		}
	}
}

func vpdOrEmpty(rec *record.Record) string {
	vpd, ok := driveobj.ComputeVPD(rec)
	if !ok {
		return ""
	}
	return vpd
}

func (r *Registry) dispatchDriveRemove(rec *record.Record) {
	if !isDiskLike(rec) {
		return
	}
	drive := r.drives.BySysfsPath(rec.SysfsPath)
	if drive == nil {
		return
	}
	r.drives.Dispatch(uevent.ActionRemove, rec)
	if r.drives.ByVPD(drive.VPD) == nil {
		if fr, ok := r.modules.(DriveFacetRefresher); ok {
			fr.RefreshDriveFacets(uevent.ActionRemove, drive.ObjectPath, rec)
			fr.RemoveDriveObject(drive.ObjectPath)
		}
		r.pub.DriveUnexported(drive)
	}
}

func (r *Registry) dispatchMDRaid(action uevent.Action, rec *record.Record) {
	memberUUID := rec.Property("UDISKS_MD_MEMBER_UUID")
	arrayUUID := rec.Property("UDISKS_MD_UUID")
	if memberUUID == "" && arrayUUID == "" && !r.mdraidKnown(rec.SysfsPath) {
		return
	}
	touched, erased := r.mdraids.Dispatch(action, rec.SysfsPath, memberUUID, arrayUUID)
	for _, o := range erased {
		r.pub.MDRaidUnexported(o)
	}
	erasedSet := make(map[*mdraid.Object]bool, len(erased))
	for _, o := range erased {
		erasedSet[o] = true
	}
	for _, o := range touched {
		if erasedSet[o] {
			continue
		}
		r.refreshAndPublishMDRaid(o)
	}
}

func (r *Registry) mdraidKnown(sysfsPath string) bool {
	return r.mdraids.BySysfsPath(sysfsPath) != nil
}
