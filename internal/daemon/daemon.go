// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package daemon wires every subsystem package into the running
// storage-management daemon: the Kernel Device Source, the Probe
// Worker, the Object Registry, the Module Subsystem, the Housekeeping
// Scheduler, the State Journal, the Authorization Gate, the Job
// Registry and the Bus Manager, plus the main event loop that ties
// them together (spec.md §2's component overview).
package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/storaged-project/storaged/pkg/authorize"
	"github.com/storaged-project/storaged/pkg/blkdev"
	"github.com/storaged-project/storaged/pkg/bus"
	"github.com/storaged-project/storaged/pkg/housekeeping"
	"github.com/storaged-project/storaged/pkg/job"
	"github.com/storaged-project/storaged/pkg/journal"
	"github.com/storaged-project/storaged/pkg/module"
	"github.com/storaged-project/storaged/pkg/probe"
	"github.com/storaged-project/storaged/pkg/registry"
	"github.com/storaged-project/storaged/pkg/signals"
	"github.com/storaged-project/storaged/pkg/uevent"
)

var log = logrus.WithField("subsystem", "daemon")

// SetLogger rebinds the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// Config carries every knob cmd/storaged exposes as a flag.
type Config struct {
	RootPrefix string // e.g. "/org/storaged/storaged"
	BusName    string // e.g. "org.storaged.storaged"
	StateDir   string // journal.json lives under here
	ConfigDir  string // per-VPD drive .conf files live under here; "" disables the watch
	LoadMode   LoadMode
	QueueSize  int // uevent.NewSource's bounded-channel depth

	// Conn is the system bus connection to export objects on. Nil runs
	// the daemon with the Bus Manager disabled (e.g. under test).
	Conn *dbus.Conn
}

// Daemon owns every long-lived collaborator and the goroutines that
// drive the event pipeline.
type Daemon struct {
	cfg Config

	source *uevent.Source
	worker *probe.Worker
	out    chan probe.Output

	registry *registry.Registry
	mods     *moduleAdapter
	jrnl     *journal.Journal
	gate     *authorize.Gate
	jobs     *job.Registry
	busMgr   *bus.Manager
	sweeper  *housekeeping.Scheduler
	mdPoller *mdRaidPoller
	sigs     *signals.Handler
	cfgWatch *configWatcher
	cfgDone  chan struct{}

	rootCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New assembles every collaborator without starting any goroutine.
func New(cfg Config, mods ...module.Module) (*Daemon, error) {
	if cfg.RootPrefix == "" {
		cfg.RootPrefix = "/org/storaged/storaged"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	jrnl, err := journal.New(filepath.Join(cfg.StateDir, "journal.json"),
		journal.WithReconciler(newSysReconciler()),
		journal.WithReverser(newSysReverser()))
	if err != nil {
		return nil, fmt.Errorf("daemon: opening state journal: %w", err)
	}

	source, err := uevent.NewSource(cfg.QueueSize)
	if err != nil {
		return nil, fmt.Errorf("daemon: binding kernel uevent source: %w", err)
	}

	d := &Daemon{
		cfg:  cfg,
		jrnl: jrnl,
		gate: authorize.New(nil),
		jobs: job.NewRegistry(),
		mods: newModuleAdapter(cfg.LoadMode, mods...),
	}

	if cfg.Conn != nil {
		busMgr, err := bus.NewManager(cfg.Conn, cfg.BusName, dbus.ObjectPath(cfg.RootPrefix))
		if err != nil {
			return nil, fmt.Errorf("daemon: claiming bus name %s: %w", cfg.BusName, err)
		}
		d.busMgr = busMgr
		d.gate = authorize.New(authorize.NewDBusAuthority(cfg.Conn,
			"org.freedesktop.PolicyKit1",
			"/org/freedesktop/PolicyKit1/Authority",
			"org.freedesktop.PolicyKit1.Authority"))
		d.jobs = job.NewRegistry(job.WithPublishHook(busMgr.JobPublished), job.WithRetireHook(busMgr.JobRetired))
	}

	checker := newSysfsChecker()

	regOpts := []registry.Option{
		registry.WithModules(d.mods),
		registry.WithJournal(jrnl),
		registry.WithMountChecker(checker),
		registry.WithKernelPartitionChecker(checker),
		registry.WithInitialHousekeeper(initialHousekeeper{}),
		registry.WithDriveRefresher(blkdev.Refresher{}),
	}
	if d.busMgr != nil {
		regOpts = append(regOpts, registry.WithPublisher(d.busMgr))
	}
	d.registry = registry.New(cfg.RootPrefix, regOpts...)
	d.registry.SetMDRaidRefresher(newMDRaidRefresher(d.registry))
	d.mdPoller = newMDRaidPoller(d.registry)

	d.out = make(chan probe.Output, cfg.QueueSize)
	d.worker = probe.NewWorker(probe.NewSysfsEnricher(), d.registry, d.out)
	d.source = source

	d.sweeper = housekeeping.New(d.housekeepingSnapshot)

	cfgWatch, err := watchConfigDir(cfg.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("daemon: watching drive-config directory %s: %w", cfg.ConfigDir, err)
	}
	d.cfgWatch = cfgWatch
	d.cfgDone = make(chan struct{})

	d.rootCtx, d.cancel = context.WithCancel(context.Background())
	d.sigs = signals.NewHandler(d.onReload, d.onShutdown, nil)

	return d, nil
}

// housekeepingSnapshot combines the registry's Drive Objects with every
// live module standalone object into one sweep set (spec.md §4.8: "a
// periodic sweep over every Drive Object and module standalone
// object").
func (d *Daemon) housekeepingSnapshot() []housekeeping.Housekeeper {
	drives := d.registry.HousekeepingSnapshot()
	standalone := d.mods.StandaloneObjects()

	out := make([]housekeeping.Housekeeper, 0, len(drives)+len(standalone))
	for _, dr := range drives {
		out = append(out, housekeeping.DriveAdapter{Drive: dr})
	}
	for _, inst := range standalone {
		out = append(out, inst)
	}
	return out
}

// Run starts every goroutine and blocks until Stop is called (directly,
// or via a shutdown signal).
func (d *Daemon) Run() error {
	d.sigs.Start()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.source.Run(d.rootCtx); err != nil {
			log.WithError(err).Error("kernel device source exited")
		}
	}()

	d.wg.Add(1)
	go d.pumpSourceToWorker()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.worker.Run()
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sweeper.Run()
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.mdPoller.Run()
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.mainLoop()
	}()

	if d.cfgWatch != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.cfgWatch.run(d.cfgDone, d.onConfigChanged)
		}()
	}

	d.coldplugAtStartup()

	<-d.rootCtx.Done()
	d.shutdown()
	return nil
}

// coldplugAtStartup enumerates every device already present and
// replays it through the normal pipeline once, the ordinary startup
// cold-plug (spec.md §4.1).
func (d *Daemon) coldplugAtStartup() {
	for _, ev := range coldplugEvents() {
		d.worker.Enqueue(ev)
	}
}

func (d *Daemon) pumpSourceToWorker() {
	defer d.wg.Done()
	events := d.source.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.worker.Enqueue(ev)
		case <-d.rootCtx.Done():
			return
		}
	}
}

// mainLoop applies probe output to the registry and replays the
// synthetic double-coldplug once a lazily-loaded module signals it
// just got loaded — strictly outside of registry.Dispatch's lock, per
// pkg/module's own contract.
func (d *Daemon) mainLoop() {
	for {
		select {
		case out, ok := <-d.out:
			if !ok {
				return
			}
			if err := d.registry.Dispatch(out.Action, out.Record); err != nil {
				log.WithError(err).WithField("sysfs-path", out.Record.SysfsPath).Warn("event dispatch reported errors")
			}
		case id, ok := <-d.mods.PendingLoads():
			if !ok {
				return
			}
			log.WithField("module", id).Info("module loaded, replaying synthetic double coldplug")
			recs := d.registry.KnownRecords()
			replayKnownRecords(d.registry.Dispatch, recs)
		case <-d.rootCtx.Done():
			return
		}
	}
}

// onReload handles SIGHUP: re-inject every currently known Device
// Record as a reconfigure action, re-evaluating persisted drive
// configuration without a full restart (spec.md §4.1/§4.12).
func (d *Daemon) onReload() {
	for _, rec := range d.registry.KnownRecords() {
		d.source.InjectReconfigure(rec.SysfsPath, &uevent.RawDevice{
			Subsystem:  string(rec.Subsystem),
			SysfsPath:  rec.SysfsPath,
			DeviceName: rec.DeviceName,
			Properties: rec.Properties,
		})
	}
	d.sweeper.SweepNow()
}

// onConfigChanged re-injects a reconfigure event for the drive a
// changed .conf file names, so an edited StandbyTimeout/APMLevel/etc.
// takes effect without a daemon restart (SPEC_FULL.md §4.1).
func (d *Daemon) onConfigChanged(vpd string) {
	drive := d.registry.Drives().ByVPD(vpd)
	if drive == nil {
		return
	}
	rec := drive.PrimaryRecord()
	if rec == nil {
		return
	}
	d.source.InjectReconfigure(rec.SysfsPath, &uevent.RawDevice{
		Subsystem:  string(rec.Subsystem),
		SysfsPath:  rec.SysfsPath,
		DeviceName: rec.DeviceName,
		Properties: rec.Properties,
	})
}

func (d *Daemon) onShutdown() {
	d.cancel()
}

// Stop requests a clean shutdown and waits for it to complete.
func (d *Daemon) Stop() {
	d.cancel()
	d.shutdown()
}

// shutdown is idempotent: Run's own exit path and an explicit Stop call
// may both reach it.
func (d *Daemon) shutdown() {
	d.stopOnce.Do(func() {
		d.source.Stop()
		d.worker.Stop()
		d.sweeper.Stop()
		d.mdPoller.Stop()
		d.sigs.Stop()
		if d.cfgWatch != nil {
			close(d.cfgDone)
			d.cfgWatch.close()
		}
		close(d.out)
		d.wg.Wait()
	})
}
