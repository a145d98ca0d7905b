// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package journal implements the State Journal (spec.md §4.10): a
// durable record of caller-initiated, system-altering state — mounted
// filesystems, unlocked crypto devices, loop devices, started MDRaid
// arrays — kept so a crash can be cleaned up on the next start, and
// checked periodically so state nobody is using anymore is reversed.
package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/storaged-project/storaged/pkg/record"
)

var log = logrus.WithField("subsystem", "journal")

// SetLogger rebinds the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

const fileMode = os.FileMode(0600)

// MountedFSEntry records a filesystem the daemon itself mounted.
type MountedFSEntry struct {
	MountPoint  string
	BlockDevice record.DeviceNumber
	UID         uint32
	FstabMount  bool
}

// UnlockedCryptoDevEntry records a LUKS device the daemon itself unlocked.
type UnlockedCryptoDevEntry struct {
	CleartextDevice record.DeviceNumber
	CryptoDevice    record.DeviceNumber
	DMUUID          string
	UID             uint32
}

// LoopEntry records a loop device the daemon itself set up.
type LoopEntry struct {
	DeviceFile        string
	BackingFile       string
	BackingFileDevice record.DeviceNumber
	UID               uint32
}

// MDRaidEntry records an MDRaid array the daemon itself started.
type MDRaidEntry struct {
	RaidDevice record.DeviceNumber
	UID        uint32
}

// document is the on-disk JSON shape.
type document struct {
	MountedFS          []MountedFSEntry
	UnlockedCryptoDevs []UnlockedCryptoDevEntry
	Loops              []LoopEntry
	MDRaids            []MDRaidEntry
}

// Reconciler answers whether a journal entry still reflects live state.
// Entries for which it returns true are stale and get reversed and
// dropped on the next Check. A nil Reconciler makes Check a no-op,
// which keeps the journal idempotent and safe to use without one.
type Reconciler interface {
	MountedFSStale(e MountedFSEntry) bool
	UnlockedCryptoDevStale(e UnlockedCryptoDevEntry) bool
	LoopStale(e LoopEntry) bool
	MDRaidStale(e MDRaidEntry) bool
}

// Reverser performs the physical cleanup for a stale entry (unmount,
// lock the crypto device back up, tear down the loop device, stop the
// array). Errors are logged; Check never aborts partway through on one
// failing entry.
type Reverser interface {
	UnmountStale(e MountedFSEntry) error
	LockCryptoDevStale(e UnlockedCryptoDevEntry) error
	DetachLoopStale(e LoopEntry) error
	StopMDRaidStale(e MDRaidEntry) error
}

// Journal is the coarse-locked in-memory mirror of the on-disk state
// document. Every mutating operation persists the whole document under
// an exclusive flock; reads only touch the in-memory copy, which is
// kept in sync on every mutation and on Load.
type Journal struct {
	mu   sync.Mutex
	path string
	doc  document

	reconciler Reconciler
	reverser   Reverser
}

// Option configures optional Journal collaborators.
type Option func(*Journal)

func WithReconciler(r Reconciler) Option { return func(j *Journal) { j.reconciler = r } }
func WithReverser(r Reverser) Option     { return func(j *Journal) { j.reverser = r } }

// New constructs a Journal backed by the file at path, loading any
// existing document. A missing file is treated as an empty journal,
// matching a fresh state directory on first boot.
func New(path string, opts ...Option) (*Journal, error) {
	j := &Journal{path: path}
	for _, opt := range opts {
		opt(j)
	}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) load() error {
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	dec := json.NewDecoder(f)
	if err := dec.Decode(&j.doc); err != nil {
		return err
	}
	return nil
}

// save persists the current in-memory document under an exclusive
// flock, mirroring the teacher's persist/fs.go Lock/ToDisk pattern.
func (j *Journal) save() error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(j.path, os.O_RDWR|os.O_CREATE, fileMode)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(j.doc)
}

// AddMountedFS records a mount the daemon performed.
func (j *Journal) AddMountedFS(mountPoint string, blockDevice record.DeviceNumber, uid uint32, fstabMount bool) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.doc.MountedFS = append(j.doc.MountedFS, MountedFSEntry{
		MountPoint:  mountPoint,
		BlockDevice: blockDevice,
		UID:         uid,
		FstabMount:  fstabMount,
	})
	return j.save()
}

// FindMountedFS looks up a previously recorded mount for blockDevice.
func (j *Journal) FindMountedFS(blockDevice record.DeviceNumber) (entry MountedFSEntry, found bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.doc.MountedFS {
		if e.BlockDevice == blockDevice {
			return e, true
		}
	}
	return MountedFSEntry{}, false
}

// AddUnlockedCryptoDev records a LUKS device the daemon unlocked.
func (j *Journal) AddUnlockedCryptoDev(cleartext, crypto record.DeviceNumber, dmUUID string, uid uint32) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.doc.UnlockedCryptoDevs = append(j.doc.UnlockedCryptoDevs, UnlockedCryptoDevEntry{
		CleartextDevice: cleartext,
		CryptoDevice:    crypto,
		DMUUID:          dmUUID,
		UID:             uid,
	})
	return j.save()
}

// FindUnlockedCryptoDev looks up a previously recorded unlock for crypto.
func (j *Journal) FindUnlockedCryptoDev(crypto record.DeviceNumber) (entry UnlockedCryptoDevEntry, found bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.doc.UnlockedCryptoDevs {
		if e.CryptoDevice == crypto {
			return e, true
		}
	}
	return UnlockedCryptoDevEntry{}, false
}

// AddLoop records a loop device the daemon set up.
func (j *Journal) AddLoop(deviceFile, backingFile string, backingFileDevice record.DeviceNumber, uid uint32) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.doc.Loops = append(j.doc.Loops, LoopEntry{
		DeviceFile:        deviceFile,
		BackingFile:       backingFile,
		BackingFileDevice: backingFileDevice,
		UID:               uid,
	})
	return j.save()
}

// HasLoop reports whether deviceFile is a loop device the daemon set up.
func (j *Journal) HasLoop(deviceFile string) (entry LoopEntry, found bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.doc.Loops {
		if e.DeviceFile == deviceFile {
			return e, true
		}
	}
	return LoopEntry{}, false
}

// AddMDRaid records an MDRaid array the daemon started.
func (j *Journal) AddMDRaid(raidDevice record.DeviceNumber, uid uint32) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.doc.MDRaids = append(j.doc.MDRaids, MDRaidEntry{RaidDevice: raidDevice, UID: uid})
	return j.save()
}

// HasMDRaid reports whether raidDevice is an array the daemon started.
func (j *Journal) HasMDRaid(raidDevice record.DeviceNumber) (entry MDRaidEntry, found bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, e := range j.doc.MDRaids {
		if e.RaidDevice == raidDevice {
			return e, true
		}
	}
	return MDRaidEntry{}, false
}

// Check reconciles every entry kind against current reality, reversing
// and dropping entries the Reconciler reports stale. It touches
// neither the in-memory document nor the on-disk file for entries it
// only inspected and found still valid, so repeated calls with no
// change in underlying state are no-ops (spec.md §4.10's idempotency
// requirement, testable property #9's non-overlap sibling).
func (j *Journal) Check() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.reconciler == nil {
		return
	}

	changed := false

	kept := j.doc.MountedFS[:0]
	for _, e := range j.doc.MountedFS {
		if j.reconciler.MountedFSStale(e) {
			changed = true
			if j.reverser != nil {
				if err := j.reverser.UnmountStale(e); err != nil {
					log.WithError(err).WithField("mount-point", e.MountPoint).Warn("failed to reverse stale mounted-fs entry")
				}
			}
			continue
		}
		kept = append(kept, e)
	}
	j.doc.MountedFS = kept

	keptCrypto := j.doc.UnlockedCryptoDevs[:0]
	for _, e := range j.doc.UnlockedCryptoDevs {
		if j.reconciler.UnlockedCryptoDevStale(e) {
			changed = true
			if j.reverser != nil {
				if err := j.reverser.LockCryptoDevStale(e); err != nil {
					log.WithError(err).Warn("failed to reverse stale unlocked-crypto-dev entry")
				}
			}
			continue
		}
		keptCrypto = append(keptCrypto, e)
	}
	j.doc.UnlockedCryptoDevs = keptCrypto

	keptLoops := j.doc.Loops[:0]
	for _, e := range j.doc.Loops {
		if j.reconciler.LoopStale(e) {
			changed = true
			if j.reverser != nil {
				if err := j.reverser.DetachLoopStale(e); err != nil {
					log.WithError(err).WithField("device-file", e.DeviceFile).Warn("failed to reverse stale loop entry")
				}
			}
			continue
		}
		keptLoops = append(keptLoops, e)
	}
	j.doc.Loops = keptLoops

	keptMDRaids := j.doc.MDRaids[:0]
	for _, e := range j.doc.MDRaids {
		if j.reconciler.MDRaidStale(e) {
			changed = true
			if j.reverser != nil {
				if err := j.reverser.StopMDRaidStale(e); err != nil {
					log.WithError(err).Warn("failed to reverse stale mdraid entry")
				}
			}
			continue
		}
		keptMDRaids = append(keptMDRaids, e)
	}
	j.doc.MDRaids = keptMDRaids

	if changed {
		if err := j.save(); err != nil {
			log.WithError(err).Error("failed to persist journal after reconciliation")
		}
	}
}
