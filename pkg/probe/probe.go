// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//
// Package probe implements the Probe Worker: a single dedicated
// goroutine that turns raw uevent notifications into enriched Device
// Records before handing them to the main dispatch loop (spec.md §4.2).
package probe

import (
	"container/list"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/storaged-project/storaged/pkg/record"
	"github.com/storaged-project/storaged/pkg/uevent"
)

var log = logrus.WithField("subsystem", "probe")

// SetLogger rebinds the package logger.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

const (
	settleRetries = 5
	settleDelay   = 100 * time.Millisecond
)

// KnownPathChecker answers whether the registry already knows a sysfs
// path, used by the spurious-event filter: a known object must still
// see its events even if they'd otherwise look spurious.
type KnownPathChecker interface {
	IsKnown(sysfsPath string) bool
}

// Enricher performs the synchronous, subject-specific enrichment
// (ATA IDENTIFY / NVMe controller info) for disk-like block devices.
// Abstracted behind an interface so tests never touch real hardware.
type Enricher interface {
	// Enrich reads ATA/NVMe identify data for raw, if applicable.
	// Returning nil, nil, nil is valid for subjects with nothing to probe.
	Enrich(raw *uevent.RawDevice) (ataIdentify, ataIdentifyPacket []byte, nvmeInfo *record.NVMeControllerInfo, err error)
	// Settled reports whether the device's "initialized" udev flag is set.
	Settled(raw *uevent.RawDevice) bool
	// BuildRecord assembles a record.Record from raw device + sysfs state,
	// independent of the ATA/NVMe enrichment above.
	BuildRecord(raw *uevent.RawDevice) (*record.Record, error)
}

// Output is what the worker hands to the main loop: an action plus the
// fully enriched record.
type Output struct {
	Action uevent.Action
	Record *record.Record
}

// Worker drains uevent.Events from its input channel on a single
// goroutine, so ordering for a given sysfs path is preserved exactly as
// delivered by the kernel.
type Worker struct {
	enricher Enricher
	known    KnownPathChecker
	out      chan Output

	mu     sync.Mutex
	queue  *list.List
	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

// NewWorker constructs a probe worker. out is the channel the main loop
// reads completed Outputs from.
func NewWorker(enricher Enricher, known KnownPathChecker, out chan Output) *Worker {
	return &Worker{
		enricher: enricher,
		known:    known,
		out:      out,
		queue:    list.New(),
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Enqueue appends ev to the unbounded FIFO probe queue. Never blocks.
func (w *Worker) Enqueue(ev uevent.Event) {
	w.mu.Lock()
	w.queue.PushBack(ev)
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// Run processes the queue until Stop is called; events enqueued before
// Stop are still processed before Run returns.
func (w *Worker) Run() {
	defer close(w.done)
	for {
		ev, ok := w.dequeue()
		if ok {
			w.process(ev)
			continue
		}

		select {
		case <-w.stop:
			if ev, ok := w.dequeue(); ok {
				w.process(ev)
				continue
			}
			return
		case <-w.notify:
		}
	}
}

// Stop posts the cancellation sentinel; Run finishes in-flight work and
// returns once the queue has been drained.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Worker) dequeue() (uevent.Event, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	front := w.queue.Front()
	if front == nil {
		return uevent.Event{}, false
	}
	w.queue.Remove(front)
	return front.Value.(uevent.Event), true
}

func (w *Worker) process(ev uevent.Event) {
	entry := log.WithField("sysfs-path", ev.Raw.SysfsPath)

	settled := w.waitForSettle(ev.Raw)
	if !settled {
		entry.Debug("device never reported initialized, proceeding anyway")
	}

	if ev.Action == uevent.ActionChange && w.isSpurious(ev.Raw) {
		entry.Debug("dropping spurious media-change/eject-request event for unknown device")
		return
	}

	rec, err := w.enricher.BuildRecord(ev.Raw)
	if err != nil {
		entry.WithError(err).Warn("failed to build device record, dropping event")
		return
	}

	ataIdentify, ataIdentifyPacket, nvmeInfo, err := w.enricher.Enrich(ev.Raw)
	if err != nil {
		entry.WithError(err).Warn("enrichment failed, continuing with un-enriched record")
	} else {
		rec = rec.WithEnrichment(ataIdentify, ataIdentifyPacket, nvmeInfo, settled)
	}

	out := Output{Action: ev.Action, Record: rec}
	select {
	case w.out <- out:
		return
	default:
	}
	select {
	case w.out <- out:
	case <-w.stop:
	}
}

// waitForSettle polls the initialized flag, sleeping settleDelay between
// up to settleRetries attempts, proceeding regardless after the cap
// (spec.md §4.2 step 1).
func (w *Worker) waitForSettle(raw *uevent.RawDevice) bool {
	if w.enricher.Settled(raw) {
		return true
	}
	for i := 0; i < settleRetries; i++ {
		time.Sleep(settleDelay)
		if w.enricher.Settled(raw) {
			return true
		}
	}
	return false
}

// isSpurious implements the spurious-event filter of spec.md §4.2 step 2:
// a change event on a block/disk subject that carries neither a usage
// type nor any ID_TYPE property, and only carries DISK_MEDIA_CHANGE=1 or
// DISK_EJECT_REQUEST=1, is dropped unless the registry already knows the
// sysfs path. The kernel's own identity keys (DEVTYPE, MAJOR, MINOR,
// SEQNUM, DISKSEQ) do not count against "only".
func (w *Worker) isSpurious(raw *uevent.RawDevice) bool {
	if raw.Subsystem != "block" || raw.Properties["DEVTYPE"] != "disk" {
		return false
	}

	hasUsageOrType := false
	for k := range raw.Properties {
		if k == "ID_FS_USAGE" || k == "ID_TYPE" || (len(k) > len("ID_TYPE_") && k[:len("ID_TYPE_")] == "ID_TYPE_") {
			hasUsageOrType = true
			break
		}
	}
	if hasUsageOrType {
		return false
	}

	onlyMediaOrEject := false
	for k, v := range raw.Properties {
		switch k {
		case "DISK_MEDIA_CHANGE", "DISK_EJECT_REQUEST":
			if v == "1" {
				onlyMediaOrEject = true
			}
		case "DEVTYPE", "MAJOR", "MINOR", "SEQNUM", "DISKSEQ":
			// Kernel identity keys present on every block uevent.
		default:
			// Any other property present disqualifies this as "only"
			// media-change/eject-request.
			return false
		}
	}
	if !onlyMediaOrEject {
		return false
	}

	return !w.known.IsKnown(raw.SysfsPath)
}
