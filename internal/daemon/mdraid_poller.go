// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemon

import (
	"sync"
	"time"

	"github.com/storaged-project/storaged/pkg/registry"
)

// mdRaidPollInterval is spec.md §4.5's "poll its sysfs every 1 s".
const mdRaidPollInterval = time.Second

// mdRaidPoller re-reads and republishes every MDRaid Object whose
// sync_action is neither empty nor "idle", mirroring
// udiskslinuxmdraid.c's ensure_polling: a resync/recover/check/repair in
// progress needs its progress properties refreshed faster than the
// general housekeeping sweep.
type mdRaidPoller struct {
	reg *registry.Registry

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newMDRaidPoller(reg *registry.Registry) *mdRaidPoller {
	return &mdRaidPoller{reg: reg, stop: make(chan struct{}), done: make(chan struct{})}
}

// Run polls once immediately, then every mdRaidPollInterval, until Stop
// is called. Run blocks; call it on its own goroutine.
func (p *mdRaidPoller) Run() {
	defer close(p.done)

	p.pollOnce()

	ticker := time.NewTicker(mdRaidPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.pollOnce()
		case <-p.stop:
			return
		}
	}
}

// Stop requests the loop exit and waits for it to finish.
func (p *mdRaidPoller) Stop() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}

func (p *mdRaidPoller) pollOnce() {
	for _, o := range p.reg.MDRaidsPolling() {
		p.reg.RefreshMDRaid(o)
	}
}
