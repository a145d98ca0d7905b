// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//
// Package uevent implements the Kernel Device Source: a dedicated
// goroutine subscribed to kernel hot-plug notifications for the block,
// scsi, nvme and iscsi subsystems (spec.md §4.1).
package uevent

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/storaged-project/storaged/pkg/metrics"
)

var log = logrus.WithField("subsystem", "uevent")

// SetLogger rebinds the package logger, following the teacher's
// SetLogger(*logrus.Entry) convention used throughout its subsystems.
func SetLogger(logger *logrus.Entry) {
	fields := log.Data
	log = logger.WithFields(fields)
}

// watchedSubsystems is the filter from spec.md §4.1.
var watchedSubsystems = map[string]bool{
	"block":            true,
	"scsi":             true,
	"nvme":             true,
	"iscsi_connection": true,
}

// socket is the minimal surface the Source needs from a netlink socket,
// so tests can substitute an in-memory implementation instead of
// binding NETLINK_KOBJECT_UEVENT (which requires root).
type socket interface {
	ReadMsg() ([]byte, error)
	Close() error
}

// Source owns a netlink socket and its own event loop, emitting events
// onto a bounded channel so a flood of kernel notifications cannot grow
// memory without bound; it never blocks on the main loop.
type Source struct {
	sock   socket
	events chan Event

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// NewSource binds a raw AF_NETLINK/NETLINK_KOBJECT_UEVENT socket. Queue
// size bounds the backlog the main pipeline may lag behind by before the
// source starts dropping the oldest pending notification.
func NewSource(queueSize int) (*Source, error) {
	sock, err := newKobjectUeventSocket()
	if err != nil {
		return nil, err
	}
	return newSourceWithSocket(sock, queueSize), nil
}

func newSourceWithSocket(sock socket, queueSize int) *Source {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Source{
		sock:   sock,
		events: make(chan Event, queueSize),
	}
}

// Events returns the channel the probe worker drains.
func (s *Source) Events() <-chan Event {
	return s.events
}

// Run starts the read loop; it blocks until ctx is cancelled or the
// socket errors out. Run is meant to be called from its own goroutine,
// matching spec.md's "runs on its own thread with its own event loop".
func (s *Source) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.sock.Close()
		close(done)
	}()

	for {
		msg, err := s.sock.ReadMsg()
		if err != nil {
			select {
			case <-ctx.Done():
				<-done
				return nil
			default:
				return err
			}
		}

		raw, action, ok := parseUevent(msg)
		if !ok {
			continue
		}
		if !watchedSubsystems[raw.Subsystem] {
			continue
		}

		select {
		case s.events <- Event{Action: action, Raw: raw}:
		default:
			log.WithField("sysfs-path", raw.SysfsPath).Warn("uevent queue full, dropping oldest notification")
			metrics.IncUeventDropped()
			select {
			case <-s.events:
			default:
			}
			select {
			case s.events <- Event{Action: action, Raw: raw}:
			default:
			}
		}
		metrics.SetUeventQueueDepth(len(s.events))
	}
}

// InjectReconfigure posts a synthetic reconfigure action for sysfsPath,
// used when configuration files change or the system resumes from
// sleep (spec.md §4.1).
func (s *Source) InjectReconfigure(sysfsPath string, raw *RawDevice) {
	if raw == nil {
		raw = &RawDevice{SysfsPath: sysfsPath}
	}
	select {
	case s.events <- Event{Action: ActionReconfigure, Raw: raw}:
	default:
		log.WithField("sysfs-path", sysfsPath).Warn("dropping reconfigure event, queue full")
		metrics.IncUeventDropped()
	}
	metrics.SetUeventQueueDepth(len(s.events))
}

// Stop cancels the read loop and releases the socket.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
}

// parseUevent decodes a NETLINK_KOBJECT_UEVENT datagram. The wire format
// is a "<header>\0KEY=VALUE\0KEY=VALUE\0..." sequence; the header is
// either "libudev" (with a binary prefix we don't need) or a kernel
// line of the form "add@/devices/...". We only rely on the KEY=VALUE
// tail, which both forms carry identically.
func parseUevent(msg []byte) (*RawDevice, Action, bool) {
	parts := strings.Split(string(msg), "\x00")
	if len(parts) == 0 {
		return nil, "", false
	}

	raw := &RawDevice{Properties: map[string]string{}}
	var action Action
	sawAction := false

	for _, p := range parts {
		if p == "" {
			continue
		}
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			// Likely the leading "add@/devices/..." kernel header line;
			// skip, we derive everything we need from ACTION/DEVPATH.
			continue
		}
		switch k {
		case "ACTION":
			action = normalizeAction(v)
			sawAction = true
		case "DEVPATH":
			raw.DevPath = v
			raw.SysfsPath = "/sys" + v
		case "SUBSYSTEM":
			raw.Subsystem = v
		case "DEVNAME":
			raw.DeviceName = v
		default:
			raw.Properties[k] = v
		}
	}

	if !sawAction || raw.SysfsPath == "" {
		return nil, "", false
	}
	if raw.DeviceName == "" {
		raw.DeviceName = lastPathElement(raw.SysfsPath)
	}
	return raw, action, true
}

func normalizeAction(v string) Action {
	switch v {
	case "add", "change", "remove", "move", "online", "offline":
		return Action(v)
	default:
		return ActionOther
	}
}

func lastPathElement(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return p
	}
	return p[i+1:]
}

// newKobjectUeventSocket binds a raw netlink socket to the kernel's
// kobject uevent multicast group, following the same direct
// golang.org/x/sys/unix use the teacher applies to low-level device
// ioctls elsewhere in the device subsystem.
func newKobjectUeventSocket() (socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &netlinkSocket{fd: fd}, nil
}

type netlinkSocket struct {
	fd int
}

func (n *netlinkSocket) ReadMsg() ([]byte, error) {
	buf := make([]byte, 64*1024)
	nRead, _, err := unix.Recvfrom(n.fd, buf, 0)
	if err != nil {
		return nil, err
	}
	return buf[:nRead], nil
}

func (n *netlinkSocket) Close() error {
	return unix.Close(n.fd)
}
