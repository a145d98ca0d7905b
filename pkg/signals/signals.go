// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package signals adapts the daemon to process signals (SPEC_FULL.md
// §4.12): fatal signals produce a backtrace and terminate the process;
// SIGHUP requests a liveness-only reload (re-evaluate and re-apply
// persisted drive configuration, spec.md's own description of the
// reconfigure action) without restarting; SIGTERM/SIGINT request a
// clean shutdown.
package signals

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

var signalLog = logrus.WithField("subsystem", "signals")

// CrashOnError causes a coredump to be produced when a fatal signal is
// received, instead of a plain process exit.
var CrashOnError = false

// SetLogger rebinds the package logger.
func SetLogger(logger *logrus.Entry) {
	signalLog = logger
}

// DieCb runs as the first step of Die, giving the caller a chance to
// flush the State Journal or release advisory locks before the
// process backtraces and exits.
type DieCb func()

// HandlePanic recovers a panic, logs it, and calls Die.
func HandlePanic(dieCb DieCb) {
	r := recover()
	if r == nil {
		return
	}
	signalLog.WithField("panic", fmt.Sprintf("%s", r)).Error("fatal error")
	Die(dieCb)
}

// Backtrace writes a full multi-goroutine stack trace to the logger.
func Backtrace() {
	buf := &bytes.Buffer{}
	for _, p := range pprof.Profiles() {
		pprof.Lookup(p.Name()).WriteTo(buf, 2) //nolint:errcheck
	}
	for _, line := range strings.Split(buf.String(), "\n") {
		signalLog.Error(line)
	}
}

// FatalSignal reports whether sig should terminate the process.
func FatalSignal(sig syscall.Signal) bool {
	fatal, exists := handledSignalsMap[sig]
	return exists && fatal
}

// NonFatalSignal reports whether sig should just produce a backtrace.
func NonFatalSignal(sig syscall.Signal) bool {
	fatal, exists := handledSignalsMap[sig]
	return exists && !fatal
}

// HandledSignals lists every crash/backtrace signal this package
// watches.
func HandledSignals() []syscall.Signal {
	sigs := make([]syscall.Signal, 0, len(handledSignalsMap))
	for sig := range handledSignalsMap {
		sigs = append(sigs, sig)
	}
	return sigs
}

// Die produces a backtrace and terminates the process, optionally via
// SIGABRT so a coredump is produced.
func Die(dieCb DieCb) {
	if dieCb != nil {
		dieCb()
	}
	Backtrace()
	if CrashOnError {
		signal.Reset(syscall.SIGABRT)
		syscall.Kill(0, syscall.SIGABRT) //nolint:errcheck
	}
	os.Exit(1)
}

// Handler wires up a single goroutine that classifies every incoming
// signal and dispatches it to the matching callback. Any of the
// callbacks may be nil.
type Handler struct {
	onReload   func()
	onShutdown func()
	dieCb      DieCb
	sigCh      chan os.Signal
	done       chan struct{}
}

// NewHandler constructs a signal Handler. onReload fires on SIGHUP,
// onShutdown on SIGTERM/SIGINT; fatal signals call Die(dieCb); the
// remaining handled-but-non-fatal signals (e.g. SIGUSR1) just produce
// a backtrace.
func NewHandler(onReload, onShutdown func(), dieCb DieCb) *Handler {
	return &Handler{
		onReload:   onReload,
		onShutdown: onShutdown,
		dieCb:      dieCb,
		sigCh:      make(chan os.Signal, 8),
		done:       make(chan struct{}),
	}
}

// Start begins watching every signal this package knows about
// (handled crash/backtrace signals, plus SIGHUP/SIGTERM/SIGINT).
func (h *Handler) Start() {
	for _, sig := range HandledSignals() {
		signal.Notify(h.sigCh, sig)
	}
	signal.Notify(h.sigCh, reloadSignal, shutdownSignals[0], shutdownSignals[1])

	go h.loop()
}

// Stop releases the signal handler goroutine.
func (h *Handler) Stop() {
	signal.Stop(h.sigCh)
	close(h.done)
}

func (h *Handler) loop() {
	for {
		select {
		case <-h.done:
			return
		case sig := <-h.sigCh:
			h.dispatch(sig)
		}
	}
}

func (h *Handler) dispatch(sig os.Signal) {
	native, ok := sig.(syscall.Signal)
	if !ok {
		signalLog.WithField("signal", sig.String()).Warn("received unconvertible signal")
		return
	}

	switch {
	case native == reloadSignal:
		signalLog.Info("received reload signal, requesting reconfigure sweep")
		if h.onReload != nil {
			h.onReload()
		}
	case native == shutdownSignals[0] || native == shutdownSignals[1]:
		signalLog.WithField("signal", native).Info("received shutdown signal")
		if h.onShutdown != nil {
			h.onShutdown()
		}
	case FatalSignal(native):
		signalLog.WithField("signal", native).Error("received fatal signal")
		Die(h.dieCb)
	case NonFatalSignal(native):
		signalLog.WithField("signal", native).Debug("received non-fatal signal")
		Backtrace()
	}
}
