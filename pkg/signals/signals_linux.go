// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package signals

import "syscall"

// handledSignalsMap lists crash/backtrace signals; true means fatal
// (produce a backtrace and exit), false means non-fatal (backtrace
// only, keep running).
var handledSignalsMap = map[syscall.Signal]bool{
	syscall.SIGABRT:   true,
	syscall.SIGBUS:    true,
	syscall.SIGILL:    true,
	syscall.SIGQUIT:   true,
	syscall.SIGSEGV:   true,
	syscall.SIGSTKFLT: true,
	syscall.SIGSYS:    true,
	syscall.SIGTRAP:   true,
	syscall.SIGUSR1:   false,
}

// reloadSignal requests a reconfigure sweep, not a crash backtrace
// (spec.md: "reconfigure" action injected "when configuration files
// change or the system resumes from sleep" — SIGHUP is the operator's
// equivalent trigger, per SPEC_FULL.md §4.12).
const reloadSignal = syscall.SIGHUP

// shutdownSignals request a clean daemon shutdown.
var shutdownSignals = [2]syscall.Signal{syscall.SIGTERM, syscall.SIGINT}
