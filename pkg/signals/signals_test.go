// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package signals

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"reflect"
	goruntime "runtime"
	"sort"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSignalFatalSignal(t *testing.T) {
	for sig, fatal := range handledSignalsMap {
		assert.Equal(t, fatal, FatalSignal(sig))
	}
}

func TestSignalNonFatalSignal(t *testing.T) {
	for sig, fatal := range handledSignalsMap {
		assert.Equal(t, !fatal, NonFatalSignal(sig))
	}
}

func TestSignalHandledSignals(t *testing.T) {
	var expected []syscall.Signal
	for sig := range handledSignalsMap {
		expected = append(expected, sig)
	}

	got := HandledSignals()

	sort.Slice(expected, func(i, j int) bool { return int(expected[i]) < int(expected[j]) })
	sort.Slice(got, func(i, j int) bool { return int(got[i]) < int(got[j]) })

	assert.True(t, reflect.DeepEqual(expected, got))
}

func TestSignalFatalSignalInvalidSignal(t *testing.T) {
	assert.False(t, FatalSignal(syscall.SIGXCPU))
}

func TestSignalNonFatalSignalInvalidSignal(t *testing.T) {
	assert.False(t, NonFatalSignal(syscall.SIGXCPU))
}

func withCapturedLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	saved := signalLog
	t.Cleanup(func() { signalLog = saved })

	signalLog = logrus.WithFields(logrus.Fields{"test-logger": true})
	buf := &bytes.Buffer{}
	signalLog.Logger.Out = buf
	return buf
}

func TestSignalBacktrace(t *testing.T) {
	buf := withCapturedLog(t)

	pc := make([]uintptr, 1)
	goruntime.Callers(1, pc)

	Backtrace()

	b := buf.String()
	assert.True(t, strings.Contains(b, "contention:"))
	assert.True(t, strings.Contains(b, "level=error"))
}

func TestSignalHandlePanicWithoutPanicIsANoOp(t *testing.T) {
	buf := withCapturedLog(t)

	HandlePanic(nil)

	assert.Empty(t, buf.String())
}

func TestSignalHandlePanicWithErrorExits(t *testing.T) {
	if os.Getenv("CALL_EXIT") == "1" {
		signalLog = logrus.WithFields(logrus.Fields{"test-logger": true})
		defer HandlePanic(func() {})
		panic(errors.New("test-panic"))
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestSignalHandlePanicWithErrorExits")
	cmd.Env = append(os.Environ(), "CALL_EXIT=1")
	err := cmd.Run()
	require := assert.New(t)
	require.Error(err)

	exitErr, ok := err.(*exec.ExitError)
	require.True(ok)
	require.Equal(1, exitErr.ExitCode())
}

func TestHandlerDispatchesReloadSignal(t *testing.T) {
	reloaded := make(chan struct{}, 1)
	h := NewHandler(func() { reloaded <- struct{}{} }, nil, nil)

	h.dispatch(syscall.SIGHUP)

	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("SIGHUP did not invoke the reload callback")
	}
}

func TestHandlerDispatchesShutdownSignal(t *testing.T) {
	shutdown := make(chan struct{}, 1)
	h := NewHandler(nil, func() { shutdown <- struct{}{} }, nil)

	h.dispatch(syscall.SIGTERM)

	select {
	case <-shutdown:
	case <-time.After(time.Second):
		t.Fatal("SIGTERM did not invoke the shutdown callback")
	}
}

func TestHandlerIgnoresUnhandledSignal(t *testing.T) {
	reloaded := false
	h := NewHandler(func() { reloaded = true }, nil, nil)

	h.dispatch(syscall.SIGWINCH)

	assert.False(t, reloaded)
}
