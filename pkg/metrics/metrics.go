// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package metrics centralizes the daemon-wide Prometheus collectors
// that don't belong to any single subsystem's own package (compare
// pkg/housekeeping and pkg/job, which register their own): uevent
// pipeline depth/drop counters and dispatch latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storaged"

var (
	ueventQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uevent_queue_depth",
		Help:      "Pending events in the Kernel Device Source's bounded channel.",
	})

	ueventDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uevent_dropped_total",
		Help:      "Kernel uevents dropped because the bounded queue was full.",
	})

	dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of one Object Registry event dispatch.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)

func init() {
	prometheus.MustRegister(ueventQueueDepth, ueventDroppedTotal, dispatchDuration)
}

// SetUeventQueueDepth records the current backlog on the Kernel Device
// Source's channel.
func SetUeventQueueDepth(n int) { ueventQueueDepth.Set(float64(n)) }

// IncUeventDropped counts one dropped uevent.
func IncUeventDropped() { ueventDroppedTotal.Inc() }

// ObserveDispatchDuration records one Object Registry dispatch's wall
// time.
func ObserveDispatchDuration(d time.Duration) { dispatchDuration.Observe(d.Seconds()) }
