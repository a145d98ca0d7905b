// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package job implements the Job Registry (spec.md §4.11): a simple
// map of id to Job, exposing a published subset of each job's state
// (progress, rate, expected-end-time) and destroying jobs on
// completion.
package job

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

var inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "storaged_jobs_in_flight",
	Help: "Number of long-running operations currently tracked by the job registry.",
})

func init() {
	prometheus.MustRegister(inFlightGauge)
}

// Kind tags what a Job is doing (spec.md §3: "Job. Transient object:
// kind tag...").
type Kind string

const (
	KindFilesystemMount    Kind = "filesystem-mount"
	KindFilesystemResize   Kind = "filesystem-resize"
	KindEncryptedUnlock    Kind = "encrypted-unlock"
	KindMDRaidSync         Kind = "mdraid-sync"
	KindPartitionTableEdit Kind = "partition-table-edit"
)

// Outcome distinguishes how a job finished; cancellation is a distinct
// outcome from success/failure (spec.md §4, "Cancellation").
type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeCancelled
)

// State is the published subset of a Job's fields (spec.md §4.11:
// "Jobs expose a published subset of their state").
type State struct {
	ID              string
	Kind            Kind
	ObjectPath      string
	StartTime       time.Time
	Progress        *float64 // nil if indeterminate
	BytesPerSecond  *uint64
	ExpectedEndTime *time.Time
	Cancellable     bool
	Outcome         Outcome
}

// Job is a transient tracked operation: an owning uid, a cancel token,
// and progress/rate/ETA fields mutated under its own lock as the
// operation advances.
type Job struct {
	mu sync.Mutex

	id          string
	kind        Kind
	objectPath  string
	ownerUID    uint32
	start       time.Time
	cancellable bool

	progress  *float64
	rate      *uint64
	eta       *time.Time
	outcome   Outcome

	cancel context.CancelFunc
	ctx    context.Context
}

// State returns the current published snapshot.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return State{
		ID:              j.id,
		Kind:            j.kind,
		ObjectPath:      j.objectPath,
		StartTime:       j.start,
		Progress:        j.progress,
		BytesPerSecond:  j.rate,
		ExpectedEndTime: j.eta,
		Cancellable:     j.cancellable,
		Outcome:         j.outcome,
	}
}

// SetProgress updates progress, clamped to [0,1]. It does not touch the
// expected end time, which only SetExpectedEndTime sets.
func (j *Job) SetProgress(progress float64) {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = &progress
}

// SetRate updates the observed byte rate.
func (j *Job) SetRate(bytesPerSecond uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.rate = &bytesPerSecond
}

// SetExpectedEndTime updates the estimated completion time.
func (j *Job) SetExpectedEndTime(t time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.eta = &t
}

// Context returns the cancel token propagated to sub-tasks (spec.md
// §4: "Operations accept a cancel token propagated to sub-tasks").
func (j *Job) Context() context.Context { return j.ctx }

// Cancel requests cancellation. It is a no-op if the job was not
// created cancellable (spec.md §4.11: "not cancellable unless
// explicitly marked; MDRaid sync jobs are explicitly not cancellable").
func (j *Job) Cancel() bool {
	j.mu.Lock()
	cancellable := j.cancellable
	j.mu.Unlock()
	if !cancellable {
		return false
	}
	j.cancel()
	return true
}

// OwnerUID returns the uid of the caller who started the job.
func (j *Job) OwnerUID() uint32 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ownerUID
}

// Registry is the id-to-Job map (spec.md §4.11: "A simple map of id →
// Job").
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job

	onPublish func(*Job)
	onRetire  func(*Job)
}

// Option configures optional Registry collaborators.
type Option func(*Registry)

// WithPublishHook registers a callback invoked when a new Job is
// started, before Start returns — the seam a bus layer uses to export
// a Job object.
func WithPublishHook(fn func(*Job)) Option { return func(r *Registry) { r.onPublish = fn } }

// WithRetireHook registers a callback invoked when a Job is finished
// and about to be dropped from the registry — the seam a bus layer
// uses to unexport a Job object.
func WithRetireHook(fn func(*Job)) Option { return func(r *Registry) { r.onRetire = fn } }

// NewRegistry constructs an empty Job Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{jobs: make(map[string]*Job)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start creates and registers a new Job, cancellable per the cancellable
// flag, rooted at objectPath (the Drive/Block/MDRaid object the
// operation is performed against). MDRaid sync jobs pass
// cancellable=false, matching spec.md §4.11's explicit rule.
func (r *Registry) Start(kind Kind, objectPath string, ownerUID uint32, cancellable bool) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		id:          uuid.NewString(),
		kind:        kind,
		objectPath:  objectPath,
		ownerUID:    ownerUID,
		start:       time.Now(),
		cancellable: cancellable,
		outcome:     OutcomeRunning,
		ctx:         ctx,
		cancel:      cancel,
	}

	r.mu.Lock()
	r.jobs[j.id] = j
	r.mu.Unlock()

	inFlightGauge.Inc()

	if r.onPublish != nil {
		r.onPublish(j)
	}
	return j
}

// Finish records outcome and removes the Job from the registry (spec.md
// §4.11: "destroyed on completion").
func (r *Registry) Finish(j *Job, outcome Outcome) {
	j.mu.Lock()
	j.outcome = outcome
	j.mu.Unlock()

	r.mu.Lock()
	_, tracked := r.jobs[j.id]
	delete(r.jobs, j.id)
	r.mu.Unlock()

	if !tracked {
		return
	}

	inFlightGauge.Dec()
	if r.onRetire != nil {
		r.onRetire(j)
	}
}

// Get returns the Job for id, or nil if unknown (already finished or
// never existed).
func (r *Registry) Get(id string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

// List returns every currently in-flight Job.
func (r *Registry) List() []*Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}
