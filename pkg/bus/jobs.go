// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package bus

import (
	"github.com/godbus/dbus/v5"

	"github.com/storaged-project/storaged/pkg/job"
)

// JobPath derives a Job's object path under the Bus Manager's root
// (spec.md §4.11's jobs are exported transiently alongside the
// Drive/Block objects they operate on).
func JobPath(rootPath dbus.ObjectPath, id string) dbus.ObjectPath {
	return rootPath + "/jobs/" + dbus.ObjectPath(id)
}

// JobPublished satisfies job.WithPublishHook: export a Job the moment
// it starts.
func (m *Manager) JobPublished(j *job.Job) {
	m.export(JobPath(m.rootPath, j.State().ID), IfaceJob, jobProperties(j.State()))
}

// JobRetired satisfies job.WithRetireHook: unexport a Job the moment
// it finishes.
func (m *Manager) JobRetired(j *job.Job) {
	m.unexport(JobPath(m.rootPath, j.State().ID))
}

func jobProperties(s job.State) map[string]interface{} {
	props := map[string]interface{}{
		"Kind":        string(s.Kind),
		"ObjectPath":  s.ObjectPath,
		"Cancellable": s.Cancellable,
		"Outcome":     int32(s.Outcome),
	}
	if s.Progress != nil {
		props["Progress"] = *s.Progress
	}
	if s.BytesPerSecond != nil {
		props["Rate"] = *s.BytesPerSecond
	}
	if s.ExpectedEndTime != nil {
		props["ExpectedEndTime"] = s.ExpectedEndTime.Unix()
	}
	return props
}
