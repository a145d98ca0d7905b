// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package daemon

import "github.com/storaged-project/storaged/pkg/driveobj"

// initialHousekeeper runs a Drive's first housekeeping pass on its own
// goroutine, satisfying driveobj.InitialHousekeeper without blocking the
// dispatch path that discovered it (spec.md §4.4 point 2: "Scheduled
// side effect (not on cold-plug)").
type initialHousekeeper struct{}

func (initialHousekeeper) ScheduleInitial(drive *driveobj.Object) {
	go func() {
		if err := drive.Housekeeping(0); err != nil {
			log.WithError(err).WithField("object-path", drive.ObjectPath).Info("initial housekeeping pass reported an error")
		}
	}()
}
