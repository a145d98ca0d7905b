// Copyright (c) 2026 The storaged-project Authors
//
// SPDX-License-Identifier: Apache-2.0
//

package blkdev

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// lockAttempts/lockBackoff and rereadAttempts/rereadBackoff are the
// exact retry counts and delays spec.md §5 prescribes: "preceded by up
// to 10 attempts to acquire an exclusive lock with 100 ms back-off...
// a subsequent explicit BLKRRPART is retried up to 5 times against
// EBUSY with 200 ms back-off".
const (
	lockAttempts   = 10
	lockBackoff    = 100 * time.Millisecond
	rereadAttempts = 5
	rereadBackoff  = 200 * time.Millisecond
)

// WithPartitionTableLock runs fn while holding an exclusive
// BSD-advisory lock on the whole-disk device at path, then requests a
// kernel partition-table re-read (spec.md §4.8 property 8:
// "concurrent parallel creates on the same disk serialize").
//
// The lock suppresses the kernel's own BLKRRPART re-reads for the
// duration of fn so child block objects don't bounce mid-operation
// (spec.md §5).
func WithPartitionTableLock(path string, fn func(*Device) error) error {
	dev, err := Open(path)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := acquireExclusiveWithRetry(dev); err != nil {
		return fmt.Errorf("blkdev: locking %s for partition-table edit: %w", path, err)
	}
	defer dev.Unlock()

	if err := fn(dev); err != nil {
		return err
	}

	return rereadWithRetry(dev)
}

func acquireExclusiveWithRetry(dev *Device) error {
	var lastErr error
	for attempt := 0; attempt < lockAttempts; attempt++ {
		lastErr = dev.TryLock(true)
		if lastErr == nil {
			return nil
		}
		if attempt < lockAttempts-1 {
			time.Sleep(lockBackoff)
		}
	}
	return lastErr
}

func rereadWithRetry(dev *Device) error {
	var lastErr error
	for attempt := 0; attempt < rereadAttempts; attempt++ {
		lastErr = dev.rereadPartitionTable()
		if lastErr == nil {
			return nil
		}
		if lastErr != unix.EBUSY {
			return lastErr
		}
		if attempt < rereadAttempts-1 {
			time.Sleep(rereadBackoff)
		}
	}
	return fmt.Errorf("blkdev: BLKRRPART still busy after %d attempts: %w", rereadAttempts, lastErr)
}
