package utils

import (
	"context"
	"time"
)

// Pause waits for interval or until ctx is cancelled, whichever comes first.
// Batch jobs use it between platform calls so a cancelled command stops
// without sleeping through the remaining interval.
func Pause(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
