// Package wait provides cancellable sleeps used when polling a chain lock.
package wait

import (
	"context"
	"math/rand"
	"time"
)

// Wait suspends the caller for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Random waits for a random duration in [min, max].
func Random(ctx context.Context, min, max time.Duration) error {
	return Wait(ctx, Between(min, max))
}

// Between picks a uniformly random duration in [min, max].
func Between(min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	if max == min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// Timestamp returns the current Unix time in milliseconds.
func Timestamp() int64 {
	return time.Now().UnixMilli()
}
