package util

import (
	"context"
	"sync"
	"time"
)

// RunPeriodically calls fn every duration until ctx is done.
func RunPeriodically(ctx context.Context, duration time.Duration, fn func()) {
	ticker := time.NewTicker(duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// RunPeriodicallyWithTimeout is RunPeriodically for fn taking a context, each call is
// bounded by timeout.
func RunPeriodicallyWithTimeout(ctx context.Context, duration, timeout time.Duration, fn func(ctx context.Context)) {
	RunPeriodically(ctx, duration, func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		fn(ctx)
	})
}

// GoWithWaitGroup runs fn in a goroutine with an optional *sync.WaitGroup to
// track when fn finishes executing.
func GoWithWaitGroup(wg *sync.WaitGroup, fn func()) {
	if wg != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	} else {
		go fn()
	}
}

// IgnoreError call the passed fn and ignore the errors it returns.  Example `defer util.IgnoreError(file.Close)`
func IgnoreError(fn func() error) {
	_ = fn()
}
