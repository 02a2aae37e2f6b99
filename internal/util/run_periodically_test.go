package util_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hercules-io/hercules/internal/util"
	"github.com/stretchr/testify/assert"
)

func TestRunPeriodically(t *testing.T) {
	// Crudely check that this runs a bunch of times when running every millisecond
	// within 100 milliseconds
	count := 0
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
	defer cancel()
	util.RunPeriodically(ctx, time.Millisecond, func() {
		count++
	})
	assert.Greater(t, count, 2)

	// Make sure this only runs once
	count = 0
	ctx, cancel = context.WithTimeout(context.Background(), time.Millisecond*150)
	defer cancel()
	util.RunPeriodically(ctx, time.Millisecond*100, func() { count++ })
	assert.Equal(t, 1, count)
}

func TestRunPeriodicallyWithTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
	defer cancel()

	calls := 0
	util.RunPeriodicallyWithTimeout(ctx, time.Millisecond*10, time.Millisecond*5, func(ctx context.Context) {
		calls++
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.LessOrEqual(t, time.Until(deadline), time.Millisecond*5)

		// a call that outlives its timeout is cut off
		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	})
	assert.Greater(t, calls, 1)
}

func TestGoWithWaitGroup(t *testing.T) {
	// Verify you can use a nil WaitGroup
	util.GoWithWaitGroup(nil, func() {})

	counter := atomic.Int32{}
	wg := &sync.WaitGroup{}
	for i := 0; i < 10; i++ {
		util.GoWithWaitGroup(wg, func() {
			time.Sleep(50 * time.Millisecond)
			counter.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(10), counter.Load())
}
