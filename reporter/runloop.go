// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

// runLoop drives the periodic flushing of a reporter.
type runLoop struct {
	// stopSignal is the stop signal for shutting down all background tasks.
	stopSignal chan libpf.Void
	stopOnce   sync.Once
	// done is closed when the loop goroutine exited.
	done chan libpf.Void
}

func newRunLoop() *runLoop {
	return &runLoop{
		stopSignal: make(chan libpf.Void),
		done:       make(chan libpf.Void),
	}
}

// Start calls run every reportInterval +/- jitter and housekeeping every
// housekeepingInterval until ctx is done or Stop is called.
func (rl *runLoop) Start(ctx context.Context, reportInterval time.Duration, jitter float64,
	housekeepingInterval time.Duration, run, housekeeping func()) {
	go func() {
		defer close(rl.done)
		tick := time.NewTicker(reportInterval)
		defer tick.Stop()
		housekeepingTick := time.NewTicker(housekeepingInterval)
		defer housekeepingTick.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-rl.stopSignal:
				return
			case <-tick.C:
				run()
				tick.Reset(libpf.AddJitter(reportInterval, jitter))
			case <-housekeepingTick.C:
				housekeeping()
			}
		}
	}()
}

// Stop terminates the loop and waits for a running iteration to finish.
func (rl *runLoop) Stop() {
	rl.stopOnce.Do(func() {
		close(rl.stopSignal)
	})
	<-rl.done
}
