// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package periodiccaller allows periodic calls of functions.
package periodiccaller // import "go.opentelemetry.io/fleet-profiler/periodiccaller"

import (
	"context"
	"time"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

// Start starts a timer that calls <callback> every <interval> until the <ctx> is canceled.
func Start(ctx context.Context, interval time.Duration, callback func()) func() {
	return StartWithJitter(ctx, interval, 0, callback)
}

// StartWithJitter starts a timer that calls <callback> every <baseDuration+jitter>
// until the <ctx> is canceled. <jitter>, [0..1], is used to add +/- jitter
// to <baseDuration> at every iteration of the timer.
//
// The returned function stops the timer. The goroutine itself exits once ctx is done.
func StartWithJitter(ctx context.Context, baseDuration time.Duration, jitter float64,
	callback func()) func() {
	ticker := time.NewTicker(libpf.AddJitter(baseDuration, jitter))
	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				callback()
			case <-ctx.Done():
				return
			}
			if jitter > 0 {
				ticker.Reset(libpf.AddJitter(baseDuration, jitter))
			}
		}
	}()

	return ticker.Stop
}
