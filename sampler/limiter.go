// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sampler // import "go.opentelemetry.io/fleet-profiler/sampler"

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// captureLimiter bounds the number of captures in flight across all drivers of a Set.
// A capture is one external tool invocation or the perf setup of one process.
// Waiters are served in FIFO order, so every process gets its turn within a round.
// A nil limiter does not limit.
type captureLimiter struct {
	sem *semaphore.Weighted
}

func newCaptureLimiter(n int) *captureLimiter {
	if n <= 0 {
		return nil
	}
	return &captureLimiter{sem: semaphore.NewWeighted(int64(n))}
}

// acquire blocks until a capture may start or ctx is done.
func (l *captureLimiter) acquire(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}
	return l.sem.Acquire(ctx, 1)
}

func (l *captureLimiter) release() {
	if l != nil {
		l.sem.Release(1)
	}
}
