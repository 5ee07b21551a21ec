// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package times bundles the intervals and timeouts used across the profiler and
// converts monotonic kernel timestamps to wall clock time.
package times // import "go.opentelemetry.io/fleet-profiler/times"

import (
	"context"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/fleet-profiler/periodiccaller"
)

const (
	// Number of timing samples to use when retrieving system boot time.
	sampleSize = 5
	// DefaultPIDCleanupInterval is the interval of the registry liveness sweep.
	DefaultPIDCleanupInterval = 30 * time.Second
	// DefaultToolTimeout bounds a single invocation of an external stack dump tool.
	DefaultToolTimeout = 5 * time.Second
	// DefaultUploadTimeout bounds a single delivery of a payload to a sink.
	DefaultUploadTimeout = 30 * time.Second
	// DefaultMonitorInterval is the interval for collecting profiler self metrics.
	DefaultMonitorInterval = 5 * time.Second
)

// Compile time check for interface adherence
var _ IntervalsAndTimers = (*Times)(nil)

var (
	// Monotonic-to-unixtime delta that can be added to a monotonic (CLOCK_MONOTONIC)
	// timestamp to convert it to time-since-epoch.
	bootTimeUnixNano atomic.Int64
)

// Times hold all the intervals and timeouts that are used across the profiler in a
// central place and comes with Getters to read them.
type Times struct {
	samplingDuration   time.Duration
	roundTimeout       time.Duration
	reportInterval     time.Duration
	pidCleanupInterval time.Duration
	toolTimeout        time.Duration
	uploadTimeout      time.Duration
	monitorInterval    time.Duration
}

// IntervalsAndTimers is a meta-interface that exists purely to document its functionality.
type IntervalsAndTimers interface {
	// SamplingDuration is how long each driver samples a process in one round.
	SamplingDuration() time.Duration
	// RoundTimeout is the hard deadline after which a round's window is force-sealed.
	RoundTimeout() time.Duration
	// ReportInterval defines the interval at which queued payloads are sent to the sink.
	ReportInterval() time.Duration
	// PIDCleanupInterval defines the interval at which tracked PIDs are checked for
	// liveness, and no longer living PIDs are cleaned up.
	PIDCleanupInterval() time.Duration
	// ToolTimeout bounds one invocation of an external stack dump tool.
	ToolTimeout() time.Duration
	// UploadTimeout bounds a single payload delivery.
	UploadTimeout() time.Duration
	// MonitorInterval defines the interval for profiler self metric collection.
	MonitorInterval() time.Duration
}

func (t *Times) SamplingDuration() time.Duration { return t.samplingDuration }

func (t *Times) RoundTimeout() time.Duration { return t.roundTimeout }

func (t *Times) ReportInterval() time.Duration { return t.reportInterval }

func (t *Times) PIDCleanupInterval() time.Duration { return t.pidCleanupInterval }

func (t *Times) ToolTimeout() time.Duration { return t.toolTimeout }

func (t *Times) UploadTimeout() time.Duration { return t.uploadTimeout }

func (t *Times) MonitorInterval() time.Duration { return t.monitorInterval }

// New returns a new Times instance. A zero roundTimeout defaults to twice the
// sampling duration.
func New(samplingDuration, roundTimeout, reportInterval time.Duration) *Times {
	if roundTimeout <= 0 {
		roundTimeout = 2 * samplingDuration
	}
	toolTimeout := DefaultToolTimeout
	if toolTimeout > roundTimeout {
		toolTimeout = roundTimeout
	}
	return &Times{
		samplingDuration:   samplingDuration,
		roundTimeout:       roundTimeout,
		reportInterval:     reportInterval,
		pidCleanupInterval: DefaultPIDCleanupInterval,
		toolTimeout:        toolTimeout,
		uploadTimeout:      DefaultUploadTimeout,
		monitorInterval:    DefaultMonitorInterval,
	}
}

// StartRealtimeSync calculates a delta between the monotonic clock
// (CLOCK_MONOTONIC, rebased to unixtime) and the realtime clock. If syncInterval is
// greater than zero, it also starts a goroutine to perform that calculation periodically.
func StartRealtimeSync(ctx context.Context, syncInterval time.Duration) {
	bootTimeUnixNano.Store(getBootTimeUnixNano())

	if syncInterval > 0 {
		periodiccaller.Start(ctx, syncInterval, func() {
			bootTimeUnixNano.Store(getBootTimeUnixNano())
		})
	}
}

// getBootTimeUnixNano returns system boot time in nanoseconds since the
// epoch, temporarily locking the calling goroutine to its OS thread.
func getBootTimeUnixNano() int64 {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	type measurement struct {
		t1    time.Time
		ktime int64
		t2    time.Time
	}
	samples := make([]measurement, sampleSize)

	for i := range samples {
		// Several measurements, the one with the smallest delta is least affected
		// by scheduling noise.
		samples[i].t1 = time.Now()
		samples[i].ktime = int64(GetKTime())
		samples[i].t2 = time.Now()
	}

	best := slices.MinFunc(samples, func(a, b measurement) int {
		da, db := a.t2.Sub(a.t1).Abs(), b.t2.Sub(b.t1).Abs()
		switch {
		case da < db:
			return -1
		case da > db:
			return 1
		}
		return 0
	})

	return best.t1.UnixNano() - best.ktime
}
