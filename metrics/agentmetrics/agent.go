// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentmetrics reports resource usage of the profiler process itself.
package agentmetrics // import "go.opentelemetry.io/fleet-profiler/metrics/agentmetrics"

import (
	"context"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/fleet-profiler/metrics"
	"go.opentelemetry.io/fleet-profiler/periodiccaller"
)

// rusageTimes holds the CPU times of the previous rusage call.
type rusageTimes struct {
	utime unix.Timeval
	stime unix.Timeval
}

// timeDelta returns now - prev in milliseconds.
func timeDelta(now, prev unix.Timeval) int64 {
	return int64(now.Sec-prev.Sec)*1000 + int64(now.Usec-prev.Usec)/1000
}

func (r *rusageTimes) collect() []metrics.Metric {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	var rusage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &rusage); err != nil {
		log.Errorf("Failed to fetch Rusage: %v", err)
		return nil
	}

	deltaUtime := timeDelta(rusage.Utime, r.utime)
	deltaStime := timeDelta(rusage.Stime, r.stime)
	r.utime = rusage.Utime
	r.stime = rusage.Stime

	return []metrics.Metric{
		{ID: metrics.IDProfilerGoRoutines, Value: metrics.MetricValue(runtime.NumGoroutine())},
		{ID: metrics.IDProfilerHeapAlloc, Value: metrics.MetricValue(stats.HeapAlloc)},
		{ID: metrics.IDProfilerUTime, Value: metrics.MetricValue(deltaUtime)},
		{ID: metrics.IDProfilerSTime, Value: metrics.MetricValue(deltaStime)},
	}
}

// Start reports profiler resource usage every interval until the returned stop
// function is called or ctx is canceled.
func Start(ctx context.Context, interval time.Duration) (func(), error) {
	var rusage unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &rusage); err != nil {
		return func() {}, err
	}

	prev := rusageTimes{utime: rusage.Utime, stime: rusage.Stime}

	ctx, cancel := context.WithCancel(ctx)
	stopReporting := periodiccaller.Start(ctx, interval, func() {
		metrics.AddSlice(prev.collect())
	})

	return func() {
		cancel()
		stopReporting()
	}, nil
}
