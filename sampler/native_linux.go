// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sampler // import "go.opentelemetry.io/fleet-profiler/sampler"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/elastic/go-perf"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/metrics"
	"go.opentelemetry.io/fleet-profiler/registry"
	"go.opentelemetry.io/fleet-profiler/times"
)

const (
	// maxThreadsPerProcess bounds the number of perf events opened for one process.
	maxThreadsPerProcess = 256
	// maxNativeFrequency is the highest sampling frequency requested from perf.
	maxNativeFrequency = 1000
	// recordBacklog is the capacity of the channel between ring readers and emit.
	recordBacklog = 1024
)

// nativeDriver samples threads with CPU clock perf events and kernel-unwound call
// chains.
type nativeDriver struct {
	frequency int
	limiter   *captureLimiter
}

var _ Driver = (*nativeDriver)(nil)

// newNativeDriver creates the perf_event based driver for native processes.
func newNativeDriver(cfg Config, limiter *captureLimiter) Driver {
	return &nativeDriver{
		frequency: min(cfg.Frequency, maxNativeFrequency),
		limiter:   limiter,
	}
}

func (d *nativeDriver) Kind() libpf.RuntimeKind {
	return libpf.Native
}

// threadIDs lists the threads of pid.
func threadIDs(pid libpf.PID) ([]libpf.PID, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrProcessExited
		}
		return nil, err
	}
	tids := make([]libpf.PID, 0, len(entries))
	for _, e := range entries {
		tid, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		tids = append(tids, libpf.PID(tid))
		if len(tids) == maxThreadsPerProcess {
			log.Debugf("PID %d has more than %d threads, sampling a subset",
				pid, maxThreadsPerProcess)
			break
		}
	}
	return tids, nil
}

func (d *nativeDriver) newAttr(excludeKernel bool) (*perf.Attr, error) {
	attr := new(perf.Attr)
	attr.SetSampleFreq(uint64(d.frequency))
	if err := perf.CPUClock.Configure(attr); err != nil {
		return nil, fmt.Errorf("failed to configure software perf event: %v", err)
	}
	attr.SampleFormat = perf.SampleFormat{
		Tid:       true,
		Time:      true,
		Callchain: true,
	}
	attr.Options.Disabled = true
	attr.Options.ExcludeHypervisor = true
	attr.Options.ExcludeKernel = excludeKernel
	attr.SetWakeupEvents(1)
	return attr, nil
}

// openEvents opens one perf event per thread. Kernel call chains need
// perf_event_paranoid <= 1 or CAP_PERFMON; without them the events are reopened
// for user space only.
func (d *nativeDriver) openEvents(pid libpf.PID, tids []libpf.PID) ([]*perf.Event, error) {
	attr, err := d.newAttr(false)
	if err != nil {
		return nil, err
	}

	events := make([]*perf.Event, 0, len(tids))
	for _, tid := range tids {
		event, err := perf.Open(attr, int(tid), perf.AnyCPU, nil)
		if (errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM)) && !attr.Options.ExcludeKernel {
			log.Debugf("No permission for kernel stacks of PID %d, sampling user space only", pid)
			if attr, err = d.newAttr(true); err != nil {
				closeEvents(events)
				return nil, err
			}
			event, err = perf.Open(attr, int(tid), perf.AnyCPU, nil)
		}
		if err != nil {
			if errors.Is(err, unix.ESRCH) {
				// Thread exited since listing.
				continue
			}
			closeEvents(events)
			return nil, fmt.Errorf("failed to open perf event for TID %d: %w", tid, err)
		}
		if err = event.MapRing(); err != nil {
			event.Close()
			closeEvents(events)
			return nil, fmt.Errorf("failed to map perf ring for TID %d: %w", tid, err)
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		return nil, ErrProcessExited
	}
	return events, nil
}

func closeEvents(events []*perf.Event) {
	for _, event := range events {
		if err := event.Disable(); err != nil {
			log.Debugf("Failed to disable perf event: %v", err)
		}
		if err := event.Close(); err != nil {
			log.Errorf("Failed to close perf event: %v", err)
		}
	}
}

// setup opens and maps the perf events of all threads of pid.
func (d *nativeDriver) setup(ctx context.Context, pid libpf.PID) ([]*perf.Event, error) {
	if err := d.limiter.acquire(ctx); err != nil {
		return nil, err
	}
	defer d.limiter.release()

	tids, err := threadIDs(pid)
	if err != nil {
		return nil, err
	}
	return d.openEvents(pid, tids)
}

func (d *nativeDriver) Sample(ctx context.Context, h *registry.ProcessHandle,
	duration time.Duration, emit EmitFunc) error {
	sampleCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	events, err := d.setup(sampleCtx, h.PID)
	if err != nil {
		if sampleCtx.Err() != nil {
			return nil
		}
		return err
	}
	defer closeEvents(events)

	records := make(chan *perf.SampleRecord, recordBacklog)
	var wg sync.WaitGroup
	for _, event := range events {
		if err := event.Enable(); err != nil {
			log.Debugf("Failed to enable perf event for PID %d: %v", h.PID, err)
			continue
		}
		wg.Add(1)
		go func(event *perf.Event) {
			defer wg.Done()
			readRing(sampleCtx, event, records)
		}(event)
	}
	go func() {
		wg.Wait()
		close(records)
	}()

	for rec := range records {
		frames := framesFromCallchain(rec.Callchain)
		if len(frames) == 0 {
			continue
		}
		emit(RawSample{
			PID:       h.PID,
			TID:       libpf.PID(rec.Tid),
			Timestamp: times.KTime(rec.Time).Time(),
			Frames:    frames,
		})
	}

	if _, err := os.Stat(fmt.Sprintf("/proc/%d", h.PID)); errors.Is(err, os.ErrNotExist) {
		return ErrProcessExited
	}
	return nil
}

// recordReader is the part of a perf event readRing uses.
type recordReader interface {
	ReadRecord(ctx context.Context) (perf.Record, error)
}

// readRing forwards sample records of event until ctx is done or the event can no
// longer deliver records. The latter happens when the sampled thread exited.
func readRing(ctx context.Context, event recordReader, records chan<- *perf.SampleRecord) {
	for {
		record, err := event.ReadRecord(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, perf.ErrDisabled):
				log.Debugf("Perf event disabled, thread exited")
			case errors.Is(err, perf.ErrBadRecord):
				// The record was consumed, the next one may be fine.
				log.Debugf("Failed to read perf event: %v", err)
				continue
			default:
				log.Debugf("Failed to read perf event: %v", err)
			}
			return
		}

		switch rec := record.(type) {
		case *perf.SampleRecord:
			select {
			case records <- rec:
			case <-ctx.Done():
				return
			}
		case *perf.LostRecord:
			metrics.Add(metrics.IDPerfLostRecords, metrics.MetricValue(rec.Lost))
		}
	}
}
