// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elastic/go-perf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

func TestThreadIDs(t *testing.T) {
	tids, err := threadIDs(libpf.PID(os.Getpid()))
	require.NoError(t, err)
	assert.Contains(t, tids, libpf.PID(os.Getpid()))

	_, err = threadIDs(libpf.PID(1 << 30))
	require.ErrorIs(t, err, ErrProcessExited)
}

func TestNativeDriverFrequency(t *testing.T) {
	d := newNativeDriver(Config{Frequency: 5000}, nil).(*nativeDriver)
	assert.Equal(t, maxNativeFrequency, d.frequency)
	assert.Equal(t, libpf.Native, d.Kind())
}

// scriptedRing replays results and then keeps failing with last.
type scriptedRing struct {
	results []error
	last    error
	calls   atomic.Int32
}

func (r *scriptedRing) ReadRecord(context.Context) (perf.Record, error) {
	n := int(r.calls.Add(1)) - 1
	if n < len(r.results) {
		if r.results[n] != nil {
			return nil, r.results[n]
		}
		return &perf.SampleRecord{Tid: 7}, nil
	}
	return nil, r.last
}

func TestReadRingStopsWhenThreadExits(t *testing.T) {
	for name, last := range map[string]error{
		"disabled": perf.ErrDisabled,
		"failure":  errors.New("bad file descriptor"),
	} {
		t.Run(name, func(t *testing.T) {
			ring := &scriptedRing{
				results: []error{nil, perf.ErrBadRecord, nil},
				last:    last,
			}
			records := make(chan *perf.SampleRecord, 4)

			done := make(chan struct{})
			go func() {
				defer close(done)
				readRing(context.Background(), ring, records)
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("readRing kept polling a dead event")
			}

			// Both samples are forwarded, the undecodable record is skipped.
			assert.Len(t, records, 2)
			assert.Equal(t, int32(4), ring.calls.Load())
		})
	}
}

func TestReadRingCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ring := &scriptedRing{last: context.Canceled}
	readRing(ctx, ring, make(chan *perf.SampleRecord))
	assert.Equal(t, int32(1), ring.calls.Load())
}

func TestNativeDriverExitedProcess(t *testing.T) {
	d := newNativeDriver(Config{Frequency: 99}, newCaptureLimiter(1))
	h := testHandle()
	h.PID = libpf.PID(1 << 30)

	start := time.Now()
	_, err := Collect(context.Background(), d, h, time.Minute)
	require.ErrorIs(t, err, ErrProcessExited)
	assert.Less(t, time.Since(start), 5*time.Second)
}
