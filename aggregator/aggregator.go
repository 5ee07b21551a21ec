// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package aggregator // import "go.opentelemetry.io/fleet-profiler/aggregator"

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/metrics"
)

// defaultBacklog is the capacity of the fragment channel.
const defaultBacklog = 4096

// Aggregator feeds fragments from any number of producers into one window through a
// single consumer goroutine.
type Aggregator struct {
	window    *Window
	fragments chan Fragment

	// mu guards sealing; Submit holds it shared while sending so that Seal can only
	// close the channel once no sender is left.
	mu      sync.RWMutex
	sealing bool

	done chan struct{}
}

// New opens a window starting at start and starts the consumer.
func New(start time.Time) *Aggregator {
	a := &Aggregator{
		window:    NewWindow(start),
		fragments: make(chan Fragment, defaultBacklog),
		done:      make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Aggregator) run() {
	defer close(a.done)
	merged := 0
	for f := range a.fragments {
		if err := a.window.Merge(f); err != nil {
			metrics.Add(metrics.IDSamplesDiscarded, metrics.MetricValue(f.Stack.Count))
			continue
		}
		merged++
	}
	metrics.Add(metrics.IDSamplesMerged, metrics.MetricValue(merged))
}

// Submit queues f for merging. It returns ErrWindowSealed once Seal was called; the
// fragment is then discarded.
func (a *Aggregator) Submit(f Fragment) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.sealing {
		metrics.Add(metrics.IDSamplesDiscarded, metrics.MetricValue(f.Stack.Count))
		return ErrWindowSealed
	}
	a.fragments <- f
	return nil
}

// Seal stops accepting fragments, merges everything accepted so far and returns the
// sealed snapshot. It is safe to call Seal more than once.
func (a *Aggregator) Seal() Snapshot {
	a.mu.Lock()
	if !a.sealing {
		a.sealing = true
		close(a.fragments)
	}
	a.mu.Unlock()

	<-a.done
	snap := a.window.Seal()
	metrics.Add(metrics.IDDistinctStacks, metrics.MetricValue(len(snap.Stacks)))
	log.Debugf("Sealed window %s: %d samples in %d stacks from %d processes",
		snap.WindowID, snap.TotalSamples, len(snap.Stacks), len(snap.Processes))
	return snap
}
