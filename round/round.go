// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package round runs profiling rounds: every tracked process is sampled by the
// driver of its runtime, samples are collapsed as they arrive and merged into the
// round's aggregation window, which is sealed when all drivers finished or the round
// timeout expired, whichever comes first.
package round // import "go.opentelemetry.io/fleet-profiler/round"

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/fleet-profiler/aggregator"
	"go.opentelemetry.io/fleet-profiler/collapse"
	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/metrics"
	"go.opentelemetry.io/fleet-profiler/registry"
	"go.opentelemetry.io/fleet-profiler/sampler"
)

// Registry is the part of the process registry a round needs.
type Registry interface {
	Refresh(ctx context.Context) error
	Handles() []*registry.ProcessHandle
	MarkForUntrack(pid libpf.PID)
}

// Drivers selects the sampler driver of a process.
type Drivers interface {
	For(h *registry.ProcessHandle) (sampler.Driver, bool)
}

// Collapser turns raw samples into folded stacks.
type Collapser interface {
	Collapse(h *registry.ProcessHandle, s sampler.RawSample) (collapse.FoldedStack, error)
}

type Config struct {
	Registry  Registry
	Drivers   Drivers
	Collapser Collapser
	// SamplingDuration is how long every process is sampled.
	SamplingDuration time.Duration
	// Timeout is the hard deadline of a round, at least SamplingDuration.
	Timeout time.Duration
}

// Coordinator runs rounds.
type Coordinator struct {
	cfg Config
}

// New validates cfg and returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Registry == nil || cfg.Drivers == nil || cfg.Collapser == nil {
		return nil, errors.New("registry, drivers and collapser are required")
	}
	if cfg.SamplingDuration <= 0 {
		return nil, fmt.Errorf("invalid sampling duration %v", cfg.SamplingDuration)
	}
	if cfg.Timeout < cfg.SamplingDuration {
		return nil, fmt.Errorf("round timeout %v is shorter than the sampling duration %v",
			cfg.Timeout, cfg.SamplingDuration)
	}
	return &Coordinator{cfg: cfg}, nil
}

// Run executes one round and returns the sealed window. Failures of individual
// processes are logged and never fail the round. If the round timeout expires,
// samples still in flight are discarded and the snapshot is marked partial.
func (c *Coordinator) Run(ctx context.Context) aggregator.Snapshot {
	start := time.Now()
	if err := c.cfg.Registry.Refresh(ctx); err != nil {
		log.Warnf("Failed to refresh tracked processes: %v", err)
	}
	handles := c.cfg.Registry.Handles()

	agg := aggregator.New(start)
	roundCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	// Every tracked process gets its own task for the whole round. Drivers bound
	// the expensive parts of sampling themselves.
	var g errgroup.Group
	scheduled := 0
	for _, h := range handles {
		driver, ok := c.cfg.Drivers.For(h)
		if !ok {
			log.Debugf("No sampler for %v", h)
			continue
		}
		scheduled++
		g.Go(func() error {
			c.sample(roundCtx, driver, h, agg)
			return nil
		})
	}

	done := make(chan libpf.Void)
	go func() {
		_ = g.Wait()
		close(done)
	}()

	partial := false
	select {
	case <-done:
	case <-roundCtx.Done():
		partial = true
		if ctx.Err() == nil {
			metrics.Add(metrics.IDRoundsTimedOut, 1)
			log.Warnf("Round timed out after %v, sealing partial window", c.cfg.Timeout)
		}
	}

	snap := agg.Seal()
	snap.Partial = partial
	metrics.Add(metrics.IDRoundsCompleted, 1)
	log.Infof("Round completed in %v: %d of %d processes sampled, %d samples, "+
		"%d distinct stacks", time.Since(start).Round(time.Millisecond), scheduled,
		len(handles), snap.TotalSamples, len(snap.Stacks))
	return snap
}

// sample runs driver on h and feeds the samples into agg.
func (c *Coordinator) sample(ctx context.Context, driver sampler.Driver,
	h *registry.ProcessHandle, agg *aggregator.Aggregator) {
	captured := 0
	err := driver.Sample(ctx, h, c.cfg.SamplingDuration, func(s sampler.RawSample) {
		captured++
		stack, err := c.cfg.Collapser.Collapse(h, s)
		if err != nil {
			log.Debugf("Failed to collapse sample of %v: %v", h, err)
			return
		}
		// A sealed window rejects the fragment; it is counted as discarded.
		_ = agg.Submit(aggregator.Fragment{Handle: h, Stack: stack})
	})
	sampler.CountResult(captured, err)

	switch {
	case err == nil:
	case errors.Is(err, sampler.ErrProcessExited):
		log.Debugf("%v exited during sampling", h)
		c.cfg.Registry.MarkForUntrack(h.PID)
	case errors.Is(err, sampler.ErrAttach):
		log.Infof("Skipping %v this round: %v", h, err)
	default:
		log.Warnf("Sampling %v failed: %v", h, err)
	}
}
