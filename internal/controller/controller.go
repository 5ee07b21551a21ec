// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/fleet-profiler/internal/controller"

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/collapse"
	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/metrics/agentmetrics"
	"go.opentelemetry.io/fleet-profiler/proc"
	"go.opentelemetry.io/fleet-profiler/registry"
	"go.opentelemetry.io/fleet-profiler/reporter"
	"go.opentelemetry.io/fleet-profiler/round"
	"go.opentelemetry.io/fleet-profiler/sampler"
	"go.opentelemetry.io/fleet-profiler/times"
	"go.opentelemetry.io/fleet-profiler/vc"
)

// shutdownGracePeriod bounds the wait for a running round on shutdown.
const shutdownGracePeriod = 5 * time.Second

// Controller is an instance that runs, manages and stops the profiler.
type Controller struct {
	config   *Config
	reporter *reporter.Reporter

	stopFuncs []func()
	started   bool
	done      chan libpf.Void
}

// New creates a new controller
// There should only ever be one running, as the profiled processes and the
// output are shared between all instances.
func New(cfg *Config) *Controller {
	return &Controller{
		config: cfg,
		done:   make(chan libpf.Void),
	}
}

// Start wires the registry, the samplers and the output and starts running
// rounds in the background. Done is closed once the configured number of rounds
// completed or ctx is canceled.
// The controller should only be started once.
func (c *Controller) Start(ctx context.Context) error {
	if c.config == nil {
		return errors.New("no configuration provided")
	}
	if err := c.config.Validate(); err != nil {
		return NewErrorWithExitCode(err, ExitParseError)
	}

	intervals := times.New(c.config.Duration, c.config.RoundTimeout, c.config.ReportInterval)

	// Start periodic synchronization with the realtime clock
	times.StartRealtimeSync(ctx, c.config.ClockSyncInterval)

	runtimes, err := libpf.ParseRuntimes(c.config.Runtimes)
	if err != nil {
		return fmt.Errorf("failed to parse the included runtimes: %w", err)
	}
	pids, err := parsePIDs(c.config.PIDs)
	if err != nil {
		return err
	}

	size, err := hostSizing()
	if err != nil {
		return err
	}

	reg, err := registry.New(registry.Config{
		PIDs:         pids,
		ContainerIDs: splitList(c.config.Containers),
		Runtimes:     runtimes,
		IncludeSelf:  c.config.IncludeSelf,
	})
	if err != nil {
		return fmt.Errorf("failed to create process registry: %w", err)
	}

	drivers, err := sampler.NewSet(sampler.Config{
		Frequency:             c.config.Frequency,
		ToolTimeout:           intervals.ToolTimeout(),
		PySpyPath:             c.config.PySpyPath,
		RbspyPath:             c.config.RbspyPath,
		JattachPath:           c.config.JattachPath,
		PythonNative:          c.config.PythonNative,
		MaxConcurrentCaptures: size.concurrency,
		IsPIDLive:             proc.IsPIDLive,
	}, runtimes)
	if err != nil {
		return fmt.Errorf("failed to create samplers: %w", err)
	}

	collapser, err := collapse.New(collapse.Config{
		IncludeComm:      c.config.IncludeComm,
		ProcessCacheSize: size.processCacheSize,
		FileCacheSize:    size.fileCacheSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create stack collapser: %w", err)
	}
	reg.OnUntrack(collapser.Invalidate)

	coordinator, err := round.New(round.Config{
		Registry:         reg,
		Drivers:          drivers,
		Collapser:        collapser,
		SamplingDuration: intervals.SamplingDuration(),
		Timeout:          intervals.RoundTimeout(),
	})
	if err != nil {
		return err
	}

	if err = c.startReporter(ctx, intervals); err != nil {
		return fmt.Errorf("failed to start reporter: %w", err)
	}

	c.stopFuncs = append(c.stopFuncs,
		reg.StartMonitor(ctx, intervals.PIDCleanupInterval()))

	// Start profiler specific metric retrieval.
	stopMetrics, err := agentmetrics.Start(ctx, intervals.MonitorInterval())
	if err != nil {
		log.Warnf("Failed to start profiler metrics: %v", err)
	}
	c.stopFuncs = append(c.stopFuncs, stopMetrics)

	log.Infof("Profiling %v every %v at %d Hz (round timeout %v)",
		runtimes, intervals.SamplingDuration(), c.config.Frequency, intervals.RoundTimeout())

	c.started = true
	go c.runRounds(ctx, coordinator)
	return nil
}

// startReporter sets up the reporter on the controller.
func (c *Controller) startReporter(ctx context.Context, intervals *times.Times) error {
	sink, err := c.newSink(ctx, intervals)
	if err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		log.Warnf("Failed to read hostname: %v", err)
	}

	format, _ := reporter.ParseFormat(c.config.OutputFormat)
	compression, _ := reporter.ParseCompression(c.config.Compression)
	rep, err := reporter.New(&reporter.Config{
		Format:      format,
		Compression: compression,
		Sink:        sink,
		Metadata: reporter.Metadata{
			Hostname:     hostname,
			AgentVersion: vc.Version(),
			Frequency:    c.config.Frequency,
		},
		ReportInterval: intervals.ReportInterval(),
		UploadTimeout:  intervals.UploadTimeout(),
	})
	if err != nil {
		return err
	}
	if err = rep.Start(ctx); err != nil {
		return err
	}
	c.reporter = rep
	return nil
}

// newSink selects the payload destination.
func (c *Controller) newSink(ctx context.Context, intervals *times.Times) (reporter.Sink, error) {
	switch {
	case c.config.Sink != nil:
		return c.config.Sink, nil
	case c.config.OutputDir != "":
		return reporter.NewFileSink(c.config.OutputDir)
	case c.config.UploadURL != "":
		return reporter.NewHTTPSink(c.config.UploadURL,
			&http.Client{Timeout: intervals.UploadTimeout()})
	case c.config.S3Bucket != "":
		client, err := reporter.NewS3Client(ctx, c.config.S3Endpoint)
		if err != nil {
			return nil, err
		}
		return reporter.NewS3Sink(client, c.config.S3Bucket, c.config.S3Prefix)
	}
	return nil, errors.New("no output configured")
}

// runRounds runs rounds back to back and hands every sealed window to the
// reporter.
func (c *Controller) runRounds(ctx context.Context, coordinator *round.Coordinator) {
	defer close(c.done)

	for n := 1; c.config.Rounds == 0 || n <= c.config.Rounds; n++ {
		if ctx.Err() != nil {
			return
		}
		snap := coordinator.Run(ctx)
		if snap.Partial && ctx.Err() != nil && snap.TotalSamples == 0 {
			// Interrupted before anything was sampled.
			return
		}
		if err := c.reporter.ReportWindow(snap); err != nil {
			log.Errorf("Failed to report window %s: %v", snap.WindowID, err)
			continue
		}
		log.Debugf("Round %d: window %s queued", n, snap.WindowID)
	}
	log.Infof("Completed %d rounds", c.config.Rounds)
}

// Done is closed once no more rounds will run.
func (c *Controller) Done() <-chan libpf.Void {
	return c.done
}

// Shutdown stops the controller. The rounds must have stopped, either because
// Done was closed or because the context given to Start was canceled.
func (c *Controller) Shutdown() {
	log.Info("Stop processing ...")

	if c.started {
		select {
		case <-c.done:
		case <-time.After(shutdownGracePeriod):
			log.Warn("Round still running, shutting down anyway")
		}
	}

	for _, stop := range c.stopFuncs {
		stop()
	}
	if c.reporter != nil {
		c.reporter.Stop()
	}

	if c.config != nil && c.config.OnShutdown != nil {
		if err := c.config.OnShutdown(); err != nil {
			log.Errorf("Shutdown hook failed: %v", err)
		}
	}
}
