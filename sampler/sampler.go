// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package sampler captures raw stack samples from processes. There is one Driver per
// runtime kind; all drivers share the same contract so the round coordinator can run
// them side by side.
package sampler // import "go.opentelemetry.io/fleet-profiler/sampler"

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/metrics"
	"go.opentelemetry.io/fleet-profiler/registry"
)

var (
	// ErrProcessExited is returned when the sampled process disappeared. Samples
	// emitted before the exit remain valid.
	ErrProcessExited = errors.New("process exited during sampling")
	// ErrAttach is returned when a managed runtime could not be attached to. The
	// process is skipped for the round.
	ErrAttach = errors.New("failed to attach to runtime")
	// ErrUnsupported is returned by drivers that cannot run on this platform.
	ErrUnsupported = errors.New("sampling not supported on this platform")
)

// Frame is a single captured stack frame. Address frames carry the instruction
// address, symbolic frames carry the name and location as reported by the runtime.
type Frame struct {
	Type    libpf.FrameType
	Address libpf.Address
	// Name is the function name of a symbolic frame.
	Name string
	// File is the source file or library of a symbolic frame, if known.
	File string
}

// RawSample is one captured stack of one thread. Frames are ordered leaf first.
type RawSample struct {
	PID       libpf.PID
	TID       libpf.PID
	Timestamp time.Time
	Frames    []Frame
}

// EmitFunc receives samples as they are captured. Drivers call it from a single
// goroutine per Sample invocation.
type EmitFunc func(RawSample)

// Driver captures samples of one runtime kind.
type Driver interface {
	// Kind returns the runtime kind this driver samples.
	Kind() libpf.RuntimeKind
	// Sample captures samples of h for duration and hands every sample to emit as
	// soon as it is available. It returns when duration elapsed, ctx is done or the
	// process went away (ErrProcessExited). A canceled ctx is not an error.
	Sample(ctx context.Context, h *registry.ProcessHandle, duration time.Duration,
		emit EmitFunc) error
}

// Collect samples h with d and returns all captured samples. On ErrProcessExited the
// samples captured before the exit are returned together with the error.
func Collect(ctx context.Context, d Driver, h *registry.ProcessHandle,
	duration time.Duration) ([]RawSample, error) {
	var samples []RawSample
	err := d.Sample(ctx, h, duration, func(s RawSample) {
		samples = append(samples, s)
	})
	return samples, err
}

// Config holds the settings shared by all drivers.
type Config struct {
	// Frequency is the sampling frequency in Hz. Drivers clamp it to what the
	// runtime supports.
	Frequency int
	// ToolTimeout bounds a single invocation of an external stack dump tool.
	ToolTimeout time.Duration
	// PySpyPath, RbspyPath and JattachPath locate the external tools. Bare names
	// are resolved through PATH.
	PySpyPath   string
	RbspyPath   string
	JattachPath string
	// PythonNative includes native frames in Python stacks.
	PythonNative bool
	// MaxConcurrentCaptures bounds the tool invocations and perf setups running at
	// the same time across all drivers. Zero means no limit.
	MaxConcurrentCaptures int
	// Runner executes external tools, defaults to os/exec.
	Runner CommandRunner
	// IsPIDLive distinguishes an exited process from other failures.
	IsPIDLive func(libpf.PID) (bool, error)
}

// Set maps each enabled runtime kind to its driver.
type Set map[libpf.RuntimeKind]Driver

// NewSet creates the drivers for all enabled runtimes.
func NewSet(cfg Config, runtimes libpf.IncludedRuntimes) (Set, error) {
	if cfg.Frequency <= 0 {
		return nil, fmt.Errorf("invalid sampling frequency %d", cfg.Frequency)
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	limiter := newCaptureLimiter(cfg.MaxConcurrentCaptures)
	set := make(Set)
	for _, kind := range libpf.AllRuntimeKinds() {
		if !runtimes.Has(kind) {
			continue
		}
		var d Driver
		switch kind {
		case libpf.Native:
			d = newNativeDriver(cfg, limiter)
		case libpf.JVM:
			d = newJVMDriver(cfg, limiter)
		case libpf.Python:
			d = newSnapshotDriver(cfg, limiter, newPySpySnapshotter(cfg))
		case libpf.Ruby:
			d = newSnapshotDriver(cfg, limiter, newRbspySnapshotter(cfg))
		}
		set[kind] = d
		log.Debugf("Enabled %v sampler", kind)
	}
	return set, nil
}

// For returns the driver for the runtime kind of h.
func (s Set) For(h *registry.ProcessHandle) (Driver, bool) {
	d, ok := s[h.Runtime]
	return d, ok
}

// countError updates the sampler error metrics for a Sample result.
func countError(err error) {
	switch {
	case err == nil:
	case errors.Is(err, ErrProcessExited):
		metrics.Add(metrics.IDSamplerProcessExited, 1)
	case errors.Is(err, ErrAttach):
		metrics.Add(metrics.IDSamplerAttachErrors, 1)
	default:
		metrics.Add(metrics.IDSamplerErrors, 1)
	}
}

// CountResult records the outcome of one Sample call in the metrics.
func CountResult(numSamples int, err error) {
	metrics.Add(metrics.IDSamplesCaptured, metrics.MetricValue(numSamples))
	countError(err)
}
