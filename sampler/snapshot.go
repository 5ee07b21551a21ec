// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sampler // import "go.opentelemetry.io/fleet-profiler/sampler"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/libpf/xsync"
	"go.opentelemetry.io/fleet-profiler/proc"
	"go.opentelemetry.io/fleet-profiler/registry"
)

// maxConsecutiveFailures is the number of failed snapshots in a row after which a
// snapshot driver gives up on a process for the round.
const maxConsecutiveFailures = 3

// CommandRunner runs an external tool and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// ToolError carries the exit status and diagnostics of a failed tool invocation.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited with %d: %s", e.Tool, e.ExitCode, e.Stderr)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.Bytes(), &ToolError{
				Tool:     name,
				ExitCode: exitErr.ExitCode(),
				Stderr:   string(bytes.TrimSpace(stderr.Bytes())),
				Err:      err,
			}
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// tool resolves the path of an external executable once.
type tool struct {
	name string
	path xsync.OnceValue[string]
}

func (t *tool) resolve() (string, error) {
	return t.path.GetOrInit(func() (string, error) {
		path, err := exec.LookPath(t.name)
		if err != nil {
			return "", fmt.Errorf("%s not found: %w", t.name, err)
		}
		log.Debugf("Using %s", path)
		return path, nil
	})
}

// Snapshotter captures the current stacks of a managed runtime process by invoking
// an external tool once.
type Snapshotter interface {
	Kind() libpf.RuntimeKind
	// MaxFrequency is the highest snapshot rate the tool sustains, in Hz.
	MaxFrequency() int
	Snapshot(ctx context.Context, h *registry.ProcessHandle) ([]RawSample, error)
}

// snapshotDriver turns a Snapshotter into a Driver by invoking it periodically.
type snapshotDriver struct {
	snapshotter Snapshotter
	limiter     *captureLimiter
	interval    time.Duration
	toolTimeout time.Duration
	isPIDLive   func(libpf.PID) (bool, error)
}

var _ Driver = (*snapshotDriver)(nil)

func newSnapshotDriver(cfg Config, limiter *captureLimiter, s Snapshotter) *snapshotDriver {
	frequency := min(cfg.Frequency, s.MaxFrequency())
	if frequency <= 0 {
		frequency = 1
	}
	isPIDLive := cfg.IsPIDLive
	if isPIDLive == nil {
		isPIDLive = proc.IsPIDLive
	}
	toolTimeout := cfg.ToolTimeout
	if toolTimeout <= 0 {
		toolTimeout = 5 * time.Second
	}
	return &snapshotDriver{
		snapshotter: s,
		limiter:     limiter,
		interval:    time.Second / time.Duration(frequency),
		toolTimeout: toolTimeout,
		isPIDLive:   isPIDLive,
	}
}

func (d *snapshotDriver) Kind() libpf.RuntimeKind {
	return d.snapshotter.Kind()
}

// exited reports whether pid is definitely gone.
func (d *snapshotDriver) exited(pid libpf.PID) bool {
	live, _ := d.isPIDLive(pid)
	return !live
}

func (d *snapshotDriver) Sample(ctx context.Context, h *registry.ProcessHandle,
	duration time.Duration, emit EmitFunc) error {
	sampleCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := d.limiter.acquire(sampleCtx); err != nil {
			// Sampling period ended while waiting for a free slot.
			return nil
		}
		snapCtx, snapCancel := context.WithTimeout(sampleCtx, d.toolTimeout)
		samples, err := d.snapshotter.Snapshot(snapCtx, h)
		snapCancel()
		d.limiter.release()

		switch {
		case err == nil:
			failures = 0
			for _, s := range samples {
				emit(s)
			}
		case sampleCtx.Err() != nil:
			// Snapshot interrupted by the end of the sampling period.
			return nil
		case d.exited(h.PID):
			return fmt.Errorf("%v: %w", h, ErrProcessExited)
		case errors.Is(err, ErrAttach):
			return fmt.Errorf("%v: %w", h, err)
		default:
			failures++
			log.Debugf("Snapshot of %v failed: %v", h, err)
			if failures >= maxConsecutiveFailures {
				return fmt.Errorf("%v: giving up after %d failed snapshots: %w",
					h, failures, err)
			}
		}

		select {
		case <-sampleCtx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
