// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sampler // import "go.opentelemetry.io/fleet-profiler/sampler"

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/registry"
)

var (
	// Thread 12345 (active+gil): "MainThread"
	pySpyThreadRe = regexp.MustCompile(`^Thread\s+(\S+)\s+\(([^)]*)\)`)
	// compute (app.py:10) or, for native frames, PyEval_EvalFrame (libpython3.11.so)
	pySpyFrameRe = regexp.MustCompile(`^\s+(.+?) \(([^()]*?)(?::(\d+))?\)$`)

	pySpyAttachMarkers = []string{
		"Permission denied",
		"Operation not permitted",
		"Failed to find python version",
		"Failed to get process executable name",
	}
)

// pySpySnapshotter dumps Python stacks with py-spy.
type pySpySnapshotter struct {
	runner CommandRunner
	tool   tool
	native bool
}

func newPySpySnapshotter(cfg Config) *pySpySnapshotter {
	return &pySpySnapshotter{
		runner: cfg.Runner,
		tool:   tool{name: cfg.PySpyPath},
		native: cfg.PythonNative,
	}
}

func (s *pySpySnapshotter) Kind() libpf.RuntimeKind {
	return libpf.Python
}

func (s *pySpySnapshotter) MaxFrequency() int {
	return 1000
}

func (s *pySpySnapshotter) Snapshot(ctx context.Context,
	h *registry.ProcessHandle) ([]RawSample, error) {
	path, err := s.tool.resolve()
	if err != nil {
		return nil, err
	}
	args := []string{"dump", "--pid", strconv.Itoa(int(h.PID)), "--nonblocking"}
	if s.native {
		args = append(args, "--native")
	}
	out, err := s.runner.Run(ctx, path, args...)
	if err != nil {
		return nil, classifyToolError(err, pySpyAttachMarkers)
	}
	return parsePySpyDump(h.PID, time.Now(), out)
}

// classifyToolError wraps err with ErrAttach if the tool's diagnostics contain one
// of the attach failure markers.
func classifyToolError(err error, markers []string) error {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		for _, marker := range markers {
			if strings.Contains(toolErr.Stderr, marker) {
				return fmt.Errorf("%w: %v", ErrAttach, err)
			}
		}
	}
	return err
}

// parsePySpyDump parses the output of `py-spy dump`. Only threads reported as active
// are returned, matching what a CPU profile shows.
func parsePySpyDump(pid libpf.PID, ts time.Time, out []byte) ([]RawSample, error) {
	var samples []RawSample
	var current *RawSample

	flush := func() {
		if current != nil && len(current.Frames) > 0 {
			samples = append(samples, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if m := pySpyThreadRe.FindStringSubmatch(line); m != nil {
			flush()
			if !strings.HasPrefix(m[2], "active") {
				continue
			}
			current = &RawSample{PID: pid, TID: parseThreadID(m[1]), Timestamp: ts}
			continue
		}
		if current == nil {
			continue
		}
		m := pySpyFrameRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		frame := Frame{Type: libpf.PythonFrame, Name: m[1], File: m[2]}
		if m[3] == "" {
			// Frames without a line number are native code of the interpreter
			// or of extension modules.
			frame.Type = libpf.ManagedNativeFrame
		}
		current.Frames = append(current.Frames, frame)
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// parseThreadID accepts decimal OS thread IDs. Hexadecimal pthread handles carry no
// OS thread ID and map to 0.
func parseThreadID(s string) libpf.PID {
	tid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return libpf.PID(tid)
}
