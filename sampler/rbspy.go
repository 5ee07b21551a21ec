// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package sampler // import "go.opentelemetry.io/fleet-profiler/sampler"

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/registry"
)

// rbspyMaxFrequency is the highest rate rbspy can snapshot a process reliably.
const rbspyMaxFrequency = 100

var (
	// block in work - /app/worker.rb:12
	rbspyFrameRe = regexp.MustCompile(`^\s*(.+?) - (.+?)(?::(\d+))?$`)

	rbspyAttachMarkers = []string{
		"Permission denied",
		"Operation not permitted",
		"Couldn't get ruby version",
		"Failed to find Ruby version",
	}
)

// rbspySnapshotter dumps the Ruby stack with rbspy.
type rbspySnapshotter struct {
	runner CommandRunner
	tool   tool
}

func newRbspySnapshotter(cfg Config) *rbspySnapshotter {
	return &rbspySnapshotter{runner: cfg.Runner, tool: tool{name: cfg.RbspyPath}}
}

func (s *rbspySnapshotter) Kind() libpf.RuntimeKind {
	return libpf.Ruby
}

func (s *rbspySnapshotter) MaxFrequency() int {
	return rbspyMaxFrequency
}

func (s *rbspySnapshotter) Snapshot(ctx context.Context,
	h *registry.ProcessHandle) ([]RawSample, error) {
	path, err := s.tool.resolve()
	if err != nil {
		return nil, err
	}
	out, err := s.runner.Run(ctx, path, "snapshot", "--pid", strconv.Itoa(int(h.PID)))
	if err != nil {
		return nil, classifyToolError(err, rbspyAttachMarkers)
	}
	return parseRbspySnapshot(h.PID, time.Now(), out)
}

// parseRbspySnapshot parses the output of `rbspy snapshot`, one frame per line with
// the innermost frame first. rbspy reports the stack of the thread holding the GVL.
func parseRbspySnapshot(pid libpf.PID, ts time.Time, out []byte) ([]RawSample, error) {
	sample := RawSample{PID: pid, TID: pid, Timestamp: ts}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		m := rbspyFrameRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		frame := Frame{Type: libpf.RubyFrame, Name: m[1], File: m[2]}
		if m[2] == "(unknown)" || strings.HasPrefix(m[2], "<internal:") {
			frame.File = ""
		}
		sample.Frames = append(sample.Frames, frame)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(sample.Frames) == 0 {
		return nil, nil
	}
	return []RawSample{sample}, nil
}
