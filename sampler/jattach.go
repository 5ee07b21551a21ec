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

// maxThreadDumpFrequency is the highest rate at which a JVM is asked for thread
// dumps.
const maxThreadDumpFrequency = 10

var (
	// "main" #1 prio=5 os_prio=0 cpu=12.1ms elapsed=3.2s tid=0x7f nid=0x1a2b runnable
	jvmThreadRe = regexp.MustCompile(`^"(.*)"(?:.*\snid=(0x[0-9a-fA-F]+|\d+))?`)
	// java.lang.Thread.State: RUNNABLE
	jvmStateRe = regexp.MustCompile(`^\s+java\.lang\.Thread\.State: (\w+)`)
	// at com.example.App.compute(App.java:10)
	jvmFrameRe = regexp.MustCompile(`^\s+at (\S+?)\((.*)\)$`)

	jattachAttachMarkers = []string{
		"Could not start attach mechanism",
		"Could not connect to socket",
		"Connection refused",
		"Permission denied",
		"Target JVM",
	}
)

// jattachSnapshotter takes JVM thread dumps through the attach API using jattach.
type jattachSnapshotter struct {
	runner CommandRunner
	tool   tool
}

func newJattachSnapshotter(cfg Config) *jattachSnapshotter {
	return &jattachSnapshotter{runner: cfg.Runner, tool: tool{name: cfg.JattachPath}}
}

func (s *jattachSnapshotter) Kind() libpf.RuntimeKind {
	return libpf.JVM
}

// MaxFrequency is low as every thread dump stops the JVM at a safepoint.
func (s *jattachSnapshotter) MaxFrequency() int {
	return maxThreadDumpFrequency
}

func (s *jattachSnapshotter) Snapshot(ctx context.Context,
	h *registry.ProcessHandle) ([]RawSample, error) {
	path, err := s.tool.resolve()
	if err != nil {
		return nil, err
	}
	out, err := s.runner.Run(ctx, path, strconv.Itoa(int(h.PID)), "threaddump")
	if err != nil {
		// jattach reports attach problems on stdout as well.
		var te *ToolError
		if errors.As(err, &te) && te.Stderr == "" {
			te.Stderr = string(bytes.TrimSpace(out))
		}
		return nil, classifyToolError(err, jattachAttachMarkers)
	}
	if bytes.Contains(out, []byte("JVM response code = ")) &&
		!bytes.Contains(out, []byte("JVM response code = 0")) {
		return nil, fmt.Errorf("%w: %s", ErrAttach, firstLine(out))
	}
	return parseThreadDump(h.PID, time.Now(), out)
}

func firstLine(out []byte) string {
	line, _, _ := bytes.Cut(bytes.TrimSpace(out), []byte("\n"))
	return string(line)
}

// parseThreadDump parses a HotSpot thread dump and returns the stacks of all
// RUNNABLE Java threads.
func parseThreadDump(pid libpf.PID, ts time.Time, out []byte) ([]RawSample, error) {
	var samples []RawSample
	var current *RawSample
	runnable := false

	flush := func() {
		if current != nil && runnable && len(current.Frames) > 0 {
			samples = append(samples, *current)
		}
		current = nil
		runnable = false
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if m := jvmThreadRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &RawSample{PID: pid, TID: parseNativeID(m[2]), Timestamp: ts}
			continue
		}
		if current == nil {
			continue
		}
		if m := jvmStateRe.FindStringSubmatch(line); m != nil {
			runnable = m[1] == "RUNNABLE"
			continue
		}
		if m := jvmFrameRe.FindStringSubmatch(line); m != nil {
			current.Frames = append(current.Frames, Frame{
				Type: libpf.JVMFrame,
				Name: m[1],
				File: m[2],
			})
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// parseNativeID parses the nid of a thread dump entry, which is hexadecimal on
// older JVMs and decimal on newer ones.
func parseNativeID(s string) libpf.PID {
	if s == "" {
		return 0
	}
	base := 10
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		s, base = rest, 16
	}
	nid, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0
	}
	return libpf.PID(nid)
}
