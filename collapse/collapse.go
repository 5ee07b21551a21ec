// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package collapse turns raw samples into folded stacks: canonical, root first frame
// names that identical call paths share across samples, threads and processes.
package collapse // import "go.opentelemetry.io/fleet-profiler/collapse"

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/metrics"
	"go.opentelemetry.io/fleet-profiler/registry"
	"go.opentelemetry.io/fleet-profiler/sampler"
)

// UnknownName replaces frames that could not be resolved. It keeps the stack depth
// intact.
const UnknownName = "[unknown]"

// KeySeparator joins frame names in a stack key.
const KeySeparator = ";"

var (
	// ErrEmptySample is returned for samples without frames.
	ErrEmptySample = errors.New("sample has no frames")
	// ErrForeignSample is returned when a sample does not belong to the handle.
	ErrForeignSample = errors.New("sample belongs to another process")
)

// FoldedStack is a canonical stack, root first, with the number of samples that
// collapsed to it.
type FoldedStack struct {
	Frames []string
	Count  uint64
}

// Key returns the frames joined with KeySeparator.
func (f FoldedStack) Key() string {
	return strings.Join(f.Frames, KeySeparator)
}

// nameReplacer strips the characters that have a meaning in the collapsed format.
var nameReplacer = strings.NewReplacer(";", ":", "\n", " ", "\r", " ")

// Collapser symbolizes and normalizes raw samples.
type Collapser struct {
	native      *nativeSymbolizer
	includeComm bool
}

// New creates a Collapser.
func New(cfg Config) (*Collapser, error) {
	native, err := newNativeSymbolizer(cfg)
	if err != nil {
		return nil, err
	}
	return &Collapser{native: native, includeComm: cfg.IncludeComm}, nil
}

// Invalidate drops all cached symbol data of h. It is meant to be registered as
// registry untrack listener.
func (c *Collapser) Invalidate(h *registry.ProcessHandle) {
	c.native.invalidate(h.Key())
}

// Collapse turns one raw sample of h into a folded stack with a count of one. The
// result only depends on the sample and the symbol data of the process.
func (c *Collapser) Collapse(h *registry.ProcessHandle, s sampler.RawSample) (FoldedStack, error) {
	if s.PID != h.PID {
		metrics.Add(metrics.IDCollapseErrors, 1)
		return FoldedStack{}, fmt.Errorf("%w: sample of PID %d, handle %v",
			ErrForeignSample, s.PID, h)
	}
	if len(s.Frames) == 0 {
		metrics.Add(metrics.IDCollapseErrors, 1)
		return FoldedStack{}, ErrEmptySample
	}

	n := len(s.Frames)
	if c.includeComm {
		n++
	}
	frames := make([]string, n)
	if c.includeComm {
		frames[0] = commFrame(h)
	}

	var native *processSymbols
	unknown := 0
	for i, frame := range s.Frames {
		var name string
		if frame.Type.IsAddress() {
			if native == nil && frame.Type == libpf.NativeFrame {
				native = c.native.process(h)
			}
			// All but the leaf frame hold return addresses, which point after
			// the call instruction.
			addr := frame.Address
			if i > 0 && addr > 0 {
				addr--
			}
			name = c.native.symbolize(native, frame.Type, addr)
		} else {
			name = managedName(frame)
		}
		if name == "" {
			name = UnknownName
			unknown++
		}
		frames[n-1-i] = name
	}
	if unknown > 0 {
		metrics.Add(metrics.IDUnknownFrames, metrics.MetricValue(unknown))
	}
	return FoldedStack{Frames: frames, Count: 1}, nil
}

// commFrame renders the process name root frame.
func commFrame(h *registry.ProcessHandle) string {
	if h.Comm == "" {
		return UnknownName
	}
	return nameReplacer.Replace(h.Comm)
}
