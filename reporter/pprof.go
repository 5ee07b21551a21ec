// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/google/pprof/profile"

	"go.opentelemetry.io/fleet-profiler/aggregator"
	"go.opentelemetry.io/fleet-profiler/reporter/internal/orderedset"
)

// emitPprof converts snap into a CPU sample profile. Every distinct frame name becomes
// one function with one location; samples reference locations leaf first.
func (e Emitter) emitPprof(snap aggregator.Snapshot) ([]byte, error) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "samples", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		TimeNanos:  snap.Start.UnixNano(),
	}
	if !snap.End.IsZero() && snap.End.After(snap.Start) {
		p.DurationNanos = snap.End.Sub(snap.Start).Nanoseconds()
	}
	if e.Metadata.Frequency > 0 {
		p.Period = int64(time.Second) / int64(e.Metadata.Frequency)
	}
	p.Comments = append(p.Comments, "window="+snap.WindowID.String())
	if e.Metadata.Hostname != "" {
		p.Comments = append(p.Comments, "hostname="+e.Metadata.Hostname)
	}

	names := orderedset.OrderedSet[string]{}
	var locations []*profile.Location

	for _, s := range sortedStacks(snap) {
		sample := &profile.Sample{
			Value:    []int64{int64(s.Count)},
			Location: make([]*profile.Location, 0, len(s.Frames)),
		}
		for i := len(s.Frames) - 1; i >= 0; i-- {
			idx, exists := names.AddWithCheck(s.Frames[i])
			if !exists {
				fn := &profile.Function{
					ID:         uint64(idx) + 1,
					Name:       s.Frames[i],
					SystemName: s.Frames[i],
				}
				if isKernelFrame(fn.Name) {
					fn.Filename = "[kernel.kallsyms]"
				}
				p.Function = append(p.Function, fn)
				locations = append(locations, &profile.Location{
					ID:   uint64(idx) + 1,
					Line: []profile.Line{{Function: fn}},
				})
			}
			sample.Location = append(sample.Location, locations[idx])
		}
		p.Sample = append(p.Sample, sample)
	}
	p.Location = locations

	if err := p.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// isKernelFrame reports whether a folded frame name was resolved from kallsyms.
func isKernelFrame(name string) bool {
	return strings.HasSuffix(name, "_[k]")
}
