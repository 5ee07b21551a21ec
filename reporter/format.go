// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/fleet-profiler/aggregator"
)

// Format selects the payload encoding of a sealed window.
type Format string

const (
	// FormatJSON is the versioned JSON document, the canonical exchange format.
	FormatJSON Format = "json"
	// FormatCollapsed is the folded stack text format with a metadata header line.
	FormatCollapsed Format = "collapsed"
	// FormatPprof is a gzip compressed pprof protobuf.
	FormatPprof Format = "pprof"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCollapsed, FormatPprof:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// CheckCompression reports whether payloads in format f may be compressed with c.
// pprof payloads are gzip compressed by the encoder itself.
func CheckCompression(f Format, c Compression) error {
	if f == FormatPprof && c != CompressionNone && c != "" {
		return fmt.Errorf("%s payloads are compressed already, %s compression is not supported",
			f, c)
	}
	return nil
}

// Extension returns the file name extension of payloads in this format.
func (f Format) Extension() string {
	switch f {
	case FormatCollapsed:
		return ".col"
	case FormatPprof:
		return ".pb.gz"
	default:
		return ".json"
	}
}

// ContentType returns the media type of payloads in this format.
func (f Format) ContentType() string {
	switch f {
	case FormatCollapsed:
		return "text/plain; charset=utf-8"
	case FormatPprof:
		return "application/octet-stream"
	default:
		return "application/json"
	}
}

// Metadata describes the profiler instance a payload originates from.
type Metadata struct {
	Hostname     string `json:"hostname,omitempty"`
	AgentVersion string `json:"agent_version,omitempty"`
	// Frequency is the sampling frequency in Hz.
	Frequency int `json:"frequency,omitempty"`
}

// Emitter serializes sealed windows.
type Emitter struct {
	Metadata Metadata
}

// Emit serializes snap without host metadata.
func Emit(snap aggregator.Snapshot, format Format) ([]byte, error) {
	return Emitter{}.Emit(snap, format)
}

// Emit serializes snap in format. The output only depends on snap and the metadata.
func (e Emitter) Emit(snap aggregator.Snapshot, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return e.emitJSON(snap)
	case FormatCollapsed:
		return e.emitCollapsed(snap)
	case FormatPprof:
		return e.emitPprof(snap)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
