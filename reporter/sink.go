// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"context"
	"path"
	"time"
)

// Payload is one encoded window ready to be shipped.
type Payload struct {
	// Name is the relative object name, e.g. "2026/03/01/<window>.json.gz".
	Name        string
	WindowID    string
	Start       time.Time
	Format      Format
	Compression Compression
	Data        []byte

	// attempts counts failed deliveries.
	attempts int
}

// payloadName derives the object name of a window payload.
func payloadName(windowID string, start time.Time, format Format, c Compression) string {
	return path.Join(start.UTC().Format("2006/01/02"),
		windowID+format.Extension()+c.Extension())
}

// Sink delivers payloads to the collection backend.
type Sink interface {
	// Name identifies the sink in log messages.
	Name() string
	// Send delivers p. It must not retain p.Data after returning.
	Send(ctx context.Context, p *Payload) error
}
