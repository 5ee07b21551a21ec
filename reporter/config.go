// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import "time"

type Config struct {
	// Format is the payload encoding.
	Format Format
	// Compression is applied to the encoded payload.
	Compression Compression
	// Sink receives the payloads.
	Sink Sink
	// Metadata is embedded into every payload.
	Metadata Metadata

	// ReportInterval is the interval between flushes of the payload queue.
	ReportInterval time.Duration
	// UploadTimeout bounds the delivery of a single payload.
	UploadTimeout time.Duration
	// QueueSize is the number of payloads kept while the sink is unavailable. The
	// oldest payload is dropped when the queue is full.
	QueueSize uint32
	// MaxAttempts is the number of flushes a payload takes part in before it is
	// dropped.
	MaxAttempts int
}
