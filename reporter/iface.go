// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"context"

	"go.opentelemetry.io/fleet-profiler/aggregator"
)

// WindowReporter is the top-level interface implemented by a full reporter.
type WindowReporter interface {
	// Start starts the reporter in the background.
	Start(context.Context) error

	// ReportWindow encodes a sealed window and enqueues it for delivery.
	ReportWindow(snap aggregator.Snapshot) error

	// Stop flushes what is queued and shuts the reporter down.
	Stop()
}
