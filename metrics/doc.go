// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package metrics collects the profiler's own health metrics and forwards them to
OpenTelemetry instruments.

Metric IDs are generated from metrics.json. Producers call Add or AddSlice from any
goroutine; values are buffered per second and flushed to the OTel meter provider.
Without an SDK installed the instruments are no-ops.

	defer agentmetrics.Start(ctx, time.Second)

# Directory Structure

	metrics
	├── agentmetrics/   // goroutine, heap and rusage metrics of the profiler itself
	├── genids/         // generator for ids.go
	├── doc.go          // this file
	├── ids.go          // generated metric IDs
	├── metrics.go      // Add(), AddSlice() and the OTel bridge
	├── metrics.json    // metric definitions, append only
	└── types.go        // Metric, MetricID, MetricValue, MetricDefinition
*/
package metrics // import "go.opentelemetry.io/fleet-profiler/metrics"
