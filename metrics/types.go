// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "go.opentelemetry.io/fleet-profiler/metrics"

// Create ids.go from metrics.json
//go:generate go run genids/main.go metrics.json ids.go

// MetricID is the type for metric IDs.
type MetricID uint16

// MetricValue is the type for metric values.
type MetricValue int64

// Metric is the type for a metric id/value pair.
type Metric struct {
	ID    MetricID
	Value MetricValue
}

// MetricType distinguishes monotonic counters from point-in-time gauges.
type MetricType string

const (
	MetricTypeCounter MetricType = "counter"
	MetricTypeGauge   MetricType = "gauge"
)

// MetricDefinition describes one entry of metrics.json.
type MetricDefinition struct {
	Description string     `json:"description"`
	Type        MetricType `json:"type"`
	Name        string     `json:"name"`
	Field       string     `json:"field"`
	Unit        string     `json:"unit,omitempty"`
	ID          MetricID   `json:"id"`
	Obsolete    bool       `json:"obsolete,omitempty"`
}

// Summary helps summarizing metrics of the same ID from different sources before
// processing it further.
type Summary map[MetricID]MetricValue

// ToSlice flattens the summary into a slice suitable for AddSlice.
func (s Summary) ToSlice() []Metric {
	out := make([]Metric, 0, len(s))
	for id, value := range s {
		out = append(out, Metric{ID: id, Value: value})
	}
	return out
}
