// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureReports(t *testing.T) *[]map[MetricID]MetricValue {
	t.Helper()
	var batches []map[MetricID]MetricValue
	orig := report
	report = func(batch map[MetricID]MetricValue) {
		batches = append(batches, batch)
	}
	t.Cleanup(func() { report = orig })
	return &batches
}

func TestAddSliceAggregates(t *testing.T) {
	batches := captureReports(t)
	Flush()
	*batches = nil

	AddSlice([]Metric{
		{IDSamplesMerged, 3},
		{IDTrackedProcesses, 10},
	})
	Add(IDSamplesMerged, 4)
	Add(IDTrackedProcesses, 7)
	Add(IDSamplesDiscarded, 0)
	Add(IDInvalid, 1)
	Add(IDMax, 1)
	Flush()

	require.NotEmpty(t, *batches)
	merged := map[MetricID]MetricValue{}
	for _, batch := range *batches {
		for id, value := range batch {
			if metricTypes[id] == MetricTypeCounter {
				merged[id] += value
			} else {
				merged[id] = value
			}
		}
	}
	assert.Equal(t, MetricValue(7), merged[IDSamplesMerged])
	assert.Equal(t, MetricValue(7), merged[IDTrackedProcesses])
	assert.NotContains(t, merged, MetricID(IDSamplesDiscarded))
	assert.NotContains(t, merged, MetricID(IDInvalid))
}

func TestGetDefinitions(t *testing.T) {
	defs := GetDefinitions()
	require.Len(t, defs, IDMax-1)

	seen := make(map[MetricID]bool, len(defs))
	for i, d := range defs {
		assert.Equal(t, MetricID(i+1), d.ID, "metrics.json must stay append-only")
		assert.False(t, seen[d.ID])
		seen[d.ID] = true
		assert.Contains(t, []MetricType{MetricTypeCounter, MetricTypeGauge}, d.Type)
		assert.NotEmpty(t, d.Name)
	}
}

func TestSummaryToSlice(t *testing.T) {
	s := Summary{IDReportsSent: 1, IDReportErrors: 2}
	assert.ElementsMatch(t, []Metric{{IDReportsSent, 1}, {IDReportErrors, 2}}, s.ToSlice())
}
