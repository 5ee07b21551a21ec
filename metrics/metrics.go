// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "go.opentelemetry.io/fleet-profiler/metrics"

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"go.opentelemetry.io/fleet-profiler/vc"
)

var (
	// prevTimestamp holds the second the buffered metrics belong to
	prevTimestamp int64

	// metricsBuffer buffers the metrics for the timestamp assigned to prevTimestamp.
	// Counters accumulate, gauges keep the last value.
	metricsBuffer = make(map[MetricID]MetricValue, IDMax)

	// mutex serializes the concurrent calls to AddSlice()
	mutex sync.Mutex

	//go:embed metrics.json
	metricsJSON []byte

	metricTypes map[MetricID]MetricType

	meter = otel.Meter("go.opentelemetry.io/fleet-profiler",
		metric.WithInstrumentationVersion(vc.Version()))
	counters = map[MetricID]metric.Int64Counter{}
	gauges   = map[MetricID]metric.Int64Gauge{}
)

func init() {
	defs := GetDefinitions()
	metricTypes = make(map[MetricID]MetricType, len(defs))
	for _, md := range defs {
		if md.Obsolete {
			continue
		}
		metricTypes[md.ID] = md.Type
		switch typ := md.Type; typ {
		case MetricTypeCounter:
			counter, err := meter.Int64Counter(md.Name,
				metric.WithDescription(md.Description),
				metric.WithUnit(md.Unit))
			if err != nil {
				log.Errorf("Creating Int64Counter: %v", err)
				continue
			}
			counters[md.ID] = counter
		case MetricTypeGauge:
			gauge, err := meter.Int64Gauge(md.Name,
				metric.WithDescription(md.Description),
				metric.WithUnit(md.Unit))
			if err != nil {
				log.Errorf("Creating Int64Gauge: %v", err)
				continue
			}
			gauges[md.ID] = gauge
		default:
			panic(fmt.Sprintf("Unknown metric type: %v", typ))
		}
	}
}

// report forwards one flushed batch to the OTel instruments.
// Overridden in tests.
var report = func(batch map[MetricID]MetricValue) {
	ctx := context.Background()
	for id, value := range batch {
		switch metricTypes[id] {
		case MetricTypeCounter:
			if counter, ok := counters[id]; ok {
				counter.Add(ctx, int64(value))
			}
		case MetricTypeGauge:
			if gauge, ok := gauges[id]; ok {
				gauge.Record(ctx, int64(value))
			}
		}
	}
}

// flush hands the buffered batch to report and starts a new one. mutex must be held.
func flush() {
	if len(metricsBuffer) == 0 {
		return
	}
	batch := metricsBuffer
	metricsBuffer = make(map[MetricID]MetricValue, IDMax)
	report(batch)
}

// AddSlice takes a slice of metrics from a metric provider.
// The function buffers the metrics and returns immediately.
//
// Metrics are collected until the wall clock second changes; the batch of the previous
// second is then reported. Within one second counter values are summed up and gauges
// keep their most recent value.
func AddSlice(newMetrics []Metric) {
	now := time.Now().Unix()

	mutex.Lock()
	defer mutex.Unlock()

	if prevTimestamp != now {
		flush()
	}
	prevTimestamp = now

	for _, m := range newMetrics {
		if m.ID <= IDInvalid || m.ID >= IDMax {
			log.Errorf("Metric value %d out of range [%d,%d]- needs investigation",
				m.ID, IDInvalid+1, IDMax-1)
			continue
		}

		typ, ok := metricTypes[m.ID]
		if !ok {
			log.Warnf("Invalid metric id %d, skipping", m.ID)
			continue
		}

		switch typ {
		case MetricTypeCounter:
			if m.Value == 0 {
				continue
			}
			metricsBuffer[m.ID] += m.Value
		case MetricTypeGauge:
			metricsBuffer[m.ID] = m.Value
		}
	}
}

// Add takes a single metric (id and value) from a metric provider.
// The function buffers the metric and returns immediately.
func Add(id MetricID, value MetricValue) {
	AddSlice([]Metric{{id, value}})
}

// Flush reports all buffered metrics right away. Used on shutdown so the last second
// of data is not lost.
func Flush() {
	mutex.Lock()
	defer mutex.Unlock()
	flush()
}

// GetDefinitions returns the metric definitions from the embedded metrics.json file.
func GetDefinitions() []MetricDefinition {
	var defs []MetricDefinition

	dec := json.NewDecoder(bytes.NewReader(metricsJSON))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&defs); err != nil {
		panic(fmt.Sprintf("extracting definitions from metrics.json: %v", err))
	}
	return defs
}
