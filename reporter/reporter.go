// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package reporter serializes sealed aggregation windows and delivers them to the
// collection backend. Encoded payloads are queued in a ring buffer and flushed
// periodically, so a slow or unavailable backend never blocks profiling rounds; if the
// backend stays away long enough, the oldest payloads are dropped.
package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/aggregator"
	"go.opentelemetry.io/fleet-profiler/metrics"
)

const (
	defaultQueueSize     = 64
	defaultMaxAttempts   = 3
	defaultUploadTimeout = 30 * time.Second
	reportJitter         = 0.2
	housekeepingInterval = time.Minute
	// stopFlushTimeout bounds the final flush on Stop.
	stopFlushTimeout = 10 * time.Second
)

// Reporter encodes windows and ships them to a Sink.
type Reporter struct {
	cfg     Config
	emitter Emitter

	queue   FifoRingBuffer[*Payload]
	runLoop *runLoop
	started bool
}

var _ WindowReporter = (*Reporter)(nil)

// New validates cfg and creates a Reporter.
func New(cfg *Config) (*Reporter, error) {
	if cfg.Sink == nil {
		return nil, errors.New("no sink configured")
	}
	if _, err := ParseFormat(string(cfg.Format)); err != nil {
		return nil, err
	}
	if _, err := ParseCompression(string(cfg.Compression)); err != nil {
		return nil, err
	}
	if err := CheckCompression(cfg.Format, cfg.Compression); err != nil {
		return nil, err
	}
	c := *cfg
	if c.Compression == "" {
		c.Compression = CompressionNone
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = defaultUploadTimeout
	}
	if c.ReportInterval <= 0 {
		return nil, fmt.Errorf("invalid report interval %v", c.ReportInterval)
	}

	r := &Reporter{
		cfg:     c,
		emitter: Emitter{Metadata: c.Metadata},
		runLoop: newRunLoop(),
	}
	if err := r.queue.InitFifo(c.QueueSize, "payloads", func(p *Payload) {
		log.Warnf("Payload queue full, dropping %s", p.Name)
	}); err != nil {
		return nil, err
	}
	return r, nil
}

// Start begins flushing the queue every report interval.
func (r *Reporter) Start(ctx context.Context) error {
	if r.started {
		return errors.New("reporter already started")
	}
	r.started = true
	log.Infof("Reporting %s payloads to %s", r.cfg.Format, r.cfg.Sink.Name())
	r.runLoop.Start(ctx, r.cfg.ReportInterval, reportJitter, housekeepingInterval,
		func() { r.flush(ctx) }, r.reportQueueMetrics)
	return nil
}

// ReportWindow encodes snap and enqueues it.
func (r *Reporter) ReportWindow(snap aggregator.Snapshot) error {
	p, err := r.encode(snap)
	if err != nil {
		metrics.Add(metrics.IDReportErrors, 1)
		return fmt.Errorf("failed to encode window %s: %w", snap.WindowID, err)
	}
	r.queue.Append(p)
	return nil
}

func (r *Reporter) encode(snap aggregator.Snapshot) (*Payload, error) {
	data, err := r.emitter.Emit(snap, r.cfg.Format)
	if err != nil {
		return nil, err
	}
	if data, err = r.cfg.Compression.compress(data); err != nil {
		return nil, err
	}
	id := snap.WindowID.String()
	return &Payload{
		Name:        payloadName(id, snap.Start, r.cfg.Format, r.cfg.Compression),
		WindowID:    id,
		Start:       snap.Start,
		Format:      r.cfg.Format,
		Compression: r.cfg.Compression,
		Data:        data,
	}, nil
}

// flush sends all queued payloads. Failed payloads are queued again until they used
// up their attempts.
func (r *Reporter) flush(ctx context.Context) {
	for _, p := range r.queue.ReadAll() {
		if ctx.Err() != nil {
			r.queue.Append(p)
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.UploadTimeout)
		err := r.cfg.Sink.Send(sendCtx, p)
		cancel()
		if err == nil {
			metrics.AddSlice([]metrics.Metric{
				{ID: metrics.IDReportsSent, Value: 1},
				{ID: metrics.IDPayloadBytes, Value: metrics.MetricValue(len(p.Data))},
			})
			log.Debugf("Sent %s (%d bytes) to %s", p.Name, len(p.Data), r.cfg.Sink.Name())
			continue
		}

		metrics.Add(metrics.IDReportErrors, 1)
		p.attempts++
		if p.attempts >= r.cfg.MaxAttempts {
			log.Errorf("Dropping %s after %d failed attempts: %v", p.Name, p.attempts, err)
			continue
		}
		log.Warnf("Failed to send %s to %s: %v", p.Name, r.cfg.Sink.Name(), err)
		r.queue.Append(p)
	}
}

func (r *Reporter) reportQueueMetrics() {
	if n := r.queue.GetOverwriteCount(); n > 0 {
		metrics.Add(metrics.IDReportQueueOverwrites, metrics.MetricValue(n))
	}
}

// Stop ends the run loop and makes one last attempt to send all queued payloads.
func (r *Reporter) Stop() {
	if r.started {
		r.runLoop.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopFlushTimeout)
	defer cancel()
	r.flush(ctx)
	r.reportQueueMetrics()
	if n := r.queue.Len(); n > 0 {
		log.Warnf("Discarding %d payloads that could not be sent", n)
	}
}
