// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/vc"
)

const (
	defaultHTTPRetries = 3
	defaultHTTPBackoff = time.Second
)

// errPermanent marks upload failures that a retry cannot fix.
var errPermanent = errors.New("permanent upload failure")

// HTTPSink POSTs payloads to the collection backend.
type HTTPSink struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
}

var _ Sink = (*HTTPSink)(nil)

// NewHTTPSink returns a sink posting to endpoint. A nil client selects
// http.DefaultClient.
func NewHTTPSink(endpoint string, client *http.Client) (*HTTPSink, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid upload URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported upload URL scheme %q", u.Scheme)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSink{
		url:        endpoint,
		client:     client,
		maxRetries: defaultHTTPRetries,
		backoff:    defaultHTTPBackoff,
	}, nil
}

func (s *HTTPSink) Name() string {
	return "http:" + s.url
}

// Send posts p and retries transient failures up to maxRetries times.
func (s *HTTPSink) Send(ctx context.Context, p *Payload) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			if sleepErr := libpf.SleepWithJitterAndContext(ctx,
				s.backoff*time.Duration(attempt), 0.2); sleepErr != nil {
				return errors.Join(err, sleepErr)
			}
		}
		if err = s.post(ctx, p); err == nil || errors.Is(err, errPermanent) {
			return err
		}
		log.Debugf("Upload of %s failed (attempt %d): %v", p.Name, attempt+1, err)
	}
	return err
}

func (s *HTTPSink) post(ctx context.Context, p *Payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url,
		bytes.NewReader(p.Data))
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("Content-Type", p.Format.ContentType())
	if enc := p.Compression.ContentEncoding(); enc != "" {
		req.Header.Set("Content-Encoding", enc)
	}
	req.Header.Set("User-Agent", "fleet-profiler/"+vc.Version())
	req.Header.Set("X-Profile-Window", p.WindowID)
	req.Header.Set("X-Profile-Format", string(p.Format))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("backend returned %s: %s", resp.Status, bytes.TrimSpace(body))
	default:
		return fmt.Errorf("%w: backend returned %s: %s", errPermanent, resp.Status,
			bytes.TrimSpace(body))
	}
}
