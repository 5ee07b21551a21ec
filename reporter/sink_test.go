// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() *Payload {
	return &Payload{
		Name:        "2026/03/01/w1.json.gz",
		WindowID:    "w1",
		Start:       testStart,
		Format:      FormatJSON,
		Compression: CompressionGzip,
		Data:        []byte("payload"),
	}
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), testPayload()))
	data, err := os.ReadFile(filepath.Join(dir, "2026", "03", "01", "w1.json.gz"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	entries, err := os.ReadDir(filepath.Join(dir, "2026", "03", "01"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")

	_, err = NewFileSink("")
	require.Error(t, err)
}

func TestHTTPSinkRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "w1", r.Header.Get("X-Profile-Window"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, srv.Client())
	require.NoError(t, err)
	sink.backoff = time.Millisecond

	require.NoError(t, sink.Send(context.Background(), testPayload()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPSinkPermanentFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, srv.Client())
	require.NoError(t, err)
	sink.backoff = time.Millisecond

	err = sink.Send(context.Background(), testPayload())
	require.ErrorIs(t, err, errPermanent)
	assert.Contains(t, err.Error(), "bad payload")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPSinkGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, srv.Client())
	require.NoError(t, err)
	sink.backoff = time.Millisecond

	require.Error(t, sink.Send(context.Background(), testPayload()))
	assert.Equal(t, int32(defaultHTTPRetries+1), calls.Load())
}

func TestNewHTTPSinkInvalidURL(t *testing.T) {
	_, err := NewHTTPSink("ftp://example.com/upload", nil)
	require.Error(t, err)
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput,
	_ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Sink(t *testing.T) {
	client := &fakeS3{}
	sink, err := NewS3Sink(client, "profiles", "fleet/prod")
	require.NoError(t, err)
	assert.Equal(t, "s3://profiles/fleet/prod", sink.Name())

	require.NoError(t, sink.Send(context.Background(), testPayload()))
	assert.Equal(t, "profiles", aws.ToString(client.input.Bucket))
	assert.Equal(t, "fleet/prod/2026/03/01/w1.json.gz", aws.ToString(client.input.Key))
	assert.Equal(t, "gzip", aws.ToString(client.input.ContentEncoding))
	assert.Equal(t, "w1", client.input.Metadata["window-id"])
	assert.Equal(t, []byte("payload"), client.body)

	client.err = errors.New("access denied")
	require.Error(t, sink.Send(context.Background(), testPayload()))

	_, err = NewS3Sink(client, "", "")
	require.Error(t, err)
}
