// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/fleet-profiler/aggregator"
	"go.opentelemetry.io/fleet-profiler/collapse"
	"go.opentelemetry.io/fleet-profiler/libpf"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSnapshot() aggregator.Snapshot {
	return aggregator.Snapshot{
		WindowID: uuid.MustParse("6f1c2a52-8d5e-4b7e-9a43-4f0d2c1e9b11"),
		Start:    testStart,
		End:      testStart.Add(10 * time.Second),
		Stacks: []collapse.FoldedStack{
			{Frames: []string{"main", "foo"}, Count: 1},
			{Frames: []string{"main", "foo", "bar"}, Count: 2},
			{Frames: []string{"start", "read", "ksys_read_[k]"}, Count: 3},
		},
		Processes: []aggregator.ProcessInfo{
			{PID: 100, Generation: 1, Runtime: libpf.Python, Comm: "python3", Samples: 3,
				RuntimeVersion: "3.11", Libc: "glibc"},
			{PID: 200, Generation: 2, Runtime: libpf.Native, Comm: "nginx", Samples: 3,
				ContainerID: "abc", Libc: "musl"},
		},
		TotalSamples: 6,
	}
}

var testEmitter = Emitter{Metadata: Metadata{Hostname: "host-1", AgentVersion: "v1.0.0",
	Frequency: 100}}

func TestEmitJSON(t *testing.T) {
	data, err := testEmitter.Emit(testSnapshot(), FormatJSON)
	require.NoError(t, err)

	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 1, doc.Version)
	assert.Equal(t, "6f1c2a52-8d5e-4b7e-9a43-4f0d2c1e9b11", doc.Window.ID)
	assert.Equal(t, uint64(6), doc.Window.TotalSamples)
	assert.Equal(t, "host-1", doc.Metadata.Hostname)
	require.Len(t, doc.Processes, 2)
	assert.Equal(t, "python", doc.Processes[0].Runtime)
	assert.Equal(t, "3.11", doc.Processes[0].RuntimeVersion)
	assert.Equal(t, "glibc", doc.Processes[0].Libc)
	assert.Equal(t, "abc", doc.Processes[1].ContainerID)
	assert.Equal(t, "musl", doc.Processes[1].Libc)
	assert.Empty(t, doc.Processes[1].RuntimeVersion)
	assert.Contains(t, string(data), `"runtime_version":"3.11"`)
	assert.NotContains(t, string(data), `"go_version"`)
	assert.Equal(t, []DocumentStack{
		{Frames: []string{"main", "foo"}, Count: 1},
		{Frames: []string{"main", "foo", "bar"}, Count: 2},
		{Frames: []string{"start", "read", "ksys_read_[k]"}, Count: 3},
	}, doc.Stacks)

	assert.True(t, strings.HasPrefix(string(data), `{"version":1,`))
}

func TestEmitDeterministic(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatCollapsed, FormatPprof} {
		t.Run(string(format), func(t *testing.T) {
			first, err := testEmitter.Emit(testSnapshot(), format)
			require.NoError(t, err)

			// Unordered stacks produce the same payload.
			snap := testSnapshot()
			snap.Stacks[0], snap.Stacks[2] = snap.Stacks[2], snap.Stacks[0]
			second, err := testEmitter.Emit(snap, format)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestEmitCollapsed(t *testing.T) {
	data, err := testEmitter.Emit(testSnapshot(), FormatCollapsed)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "#"))

	var header collapsedHeader
	require.NoError(t, json.Unmarshal([]byte(lines[0][1:]), &header))
	assert.Equal(t, DocumentVersion, header.Version)
	assert.Len(t, header.Processes, 2)

	assert.Equal(t, []string{
		"main;foo 1",
		"main;foo;bar 2",
		"start;read;ksys_read_[k] 3",
	}, lines[1:])
}

func TestEmitPprof(t *testing.T) {
	data, err := testEmitter.Emit(testSnapshot(), FormatPprof)
	require.NoError(t, err)

	p, err := profile.Parse(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(10*time.Millisecond), p.Period)
	assert.Equal(t, int64(10*time.Second), p.DurationNanos)
	require.Len(t, p.Sample, 3)
	// main, foo, bar, start, read, ksys_read_[k]
	assert.Len(t, p.Function, 6)

	var total int64
	for _, s := range p.Sample {
		total += s.Value[0]
	}
	assert.Equal(t, int64(6), total)

	bar := p.Sample[1]
	require.Len(t, bar.Location, 3)
	assert.Equal(t, "bar", bar.Location[0].Line[0].Function.Name)
	assert.Equal(t, "main", bar.Location[2].Line[0].Function.Name)

	kernel := p.Sample[2].Location[0].Line[0].Function
	assert.Equal(t, "[kernel.kallsyms]", kernel.Filename)
}

func TestEmitUnknownFormat(t *testing.T) {
	_, err := Emit(testSnapshot(), Format("xml"))
	require.Error(t, err)
}

func TestParseFormatAndCompression(t *testing.T) {
	f, err := ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)
	_, err = ParseFormat("yaml")
	require.Error(t, err)

	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)
	_, err = ParseCompression("lz4")
	require.Error(t, err)
}

func TestCompression(t *testing.T) {
	data := bytes.Repeat([]byte("main;foo;bar 1\n"), 100)

	gz, err := CompressionGzip.compress(data)
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(gz))
	require.NoError(t, err)
	var out bytes.Buffer
	_, err = out.ReadFrom(zr)
	require.NoError(t, err)
	assert.Equal(t, data, out.Bytes())

	zst, err := CompressionZstd.compress(data)
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(zst, nil)
	require.NoError(t, err)
	assert.Equal(t, data, plain)

	same, err := CompressionNone.compress(data)
	require.NoError(t, err)
	assert.Equal(t, data, same)
}

func TestPayloadName(t *testing.T) {
	assert.Equal(t, "2026/03/01/w.json.gz",
		payloadName("w", testStart, FormatJSON, CompressionGzip))
	assert.Equal(t, "2026/03/01/w.col",
		payloadName("w", testStart, FormatCollapsed, CompressionNone))
}
