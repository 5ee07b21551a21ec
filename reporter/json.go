// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"encoding/json"
	"time"

	"go.opentelemetry.io/fleet-profiler/aggregator"
)

// DocumentVersion is the version of the JSON document layout.
const DocumentVersion = 1

// Document is the JSON representation of a sealed window.
type Document struct {
	Version   int               `json:"version"`
	Window    DocumentWindow    `json:"window"`
	Metadata  Metadata          `json:"metadata"`
	Processes []DocumentProcess `json:"processes"`
	Stacks    []DocumentStack   `json:"stacks"`
}

type DocumentWindow struct {
	ID           string    `json:"id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	TotalSamples uint64    `json:"total_samples"`
	Partial      bool      `json:"partial,omitempty"`
}

type DocumentProcess struct {
	PID         uint32 `json:"pid"`
	Generation  uint64 `json:"generation"`
	Runtime     string `json:"runtime"`
	Comm        string `json:"comm,omitempty"`
	Executable  string `json:"executable,omitempty"`
	ContainerID string `json:"container_id,omitempty"`

	RuntimeVersion string `json:"runtime_version,omitempty"`
	Libc           string `json:"libc,omitempty"`
	GoVersion      string `json:"go_version,omitempty"`

	Samples uint64 `json:"samples"`
}

type DocumentStack struct {
	Frames []string `json:"frames"`
	Count  uint64   `json:"count"`
}

func newDocument(snap aggregator.Snapshot, md Metadata) Document {
	doc := Document{
		Version: DocumentVersion,
		Window: DocumentWindow{
			ID:           snap.WindowID.String(),
			Start:        snap.Start.UTC(),
			End:          snap.End.UTC(),
			TotalSamples: snap.TotalSamples,
			Partial:      snap.Partial,
		},
		Metadata:  md,
		Processes: make([]DocumentProcess, 0, len(snap.Processes)),
		Stacks:    make([]DocumentStack, 0, len(snap.Stacks)),
	}
	for _, p := range snap.Processes {
		doc.Processes = append(doc.Processes, DocumentProcess{
			PID:         uint32(p.PID),
			Generation:  p.Generation,
			Runtime:     p.Runtime.String(),
			Comm:        p.Comm,
			Executable:  p.Executable,
			ContainerID: p.ContainerID,

			RuntimeVersion: p.RuntimeVersion,
			Libc:           p.Libc,
			GoVersion:      p.GoVersion,

			Samples: p.Samples,
		})
	}
	for _, s := range sortedStacks(snap) {
		doc.Stacks = append(doc.Stacks, DocumentStack{Frames: s.Frames, Count: s.Count})
	}
	return doc
}

func (e Emitter) emitJSON(snap aggregator.Snapshot) ([]byte, error) {
	return json.Marshal(newDocument(snap, e.Metadata))
}
