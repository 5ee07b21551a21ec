// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package reporter // import "go.opentelemetry.io/fleet-profiler/reporter"

import (
	"bytes"
	"encoding/json"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/fleet-profiler/aggregator"
	"go.opentelemetry.io/fleet-profiler/collapse"
)

// collapsedHeader is the metadata line of the collapsed format.
type collapsedHeader struct {
	Version   int               `json:"version"`
	Window    DocumentWindow    `json:"window"`
	Metadata  Metadata          `json:"metadata"`
	Processes []DocumentProcess `json:"processes"`
}

// sortedStacks returns the stacks of snap ordered by key.
func sortedStacks(snap aggregator.Snapshot) []collapse.FoldedStack {
	if slices.IsSortedFunc(snap.Stacks, compareStacks) {
		return snap.Stacks
	}
	stacks := slices.Clone(snap.Stacks)
	slices.SortFunc(stacks, compareStacks)
	return stacks
}

func compareStacks(a, b collapse.FoldedStack) int {
	return strings.Compare(a.Key(), b.Key())
}

// emitCollapsed writes a "#" prefixed JSON metadata line followed by one
// "frame;frame;... count" line per stack.
func (e Emitter) emitCollapsed(snap aggregator.Snapshot) ([]byte, error) {
	doc := newDocument(snap, e.Metadata)
	header, err := json.Marshal(collapsedHeader{
		Version:   doc.Version,
		Window:    doc.Window,
		Metadata:  doc.Metadata,
		Processes: doc.Processes,
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('#')
	buf.Write(header)
	buf.WriteByte('\n')
	for _, s := range doc.Stacks {
		buf.WriteString(strings.Join(s.Frames, collapse.KeySeparator))
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatUint(s.Count, 10))
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
