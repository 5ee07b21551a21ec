// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package aggregator merges folded stacks of one profiling round into an
// aggregation window and seals it into an immutable snapshot.
package aggregator // import "go.opentelemetry.io/fleet-profiler/aggregator"

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.opentelemetry.io/fleet-profiler/collapse"
	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/libpf/xsync"
	"go.opentelemetry.io/fleet-profiler/registry"
)

// ErrWindowSealed is returned when merging into a window that has been sealed.
var ErrWindowSealed = errors.New("aggregation window is sealed")

// Fragment is a folded stack of one process ready to be merged.
type Fragment struct {
	Handle *registry.ProcessHandle
	Stack  collapse.FoldedStack
}

// ProcessInfo is the metadata of one process that contributed to a window.
type ProcessInfo struct {
	PID         libpf.PID
	Generation  uint64
	Runtime     libpf.RuntimeKind
	Comm        string
	Executable  string
	ContainerID string
	// RuntimeVersion, Libc and GoVersion describe the application, each may be
	// empty.
	RuntimeVersion string
	Libc           string
	GoVersion      string
	Samples        uint64
}

// Snapshot is the immutable result of sealing a window. Stacks are ordered by key,
// processes by PID and generation.
type Snapshot struct {
	WindowID  uuid.UUID
	Start     time.Time
	End       time.Time
	Stacks    []collapse.FoldedStack
	Processes []ProcessInfo
	// TotalSamples is the sum of all stack counts.
	TotalSamples uint64
	// Partial is set when the round ended before all samplers finished.
	Partial bool
}

type windowState struct {
	sealed    bool
	stacks    map[string]*collapse.FoldedStack
	processes map[registry.Key]*ProcessInfo
	snapshot  Snapshot
}

// Window accumulates counts per distinct stack. It is safe for concurrent use.
type Window struct {
	id    uuid.UUID
	start time.Time
	state xsync.RWMutex[windowState]
}

// NewWindow opens a window starting at start.
func NewWindow(start time.Time) *Window {
	return &Window{
		id:    uuid.New(),
		start: start,
		state: xsync.NewRWMutex(windowState{
			stacks:    make(map[string]*collapse.FoldedStack),
			processes: make(map[registry.Key]*ProcessInfo),
		}),
	}
}

// Merge adds the count of f to the stack with the same key, inserting it if it is
// new.
func (w *Window) Merge(f Fragment) error {
	if f.Stack.Count == 0 || len(f.Stack.Frames) == 0 {
		return nil
	}
	key := f.Stack.Key()

	state := w.state.WLock()
	defer w.state.WUnlock(&state)
	if state.sealed {
		return ErrWindowSealed
	}

	if stack, ok := state.stacks[key]; ok {
		stack.Count += f.Stack.Count
	} else {
		state.stacks[key] = &collapse.FoldedStack{
			Frames: slices.Clone(f.Stack.Frames),
			Count:  f.Stack.Count,
		}
	}

	if f.Handle != nil {
		pk := f.Handle.Key()
		info, ok := state.processes[pk]
		if !ok {
			info = &ProcessInfo{
				PID:         f.Handle.PID,
				Generation:  f.Handle.Generation,
				Runtime:     f.Handle.Runtime,
				Comm:        f.Handle.Comm,
				Executable:  f.Handle.Executable,
				ContainerID: f.Handle.ContainerID,

				RuntimeVersion: f.Handle.RuntimeVersion,
				Libc:           string(f.Handle.Libc),
				GoVersion:      f.Handle.GoVersion,
			}
			state.processes[pk] = info
		}
		info.Samples += f.Stack.Count
	}
	return nil
}

// Seal closes the window and returns its snapshot. Sealing again returns the same
// snapshot.
func (w *Window) Seal() Snapshot {
	return w.sealAt(time.Now())
}

func (w *Window) sealAt(end time.Time) Snapshot {
	state := w.state.WLock()
	defer w.state.WUnlock(&state)
	if state.sealed {
		return state.snapshot
	}
	state.sealed = true

	snap := Snapshot{
		WindowID:  w.id,
		Start:     w.start,
		End:       end,
		Stacks:    make([]collapse.FoldedStack, 0, len(state.stacks)),
		Processes: make([]ProcessInfo, 0, len(state.processes)),
	}
	for _, stack := range state.stacks {
		snap.Stacks = append(snap.Stacks, *stack)
		snap.TotalSamples += stack.Count
	}
	slices.SortFunc(snap.Stacks, func(a, b collapse.FoldedStack) int {
		return strings.Compare(a.Key(), b.Key())
	})
	for _, info := range state.processes {
		snap.Processes = append(snap.Processes, *info)
	}
	slices.SortFunc(snap.Processes, func(a, b ProcessInfo) int {
		if a.PID != b.PID {
			return cmp.Compare(a.PID, b.PID)
		}
		return cmp.Compare(a.Generation, b.Generation)
	})

	state.stacks = nil
	state.processes = nil
	state.snapshot = snap
	return snap
}
