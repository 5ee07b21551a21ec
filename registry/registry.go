// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry keeps track of the processes that are currently profiled.
package registry // import "go.opentelemetry.io/fleet-profiler/registry"

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/libpf"
	"go.opentelemetry.io/fleet-profiler/libpf/xsync"
	"go.opentelemetry.io/fleet-profiler/metrics"
	"go.opentelemetry.io/fleet-profiler/periodiccaller"
	"go.opentelemetry.io/fleet-profiler/proc"
	"go.opentelemetry.io/fleet-profiler/process"
)

// Inspector gathers the metadata of a single process.
type Inspector interface {
	Inspect(ctx context.Context, pid libpf.PID) (process.Meta, error)
}

// UntrackListener is called after a handle was removed from the registry. Listeners
// must not block; they run on the goroutine performing the untrack.
type UntrackListener func(h *ProcessHandle)

// Config defines the profiling scope of the registry.
type Config struct {
	// PIDs restricts profiling to the given processes. Empty means all processes.
	PIDs []libpf.PID
	// ContainerIDs restricts profiling to processes in the given containers.
	// Empty means all containers including the host.
	ContainerIDs []string
	// Runtimes selects the runtime kinds to profile.
	Runtimes libpf.IncludedRuntimes
	// IncludeSelf allows profiling the profiler's own process.
	IncludeSelf bool

	// ListPIDs, Inspector and IsPIDLive default to the host's procfs.
	ListPIDs  func() ([]libpf.PID, error)
	Inspector Inspector
	IsPIDLive func(libpf.PID) (bool, error)
}

// Registry is the set of tracked processes. The zero value is not usable, use New.
type Registry struct {
	pids       libpf.Set[libpf.PID]
	containers libpf.Set[string]
	runtimes   libpf.IncludedRuntimes
	selfPID    libpf.PID

	listPIDs  func() ([]libpf.PID, error)
	inspector Inspector
	isPIDLive func(libpf.PID) (bool, error)

	tracked   xsync.RWMutex[map[libpf.PID]*ProcessHandle]
	pending   xsync.RWMutex[libpf.Set[libpf.PID]]
	listeners xsync.RWMutex[[]UntrackListener]
}

// New creates a registry for the given scope.
func New(cfg Config) (*Registry, error) {
	if cfg.Runtimes == 0 {
		return nil, errors.New("no runtime selected for profiling")
	}
	r := &Registry{
		pids:       libpf.SliceToSet(cfg.PIDs),
		containers: libpf.SliceToSet(cfg.ContainerIDs),
		runtimes:   cfg.Runtimes,
		listPIDs:   cfg.ListPIDs,
		inspector:  cfg.Inspector,
		isPIDLive:  cfg.IsPIDLive,
		tracked:    xsync.NewRWMutex(map[libpf.PID]*ProcessHandle{}),
		pending:    xsync.NewRWMutex(libpf.Set[libpf.PID]{}),
	}
	if !cfg.IncludeSelf {
		r.selfPID = libpf.PID(os.Getpid())
	}
	if r.listPIDs == nil {
		r.listPIDs = proc.ListPIDs
	}
	if r.isPIDLive == nil {
		r.isPIDLive = proc.IsPIDLive
	}
	if r.inspector == nil {
		inspector, err := NewSystemInspector()
		if err != nil {
			return nil, err
		}
		r.inspector = inspector
	}
	return r, nil
}

// OnUntrack registers a listener that is invoked for every untracked handle.
func (r *Registry) OnUntrack(l UntrackListener) {
	listeners := r.listeners.WLock()
	defer r.listeners.WUnlock(&listeners)
	*listeners = append(*listeners, l)
}

// candidates returns the PIDs a discovery scan inspects.
func (r *Registry) candidates() ([]libpf.PID, error) {
	if len(r.pids) > 0 {
		pids := r.pids.ToSlice()
		slices.Sort(pids)
		return pids, nil
	}
	return r.listPIDs()
}

// inScope applies the target filter to inspected process metadata.
func (r *Registry) inScope(meta *process.Meta) bool {
	if !r.runtimes.Has(meta.Runtime) {
		return false
	}
	if len(r.containers) > 0 && !r.containers.Has(meta.ContainerID) {
		return false
	}
	return true
}

// Discover scans the host for processes in scope. Processes that vanish or cannot be
// inspected are skipped; only a failure to enumerate processes is returned.
func (r *Registry) Discover(ctx context.Context) ([]*ProcessHandle, error) {
	pids, err := r.candidates()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	handles := make([]*ProcessHandle, 0, len(pids))
	var skipped metrics.MetricValue
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pid == r.selfPID {
			continue
		}
		meta, err := r.inspector.Inspect(ctx, pid)
		if err != nil {
			switch {
			case errors.Is(err, process.ErrProcessGone),
				errors.Is(err, process.ErrNoMappings):
				// Exited or kernel thread.
			case errors.Is(err, fs.ErrPermission):
				log.Debugf("Skipping PID %d: %v", pid, err)
				skipped++
			default:
				log.Debugf("Failed to inspect PID %d: %v", pid, err)
				skipped++
			}
			continue
		}
		if !r.inScope(&meta) {
			continue
		}
		handles = append(handles, NewHandle(&meta, now))
	}
	metrics.Add(metrics.IDDiscoveryErrors, skipped)

	slices.SortFunc(handles, func(a, b *ProcessHandle) int {
		return int(a.PID) - int(b.PID)
	})
	return handles, nil
}

// Track adds h to the registry. A handle for the same PID with another generation
// is untracked first.
func (r *Registry) Track(h *ProcessHandle) {
	var replaced *ProcessHandle
	tracked := r.tracked.WLock()
	if old, ok := (*tracked)[h.PID]; ok {
		if old.Generation == h.Generation {
			r.tracked.WUnlock(&tracked)
			return
		}
		replaced = old
	}
	(*tracked)[h.PID] = h
	r.tracked.WUnlock(&tracked)

	if replaced != nil {
		log.Debugf("PID %d was reused: %v replaced by %v", h.PID, replaced, h)
		r.notify(replaced)
	}
	log.Debugf("Tracking %v", h)
	metrics.Add(metrics.IDProcessesTracked, 1)
}

// Untrack removes the process from the registry. It reports whether pid was tracked.
func (r *Registry) Untrack(pid libpf.PID) bool {
	tracked := r.tracked.WLock()
	h, ok := (*tracked)[pid]
	delete(*tracked, pid)
	r.tracked.WUnlock(&tracked)

	if !ok {
		return false
	}
	log.Debugf("Untracking %v", h)
	r.notify(h)
	return true
}

func (r *Registry) notify(h *ProcessHandle) {
	metrics.Add(metrics.IDProcessesUntracked, 1)
	listeners := r.listeners.RLock()
	defer r.listeners.RUnlock(&listeners)
	for _, l := range *listeners {
		l(h)
	}
}

// MarkForUntrack schedules pid for removal at the next Refresh. Used by sampler
// drivers that observed the process exit, so a round in progress is not disturbed.
func (r *Registry) MarkForUntrack(pid libpf.PID) {
	pending := r.pending.WLock()
	defer r.pending.WUnlock(&pending)
	(*pending)[pid] = libpf.Void{}
}

// Refresh brings the registry up to date: pending untracks are applied, the host is
// rediscovered, new processes are tracked, restarted processes replaced and
// processes no longer in scope untracked.
func (r *Registry) Refresh(ctx context.Context) error {
	pending := r.pending.WLock()
	toUntrack := (*pending).ToSlice()
	*pending = libpf.Set[libpf.PID]{}
	r.pending.WUnlock(&pending)

	for _, pid := range toUntrack {
		r.Untrack(pid)
	}

	discovered, err := r.Discover(ctx)
	if err != nil {
		return err
	}

	seen := make(libpf.Set[libpf.PID], len(discovered))
	for _, h := range discovered {
		seen[h.PID] = libpf.Void{}
		r.Track(h)
	}

	for _, h := range r.Handles() {
		if !seen.Has(h.PID) {
			r.Untrack(h.PID)
		}
	}

	metrics.Add(metrics.IDTrackedProcesses, metrics.MetricValue(r.Len()))
	return nil
}

// Handles returns a snapshot of the tracked handles ordered by PID.
func (r *Registry) Handles() []*ProcessHandle {
	tracked := r.tracked.RLock()
	handles := make([]*ProcessHandle, 0, len(*tracked))
	for _, h := range *tracked {
		handles = append(handles, h)
	}
	r.tracked.RUnlock(&tracked)

	slices.SortFunc(handles, func(a, b *ProcessHandle) int {
		return int(a.PID) - int(b.PID)
	})
	return handles
}

// Len returns the number of tracked processes.
func (r *Registry) Len() int {
	tracked := r.tracked.RLock()
	defer r.tracked.RUnlock(&tracked)
	return len(*tracked)
}

// CleanupDead untracks all processes that no longer exist.
func (r *Registry) CleanupDead() {
	for _, h := range r.Handles() {
		live, err := r.isPIDLive(h.PID)
		if err != nil {
			log.Debugf("Liveness check of PID %d: %v", h.PID, err)
		}
		if !live {
			r.Untrack(h.PID)
		}
	}
}

// StartMonitor runs CleanupDead every interval until ctx is canceled.
func (r *Registry) StartMonitor(ctx context.Context, interval time.Duration) func() {
	return periodiccaller.Start(ctx, interval, r.CleanupDead)
}
