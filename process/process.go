// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "go.opentelemetry.io/fleet-profiler/process"

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	psprocess "github.com/shirou/gopsutil/v4/process"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/fleet-profiler/libpf"
)

var (
	// ErrNoMappings is returned by GetMappings and GetMeta when no mappings can be
	// extracted, which is the case for kernel threads and zombies.
	ErrNoMappings = errors.New("no mappings")
	// ErrProcessGone is returned when the process exited while it was inspected.
	ErrProcessGone = errors.New("process exited")
)

// systemProcess provides an implementation of the Process interface for a
// process that is currently running on this machine.
type systemProcess struct {
	pid        libpf.PID
	ps         *psprocess.Process
	containers *ContainerIDCache

	mappings []Mapping
}

var _ Process = &systemProcess{}

// New returns an object with Process interface accessing the process pid. containers
// may be nil, in which case container IDs are read uncached.
func New(ctx context.Context, pid libpf.PID, containers *ContainerIDCache) (Process, error) {
	ps, err := psprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, wrapProcessError(pid, err)
	}
	return &systemProcess{pid: pid, ps: ps, containers: containers}, nil
}

// Inspect gathers the metadata of process pid.
func Inspect(ctx context.Context, pid libpf.PID, containers *ContainerIDCache) (Meta, error) {
	pr, err := New(ctx, pid, containers)
	if err != nil {
		return Meta{}, err
	}
	defer pr.Close()
	return pr.GetMeta()
}

// wrapProcessError maps the different "process is gone" errors to ErrProcessGone.
func wrapProcessError(pid libpf.PID, err error) error {
	switch {
	case errors.Is(err, psprocess.ErrorProcessNotRunning), errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("pid %d: %w", pid, ErrProcessGone)
	default:
		return fmt.Errorf("pid %d: %w", pid, err)
	}
}

func (sp *systemProcess) PID() libpf.PID {
	return sp.pid
}

// GetMappings will process the mappings file from proc. The result is cached
// for the lifetime of the object.
func (sp *systemProcess) GetMappings() ([]Mapping, uint32, error) {
	if sp.mappings != nil {
		return sp.mappings, 0, nil
	}
	mapsFile, err := os.Open(fmt.Sprintf("/proc/%d/maps", sp.pid))
	if err != nil {
		return nil, 0, wrapProcessError(sp.pid, err)
	}
	defer mapsFile.Close()

	mappings, numParseErrors, err := parseMappings(mapsFile)
	if err != nil {
		return mappings, numParseErrors, err
	}
	if len(mappings) == 0 {
		// Kernel threads and zombies have no mappings.
		return nil, numParseErrors, fmt.Errorf("pid %d: %w", sp.pid, ErrNoMappings)
	}
	sp.mappings = mappings
	return mappings, numParseErrors, nil
}

func (sp *systemProcess) GetMeta() (Meta, error) {
	ctx := context.Background()
	meta := Meta{PID: sp.pid}

	createTime, err := sp.ps.CreateTimeWithContext(ctx)
	if err != nil {
		return meta, wrapProcessError(sp.pid, err)
	}
	meta.StartTime = time.UnixMilli(createTime)

	if meta.Comm, err = sp.ps.NameWithContext(ctx); err != nil {
		return meta, wrapProcessError(sp.pid, err)
	}
	// Permission errors on exe and cmdline are common for foreign processes
	// and only reduce the metadata quality.
	if exe, err := sp.ps.ExeWithContext(ctx); err == nil {
		meta.Executable = strings.TrimSuffix(exe, " (deleted)")
	} else {
		log.Debugf("Failed to read executable of PID %d: %v", sp.pid, err)
	}
	if cmdline, err := sp.ps.CmdlineSliceWithContext(ctx); err == nil {
		meta.Cmdline = cmdline
	}

	mappings, _, err := sp.GetMappings()
	if err != nil {
		return meta, err
	}

	if sp.containers != nil {
		meta.ContainerID, err = sp.containers.Lookup(sp.pid, meta.StartTime)
	} else {
		var f *os.File
		if f, err = os.Open(fmt.Sprintf("/proc/%d/cgroup", sp.pid)); err == nil {
			meta.ContainerID = parseContainerID(f)
			f.Close()
		}
	}
	if err != nil {
		log.Debugf("Failed extracting containerID for %d: %v", sp.pid, err)
	}

	meta.Runtime = Classify(meta.Executable, mappings)
	meta.Libc = DetectLibc(mappings)
	if meta.Runtime == libpf.Native {
		meta.GoVersion = goVersion(sp.pid)
	} else {
		meta.RuntimeVersion = RuntimeVersion(meta.Runtime, meta.Executable, mappings,
			os.DirFS(fmt.Sprintf("/proc/%d/root", sp.pid)))
	}
	return meta, nil
}

// OpenMappingFile opens the backing file of m through /proc/PID/map_files, which
// also works for deleted files and files in other mount namespaces.
func (sp *systemProcess) OpenMappingFile(m *Mapping) (ReadAtCloser, error) {
	if m.IsAnonymous() || m.IsVDSO() {
		return nil, errors.New("no backing file for anonymous memory")
	}
	f, err := os.Open(fmt.Sprintf("/proc/%d/map_files/%x-%x", sp.pid, m.Vaddr, m.Vaddr+m.Length))
	if err != nil {
		// map_files requires CAP_SYS_ADMIN; fall back to the process root.
		f, err = os.Open(fmt.Sprintf("/proc/%d/root%s", sp.pid, m.Path))
	}
	if err != nil {
		return nil, wrapProcessError(sp.pid, err)
	}
	return f, nil
}

func (sp *systemProcess) Close() error {
	sp.mappings = nil
	return nil
}
